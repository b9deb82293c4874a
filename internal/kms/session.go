package kms

import (
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// DevNum identifies a device node by its major/minor pair, as session
// managers report it on VT switches.
type DevNum struct {
	Major uint32
	Minor uint32
}

// ActivateSignal is the payload of a session resume notification. Fd
// is a replacement descriptor for the device node, negative when the
// session manager did not pass one.
type ActivateSignal struct {
	Num DevNum
	Fd  int
}

// SessionObserver receives pause/activate signals from a session
// manager. A nil argument means the signal is not scoped to a single
// device and applies unconditionally.
type SessionObserver interface {
	Pause(num *DevNum)
	Activate(sig *ActivateSignal)
}

// ObserverSource is implemented by every layer of a backend stack.
// Wrapping layers fetch the inner layer's observer and forward both
// calls verbatim, so a single session signal reaches the base Device
// regardless of stack depth.
type ObserverSource interface {
	Observer() SessionObserver
}

// Observer returns the session observer for this device. Pause clears
// the active flag so hardware-mutating calls start failing with
// ErrDeviceInactive; Activate sets it again. Callers must pause before
// the session loses hardware access and activate only after it is
// regained.
func (d *Device) Observer() SessionObserver {
	return &deviceObserver{
		devID:  d.devID,
		active: d.active,
		log:    d.log,
	}
}

type deviceObserver struct {
	devID  uint64
	active *atomic.Bool
	log    *log.Logger
}

func (o *deviceObserver) Pause(num *DevNum) {
	if num != nil && !o.matches(*num) {
		return
	}
	o.log.Debug("session paused")
	o.active.Store(false)
}

func (o *deviceObserver) Activate(sig *ActivateSignal) {
	if sig != nil {
		if !o.matches(sig.Num) {
			return
		}
		// The legacy backend keeps its original descriptor open across
		// VT switches, a replacement fd is not needed.
		if sig.Fd >= 0 {
			o.log.Debug("ignoring replacement descriptor from session manager", "fd", sig.Fd)
		}
	}
	o.log.Debug("session activated")
	o.active.Store(true)
}

func (o *deviceObserver) matches(num DevNum) bool {
	return unix.Major(o.devID) == num.Major && unix.Minor(o.devID) == num.Minor
}
