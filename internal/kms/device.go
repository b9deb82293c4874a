package kms

import (
	"fmt"
	"sync/atomic"
	"weak"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// sharedNode is the device node shared between a Device and every
// surface created from it. holders counts open surfaces; the Device
// refuses to close while any remain.
type sharedNode struct {
	Node
	holders atomic.Int32
}

func (n *sharedNode) acquire() { n.holders.Add(1) }
func (n *sharedNode) release() { n.holders.Add(-1) }

// savedCrtc is one snapshot entry: the CRTC configuration found at
// open time and the connectors it was driving.
type savedCrtc struct {
	info       CrtcInfo
	connectors []ConnectorID
}

// Device is a legacy mode-setting backend over one open DRM node.
//
// Construction, CreateSurface, ProcessEvents and Close share mutable
// state without locking and must be called from a single owner
// goroutine. The active flag and each surface's state are safe to
// touch from other goroutines.
type Device struct {
	node       *sharedNode
	devID      uint64
	privileged bool
	active     *atomic.Bool
	oldState   map[CrtcID]*savedCrtc
	surfaces   map[CrtcID]weak.Pointer[Surface]
	handler    Handler
	log        *log.Logger
	closed     bool
}

// New builds a Device from an already-open DRM node. It tries to take
// DRM master on the node, falling back to unprivileged mode when that
// fails, and snapshots the CRTC/connector wiring present at open time
// so Close can restore it.
//
// A nil logger falls back to the process default.
func New(node Node, logger *log.Logger) (*Device, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("backend", "drm", "dev", node.Path())

	var st unix.Stat_t
	if err := unix.Fstat(int(node.Fd()), &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceIdentification, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, ErrDeviceIdentification
	}

	d := &Device{
		node:       &sharedNode{Node: node},
		devID:      uint64(st.Rdev),
		privileged: true,
		active:     &atomic.Bool{},
		oldState:   make(map[CrtcID]*savedCrtc),
		surfaces:   make(map[CrtcID]weak.Pointer[Surface]),
		log:        logger,
	}
	d.active.Store(true)

	logger.Info("initializing drm device")

	// Mode setting needs master on a tty session. Running without it
	// still allows read-only use.
	if err := node.SetMaster(); err != nil {
		logger.Warn("unable to become drm master, assuming unprivileged mode", "error", err)
		d.privileged = false
	}

	res, err := node.Resources()
	if err != nil {
		return nil, fmt.Errorf("loading resource catalogue on %s: %w", node.Path(), err)
	}
	for _, conn := range res.Connectors {
		info, err := node.Connector(conn)
		if err != nil {
			return nil, fmt.Errorf("loading connector info on %s: %w", node.Path(), err)
		}
		if info.CurrentEncoder == 0 {
			continue
		}
		enc, err := node.Encoder(info.CurrentEncoder)
		if err != nil {
			return nil, fmt.Errorf("loading encoder info on %s: %w", node.Path(), err)
		}
		if enc.CurrentCrtc == 0 {
			continue
		}
		saved, ok := d.oldState[enc.CurrentCrtc]
		if !ok {
			crtc, err := node.Crtc(enc.CurrentCrtc)
			if err != nil {
				return nil, fmt.Errorf("loading crtc info on %s: %w", node.Path(), err)
			}
			saved = &savedCrtc{info: *crtc}
			d.oldState[enc.CurrentCrtc] = saved
		}
		saved.connectors = append(saved.connectors, conn)
	}

	return d, nil
}

// DevID returns the device number of the underlying node, as reported
// by fstat.
func (d *Device) DevID() uint64 { return d.devID }

// Active reports whether the device currently owns the hardware. It is
// cleared by the session observer on pause.
func (d *Device) Active() bool { return d.active.Load() }

// SetHandler installs the handler that receives completion events and
// event-loop errors.
func (d *Device) SetHandler(h Handler) { d.handler = h }

// ClearHandler removes the installed handler.
func (d *Device) ClearHandler() { d.handler = nil }

// CreateSurface claims crtc for a new surface driving the given
// connectors with the given mode.
//
// The request is validated against the hardware topology before
// anything is committed: every connector must support the mode and
// have at least one encoder able to drive the CRTC. The kernel would
// reject an impossible configuration anyway, but checking here turns
// an opaque late ioctl failure into an early error naming the
// offending connector. An empty connector set passes vacuously.
func (d *Device) CreateSurface(crtc CrtcID, mode Mode, connectors []ConnectorID) (*Surface, error) {
	if d.closed {
		return nil, ErrDeviceClosed
	}
	if s := d.resolve(crtc); s != nil {
		return nil, &CrtcInUseError{Crtc: crtc}
	}
	if !d.active.Load() {
		return nil, ErrDeviceInactive
	}

	for _, conn := range connectors {
		info, err := d.node.Connector(conn)
		if err != nil {
			return nil, fmt.Errorf("loading connector info on %s: %w", d.node.Path(), err)
		}
		if !info.SupportsMode(mode) {
			return nil, &ModeError{Connector: conn, Mode: mode}
		}
		if err := connectorReachesCrtc(d.node, info, crtc); err != nil {
			return nil, err
		}
	}

	// The configuration is possible, the kernel will figure out the
	// rest on commit.
	state := newState(mode, connectors)
	s := &Surface{
		node:    d.node,
		crtc:    crtc,
		active:  d.active,
		log:     d.log.With("crtc", crtc),
		current: state,
		pending: state.clone(),
	}
	d.node.acquire()
	d.surfaces[crtc] = weak.Make(s)
	d.log.Debug("surface created", "crtc", crtc, "mode", mode.Name, "connectors", len(connectors))
	return s, nil
}

// resolve looks up the live surface bound to crtc, pruning the entry
// when the surface is gone or closed.
func (d *Device) resolve(crtc CrtcID) *Surface {
	ref, ok := d.surfaces[crtc]
	if !ok {
		return nil
	}
	s := ref.Value()
	if s == nil || s.released.Load() {
		delete(d.surfaces, crtc)
		return nil
	}
	return s
}

// ProcessEvents reads one batch of hardware events and dispatches
// page-flip completions to the handler. It is meant to be called from
// an event loop whenever the node's descriptor becomes readable.
//
// Events arriving while the device is paused are dropped. Read
// failures are forwarded to the handler's Error callback; without a
// handler they are dropped, since this call runs outside any caller
// frame able to receive a result.
func (d *Device) ProcessEvents() {
	events, err := d.node.ReceiveEvents()
	if err != nil {
		err = fmt.Errorf("processing drm events on %s: %w", d.node.Path(), err)
		if d.handler != nil {
			d.handler.Error(err)
		} else {
			d.log.Debug("dropping event read failure, no handler set", "error", err)
		}
		return
	}
	for _, ev := range events {
		flip, ok := ev.(PageFlipEvent)
		if !ok {
			continue
		}
		if !d.active.Load() {
			continue
		}
		s := d.resolve(flip.Crtc)
		if s == nil {
			continue
		}
		if d.handler != nil {
			d.handler.PageFlipped(s)
		}
	}
}

// Close tears the device down: it clears the surface registry, restores
// the wiring captured at open time if the device is still active, and
// drops DRM master if it was held.
//
// Closing while any surface is still open is a caller-side lifetime
// bug; Close panics rather than leave a dangling hardware handle.
// Restoration failures are logged and do not abort the remaining
// entries; Close itself never fails. Close is idempotent.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	clear(d.surfaces)

	if n := d.node.holders.Load(); n > 0 {
		panic(fmt.Sprintf("kms: %d surface(s) still open on %s, close every surface before the device", n, d.node.Path()))
	}

	if d.active.Load() {
		for crtc, saved := range d.oldState {
			var mode *Mode
			if saved.info.ModeValid {
				m := saved.info.Mode
				mode = &m
			}
			err := d.node.SetCrtc(crtc, saved.info.Framebuffer, saved.info.X, saved.info.Y, saved.connectors, mode)
			if err != nil {
				d.log.Error("failed to restore crtc", "crtc", crtc, "error", err)
			}
			delete(d.oldState, crtc)
		}
		if d.privileged {
			if err := d.node.DropMaster(); err != nil {
				d.log.Error("failed to drop drm master", "error", err)
			}
		}
	}
	return nil
}
