// Package kms implements a legacy kernel-mode-setting device backend.
//
// A Device owns an open DRM node, snapshots the CRTC/connector wiring it
// finds at open time, hands out Surfaces bound to individual CRTCs after
// validating the requested wiring against the hardware topology, routes
// page-flip completion events to a caller-supplied Handler and restores
// the original wiring when it is closed.
package kms

// CrtcID identifies a CRTC on one device. IDs are stable for the
// lifetime of the open node.
type CrtcID uint32

// ConnectorID identifies a physical output port on one device.
type ConnectorID uint32

// EncoderID identifies an encoder block on one device.
type EncoderID uint32

// Mode is a display timing configuration. Two modes are interchangeable
// exactly when they compare equal.
type Mode struct {
	Name  string
	Clock uint32

	HDisplay   uint16
	HSyncStart uint16
	HSyncEnd   uint16
	HTotal     uint16
	HSkew      uint16

	VDisplay   uint16
	VSyncStart uint16
	VSyncEnd   uint16
	VTotal     uint16
	VScan      uint16

	VRefresh uint32
	Flags    uint32
	Type     uint32
}

// Resources is the device-wide resource listing.
type Resources struct {
	Crtcs      []CrtcID
	Connectors []ConnectorID
	Encoders   []EncoderID
}

// ConnectorInfo describes one connector as reported by the kernel.
type ConnectorInfo struct {
	ID ConnectorID
	// Name is the human-readable connector name, e.g. "HDMI-A-1".
	Name      string
	Connected bool
	Modes     []Mode
	// Encoders lists every encoder that can drive this connector.
	Encoders []EncoderID
	// CurrentEncoder is the encoder currently driving the connector,
	// zero if the connector is idle.
	CurrentEncoder EncoderID
}

// SupportsMode reports whether mode is in the connector's mode list.
func (c *ConnectorInfo) SupportsMode(mode Mode) bool {
	for _, m := range c.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// EncoderInfo describes one encoder as reported by the kernel.
type EncoderInfo struct {
	ID EncoderID
	// CurrentCrtc is the CRTC the encoder is currently wired to, zero
	// if idle.
	CurrentCrtc CrtcID
	// PossibleCrtcs is a bitmask indexed into Resources.Crtcs.
	PossibleCrtcs uint32
}

// CrtcInfo is the commit-relevant configuration of one CRTC.
type CrtcInfo struct {
	ID          CrtcID
	Framebuffer uint32
	X, Y        uint32
	Mode        Mode
	ModeValid   bool
}

// Event is a hardware completion event read from the device node.
type Event interface {
	eventCrtc() CrtcID
}

// PageFlipEvent reports that a queued framebuffer swap finished on a
// CRTC.
type PageFlipEvent struct {
	Crtc     CrtcID
	Sequence uint32
	// Microseconds since an unspecified epoch, as reported by the
	// kernel.
	Sec  uint32
	Usec uint32
}

func (e PageFlipEvent) eventCrtc() CrtcID { return e.Crtc }

// VBlankEvent reports a vertical blanking interval on a CRTC. The
// backend reads these but does not dispatch them.
type VBlankEvent struct {
	Crtc     CrtcID
	Sequence uint32
	Sec      uint32
	Usec     uint32
}

func (e VBlankEvent) eventCrtc() CrtcID { return e.Crtc }

// Catalog is the read/commit surface of the kernel mode-setting API the
// backend consumes. internal/card implements it over the real ioctl
// interface; tests substitute an in-memory topology.
type Catalog interface {
	Resources() (*Resources, error)
	Connector(id ConnectorID) (*ConnectorInfo, error)
	Encoder(id EncoderID) (*EncoderInfo, error)
	Crtc(id CrtcID) (*CrtcInfo, error)

	// SetCrtc commits a full CRTC configuration. A nil mode disables
	// the pipe.
	SetCrtc(crtc CrtcID, fb uint32, x, y uint32, connectors []ConnectorID, mode *Mode) error

	// PageFlip queues an asynchronous framebuffer swap on a CRTC. The
	// kernel reports completion through ReceiveEvents.
	PageFlip(crtc CrtcID, fb uint32) error

	// ReceiveEvents reads one batch of pending completion events. An
	// empty batch is not an error.
	ReceiveEvents() ([]Event, error)
}

// Node is the open device node a Device drives: the Catalog plus the
// descriptor-level operations that act on the node itself.
type Node interface {
	Catalog

	Fd() uintptr
	Path() string
	SetMaster() error
	DropMaster() error
}

// filterCrtcs resolves an encoder's possible-CRTC bitmask against the
// device's CRTC list. Bit i of mask corresponds to crtcs[i].
func filterCrtcs(crtcs []CrtcID, mask uint32) []CrtcID {
	out := make([]CrtcID, 0, len(crtcs))
	for i, id := range crtcs {
		if i < 32 && mask&(1<<uint(i)) != 0 {
			out = append(out, id)
		}
	}
	return out
}

// Handler receives completion events and event-loop errors from a
// Device. Callbacks run on the goroutine driving ProcessEvents.
type Handler interface {
	// PageFlipped is called once per completed page flip on a surface
	// that is still registered.
	PageFlipped(s *Surface)
	// Error is called when an event-loop iteration fails in a way that
	// has no caller to report to.
	Error(err error)
}
