// Package card implements kms.Node over a real DRM device node using
// the legacy (non-atomic) mode-setting ioctl interface.
package card

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/drm"
	"github.com/NeowayLabs/drm/ioctl"
	"github.com/NeowayLabs/drm/mode"
	"golang.org/x/sys/unix"

	"github.com/bnema/modeset/internal/kms"
)

// Master ioctls take no argument: DRM_IO(0x1e) / DRM_IO(0x1f).
var (
	ioctlSetMaster  = ioctl.NewCode(0, 0, drm.IOCTLBase, 0x1e)
	ioctlDropMaster = ioctl.NewCode(0, 0, drm.IOCTLBase, 0x1f)

	// DRM_IOWR(0xB0, struct drm_mode_crtc_page_flip)
	ioctlPageFlip = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysPageFlip{})), drm.IOCTLBase, 0xB0)
)

type sysPageFlip struct {
	crtcID   uint32
	fbID     uint32
	flags    uint32
	reserved uint32
	userData uint64
}

// Card is an open DRM device node.
type Card struct {
	file *os.File
	path string
}

// Open opens the DRM node at path for mode setting.
func Open(path string) (*Card, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening drm node %s: %w", path, err)
	}
	return &Card{file: f, path: path}, nil
}

// FromFile wraps an already-open DRM node, e.g. one handed over by a
// session manager. The Card takes ownership of the file.
func FromFile(f *os.File) *Card {
	return &Card{file: f, path: f.Name()}
}

// Fd returns the raw descriptor of the node.
func (c *Card) Fd() uintptr { return c.file.Fd() }

// Path returns the filesystem path the node was opened from.
func (c *Card) Path() string { return c.path }

// File exposes the underlying file for layers that allocate buffers on
// the same node.
func (c *Card) File() *os.File { return c.file }

// Close closes the device node.
func (c *Card) Close() error { return c.file.Close() }

// SetMaster acquires exclusive mode-setting privilege on the node.
func (c *Card) SetMaster() error {
	return ioctl.Do(c.file.Fd(), uintptr(ioctlSetMaster), 0)
}

// DropMaster releases mode-setting privilege.
func (c *Card) DropMaster() error {
	return ioctl.Do(c.file.Fd(), uintptr(ioctlDropMaster), 0)
}

// Resources lists the node's CRTCs, connectors and encoders.
func (c *Card) Resources() (*kms.Resources, error) {
	res, err := mode.GetResources(c.file)
	if err != nil {
		return nil, err
	}
	out := &kms.Resources{
		Crtcs:      make([]kms.CrtcID, len(res.Crtcs)),
		Connectors: make([]kms.ConnectorID, len(res.Connectors)),
		Encoders:   make([]kms.EncoderID, len(res.Encoders)),
	}
	for i, id := range res.Crtcs {
		out.Crtcs[i] = kms.CrtcID(id)
	}
	for i, id := range res.Connectors {
		out.Connectors[i] = kms.ConnectorID(id)
	}
	for i, id := range res.Encoders {
		out.Encoders[i] = kms.EncoderID(id)
	}
	return out, nil
}

// Connector loads the kernel's view of one connector.
func (c *Card) Connector(id kms.ConnectorID) (*kms.ConnectorInfo, error) {
	conn, err := mode.GetConnector(c.file, uint32(id))
	if err != nil {
		return nil, err
	}
	info := &kms.ConnectorInfo{
		ID:             kms.ConnectorID(conn.ID),
		Name:           fmt.Sprintf("%s-%d", connectorTypeName(conn.Type), conn.TypeID),
		Connected:      conn.Connection == mode.Connected,
		Modes:          make([]kms.Mode, len(conn.Modes)),
		Encoders:       make([]kms.EncoderID, 0, len(conn.Encoders)),
		CurrentEncoder: kms.EncoderID(conn.EncoderID),
	}
	for i, m := range conn.Modes {
		info.Modes[i] = fromModeInfo(m)
	}
	for _, enc := range conn.Encoders {
		if enc != 0 {
			info.Encoders = append(info.Encoders, kms.EncoderID(enc))
		}
	}
	return info, nil
}

// Encoder loads the kernel's view of one encoder.
func (c *Card) Encoder(id kms.EncoderID) (*kms.EncoderInfo, error) {
	enc, err := mode.GetEncoder(c.file, uint32(id))
	if err != nil {
		return nil, err
	}
	return &kms.EncoderInfo{
		ID:            kms.EncoderID(enc.ID),
		CurrentCrtc:   kms.CrtcID(enc.CrtcID),
		PossibleCrtcs: enc.PossibleCrtcs,
	}, nil
}

// Crtc loads the current configuration of one CRTC.
func (c *Card) Crtc(id kms.CrtcID) (*kms.CrtcInfo, error) {
	crtc, err := mode.GetCrtc(c.file, uint32(id))
	if err != nil {
		return nil, err
	}
	return &kms.CrtcInfo{
		ID:          kms.CrtcID(crtc.ID),
		Framebuffer: crtc.BufferID,
		X:           crtc.X,
		Y:           crtc.Y,
		Mode:        fromModeInfo(crtc.Mode),
		ModeValid:   crtc.ModeValid != 0,
	}, nil
}

// SetCrtc commits a full CRTC configuration.
func (c *Card) SetCrtc(crtc kms.CrtcID, fb uint32, x, y uint32, connectors []kms.ConnectorID, m *kms.Mode) error {
	var (
		connPtr *uint32
		conns   []uint32
	)
	if len(connectors) > 0 {
		conns = make([]uint32, len(connectors))
		for i, id := range connectors {
			conns[i] = uint32(id)
		}
		connPtr = &conns[0]
	}
	var info *mode.Info
	if m != nil {
		mi := toModeInfo(*m)
		info = &mi
	}
	return mode.SetCrtc(c.file, uint32(crtc), fb, x, y, connPtr, len(conns), info)
}

// PageFlip queues an asynchronous swap to fb on crtc. The crtc id is
// carried in user_data so completion events can be routed even on
// kernels that predate the crtc_id event field.
func (c *Card) PageFlip(crtc kms.CrtcID, fb uint32) error {
	flip := sysPageFlip{
		crtcID:   uint32(crtc),
		fbID:     fb,
		flags:    mode.PageFlipEvent,
		userData: uint64(crtc),
	}
	return ioctl.Do(c.file.Fd(), uintptr(ioctlPageFlip),
		uintptr(unsafe.Pointer(&flip)))
}

// ReceiveEvents reads one batch of completion events from the node. An
// empty batch is returned when nothing is pending.
func (c *Card) ReceiveEvents() ([]kms.Event, error) {
	buf := make([]byte, 1024)
	n, err := unix.Read(int(c.file.Fd()), buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, fmt.Errorf("reading drm events: %w", err)
	}
	return decodeEvents(buf[:n])
}

func fromModeInfo(m mode.Info) kms.Mode {
	return kms.Mode{
		Name:       modeName(m.Name),
		Clock:      m.Clock,
		HDisplay:   m.Hdisplay,
		HSyncStart: m.HsyncStart,
		HSyncEnd:   m.HsyncEnd,
		HTotal:     m.Htotal,
		HSkew:      m.Hskew,
		VDisplay:   m.Vdisplay,
		VSyncStart: m.VsyncStart,
		VSyncEnd:   m.VsyncEnd,
		VTotal:     m.Vtotal,
		VScan:      m.Vscan,
		VRefresh:   m.Vrefresh,
		Flags:      m.Flags,
		Type:       m.Type,
	}
}

func toModeInfo(m kms.Mode) mode.Info {
	info := mode.Info{
		Clock:      m.Clock,
		Hdisplay:   m.HDisplay,
		HsyncStart: m.HSyncStart,
		HsyncEnd:   m.HSyncEnd,
		Htotal:     m.HTotal,
		Hskew:      m.HSkew,
		Vdisplay:   m.VDisplay,
		VsyncStart: m.VSyncStart,
		VsyncEnd:   m.VSyncEnd,
		Vtotal:     m.VTotal,
		Vscan:      m.VScan,
		Vrefresh:   m.VRefresh,
		Flags:      m.Flags,
		Type:       m.Type,
	}
	copy(info.Name[:], m.Name)
	return info
}

// Kernel connector type codes, in DRM_MODE_CONNECTOR_* order.
var connectorTypeNames = []string{
	"Unknown", "VGA", "DVI-I", "DVI-D", "DVI-A", "Composite", "SVIDEO",
	"LVDS", "Component", "DIN", "DP", "HDMI-A", "HDMI-B", "TV", "eDP",
	"Virtual", "DSI", "DPI", "Writeback", "SPI", "USB",
}

func connectorTypeName(typ uint32) string {
	if int(typ) < len(connectorTypeNames) {
		return connectorTypeNames[typ]
	}
	return "Unknown"
}

func modeName(raw [mode.DisplayModeLen]uint8) string {
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw[:])
}
