// Package fb layers software-rendered framebuffers on top of the kms
// backend. It allocates dumb buffers on the same device node the inner
// device drives and forwards session pause/activate signals to the
// inner device's observer, keeping the delegation chain intact for
// stacked backends.
package fb

import (
	"fmt"
	"os"

	"github.com/NeowayLabs/drm/mode"
	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/bnema/modeset/internal/kms"
)

// Inner is the device layer this package wraps.
type Inner interface {
	kms.ObserverSource
	CreateSurface(crtc kms.CrtcID, m kms.Mode, connectors []kms.ConnectorID) (*kms.Surface, error)
}

// Device wraps an inner mode-setting device with dumb-buffer
// allocation.
type Device struct {
	inner Inner
	file  *os.File
	log   *log.Logger
}

// New wraps inner. file must be the same device node the inner device
// drives; buffer handles are only valid on the node they were created
// on.
func New(file *os.File, inner Inner, logger *log.Logger) *Device {
	if logger == nil {
		logger = log.Default()
	}
	return &Device{inner: inner, file: file, log: logger.With("backend", "fb")}
}

// Observer fetches the inner device's observer and forwards both
// session signals verbatim, so a pause issued at the top of the stack
// reaches the base device.
func (d *Device) Observer() kms.SessionObserver {
	return &observer{inner: d.inner.Observer()}
}

type observer struct {
	inner kms.SessionObserver
}

func (o *observer) Pause(num *kms.DevNum)            { o.inner.Pause(num) }
func (o *observer) Activate(sig *kms.ActivateSignal) { o.inner.Activate(sig) }

// Surface couples a kms surface with a pair of dumb framebuffers sized
// for its mode.
type Surface struct {
	*kms.Surface
	dev  *Device
	bufs [2]*Framebuffer
	// index of the buffer to draw into next
	back int
	// whether the CRTC has been mode set to one of our buffers yet
	committed bool
}

// CreateSurface claims crtc through the inner device and allocates two
// framebuffers matching the mode, ready for double buffering.
func (d *Device) CreateSurface(crtc kms.CrtcID, m kms.Mode, connectors []kms.ConnectorID) (*Surface, error) {
	inner, err := d.inner.CreateSurface(crtc, m, connectors)
	if err != nil {
		return nil, err
	}
	s := &Surface{Surface: inner, dev: d}
	for i := range s.bufs {
		buf, err := d.allocFramebuffer(uint32(m.HDisplay), uint32(m.VDisplay))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.bufs[i] = buf
	}
	d.log.Debug("allocated framebuffers", "crtc", crtc, "size", fmt.Sprintf("%dx%d", m.HDisplay, m.VDisplay))
	return s, nil
}

// BackBuffer returns the framebuffer to draw the next frame into.
func (s *Surface) BackBuffer() *Framebuffer { return s.bufs[s.back] }

// SwapBuffers commits the back buffer to the CRTC and queues an
// asynchronous flip to it. The first swap performs a full mode set;
// later swaps only page flip.
func (s *Surface) SwapBuffers() error {
	buf := s.bufs[s.back]
	if !s.committed {
		if err := s.Commit(buf.ID); err != nil {
			return err
		}
		s.committed = true
	} else if err := s.PageFlip(buf.ID); err != nil {
		return err
	}
	s.back = 1 - s.back
	return nil
}

// Close releases the framebuffers and then the underlying surface.
func (s *Surface) Close() error {
	for _, buf := range s.bufs {
		if buf != nil {
			buf.destroy(s.dev.file)
		}
	}
	return s.Surface.Close()
}

// Framebuffer is one mmap'd dumb buffer registered as a scanout
// framebuffer.
type Framebuffer struct {
	ID     uint32
	Width  uint32
	Height uint32
	Pitch  uint32
	Data   []byte

	handle uint32
}

func (d *Device) allocFramebuffer(width, height uint32) (*Framebuffer, error) {
	dumb, err := mode.CreateFB(d.file, uint16(width), uint16(height), 32)
	if err != nil {
		return nil, fmt.Errorf("creating dumb buffer: %w", err)
	}
	fbID, err := mode.AddFB(d.file, uint16(width), uint16(height), 24, 32, dumb.Pitch, dumb.Handle)
	if err != nil {
		mode.DestroyDumb(d.file, dumb.Handle)
		return nil, fmt.Errorf("registering framebuffer: %w", err)
	}
	offset, err := mode.MapDumb(d.file, dumb.Handle)
	if err != nil {
		mode.RmFB(d.file, fbID)
		mode.DestroyDumb(d.file, dumb.Handle)
		return nil, fmt.Errorf("mapping dumb buffer: %w", err)
	}
	data, err := unix.Mmap(int(d.file.Fd()), int64(offset), int(dumb.Size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		mode.RmFB(d.file, fbID)
		mode.DestroyDumb(d.file, dumb.Handle)
		return nil, fmt.Errorf("mmapping framebuffer: %w", err)
	}
	return &Framebuffer{
		ID:     fbID,
		Width:  width,
		Height: height,
		Pitch:  dumb.Pitch,
		Data:   data,
		handle: dumb.Handle,
	}, nil
}

// Fill paints the whole buffer with one XRGB8888 color.
func (f *Framebuffer) Fill(color uint32) {
	for y := uint32(0); y < f.Height; y++ {
		row := f.Data[y*f.Pitch:]
		for x := uint32(0); x < f.Width; x++ {
			off := x * 4
			row[off] = byte(color)
			row[off+1] = byte(color >> 8)
			row[off+2] = byte(color >> 16)
			row[off+3] = byte(color >> 24)
		}
	}
}

func (f *Framebuffer) destroy(file *os.File) {
	if f.Data != nil {
		unix.Munmap(f.Data)
		f.Data = nil
	}
	mode.RmFB(file, f.ID)
	mode.DestroyDumb(file, f.handle)
}
