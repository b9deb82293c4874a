package fb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/modeset/internal/kms"
)

// fakeInner records the session signals reaching the base layer.
type fakeInner struct {
	observer fakeObserver
}

type fakeObserver struct {
	paused    []*kms.DevNum
	activated []*kms.ActivateSignal
}

func (f *fakeInner) Observer() kms.SessionObserver { return &f.observer }

func (f *fakeInner) CreateSurface(crtc kms.CrtcID, m kms.Mode, connectors []kms.ConnectorID) (*kms.Surface, error) {
	return nil, nil
}

func (o *fakeObserver) Pause(num *kms.DevNum)            { o.paused = append(o.paused, num) }
func (o *fakeObserver) Activate(sig *kms.ActivateSignal) { o.activated = append(o.activated, sig) }

// layer adapts a *Device so it can serve as the inner layer of another
// Device, exercising delegation at depth > 1.
type layer struct {
	*Device
}

func (l layer) CreateSurface(crtc kms.CrtcID, m kms.Mode, connectors []kms.ConnectorID) (*kms.Surface, error) {
	s, err := l.Device.CreateSurface(crtc, m, connectors)
	if err != nil {
		return nil, err
	}
	return s.Surface, nil
}

func TestObserverForwardsThroughTheStack(t *testing.T) {
	base := &fakeInner{}
	dev := New(nil, base, nil)

	// Stack a second wrapping layer on top to exercise depth > 1.
	top := New(nil, layer{dev}, nil)

	obs := top.Observer()
	num := &kms.DevNum{Major: 226, Minor: 0}
	obs.Pause(num)
	sig := &kms.ActivateSignal{Num: *num, Fd: -1}
	obs.Activate(sig)

	require.Len(t, base.observer.paused, 1)
	assert.Same(t, num, base.observer.paused[0], "pause must be forwarded verbatim")
	require.Len(t, base.observer.activated, 1)
	assert.Same(t, sig, base.observer.activated[0], "activate must be forwarded verbatim")
}

func TestFramebufferFill(t *testing.T) {
	f := &Framebuffer{
		Width:  2,
		Height: 2,
		Pitch:  8,
		Data:   make([]byte, 16),
	}
	f.Fill(0x00FF8040)

	// XRGB8888 little endian: B G R X per pixel.
	for px := 0; px < 4; px++ {
		off := px * 4
		assert.Equal(t, byte(0x40), f.Data[off])
		assert.Equal(t, byte(0x80), f.Data[off+1])
		assert.Equal(t, byte(0xFF), f.Data[off+2])
	}
}
