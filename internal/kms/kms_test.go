package kms

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeNode is an in-memory Node with a scriptable topology. Its
// descriptor is a real /dev/null handle so fstat sees a character
// device.
type fakeNode struct {
	file *os.File
	path string

	crtcs      []CrtcID
	connectors map[ConnectorID]*ConnectorInfo
	encoders   map[EncoderID]*EncoderInfo
	crtcInfos  map[CrtcID]*CrtcInfo

	events  [][]Event
	recvErr error

	masterErr     error
	masterDropped bool

	setCrtcCalls []setCrtcCall
	pageFlips    []CrtcID
}

type setCrtcCall struct {
	crtc       CrtcID
	fb         uint32
	x, y       uint32
	connectors []ConnectorID
	mode       *Mode
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	f, err := os.Open("/dev/null")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return &fakeNode{
		file:       f,
		path:       "/dev/dri/card0",
		connectors: make(map[ConnectorID]*ConnectorInfo),
		encoders:   make(map[EncoderID]*EncoderInfo),
		crtcInfos:  make(map[CrtcID]*CrtcInfo),
	}
}

func (n *fakeNode) Fd() uintptr  { return n.file.Fd() }
func (n *fakeNode) Path() string { return n.path }

func (n *fakeNode) SetMaster() error { return n.masterErr }
func (n *fakeNode) DropMaster() error {
	n.masterDropped = true
	return nil
}

func (n *fakeNode) Resources() (*Resources, error) {
	res := &Resources{Crtcs: n.crtcs}
	for id := range n.connectors {
		res.Connectors = append(res.Connectors, id)
	}
	for id := range n.encoders {
		res.Encoders = append(res.Encoders, id)
	}
	return res, nil
}

func (n *fakeNode) Connector(id ConnectorID) (*ConnectorInfo, error) {
	info, ok := n.connectors[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return info, nil
}

func (n *fakeNode) Encoder(id EncoderID) (*EncoderInfo, error) {
	info, ok := n.encoders[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return info, nil
}

func (n *fakeNode) Crtc(id CrtcID) (*CrtcInfo, error) {
	info, ok := n.crtcInfos[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return info, nil
}

func (n *fakeNode) SetCrtc(crtc CrtcID, fb uint32, x, y uint32, connectors []ConnectorID, mode *Mode) error {
	n.setCrtcCalls = append(n.setCrtcCalls, setCrtcCall{crtc, fb, x, y, connectors, mode})
	return nil
}

func (n *fakeNode) PageFlip(crtc CrtcID, fb uint32) error {
	n.pageFlips = append(n.pageFlips, crtc)
	return nil
}

func (n *fakeNode) ReceiveEvents() ([]Event, error) {
	if n.recvErr != nil {
		err := n.recvErr
		n.recvErr = nil
		return nil, err
	}
	if len(n.events) == 0 {
		return nil, nil
	}
	batch := n.events[0]
	n.events = n.events[1:]
	return batch, nil
}

var modeHD = Mode{Name: "1920x1080", Clock: 148500, HDisplay: 1920, VDisplay: 1080, VRefresh: 60}

// wiredNode builds the canonical test topology: connector 10 currently
// wired through encoder 20 to CRTC 1 (of CRTCs 1 and 2), plus an idle
// connector 11 whose only encoder can reach only CRTC 2.
func wiredNode(t *testing.T) *fakeNode {
	n := newFakeNode(t)
	n.crtcs = []CrtcID{1, 2}
	n.connectors[10] = &ConnectorInfo{
		ID:             10,
		Connected:      true,
		Modes:          []Mode{modeHD},
		Encoders:       []EncoderID{20},
		CurrentEncoder: 20,
	}
	n.connectors[11] = &ConnectorInfo{
		ID:        11,
		Connected: true,
		Modes:     []Mode{modeHD},
		Encoders:  []EncoderID{21},
	}
	// Bit i of PossibleCrtcs indexes n.crtcs.
	n.encoders[20] = &EncoderInfo{ID: 20, CurrentCrtc: 1, PossibleCrtcs: 0b01}
	n.encoders[21] = &EncoderInfo{ID: 21, PossibleCrtcs: 0b10}
	n.crtcInfos[1] = &CrtcInfo{ID: 1, Framebuffer: 42, Mode: modeHD, ModeValid: true}
	n.crtcInfos[2] = &CrtcInfo{ID: 2}
	return n
}

// recordingHandler captures handler callbacks for assertions.
type recordingHandler struct {
	flipped []*Surface
	errs    []error
}

func (h *recordingHandler) PageFlipped(s *Surface) { h.flipped = append(h.flipped, s) }
func (h *recordingHandler) Error(err error)        { h.errs = append(h.errs, err) }
