package kms

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// State is the intended configuration of one CRTC: a mode plus the set
// of connectors driven with it.
type State struct {
	Mode       Mode
	Connectors map[ConnectorID]struct{}
}

func newState(mode Mode, connectors []ConnectorID) State {
	set := make(map[ConnectorID]struct{}, len(connectors))
	for _, c := range connectors {
		set[c] = struct{}{}
	}
	return State{Mode: mode, Connectors: set}
}

func (s State) clone() State {
	set := make(map[ConnectorID]struct{}, len(s.Connectors))
	for c := range s.Connectors {
		set[c] = struct{}{}
	}
	return State{Mode: s.Mode, Connectors: set}
}

func (s State) connectorList() []ConnectorID {
	out := make([]ConnectorID, 0, len(s.Connectors))
	for c := range s.Connectors {
		out = append(out, c)
	}
	return out
}

// Surface is one CRTC claimed from a Device. It is bound to that CRTC
// for its whole lifetime; only its state may change.
//
// The current and pending states are independently lockable so a render
// goroutine can queue pending changes while the event loop reads the
// current state. Close releases the surface's hold on the shared device
// node; the Device cannot be closed while any surface is still open.
type Surface struct {
	node   *sharedNode
	crtc   CrtcID
	active *atomic.Bool
	log    *log.Logger

	curMu   sync.RWMutex
	current State

	pendMu  sync.RWMutex
	pending State

	released atomic.Bool
}

// Crtc returns the CRTC this surface is bound to.
func (s *Surface) Crtc() CrtcID { return s.crtc }

// CurrentMode returns the mode of the last confirmed configuration.
func (s *Surface) CurrentMode() Mode {
	s.curMu.RLock()
	defer s.curMu.RUnlock()
	return s.current.Mode
}

// CurrentConnectors returns the connectors of the last confirmed
// configuration.
func (s *Surface) CurrentConnectors() []ConnectorID {
	s.curMu.RLock()
	defer s.curMu.RUnlock()
	return s.current.connectorList()
}

// PendingMode returns the mode queued for the next commit.
func (s *Surface) PendingMode() Mode {
	s.pendMu.RLock()
	defer s.pendMu.RUnlock()
	return s.pending.Mode
}

// PendingConnectors returns the connectors queued for the next commit.
func (s *Surface) PendingConnectors() []ConnectorID {
	s.pendMu.RLock()
	defer s.pendMu.RUnlock()
	return s.pending.connectorList()
}

// UseMode queues mode for the next commit. The mode must be supported
// by every pending connector.
func (s *Surface) UseMode(mode Mode) error {
	if s.released.Load() {
		return ErrDeviceClosed
	}
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	for c := range s.pending.Connectors {
		info, err := s.node.Connector(c)
		if err != nil {
			return fmt.Errorf("loading connector info on %s: %w", s.node.Path(), err)
		}
		if !info.SupportsMode(mode) {
			return &ModeError{Connector: c, Mode: mode}
		}
	}
	s.pending.Mode = mode
	return nil
}

// AddConnector queues conn to be driven by this surface's CRTC on the
// next commit. The connector must support the pending mode and have an
// encoder able to drive the CRTC.
func (s *Surface) AddConnector(conn ConnectorID) error {
	if s.released.Load() {
		return ErrDeviceClosed
	}
	info, err := s.node.Connector(conn)
	if err != nil {
		return fmt.Errorf("loading connector info on %s: %w", s.node.Path(), err)
	}
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	if !info.SupportsMode(s.pending.Mode) {
		return &ModeError{Connector: conn, Mode: s.pending.Mode}
	}
	if err := connectorReachesCrtc(s.node, info, s.crtc); err != nil {
		return err
	}
	s.pending.Connectors[conn] = struct{}{}
	return nil
}

// RemoveConnector removes conn from the pending connector set. Removing
// a connector that is not pending is a no-op.
func (s *Surface) RemoveConnector(conn ConnectorID) {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	delete(s.pending.Connectors, conn)
}

// Commit applies the pending state to the hardware with fb as the
// scanout buffer and, on success, makes it the current state. Commit
// fails with ErrDeviceInactive while the session is paused.
func (s *Surface) Commit(fb uint32) error {
	if s.released.Load() {
		return ErrDeviceClosed
	}
	if !s.active.Load() {
		return ErrDeviceInactive
	}
	s.pendMu.RLock()
	mode := s.pending.Mode
	connectors := s.pending.connectorList()
	s.pendMu.RUnlock()

	if err := s.node.SetCrtc(s.crtc, fb, 0, 0, connectors, &mode); err != nil {
		return fmt.Errorf("setting crtc %d on %s: %w", s.crtc, s.node.Path(), err)
	}
	s.confirm()
	return nil
}

// PageFlip queues an asynchronous swap to fb on this surface's CRTC.
// Completion is reported through the device handler.
func (s *Surface) PageFlip(fb uint32) error {
	if s.released.Load() {
		return ErrDeviceClosed
	}
	if !s.active.Load() {
		return ErrDeviceInactive
	}
	if err := s.node.PageFlip(s.crtc, fb); err != nil {
		return fmt.Errorf("queueing page flip on crtc %d on %s: %w", s.crtc, s.node.Path(), err)
	}
	return nil
}

// confirm moves the pending state into current after a successful
// commit.
func (s *Surface) confirm() {
	s.pendMu.RLock()
	state := s.pending.clone()
	s.pendMu.RUnlock()

	s.curMu.Lock()
	s.current = state
	s.curMu.Unlock()
}

// Close releases the surface's hold on the device node. The surface
// must not be used afterwards; its registry entry is pruned on the next
// lookup. Close is idempotent.
func (s *Surface) Close() error {
	if s.released.CompareAndSwap(false, true) {
		s.log.Debug("surface released", "crtc", s.crtc)
		s.node.release()
	}
	return nil
}

// connectorReachesCrtc checks that at least one encoder of the
// connector can be wired to the target CRTC.
func connectorReachesCrtc(cat Catalog, info *ConnectorInfo, crtc CrtcID) error {
	res, err := cat.Resources()
	if err != nil {
		return fmt.Errorf("loading resources: %w", err)
	}
	for _, encID := range info.Encoders {
		if encID == 0 {
			continue
		}
		enc, err := cat.Encoder(encID)
		if err != nil {
			return fmt.Errorf("loading encoder info: %w", err)
		}
		for _, c := range filterCrtcs(res.Crtcs, enc.PossibleCrtcs) {
			if c == crtc {
				return nil
			}
		}
	}
	return &NoEncoderError{Connector: info.ID, Crtc: crtc}
}
