package kms

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceIdentification means the descriptor handed to New could
	// not be identified as a device node.
	ErrDeviceIdentification = errors.New("descriptor is not a device node")

	// ErrDeviceInactive means the device is paused by the session
	// manager and refuses hardware-mutating calls.
	ErrDeviceInactive = errors.New("device is paused")

	// ErrDeviceClosed means the device was already torn down.
	ErrDeviceClosed = errors.New("device is closed")
)

// CrtcInUseError is returned by CreateSurface when a live surface is
// already bound to the requested CRTC.
type CrtcInUseError struct {
	Crtc CrtcID
}

func (e *CrtcInUseError) Error() string {
	return fmt.Sprintf("crtc %d is already in use by another surface", e.Crtc)
}

// ModeError is returned when a requested mode is not supported by one
// of the requested connectors.
type ModeError struct {
	Connector ConnectorID
	Mode      Mode
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("mode %q is not supported by connector %d", e.Mode.Name, e.Connector)
}

// NoEncoderError is returned when none of a connector's encoders can
// drive the requested CRTC.
type NoEncoderError struct {
	Connector ConnectorID
	Crtc      CrtcID
}

func (e *NoEncoderError) Error() string {
	return fmt.Sprintf("no encoder of connector %d can drive crtc %d", e.Connector, e.Crtc)
}
