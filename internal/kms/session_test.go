package kms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestObserverTogglesActiveFlag(t *testing.T) {
	d, err := New(wiredNode(t), nil)
	require.NoError(t, err)
	defer d.Close()

	obs := d.Observer()
	require.True(t, d.Active())

	obs.Pause(nil)
	assert.False(t, d.Active())

	obs.Activate(nil)
	assert.True(t, d.Active())
}

func TestObserverFiltersByDevNum(t *testing.T) {
	d, err := New(wiredNode(t), nil)
	require.NoError(t, err)
	defer d.Close()

	obs := d.Observer()
	self := DevNum{Major: unix.Major(d.DevID()), Minor: unix.Minor(d.DevID())}
	other := DevNum{Major: self.Major + 1, Minor: self.Minor}

	obs.Pause(&other)
	assert.True(t, d.Active(), "pause for another device must be ignored")

	obs.Pause(&self)
	assert.False(t, d.Active())

	obs.Activate(&ActivateSignal{Num: other, Fd: -1})
	assert.False(t, d.Active(), "activate for another device must be ignored")

	obs.Activate(&ActivateSignal{Num: self, Fd: -1})
	assert.True(t, d.Active())
}

func TestObserverIgnoresReplacementDescriptor(t *testing.T) {
	d, err := New(wiredNode(t), nil)
	require.NoError(t, err)
	defer d.Close()

	obs := d.Observer()
	obs.Pause(nil)

	self := DevNum{Major: unix.Major(d.DevID()), Minor: unix.Minor(d.DevID())}
	obs.Activate(&ActivateSignal{Num: self, Fd: 9})
	assert.True(t, d.Active())
}
