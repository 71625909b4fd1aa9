package pcifw

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnableRejectsUnsupportedAttribute(t *testing.T) {
	dev := &DevicePrivate{Supports: AttrMemory, collab: &collaborators{cs: newTestCS(t)}}
	err := dev.PciIo().Enable(AttrIO)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestEnableRejectsBothVGAWidths(t *testing.T) {
	dev := &DevicePrivate{Supports: AttrMemory, collab: &collaborators{cs: newTestCS(t)}}
	err := dev.PciIo().Enable(AttrVGALegacyIO | AttrVGAIO16)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestEnableDeviceEnableUsesSupportsMask(t *testing.T) {
	cs := newTestCS(t)
	dev := &DevicePrivate{Supports: AttrIO | AttrMemory, collab: &collaborators{cs: cs}}
	require.NoError(t, dev.PciIo().Enable(AttrDeviceEnable))
	require.Equal(t, AttrIO|AttrMemory, dev.Get())

	cmd, err := cs.Read16(dev.SBDF, offCommand)
	require.NoError(t, err)
	require.Equal(t, uint16(0b011), cmd)
}

func TestEnableWithoutCollaboratorFails(t *testing.T) {
	dev := &DevicePrivate{Supports: AttrIO | AttrMemory}
	err := dev.PciIo().Enable(AttrIO)
	require.Error(t, err)
	require.Equal(t, Attribute(0), dev.Get())
}

func TestEnablePropagatesToParentStrippingVGABits(t *testing.T) {
	cs := newTestCS(t)
	collab := &collaborators{cs: cs}
	grandparent := &DevicePrivate{SBDF: SBDF{Device: 1}, Supports: AttrMemory, collab: collab}
	parent := &DevicePrivate{SBDF: SBDF{Device: 2}, Supports: AttrMemory, Parent: grandparent, collab: collab}
	child := &DevicePrivate{SBDF: SBDF{Device: 3}, Supports: AttrMemory | AttrVGALegacyIO, Parent: parent, collab: collab}

	require.NoError(t, child.PciIo().Enable(AttrMemory|AttrVGALegacyIO))

	require.Equal(t, AttrMemory|AttrVGALegacyIO, child.Attributes)
	require.Equal(t, AttrMemory, parent.Attributes)
	require.Equal(t, AttrMemory, grandparent.Attributes)

	parentCmd, err := cs.Read16(parent.SBDF, offCommand)
	require.NoError(t, err)
	require.Equal(t, uint16(0b010), parentCmd)

	grandparentCmd, err := cs.Read16(grandparent.SBDF, offCommand)
	require.NoError(t, err)
	require.Equal(t, uint16(0b010), grandparentCmd)
}

func TestDisableDeviceEnableClearsEverything(t *testing.T) {
	cs := newTestCS(t)
	dev := &DevicePrivate{Supports: AttrIO | AttrMemory, Attributes: AttrIO | AttrMemory, collab: &collaborators{cs: cs}}
	require.NoError(t, cs.Write16(dev.SBDF, offCommand, 0b011))

	require.NoError(t, dev.PciIo().Disable(AttrDeviceEnable))
	require.Equal(t, Attribute(0), dev.Get())

	cmd, err := cs.Read16(dev.SBDF, offCommand)
	require.NoError(t, err)
	require.Equal(t, uint16(0), cmd)
}

func TestSupportedIncludesVGAWidthsRegardlessOfSupportsMask(t *testing.T) {
	dev := &DevicePrivate{Supports: AttrMemory}
	require.Equal(t, AttrMemory|AttrVGALegacyIO|AttrVGAIO16, dev.PciIo().Supported())
}
