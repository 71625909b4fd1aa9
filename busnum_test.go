package pcifw

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pcifw/sim"
)

func newTestConfigSpace(f *sim.Fabric, segment uint16) *ConfigSpace {
	return NewConfigSpace(f.MMIO(), func(seg uint16) (uint64, bool) {
		if seg != segment {
			return 0, false
		}
		return f.ECAMBase(), true
	})
}

func TestAssignBusNumbersSingleLevel(t *testing.T) {
	f := sim.NewFabric(0xE000_0000, 0x8000_0000)
	// bus0/dev0/fn0: downstream port bridging to the next bus.
	f.AddFunction(0, 0, 0, 0x10DE_1234, 0x06, 0x04, nil, true, 0x6, false)
	cs := newTestConfigSpace(f, 0)

	nextBus := uint8(1)
	highest, err := AssignBusNumbers(cs, rootSBDF(0, 0), &nextBus, 255, discardLog())
	require.NoError(t, err)
	require.Equal(t, uint8(1), highest)
	require.Equal(t, uint8(2), nextBus)

	sec, err := cs.Read8(SBDF{Bus: 0, Device: 0, Function: 0}, offBridgeSecondaryBus)
	require.NoError(t, err)
	require.Equal(t, uint8(1), sec)

	sub, err := cs.Read8(SBDF{Bus: 0, Device: 0, Function: 0}, offBridgeSubordinate)
	require.NoError(t, err)
	require.Equal(t, uint8(1), sub)
}

func TestAssignBusNumbersNested(t *testing.T) {
	f := sim.NewFabric(0xE000_0000, 0x8000_0000)
	f.AddFunction(0, 0, 0, 0x10DE_1234, 0x06, 0x04, nil, true, 0x6, false)
	f.AddFunction(1, 0, 0, 0x10DE_5678, 0x06, 0x04, nil, true, 0x6, false)
	cs := newTestConfigSpace(f, 0)

	nextBus := uint8(1)
	highest, err := AssignBusNumbers(cs, rootSBDF(0, 0), &nextBus, 255, discardLog())
	require.NoError(t, err)
	require.Equal(t, uint8(2), highest)

	sub, err := cs.Read8(SBDF{Bus: 0, Device: 0, Function: 0}, offBridgeSubordinate)
	require.NoError(t, err)
	require.Equal(t, uint8(2), sub)
}

func TestAssignBusNumbersExhaustsCeiling(t *testing.T) {
	f := sim.NewFabric(0xE000_0000, 0x8000_0000)
	f.AddFunction(0, 0, 0, 0x10DE_1234, 0x06, 0x04, nil, true, 0x6, false)
	cs := newTestConfigSpace(f, 0)

	nextBus := uint8(1)
	_, err := AssignBusNumbers(cs, rootSBDF(0, 0), &nextBus, 0, discardLog())
	require.ErrorIs(t, err, ErrBusRangeExhausted)
}
