package pcifw

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pcifw/sim"
)

func TestEnumerateRootBridgeSingleEndpoint(t *testing.T) {
	f := sim.NewFabric(0xE000_0000, 0x8000_0000)
	f.AddFunction(0, 1, 0, 0x10DE_0001, 0x01, 0x06, []sim.BarSpec{sim.Bar(0x1000, false, false)}, false, 0, false)
	cs := newTestConfigSpace(f, 0)

	enumerator := NewRootBridgeEnumerator(cs, f.BarSpace(), &sim.Timer{}, sim.NewIOMMU(0x9000_0000), discardLog())
	reg := NewRegistry()

	desc := RootBridgeDescriptor{
		Segment:    0,
		Bus:        0,
		BusCeiling: 255,
		MemBase:    0x8000_0000,
		MemLimit:   0x8000_0000 + 0xFFFFF,
		IoBase:     0x1000,
		IoLimit:    0x1FFF,
	}

	require.NoError(t, enumerator.EnumerateRootBridge(desc, reg))
	require.Equal(t, 1, reg.Len())

	barVal, err := cs.Read32(SBDF{Device: 1}, offBAR0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x8000_0000), barVal)

	facade, ok := reg.Lookup(fullDevicePathFor(SBDF{Device: 1}))
	require.True(t, ok)
	require.Equal(t, SBDF{Device: 1, PCIeCapOffset: 0x40}, facade.GetLocation())
}

func fullDevicePathFor(sbdf SBDF) string {
	return DevicePath(SBDF{}) + "/" + DevicePath(sbdf)
}

func TestEnumerateRootBridgeBusExhaustionIsRecovered(t *testing.T) {
	f := sim.NewFabric(0xE000_0000, 0x8000_0000)
	f.AddFunction(0, 0, 0, 0x10DE_1234, 0x06, 0x04, nil, true, 0x6, false)
	cs := newTestConfigSpace(f, 0)

	enumerator := NewRootBridgeEnumerator(cs, f.BarSpace(), &sim.Timer{}, nil, discardLog())
	reg := NewRegistry()

	desc := RootBridgeDescriptor{Segment: 0, Bus: 0, BusCeiling: 0}
	err := enumerator.EnumerateRootBridge(desc, reg)
	require.ErrorIs(t, err, ErrBusRangeExhausted)
}

func TestEnumerateRootBridgeOutOfResourcesIsRecovered(t *testing.T) {
	f := sim.NewFabric(0xE000_0000, 0x8000_0000)
	f.AddFunction(0, 1, 0, 0x10DE_0001, 0x01, 0x06, []sim.BarSpec{sim.Bar(0x1000, false, false)}, false, 0, false)
	cs := newTestConfigSpace(f, 0)

	enumerator := NewRootBridgeEnumerator(cs, f.BarSpace(), &sim.Timer{}, nil, discardLog())
	reg := NewRegistry()

	desc := RootBridgeDescriptor{
		Segment:    0,
		Bus:        0,
		BusCeiling: 255,
		MemBase:    0x8000_0000,
		MemLimit:   0x8000_0000 + 0xFFFFF,
		TreeBudget: 1,
	}

	err := enumerator.EnumerateRootBridge(desc, reg)
	require.ErrorIs(t, err, ErrOutOfResources)
}
