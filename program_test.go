package pcifw

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pcifw/sim"
)

func newTestCS(t *testing.T) *ConfigSpace {
	t.Helper()
	ecam := sim.NewECAM(0, 2<<20) // buses 0 and 1
	return NewConfigSpace(ecam, func(seg uint16) (uint64, bool) {
		if seg != 0 {
			return 0, false
		}
		return 0, true
	})
}

func TestProgramMemWritesBarAndRecurses(t *testing.T) {
	cs := newTestCS(t)

	leafDev := &DevicePrivate{SBDF: SBDF{Bus: 1, Device: 0, Function: 0}}
	bridgeDev := &DevicePrivate{SBDF: SBDF{Bus: 0, Device: 1, Function: 0}}
	child := &P2PBridge{Device: bridgeDev}

	bar := &ResourceNode{Kind: KindBar, Type: TypeMem, BarIndex: 0, Owner: leafDev, Offset: 0, Length: 0x1000}
	child.Resources = []*ResourceNode{bar}

	aperture := &ResourceNode{Kind: KindAperture, Type: TypeMem, Offset: 0, Length: memApertureGranularity, OwnerBridge: child}
	root := &P2PBridge{Resources: []*ResourceNode{aperture}}

	require.NoError(t, ProgramMem(cs, root, 0x8000_0000, 0x8000_0000+memApertureGranularity-1, discardLog()))

	barVal, err := cs.Read32(leafDev.SBDF, offBAR0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x8000_0000), barVal)
}

func TestProgramMemExhaustion(t *testing.T) {
	cs := newTestCS(t)
	dev := &DevicePrivate{SBDF: SBDF{Device: 1}}
	bar := &ResourceNode{Kind: KindBar, Type: TypeMem, BarIndex: 0, Owner: dev, Offset: 0x1000, Length: 0x1000}
	root := &P2PBridge{Resources: []*ResourceNode{bar}}

	err := ProgramMem(cs, root, 0, 0xFFF, discardLog())
	require.ErrorIs(t, err, ErrMemExhausted)
}

func TestProgramIOSetsIOBitOnBar(t *testing.T) {
	cs := newTestCS(t)
	dev := &DevicePrivate{SBDF: SBDF{Device: 2}}
	bar := &ResourceNode{Kind: KindBar, Type: TypeIO, BarIndex: 0, Owner: dev, Offset: 0, Length: 0x10}
	root := &P2PBridge{Resources: []*ResourceNode{bar}}

	require.NoError(t, ProgramIO(cs, root, 0x1000, 0x1FFF, discardLog()))

	v, err := cs.Read32(dev.SBDF, offBAR0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1001), v)
}

func TestCloseBridgeWindowsClosesEveryChild(t *testing.T) {
	cs := newTestCS(t)
	childDev := &DevicePrivate{SBDF: SBDF{Device: 5}}
	child := &P2PBridge{Device: childDev}
	root := &P2PBridge{ChildBridges: []*P2PBridge{child}}

	require.NoError(t, CloseBridgeWindows(cs, root))

	memWin, err := cs.Read32(childDev.SBDF, offBridgeMemBase)
	require.NoError(t, err)
	base := (memWin & 0xFFFF) << 16
	limit := memWin &^ 0xFFFF
	require.Greater(t, base, limit|0xFFFFF)
}

func TestEnableBridgesSetsCommandBits(t *testing.T) {
	cs := newTestCS(t)
	childDev := &DevicePrivate{SBDF: SBDF{Device: 5}}
	child := &P2PBridge{Device: childDev}
	root := &P2PBridge{ChildBridges: []*P2PBridge{child}}

	require.NoError(t, EnableBridges(cs, root))

	cmd, err := cs.Read16(childDev.SBDF, offCommand)
	require.NoError(t, err)
	require.Equal(t, uint16(0b111), cmd)
}
