package pcifw

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pcifw/sim"
)

func TestDiscoverResourcesSizesEndpointBar(t *testing.T) {
	f := sim.NewFabric(0xE000_0000, 0x8000_0000)
	f.AddFunction(0, 1, 0, 0x10DE_0001, 0x01, 0x06, []sim.BarSpec{sim.Bar(0x2000, false, false)}, false, 0, false)

	cs := newTestConfigSpace(f, 0)
	collab := &collaborators{cs: cs, mmio: f.BarSpace()}

	tree := newTree(0)
	root := &P2PBridge{Device: &DevicePrivate{}, SecBus: 0}

	require.NoError(t, DiscoverResources(cs, tree, root, collab, discardLog()))

	require.Len(t, root.Endpoints, 1)
	require.Len(t, root.Resources, 1)
	require.Equal(t, uint32(0x2000), root.Resources[0].Length)
	require.Equal(t, TypeMem, root.Resources[0].Type)
}

func TestDiscoverResourcesSkipsAlreadyDecoding(t *testing.T) {
	f := sim.NewFabric(0xE000_0000, 0x8000_0000)
	f.AddFunction(0, 1, 0, 0x10DE_0001, 0x01, 0x06, []sim.BarSpec{sim.Bar(0x2000, false, false)}, false, 0, false)
	cs := newTestConfigSpace(f, 0)
	require.NoError(t, cs.Write16(SBDF{Device: 1}, offCommand, 0x2)) // memory space already enabled

	collab := &collaborators{cs: cs, mmio: f.BarSpace()}
	tree := newTree(0)
	root := &P2PBridge{Device: &DevicePrivate{}, SecBus: 0}

	require.NoError(t, DiscoverResources(cs, tree, root, collab, discardLog()))
	require.Empty(t, root.Endpoints)
	require.Empty(t, root.Resources)
}

func TestDiscoverResourcesAbandons64BitBarOver2GiB(t *testing.T) {
	f := sim.NewFabric(0xE000_0000, 0x8000_0000)
	f.AddFunction(0, 1, 0, 0x10DE_0001, 0x01, 0x06, []sim.BarSpec{sim.Bar(3<<30, false, true)}, false, 0, false)
	cs := newTestConfigSpace(f, 0)

	collab := &collaborators{cs: cs, mmio: f.BarSpace()}
	tree := newTree(0)
	root := &P2PBridge{Device: &DevicePrivate{}, SecBus: 0}

	require.NoError(t, DiscoverResources(cs, tree, root, collab, discardLog()))
	require.Empty(t, root.Resources)
	require.Len(t, root.Endpoints, 1)
	require.Equal(t, Attribute(0), root.Endpoints[0].Supports)
}
