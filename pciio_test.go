package pcifw

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pcifw/sim"
)

func newTestDevice(t *testing.T, barBase uint32) (*DevicePrivate, *ConfigSpace) {
	t.Helper()
	cs := newTestCS(t)
	sbdf := SBDF{Device: 3}
	require.NoError(t, cs.Write32(sbdf, offBAR0, barBase))

	mmio := sim.NewECAM(0, 1<<24)
	dev := &DevicePrivate{
		SBDF: sbdf,
		collab: &collaborators{
			cs:    cs,
			mmio:  mmio,
			timer: &sim.Timer{},
		},
	}
	return dev, cs
}

func TestMemWriteReadRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t, 0x1000)
	io := dev.PciIo()

	require.NoError(t, io.MemWrite(Width32, 0, 0x10, 2, []uint64{0xCAFEBABE, 0xDEADBEEF}))

	out := make([]uint64, 2)
	require.NoError(t, io.MemRead(Width32, 0, 0x10, 2, out))
	require.Equal(t, []uint64{0xCAFEBABE, 0xDEADBEEF}, out)
}

func TestPollMemSucceedsImmediately(t *testing.T) {
	dev, _ := newTestDevice(t, 0x1000)
	io := dev.PciIo()
	require.NoError(t, io.MemWrite(Width32, 0, 0, 1, []uint64{0x1}))

	v, err := io.PollMem(Width32, 0, 0, 0x1, 0x1, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1), v)
}

func TestPollMemTimesOut(t *testing.T) {
	dev, _ := newTestDevice(t, 0x1000)
	io := dev.PciIo()

	_, err := io.PollMem(Width32, 0, 0, 0x1, 0x1, 150)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestCopyMemForwardNonOverlapping(t *testing.T) {
	dev, _ := newTestDevice(t, 0x1000)
	io := dev.PciIo()
	require.NoError(t, io.MemWrite(Width32, 0, 0, 3, []uint64{1, 2, 3}))

	require.NoError(t, io.CopyMem(Width32, 0, 0x100, 0, 0, 3))

	out := make([]uint64, 3)
	require.NoError(t, io.MemRead(Width32, 0, 0x100, 3, out))
	require.Equal(t, []uint64{1, 2, 3}, out)
}

func TestCopyMemOverlappingCopiesBackwards(t *testing.T) {
	dev, _ := newTestDevice(t, 0x1000)
	io := dev.PciIo()
	require.NoError(t, io.MemWrite(Width32, 0, 0, 4, []uint64{1, 2, 3, 4}))

	// dst starts one element into src: [1,2,3,4] -> [1,1,2,3]
	require.NoError(t, io.CopyMem(Width32, 0, 4, 0, 0, 3))

	out := make([]uint64, 4)
	require.NoError(t, io.MemRead(Width32, 0, 0, 4, out))
	require.Equal(t, []uint64{1, 1, 2, 3}, out)
}

func TestGetLocationReturnsSBDF(t *testing.T) {
	dev, _ := newTestDevice(t, 0x1000)
	require.Equal(t, dev.SBDF, dev.PciIo().GetLocation())
}

func TestAllocateBufferAndFreeBufferRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t, 0x1000)
	dev.collab.iommu = sim.NewIOMMU(0x9000_0000)
	io := dev.PciIo()

	addr, err := io.AllocateBuffer(1, AttrMemory)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x9000_0000), addr)
	require.NoError(t, io.FreeBuffer(1, addr))
}

func TestMapAndUnmapRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t, 0x1000)
	dev.collab.iommu = sim.NewIOMMU(0x9000_0000)
	io := dev.PciIo()

	m, err := io.Map(MapBusMasterWrite, 0x1234, 0x100)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1234), m.DeviceAddress)
	require.NoError(t, io.Unmap(m))
}

func TestMapWithoutIOMMUCollaboratorFails(t *testing.T) {
	dev, _ := newTestDevice(t, 0x1000)
	_, err := dev.PciIo().Map(MapBusMasterRead, 0x1234, 0x100)
	require.Error(t, err)
}
