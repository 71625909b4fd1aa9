package pcifw

// Timer is the microsecond-stall collaborator spec.md §6 calls for: the
// only blocking point in this core, used by PciIo.PollMem/PollIo.
type Timer interface {
	StallMicroseconds(us uint32)
}

// MapOperation mirrors the UEFI PciIoOperation enum closely enough for
// this core's purposes: which direction a bus-master DMA mapping runs.
type MapOperation int

const (
	MapBusMasterRead MapOperation = iota
	MapBusMasterWrite
	MapBusMasterCommonBuffer
)

// Mapping is an opaque handle returned by IOMMU.Map, passed back to Unmap.
type Mapping struct {
	DeviceAddress uint64
	hostAddress   uintptr
	length        uint64
}

// IOMMU is the optional collaborator behind PciIo's Map/Unmap/
// AllocateBuffer/FreeBuffer (spec.md §4.6, §6). SetAttribute is part of
// the interface, but no PciIo method calls it: Map does not set any
// access attributes on the mapping it returns. It is only
// required at call sites that actually perform bus-master DMA; façades for
// devices that never call Map/AllocateBuffer never touch it.
type IOMMU interface {
	Map(op MapOperation, hostAddress uintptr, length uint64) (Mapping, error)
	Unmap(m Mapping) error
	AllocateBuffer(pages int, attrs Attribute) (hostAddress uintptr, err error)
	FreeBuffer(pages int, hostAddress uintptr) error
	SetAttribute(m Mapping, attrs Attribute) error
}

// collaborators bundles the external services a DevicePrivate's façade
// needs beyond config space: the microsecond timer and, when the device
// performs DMA, an IOMMU. Both are optional at the call site (spec.md §6);
// a nil Timer/IOMMU only becomes an error if a façade method that actually
// needs it is invoked.
type collaborators struct {
	cs    *ConfigSpace
	mmio  MMIO // BAR-target memory/IO space; shares the address space ECAM config reads use
	timer Timer
	iommu IOMMU
}
