package sim

import (
	"fmt"

	"pcifw"
)

// IOMMU is a pcifw.IOMMU that hands back identity mappings: DeviceAddress
// equals the host address it was given. There is no real address
// translation to simulate here, only the bookkeeping pcifw.PciIo's
// Map/Unmap/AllocateBuffer/FreeBuffer contract requires.
type IOMMU struct {
	outstanding map[uintptr]bool
	nextBuffer  uintptr
}

// NewIOMMU returns an identity-mapping IOMMU allocating scratch buffer
// addresses starting at base.
func NewIOMMU(base uintptr) *IOMMU {
	return &IOMMU{outstanding: make(map[uintptr]bool), nextBuffer: base}
}

func (i *IOMMU) Map(op pcifw.MapOperation, hostAddress uintptr, length uint64) (pcifw.Mapping, error) {
	return pcifw.Mapping{DeviceAddress: uint64(hostAddress)}, nil
}

func (i *IOMMU) Unmap(m pcifw.Mapping) error {
	return nil
}

func (i *IOMMU) AllocateBuffer(pages int, attrs pcifw.Attribute) (uintptr, error) {
	const pageSize = 4096
	addr := i.nextBuffer
	i.nextBuffer += uintptr(pages * pageSize)
	i.outstanding[addr] = true
	return addr, nil
}

func (i *IOMMU) FreeBuffer(pages int, hostAddress uintptr) error {
	if !i.outstanding[hostAddress] {
		return fmt.Errorf("sim: FreeBuffer of unknown address %#x", hostAddress)
	}
	delete(i.outstanding, hostAddress)
	return nil
}

func (i *IOMMU) SetAttribute(m pcifw.Mapping, attrs pcifw.Attribute) error {
	return nil
}
