package pcifw

import "fmt"

// Width is an MMIO/config access width in bits: one of 8, 16 or 32
// (spec.md §4.6).
type Width uint8

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
)

// PciIo is the per-device I/O façade spec.md §4.6 describes: every method
// on it operates against the DevicePrivate it was obtained from.
// Downstream firmware modules call this, never config space directly.
type PciIo struct {
	device *DevicePrivate
}

// PciIo returns the façade bound to this device.
func (d *DevicePrivate) PciIo() *PciIo {
	return &PciIo{device: d}
}

// GetLocation returns the device's SBDF coordinates.
func (p *PciIo) GetLocation() SBDF {
	return p.device.SBDF
}

func (p *PciIo) collab() (*collaborators, error) {
	if p.device.collab == nil {
		return nil, fmt.Errorf("pcifw: device %s has no façade collaborators attached", p.device.SBDF)
	}
	return p.device.collab, nil
}

// barWindowBase reads the programmed BAR and masks off its low
// type-discriminator bits: 4 bits for memory BARs, 2 for I/O (spec.md
// §4.6).
func (p *PciIo) barWindowBase(barIndex uint8, io bool) (uint64, error) {
	c, err := p.collab()
	if err != nil {
		return 0, err
	}
	barOff := uint8(offBAR0) + barIndex*4
	raw, err := c.cs.Read32(p.device.SBDF, barOff)
	if err != nil {
		return 0, err
	}
	if io {
		return uint64(raw &^ 0x3), nil
	}
	return uint64(raw &^ 0xF), nil
}

func widthRead(mmio MMIO, addr uint64, width Width) (uint64, error) {
	switch width {
	case Width8:
		return uint64(mmio.Read8(addr)), nil
	case Width16:
		return uint64(mmio.Read16(addr)), nil
	case Width32:
		return uint64(mmio.Read32(addr)), nil
	default:
		return 0, fmt.Errorf("pcifw: unsupported access width %d", width)
	}
}

func widthWrite(mmio MMIO, addr uint64, width Width, v uint64) error {
	switch width {
	case Width8:
		mmio.Write8(addr, uint8(v))
	case Width16:
		mmio.Write16(addr, uint16(v))
	case Width32:
		mmio.Write32(addr, uint32(v))
	default:
		return fmt.Errorf("pcifw: unsupported access width %d", width)
	}
	return nil
}

func strideOf(width Width) uint64 { return uint64(width) / 8 }

// MemRead/MemWrite perform count MMIO accesses of width against BAR
// bar's memory window starting at offset (spec.md §4.6's mem.read/write).
func (p *PciIo) MemRead(width Width, bar uint8, offset uint64, count int, buf []uint64) error {
	return p.rawIO(width, bar, offset, count, buf, false, false)
}

func (p *PciIo) MemWrite(width Width, bar uint8, offset uint64, count int, buf []uint64) error {
	return p.rawIO(width, bar, offset, count, buf, false, true)
}

// IoRead/IoWrite are MemRead/MemWrite's I/O-BAR counterparts.
func (p *PciIo) IoRead(width Width, bar uint8, offset uint64, count int, buf []uint64) error {
	return p.rawIO(width, bar, offset, count, buf, true, false)
}

func (p *PciIo) IoWrite(width Width, bar uint8, offset uint64, count int, buf []uint64) error {
	return p.rawIO(width, bar, offset, count, buf, true, true)
}

func (p *PciIo) rawIO(width Width, bar uint8, offset uint64, count int, buf []uint64, io, write bool) error {
	if len(buf) < count {
		return fmt.Errorf("pcifw: buffer too small for %d accesses", count)
	}
	c, err := p.collab()
	if err != nil {
		return err
	}
	base, err := p.barWindowBase(bar, io)
	if err != nil {
		return err
	}
	stride := strideOf(width)
	for i := 0; i < count; i++ {
		addr := base + offset + uint64(i)*stride
		if write {
			if err := widthWrite(c.mmio, addr, width, buf[i]); err != nil {
				return err
			}
		} else {
			v, err := widthRead(c.mmio, addr, width)
			if err != nil {
				return err
			}
			buf[i] = v
		}
	}
	return nil
}

// PciRead/PciWrite access the device's own config space at cfgOffset
// (spec.md §4.6's pci.read/write).
func (p *PciIo) PciRead(width Width, cfgOffset uint8, count int, buf []uint64) error {
	c, err := p.collab()
	if err != nil {
		return err
	}
	stride := uint8(strideOf(width))
	for i := 0; i < count; i++ {
		off := cfgOffset + uint8(i)*stride
		var v uint64
		switch width {
		case Width8:
			r, err := c.cs.Read8(p.device.SBDF, off)
			if err != nil {
				return err
			}
			v = uint64(r)
		case Width16:
			r, err := c.cs.Read16(p.device.SBDF, off)
			if err != nil {
				return err
			}
			v = uint64(r)
		case Width32:
			r, err := c.cs.Read32(p.device.SBDF, off)
			if err != nil {
				return err
			}
			v = uint64(r)
		default:
			return fmt.Errorf("pcifw: unsupported access width %d", width)
		}
		buf[i] = v
	}
	return nil
}

func (p *PciIo) PciWrite(width Width, cfgOffset uint8, count int, buf []uint64) error {
	c, err := p.collab()
	if err != nil {
		return err
	}
	stride := uint8(strideOf(width))
	for i := 0; i < count; i++ {
		off := cfgOffset + uint8(i)*stride
		switch width {
		case Width8:
			if err := c.cs.Write8(p.device.SBDF, off, uint8(buf[i])); err != nil {
				return err
			}
		case Width16:
			if err := c.cs.Write16(p.device.SBDF, off, uint16(buf[i])); err != nil {
				return err
			}
		case Width32:
			if err := c.cs.Write32(p.device.SBDF, off, uint32(buf[i])); err != nil {
				return err
			}
		default:
			return fmt.Errorf("pcifw: unsupported access width %d", width)
		}
	}
	return nil
}

// pollCommon implements the poll loop shared by PollMem/PollIo (spec.md
// §4.6, §9): read once; if (v&mask)==value or delay==0, succeed. Otherwise
// stall 10µs and deduct 100 (the unit is 100ns) from delay; time out once
// delay <= 100.
func (p *PciIo) pollCommon(width Width, bar uint8, offset uint64, mask, value uint64, delay100ns uint32, io bool) (uint64, error) {
	c, err := p.collab()
	if err != nil {
		return 0, err
	}
	base, err := p.barWindowBase(bar, io)
	if err != nil {
		return 0, err
	}
	addr := base + offset

	for {
		v, err := widthRead(c.mmio, addr, width)
		if err != nil {
			return 0, err
		}
		if v&mask == value || delay100ns == 0 {
			return v, nil
		}
		if c.timer == nil {
			return v, fmt.Errorf("pcifw: poll requires a Timer collaborator")
		}
		if delay100ns <= 100 {
			return v, ErrTimeout
		}
		c.timer.StallMicroseconds(10)
		delay100ns -= 100
	}
}

// PollMem/PollIo are spec.md §4.6's poll_mem/poll_io.
func (p *PciIo) PollMem(width Width, bar uint8, offset uint64, mask, value uint64, delay100ns uint32) (uint64, error) {
	return p.pollCommon(width, bar, offset, mask, value, delay100ns, false)
}

func (p *PciIo) PollIo(width Width, bar uint8, offset uint64, mask, value uint64, delay100ns uint32) (uint64, error) {
	return p.pollCommon(width, bar, offset, mask, value, delay100ns, true)
}

// CopyMem copies count elements of width from (srcBar,srcOff) to
// (dstBar,dstOff), both within this device's own BAR windows, reversing
// direction when the ranges overlap and the destination is above the
// source (spec.md §4.6, §8 property 8).
//
// spec.md §9 leaves open whether the intermediate value should be masked
// to width when width < 64 bits; this implementation always reads and
// writes exactly width bits per element (never carrying stale high bytes),
// which is the masked interpretation — see DESIGN.md.
func (p *PciIo) CopyMem(width Width, dstBar uint8, dstOffset uint64, srcBar uint8, srcOffset uint64, count int) error {
	c, err := p.collab()
	if err != nil {
		return err
	}
	dstBase, err := p.barWindowBase(dstBar, false)
	if err != nil {
		return err
	}
	srcBase, err := p.barWindowBase(srcBar, false)
	if err != nil {
		return err
	}
	stride := strideOf(width)
	dstStart, srcStart := dstBase+dstOffset, srcBase+srcOffset

	backwards := dstBar == srcBar && dstStart > srcStart && dstStart < srcStart+uint64(count)*stride
	indices := make([]int, count)
	for i := range indices {
		indices[i] = i
	}
	if backwards {
		for i, j := 0, len(indices)-1; i < j; i, j = i+1, j-1 {
			indices[i], indices[j] = indices[j], indices[i]
		}
	}

	for _, i := range indices {
		v, err := widthRead(c.mmio, srcStart+uint64(i)*stride, width)
		if err != nil {
			return err
		}
		if err := widthWrite(c.mmio, dstStart+uint64(i)*stride, width, v); err != nil {
			return err
		}
	}
	return nil
}

// Flush and SetBarAttributes are no-ops that always succeed (spec.md §4.6):
// this core has no posted-write buffering to flush and no BAR attributes
// beyond what GetBarAttributes already reports.
func (p *PciIo) Flush() error             { return nil }
func (p *PciIo) SetBarAttributes() error { return nil }

// Map establishes a bus-master DMA mapping for the host buffer
// [hostAddress, hostAddress+length) in direction op, delegating to the
// device's IOMMU collaborator (spec.md §4.6's map).
func (p *PciIo) Map(op MapOperation, hostAddress uintptr, length uint64) (Mapping, error) {
	c, err := p.collab()
	if err != nil {
		return Mapping{}, err
	}
	if c.iommu == nil {
		return Mapping{}, fmt.Errorf("pcifw: device %s has no IOMMU collaborator attached", p.device.SBDF)
	}
	return c.iommu.Map(op, hostAddress, length)
}

// Unmap tears down a mapping previously returned by Map (spec.md §4.6's
// unmap).
func (p *PciIo) Unmap(m Mapping) error {
	c, err := p.collab()
	if err != nil {
		return err
	}
	if c.iommu == nil {
		return fmt.Errorf("pcifw: device %s has no IOMMU collaborator attached", p.device.SBDF)
	}
	return c.iommu.Unmap(m)
}

// AllocateBuffer asks the IOMMU collaborator for pages pages of DMA-capable
// common buffer memory with the given attributes (spec.md §4.6's
// allocate_buffer).
func (p *PciIo) AllocateBuffer(pages int, attrs Attribute) (uintptr, error) {
	c, err := p.collab()
	if err != nil {
		return 0, err
	}
	if c.iommu == nil {
		return 0, fmt.Errorf("pcifw: device %s has no IOMMU collaborator attached", p.device.SBDF)
	}
	return c.iommu.AllocateBuffer(pages, attrs)
}

// FreeBuffer releases a buffer previously returned by AllocateBuffer
// (spec.md §4.6's free_buffer).
func (p *PciIo) FreeBuffer(pages int, hostAddress uintptr) error {
	c, err := p.collab()
	if err != nil {
		return err
	}
	if c.iommu == nil {
		return fmt.Errorf("pcifw: device %s has no IOMMU collaborator attached", p.device.SBDF)
	}
	return c.iommu.FreeBuffer(pages, hostAddress)
}
