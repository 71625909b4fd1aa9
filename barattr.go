package pcifw

import (
	"fmt"

	"pcifw/bitfield"
)

// ResType is the ACPI QWORD Address Space Descriptor's resource type byte
// (ACPI 6.x §6.4.3.5.1): 0 = memory, 1 = I/O.
type ResType uint8

const (
	ResTypeMem ResType = 0
	ResTypeIO  ResType = 1
)

// AddrSpaceGranularity is the descriptor's address granularity: every BAR
// this core sizes is either a 32-bit window or the lower half of a 64-bit
// one (spec.md's Non-goals exclude BARs bigger than 2GiB), so this is
// always one of these two values, never anything in between.
type AddrSpaceGranularity uint8

const (
	Granularity32 AddrSpaceGranularity = 32
	Granularity64 AddrSpaceGranularity = 64
)

// BarAttributes is the ACPI QWORD Address Space Descriptor this core
// synthesizes for GetBarAttributes (spec.md §4.6): a single fixed-size
// window descriptor followed by an implicit end tag, rather than the
// variable-length resource list a full ACPI _CRS would carry.
type BarAttributes struct {
	ResType      ResType
	Granularity  AddrSpaceGranularity
	Prefetchable bool
	AddrRangeMin uint64
	AddrRangeMax uint64
	AddrLength   uint64
}

// GetBarAttributes reports the resource descriptor for BAR bar, read off
// the device's live, programmed BAR register rather than the bridge-
// relative offset sizeBARs recorded (spec.md §4.6). It returns
// ErrUnsupportedBar if no resource was ever sized at that index (an
// unimplemented BAR, or one dropped by the 64-bit-too-large abandon path).
func (p *PciIo) GetBarAttributes(bar uint8) (BarAttributes, error) {
	if int(bar) >= len(p.device.Bars) || p.device.Bars[bar] == nil {
		return BarAttributes{}, fmt.Errorf("%w: bar %d", ErrUnsupportedBar, bar)
	}
	node := p.device.Bars[bar]

	c, err := p.collab()
	if err != nil {
		return BarAttributes{}, err
	}
	barOff := uint8(offBAR0) + bar*4
	raw, err := c.cs.Read32(p.device.SBDF, barOff)
	if err != nil {
		return BarAttributes{}, err
	}
	low := bitfield.UnpackBARLow(raw)

	attr := BarAttributes{
		AddrLength:  uint64(node.Length),
		Granularity: Granularity32,
	}
	if low.IOSpace {
		attr.ResType = ResTypeIO
		attr.AddrRangeMin = uint64(raw &^ 0x3)
	} else {
		attr.ResType = ResTypeMem
		attr.Prefetchable = low.Prefetchable
		if low.MemType == bitfield.MemType64 {
			attr.Granularity = Granularity64
		}
		attr.AddrRangeMin = uint64(raw &^ 0xF)
	}
	attr.AddrRangeMax = attr.AddrRangeMin + attr.AddrLength - 1
	return attr, nil
}

// encode lays the descriptor out as spec.md §4.6 describes: a resource
// type byte, the address-space granularity (32 or 64), a prefetchable
// flag, the programmed base/limit/length, and a trailing end tag (0x79).
func (a BarAttributes) encode() []byte {
	buf := make([]byte, 0, 32)
	buf = append(buf, byte(a.ResType))
	buf = append(buf, byte(a.Granularity))
	if a.Prefetchable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	for _, v := range []uint64{a.AddrRangeMin, a.AddrRangeMax, a.AddrLength} {
		for i := 0; i < 8; i++ {
			buf = append(buf, byte(v>>(8*i)))
		}
	}
	buf = append(buf, 0x79) // end tag
	return buf
}
