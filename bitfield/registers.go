package bitfield

// Command is the PCI Command register (config space offset 0x04), the bits
// this module cares about: I/O space, memory space and bus-master enables.
// The remaining 13 bits of the real register are preserved by the caller
// (Pack/Unpack only ever touch the bits named here).
type Command struct {
	IOSpace     bool `bitfield:",1"`
	MemorySpace bool `bitfield:",1"`
	BusMaster   bool `bitfield:",1"`
}

var commandConfig = &Config{NumBits: 16}

// PackCommand packs a Command into bits 0-2 of the register; bits 3-15 are
// always zero in the result, so callers OR/AND this against the live
// register value rather than overwrite it outright.
func PackCommand(c Command) uint16 {
	v, _ := Pack(c, commandConfig)
	return uint16(v)
}

// UnpackCommand decodes the enable bits out of a raw Command register value.
func UnpackCommand(raw uint16) Command {
	var c Command
	_ = Unpack(uint64(raw), &c, commandConfig)
	return c
}

// BARLow decodes the low bits of a 32-bit memory/IO BAR as laid out in
// spec.md §6: bit0 = I/O, bits1-2 = memory type, bit3 = prefetchable. The
// base-address bits above bit3 are masked separately by the caller.
type BARLow struct {
	IOSpace      bool  `bitfield:",1"`
	MemType      uint8 `bitfield:",2"`
	Prefetchable bool  `bitfield:",1"`
}

var barLowConfig = &Config{NumBits: 4}

// UnpackBARLow decodes the type-discriminating low bits of a raw BAR value.
func UnpackBARLow(raw uint32) BARLow {
	var b BARLow
	_ = Unpack(uint64(raw), &b, barLowConfig)
	return b
}

// MemType values per the PCI spec (BARLow.MemType).
const (
	MemType32 uint8 = 0b00
	MemType64 uint8 = 0b10
)

// BridgeMemWindow is the packed form of a bridge's Memory Base/Limit
// register pair: each is the upper 16 bits of a 32-bit, 1 MiB-granular
// address, base in the low half-word, limit in the high half-word.
func BridgeMemWindow(base, limit uint32) uint32 {
	return (base >> 16) | (limit & 0xFFFF0000)
}

// BridgeIOWindow is the packed form of a bridge's I/O Base/Limit register
// pair: each is the upper 8 bits of a 16-bit, 4 KiB-granular address.
func BridgeIOWindow(base, limit uint32) uint32 {
	return (base >> 8 & 0xFF) | (limit & 0xFF00)
}
