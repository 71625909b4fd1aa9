package sim

const (
	offVendorID      = 0x00
	offCommand       = 0x04
	offStatus        = 0x06
	offRevisionClass = 0x08
	offHeaderType    = 0x0E
	offBAR0          = 0x10
	offCapPtr        = 0x34

	offBridgePrimaryBus   = 0x18
	offBridgeSecondaryBus = 0x19
	offBridgeSubordinate  = 0x1A

	capIDPCIExpress = 0x10
	pcieCapOffset   = 0x40 // fixed location this fabric always places it at

	statusCapList = 1 << 4
)

// BarSpec is one BAR's simulated hardware shape: its size and whether it
// is an I/O, 32-bit memory or 64-bit memory window.
type BarSpec struct {
	SizeBytes uint32
	IO        bool
	Is64      bool
}

// Bar builds a BarSpec for a memory or I/O BAR of sizeBytes.
func Bar(sizeBytes uint32, io, is64 bool) BarSpec {
	return BarSpec{SizeBytes: sizeBytes, IO: io, Is64: is64}
}

// function is one simulated bus/device/function's register file, backed
// by a raw 4KiB config-space block plus enough BAR metadata to make
// write-all-ones probing behave like real hardware.
type function struct {
	bus, dev, fn uint8
	bars         [6]BarSpec
	bridge       bool
}

// Fabric is a hand-rolled PCI Express fabric: real bus/device/function
// config space addressable exactly the way pcifw.ConfigSpace computes
// addresses, with enough register semantics simulated (BAR sizing,
// capability list, bridge bus-number registers) that pcifw's enumerator
// can run against it unmodified. Grounded on the "device-aware host
// bridge" shape common to PCI fabric simulators: config space is not just
// flat memory, individual registers have read/write side effects.
type Fabric struct {
	ecam      *ECAM
	barSpace  *ECAM
	functions map[[3]uint8]*function
	nextBar   uint64
}

// NewFabric allocates a fabric with its ECAM window at ecamBase (sized for
// 256 buses) and its BAR-target address space at barSpaceBase.
func NewFabric(ecamBase, barSpaceBase uint64) *Fabric {
	return &Fabric{
		ecam:      NewECAM(ecamBase, 256<<20),
		barSpace:  NewECAM(barSpaceBase, 1<<30),
		functions: make(map[[3]uint8]*function),
		nextBar:   barSpaceBase,
	}
}

func (f *Fabric) key(bus, dev, fn uint8) [3]uint8 { return [3]uint8{bus, dev, fn} }

func (f *Fabric) cfgAddr(bus, dev, fn uint8, offset uint8) uint64 {
	return f.ecam.base + uint64(bus)<<20 + uint64(dev)<<15 + uint64(fn)<<12 + uint64(offset)
}

// AddFunction installs a function at (bus,dev,fn) with the given vendor
// IDs, class code, and BAR layout. Every function gets a minimal PCI
// Express capability at a fixed offset whose Device/Port Type is portType;
// isBridge sets the type-1 header-type value; multiFunction sets the
// header-type multi-function bit.
func (f *Fabric) AddFunction(bus, dev, fn uint8, vendorDevice uint32, classBase, classSub uint8, bars []BarSpec, isBridge bool, portType uint8, multiFunction bool) {
	e := f.ecam
	addr := func(off uint8) uint64 { return f.cfgAddr(bus, dev, fn, off) }

	e.Write32(addr(offVendorID), vendorDevice)
	ht := uint8(0)
	if isBridge {
		ht = 0x01
	}
	if multiFunction {
		ht |= 0x80
	}
	e.Write8(addr(offHeaderType), ht)
	e.Write32(addr(offRevisionClass), uint32(classBase)<<24|uint32(classSub)<<16)

	e.Write16(addr(offStatus), statusCapList)
	e.Write8(addr(offCapPtr), pcieCapOffset)
	e.Write8(addr(pcieCapOffset), capIDPCIExpress)
	e.Write8(addr(pcieCapOffset+1), 0) // next pointer: end of list
	e.Write16(addr(pcieCapOffset+2), uint16(portType&0xF)<<4)

	fun := &function{bus: bus, dev: dev, fn: fn, bridge: isBridge}
	for i, b := range bars {
		fun.bars[i] = b
		f.initBAR(bus, dev, fn, uint8(i), b)
	}
	f.functions[f.key(bus, dev, fn)] = fun
}

// initBAR sets a BAR's resting value: 0 for an unimplemented one, or a
// real hardware reset value with the type bits set and the address bits
// still zero (firmware is expected to probe-and-program it).
func (f *Fabric) initBAR(bus, dev, fn, idx uint8, spec BarSpec) {
	if spec.SizeBytes == 0 {
		return
	}
	var v uint32
	if spec.IO {
		v = 0x1
	} else if spec.Is64 {
		v = 0x4
	}
	f.ecam.Write32(f.cfgAddr(bus, dev, fn, offBAR0+idx*4), v)
}

// barSizeMask returns the all-ones-probe readback value a BAR of this
// spec would produce: the type bits preserved, the address bits showing
// the two's-complement size mask.
func barSizeMask(spec BarSpec) uint32 {
	if spec.SizeBytes == 0 {
		return 0
	}
	if spec.IO {
		mask := ^uint32(uint16(spec.SizeBytes - 1))
		return mask | 0x1
	}
	mask := ^(spec.SizeBytes - 1)
	typeBits := uint32(0)
	if spec.Is64 {
		typeBits = 0x4
	}
	return mask | typeBits
}

// MMIO returns the pcifw.MMIO this fabric's config space is read through.
func (f *Fabric) MMIO() *interceptingMMIO {
	return &interceptingMMIO{f: f}
}

// BarSpace returns the pcifw.MMIO BAR reads/writes (once programmed) go
// through: ordinary flat memory, since nothing simulates device-specific
// register behavior behind a BAR window in this fabric.
func (f *Fabric) BarSpace() *ECAM { return f.barSpace }

// ECAMBase returns the address this fabric's config-space window starts
// at, for wiring into a pcifw.ECAMBase lookup.
func (f *Fabric) ECAMBase() uint64 { return f.ecam.base }

// interceptingMMIO wraps the raw ECAM bytes with a BAR-register side
// effect (an all-ones write reads back as the size mask) so probing behaves
// like real hardware. Every other register, the bridge bus-number
// registers included, is plain memory.
type interceptingMMIO struct{ f *Fabric }

func (m *interceptingMMIO) functionAt(addr uint64) (*function, uint8, bool) {
	rel := addr - m.f.ecam.base
	bus := uint8(rel >> 20)
	dev := uint8((rel >> 15) & 0x1F)
	fn := uint8((rel >> 12) & 0x7)
	off := uint8(rel & 0xFFF)
	f, ok := m.f.functions[m.f.key(bus, dev, fn)]
	return f, off, ok
}

func (m *interceptingMMIO) Read8(addr uint64) uint8   { return m.f.ecam.Read8(addr) }
func (m *interceptingMMIO) Read16(addr uint64) uint16 { return m.f.ecam.Read16(addr) }
func (m *interceptingMMIO) Read32(addr uint64) uint32 { return m.f.ecam.Read32(addr) }

func (m *interceptingMMIO) Write8(addr uint64, v uint8) { m.f.ecam.Write8(addr, v) }

func (m *interceptingMMIO) Write16(addr uint64, v uint16) {
	m.f.ecam.Write16(addr, v)
}

func (m *interceptingMMIO) Write32(addr uint64, v uint32) {
	fun, off, ok := m.functionAt(addr)
	if ok && off >= offBAR0 && off < offBAR0+6*4 && off%4 == 0 {
		idx := (off - offBAR0) / 4
		if v == 0xFFFFFFFF {
			m.f.ecam.Write32(addr, barSizeMask(fun.bars[idx]))
			return
		}
	}
	m.f.ecam.Write32(addr, v)
}

// AllocateBarBase hands out a 1 MiB-aligned base address from the fabric's
// flat BAR-target space, for fabricating the MemBase/MemLimit a
// RootBridgeDescriptor names. Topology.Build does not use it.
func (f *Fabric) AllocateBarBase(size uint64) uint64 {
	const align = 1 << 20
	base := (f.nextBar + align - 1) &^ (align - 1)
	f.nextBar = base + size
	return base
}
