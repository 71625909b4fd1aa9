package sim

import (
	"os"

	"gopkg.in/yaml.v3"
)

// BarFixture is one BAR in a yaml topology fixture.
type BarFixture struct {
	Index     uint8  `yaml:"index"`
	SizeBytes uint32 `yaml:"sizeBytes"`
	IO        bool   `yaml:"io"`
	Is64      bool   `yaml:"is64"`
}

// FunctionFixture is one bus/device/function in a yaml topology fixture.
type FunctionFixture struct {
	Bus           uint8        `yaml:"bus"`
	Device        uint8        `yaml:"device"`
	Function      uint8        `yaml:"function"`
	VendorDevice  uint32       `yaml:"vendorDevice"`
	ClassBase     uint8        `yaml:"classBase"`
	ClassSub      uint8        `yaml:"classSub"`
	Bridge        bool         `yaml:"bridge"`
	PortType      uint8        `yaml:"portType"`
	MultiFunction bool         `yaml:"multiFunction"`
	Bars          []BarFixture `yaml:"bars"`
}

// Topology is the top-level yaml fixture format cmd/pcisim loads from: a
// root bridge's bus/aperture description plus the functions behind it.
type Topology struct {
	Segment    uint16 `yaml:"segment"`
	Bus        uint8  `yaml:"bus"`
	BusCeiling uint8  `yaml:"busCeiling"`

	MemBase, MemLimit uint32 `yaml:"-"`
	IoBase, IoLimit   uint32 `yaml:"-"`
	MemSize           uint32 `yaml:"memSize"`
	IoSize            uint32 `yaml:"ioSize"`

	Functions []FunctionFixture `yaml:"functions"`
}

// LoadTopology reads and parses a yaml topology fixture from path.
func LoadTopology(path string) (*Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTopology(raw)
}

// ParseTopology parses a yaml topology fixture from raw bytes.
func ParseTopology(raw []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Build materializes a Topology into a live Fabric, returning it along
// with the memory/IO base-limit pairs a pcifw.RootBridgeDescriptor needs.
func (t *Topology) Build() (fabric *Fabric, memBase, memLimit, ioBase, ioLimit uint32) {
	f := NewFabric(0xE000_0000, 0x8000_0000)

	for _, fn := range t.Functions {
		bars := make([]BarSpec, len(fn.Bars))
		for _, b := range fn.Bars {
			bars[b.Index] = BarSpec{SizeBytes: b.SizeBytes, IO: b.IO, Is64: b.Is64}
		}
		f.AddFunction(fn.Bus, fn.Device, fn.Function, fn.VendorDevice, fn.ClassBase, fn.ClassSub, bars, fn.Bridge, fn.PortType, fn.MultiFunction)
	}

	memSize := t.MemSize
	if memSize == 0 {
		memSize = 256 << 20
	}
	ioSize := t.IoSize
	if ioSize == 0 {
		ioSize = 64 << 10
	}
	memBase = 0x8000_0000
	memLimit = memBase + memSize - 1
	ioBase = 0x0000_1000
	ioLimit = ioBase + ioSize - 1
	return f, memBase, memLimit, ioBase, ioLimit
}
