// Package pcifw implements a pre-boot PCI Express bus enumerator and
// resource allocator: bus-number assignment across P2P bridge trees,
// BAR discovery and sizing, bridge-aperture synthesis and alignment,
// programming of BARs and bridge windows, and a per-device PciIo-style
// I/O façade for the devices it brings up.
//
// The core only ever touches the "essential" device classes needed to
// boot (mass storage, USB host controllers, SD host controllers) and the
// bridges that lead to them; it is not a general-purpose PCI enumerator.
package pcifw

import "fmt"

// SBDF identifies one PCI configuration-space function: segment, bus,
// device, function, plus the offset of its PCI Express capability (0 if it
// has none).
type SBDF struct {
	Segment       uint16
	Bus           uint8
	Device        uint8 // 0-31
	Function      uint8 // 0-7
	PCIeCapOffset uint8
}

func (s SBDF) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", s.Segment, s.Bus, s.Device, s.Function)
}

// rootSBDF is the synthetic coordinate of a root bridge's own device,
// (bus=primary, dev=0, func=0), mirroring spec.md's P2PBridge root.
func rootSBDF(segment uint16, bus uint8) SBDF {
	return SBDF{Segment: segment, Bus: bus}
}
