package pcifw

import "pcifw/bitfield"

// PortType is the PCI Express Capability's Device/Port Type field
// (spec.md §4.2; supplemented by original_source's PCIE_DEVICE_PORT_TYPE
// read, see SPEC_FULL.md §3.3).
type PortType uint8

const (
	PortTypeEndpoint         PortType = 0x0
	PortTypeLegacyEndpoint   PortType = 0x1
	PortTypeRootPort         PortType = 0x4
	PortTypeUpstreamPort     PortType = 0x5
	PortTypeDownstreamPort   PortType = 0x6
	PortTypePCIeToPCIBridge  PortType = 0x7
	PortTypePCIToPCIeBridge  PortType = 0x8
	PortTypeRootIntegratedEP PortType = 0x9
	PortTypeRootEventCollect PortType = 0xA
)

// IsBridge reports whether a PortType is one this driver walks as a P2P
// bridge. Only Upstream and Downstream switch ports (the "essential path"
// bridges spec.md §1 scopes this driver to) consume bus numbers and grow
// the discovery tree; root ports are the synthetic tree root itself and
// are never re-discovered as a child.
func (p PortType) IsBridge() bool {
	return p == PortTypeUpstreamPort || p == PortTypeDownstreamPort
}

// Present reads the vendor/device ID at offset 0 and reports whether a
// function exists (spec.md §4.2): vendor/device == 0xFFFFFFFF means absent.
func Present(cs *ConfigSpace, sbdf SBDF) (bool, error) {
	v, err := cs.Read32(sbdf, offVendorID)
	if err != nil {
		return false, err
	}
	return v != 0xFFFFFFFF, nil
}

// MultiFunction reports whether device dev's function 0 advertises
// multiple functions (header-type register bit 7).
func MultiFunction(cs *ConfigSpace, sbdf SBDF) (bool, error) {
	ht, err := cs.Read8(sbdf, offHeaderType)
	if err != nil {
		return false, err
	}
	return ht&0x80 != 0, nil
}

// FindPCIeCapability walks the capabilities list looking for the PCI
// Express capability and returns its offset, or ok=false if the function
// has none.
func FindPCIeCapability(cs *ConfigSpace, sbdf SBDF) (offset uint8, ok bool, err error) {
	status, err := cs.Read16(sbdf, offCommand+2) // status register, bit4 = cap list
	if err != nil {
		return 0, false, err
	}
	if status&0x10 == 0 {
		return 0, false, nil
	}
	ptr, err := cs.Read8(sbdf, offCapabilitiesPt)
	if err != nil {
		return 0, false, err
	}
	for i := 0; ptr != 0 && i < 32; i++ {
		id, err := cs.Read8(sbdf, ptr)
		if err != nil {
			return 0, false, err
		}
		if id == capIDPCIExpress {
			return ptr, true, nil
		}
		next, err := cs.Read8(sbdf, ptr+1)
		if err != nil {
			return 0, false, err
		}
		ptr = next
	}
	return 0, false, nil
}

// DeviceType reads the PCI Express Capabilities register's Device/Port Type
// field at capOffset+2, bits 4-7 (spec.md §4.2).
func DeviceType(cs *ConfigSpace, sbdf SBDF, capOffset uint8) (PortType, error) {
	caps, err := cs.Read16(sbdf, capOffset+2)
	if err != nil {
		return 0, err
	}
	return PortType((caps >> 4) & 0xF), nil
}

// classCode is the base class / subclass pair from offset 0x08-0x0B.
type classCode struct {
	Base, Sub uint8
}

func readClassCode(cs *ConfigSpace, sbdf SBDF) (classCode, error) {
	v, err := cs.Read32(sbdf, offRevisionClass)
	if err != nil {
		return classCode{}, err
	}
	return classCode{Base: uint8(v >> 24), Sub: uint8(v >> 16)}, nil
}

const (
	classMassStorage    = 0x01
	classSerialBus      = 0x0C
	subclassUSB         = 0x03
	classSystemPeriph   = 0x08
	subclassSDHostCtrlr = 0x05
)

// IsEssential reports whether this function is one of the device classes
// spec.md §4.2 says the driver must see to boot: mass storage, USB host
// controllers, or SD host controllers.
func IsEssential(cs *ConfigSpace, sbdf SBDF) (bool, error) {
	cc, err := readClassCode(cs, sbdf)
	if err != nil {
		return false, err
	}
	switch {
	case cc.Base == classMassStorage:
		return true, nil
	case cc.Base == classSerialBus && cc.Sub == subclassUSB:
		return true, nil
	case cc.Base == classSystemPeriph && cc.Sub == subclassSDHostCtrlr:
		return true, nil
	}
	return false, nil
}

// IsDecodingResources reports whether the command register already has
// memory-space or I/O-space enabled (spec.md §4.2): such devices were set
// up by earlier firmware and must not be re-laid out.
func IsDecodingResources(cs *ConfigSpace, sbdf SBDF) (bool, error) {
	cmd, err := cs.Read16(sbdf, offCommand)
	if err != nil {
		return false, err
	}
	c := bitfield.UnpackCommand(cmd)
	return c.IOSpace || c.MemorySpace, nil
}
