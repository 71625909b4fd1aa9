package pcifw

import (
	"fmt"

	"pcifw/bitfield"
)

// attrSupportMask is the set of bits Supported adds on top of a device's
// Supports mask; AttrVGALegacyIO and AttrVGAIO16 are modeled as
// always-available decode-width choices rather than something a device
// advertises in Supports (spec.md §4.7).
const attrSupportMask = AttrVGALegacyIO | AttrVGAIO16

// Supported reports the attributes this device can ever have turned on:
// its Supports mask (fixed at discovery time) plus the two VGA decode-width
// flags, which every device is eligible to request.
func (p *PciIo) Supported() Attribute {
	return p.device.Supports | attrSupportMask
}

// Get reports the attributes currently enabled on this device.
func (p *PciIo) Get() Attribute {
	return p.device.Attributes
}

// Enable turns on attrs (spec.md §4.7): AttrDeviceEnable (zero) is
// shorthand for "everything this device supports". Enabling a bit the
// device doesn't support is rejected outright, as is requesting both VGA
// decode widths at once (regardless of what Supports allows). On success
// the newly-enabled bits are also propagated to the parent bridge, since a
// bridge must decode whatever its children decode.
func (p *PciIo) Enable(attrs Attribute) error {
	if attrs == AttrDeviceEnable {
		attrs = p.device.Supports
	}
	if attrs&AttrVGALegacyIO != 0 && attrs&AttrVGAIO16 != 0 {
		return ErrUnsupported
	}
	if attrs&^p.Supported() != 0 {
		return ErrUnsupported
	}

	if err := setCommandBits(p.device, attrs, true); err != nil {
		return err
	}

	p.device.Attributes |= attrs
	propagateToParent(p.device.Parent, attrs)
	return nil
}

// Disable turns off attrs; AttrDeviceEnable (zero) is shorthand for the
// device's whole Supports mask, as in Enable. Parent bridges are left
// untouched: other siblings may still need the bits this device is giving
// up (spec.md §4.7).
func (p *PciIo) Disable(attrs Attribute) error {
	if attrs == AttrDeviceEnable {
		attrs = p.device.Supports
	}
	if err := setCommandBits(p.device, attrs, false); err != nil {
		return err
	}
	p.device.Attributes &^= attrs
	return nil
}

// propagateToParent mirrors newly-enabled attrs up the bridge chain,
// stripping the per-function-only VGA decode-width bits first: a bridge
// decodes IO/Memory/BusMaster on behalf of its children, but VGA decode
// width is a leaf-function concept (spec.md §4.7). The command-register
// write is best-effort: a parent with no collaborator attached (the
// synthetic root of a tree built outside the real enumeration pipeline)
// just gets its in-memory Attributes updated.
func propagateToParent(parent *DevicePrivate, attrs Attribute) {
	if parent == nil {
		return
	}
	up := attrs &^ (AttrVGALegacyIO | AttrVGAIO16)
	if up == 0 {
		return
	}
	_ = setCommandBits(parent, up, true)
	parent.Attributes |= up
	propagateToParent(parent.Parent, up)
}

// setCommandBits read-modify-writes device's live Command register,
// OR-ing in (enable) or AND-clearing (!enable) the bits attrs maps to via
// commandBitsFor.
func setCommandBits(device *DevicePrivate, attrs Attribute, enable bool) error {
	if device.collab == nil {
		return fmt.Errorf("pcifw: device %s has no façade collaborators attached", device.SBDF)
	}
	cmd, err := device.collab.cs.Read16(device.SBDF, offCommand)
	if err != nil {
		return err
	}
	bits := bitfield.PackCommand(commandBitsFor(attrs))
	if enable {
		cmd |= bits
	} else {
		cmd &^= bits
	}
	return device.collab.cs.Write16(device.SBDF, offCommand, cmd)
}

// commandBitsFor translates PciIo attributes into the matching
// command-register bits, used by setCommandBits.
func commandBitsFor(attrs Attribute) bitfield.Command {
	return bitfield.Command{
		IOSpace:     attrs&AttrIO != 0,
		MemorySpace: attrs&AttrMemory != 0,
		BusMaster:   attrs&AttrBusMaster != 0,
	}
}
