package pcifw

import (
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// maxConv2GiB is the abandon threshold for 64-bit BARs (spec.md §4.3):
// sizes at or below this fit in a 32-bit non-prefetchable window and keep
// only the upper half skipped; larger ones cause the whole device to be
// abandoned (spec.md §1's "Non-goals": 64-bit BARs whose size exceeds 2 GiB
// are out of scope).
const maxConv2GiB = 2 << 30

// DiscoverResources walks every device/function on bridge.SecBus (assumed
// already bus-numbered by AssignBusNumbers) and, for every essential or
// bridge function that isn't already decoding, sizes its BARs and either
// records it as an endpoint or recurses into it as a child bridge
// (spec.md §4.3).
func DiscoverResources(cs *ConfigSpace, tree *Tree, bridge *P2PBridge, collab *collaborators, log *logrus.Entry) error {
	segment := bridge.Device.SBDF.Segment
	bus := bridge.SecBus

	for dev := uint8(0); dev < 32; dev++ {
		multi := true
		for fn := uint8(0); fn < 8; fn++ {
			if fn > 0 && !multi {
				break
			}
			sbdf := SBDF{Segment: segment, Bus: bus, Device: dev, Function: fn}
			present, err := Present(cs, sbdf)
			if err != nil {
				return err
			}
			if !present {
				if fn == 0 {
					break
				}
				continue
			}
			if fn == 0 {
				multi, err = MultiFunction(cs, sbdf)
				if err != nil {
					return err
				}
			}

			capOff, hasCap, err := FindPCIeCapability(cs, sbdf)
			if err != nil {
				return err
			}
			isBridge := false
			if hasCap {
				sbdf.PCIeCapOffset = capOff
				portType, err := DeviceType(cs, sbdf, capOff)
				if err != nil {
					return err
				}
				isBridge = portType.IsBridge()
			}

			essential, err := IsEssential(cs, sbdf)
			if err != nil {
				return err
			}
			if !isBridge && !essential {
				continue
			}

			decoding, err := IsDecodingResources(cs, sbdf)
			if err != nil {
				return err
			}
			if decoding {
				log.WithField("device", sbdf).Debug("already decoding, leaving untouched")
				continue
			}

			cfgBase, err := cs.Addr(sbdf, 0)
			if err != nil {
				return err
			}
			device := tree.newDevicePrivate(sbdf, cfgBase, bridge.Device, collab)
			device.Supports = AttrIO | AttrMemory | AttrBusMaster

			maxIndex := uint8(5)
			if isBridge {
				maxIndex = 1
			}
			if err := sizeBARs(cs, tree, device, maxIndex, bridge, log); err != nil {
				return err
			}

			if isBridge {
				secBus, err := cs.Read8(sbdf, offBridgeSecondaryBus)
				if err != nil {
					return err
				}
				subordinate, err := cs.Read8(sbdf, offBridgeSubordinate)
				if err != nil {
					return err
				}
				child := tree.newBridge(bridge, device)
				child.SecBus = secBus
				child.Subordinate = subordinate
				if err := DiscoverResources(cs, tree, child, collab, log); err != nil {
					return err
				}
			} else {
				bridge.Endpoints = append(bridge.Endpoints, device)
			}
		}
	}
	return nil
}

// sizeBARs implements spec.md §4.3 step 2: the write-all-ones / read-back
// probe, building one ResourceNode per sized BAR and appending it to
// bridge.Resources. It is destructive (the probed BAR is left holding
// 0xFFFFFFFF or its masked remainder, never restored) because the
// programming pass overwrites it unconditionally afterwards.
func sizeBARs(cs *ConfigSpace, tree *Tree, device *DevicePrivate, maxIndex uint8, bridge *P2PBridge, log *logrus.Entry) error {
	sbdf := device.SBDF

	for idx := uint8(0); idx <= maxIndex; idx++ {
		barOff := uint8(offBAR0) + idx*4

		orig, err := cs.Read32(sbdf, barOff)
		if err != nil {
			return err
		}
		if err := cs.Write32(sbdf, barOff, 0xFFFFFFFF); err != nil {
			return err
		}
		readback, err := cs.Read32(sbdf, barOff)
		if err != nil {
			return err
		}
		if readback == orig {
			continue // unimplemented BAR
		}

		node := tree.newResourceNode()
		node.Kind = KindBar
		node.BarIndex = idx
		node.Owner = device

		if readback&0x1 != 0 {
			size := uint32(uint16(^(readback &^ 0x1))) + 1
			node.Type = TypeIO
			node.Length = size
			node.Alignment = size - 1
			bridge.Resources = append(bridge.Resources, node)
			device.Bars[idx] = node
			log.WithFields(logrus.Fields{"device": sbdf, "bar": idx, "size": humanize.IBytes(uint64(size))}).Debug("sized IO BAR")
			continue
		}

		size := ^(readback &^ 0xF) + 1
		node.Type = TypeMem
		node.Length = size
		node.Alignment = size - 1

		if readback&0x4 != 0 { // 64-bit BAR
			if uint64(size) <= maxConv2GiB {
				idx++ // the upper half is the next BAR index; skip it
			} else {
				// Abandon: discard everything sized for this device so
				// far and clear its Supports mask (spec.md §4.3 step 2,
				// supplemented by original_source's RemoveResourceNodesBySbdf).
				removeResourceNodesByOwner(bridge, device)
				device.Supports = 0
				device.Bars = [6]*ResourceNode{}
				log.WithField("device", sbdf).Warn("abandoning device: 64-bit BAR exceeds 2GiB")
				return nil
			}
		}

		bridge.Resources = append(bridge.Resources, node)
		device.Bars[node.BarIndex] = node
		log.WithFields(logrus.Fields{"device": sbdf, "bar": node.BarIndex, "size": humanize.IBytes(uint64(size))}).Debug("sized memory BAR")
	}
	return nil
}

// removeResourceNodesByOwner drops every ResourceNode owned by device from
// bridge's resource list, in the device-scoped rollback granularity the
// original implementation uses (SPEC_FULL.md §3.2), not node-by-node.
func removeResourceNodesByOwner(bridge *P2PBridge, device *DevicePrivate) {
	kept := bridge.Resources[:0]
	for _, r := range bridge.Resources {
		if r.Kind == KindBar && r.Owner == device {
			continue
		}
		kept = append(kept, r)
	}
	bridge.Resources = kept
}
