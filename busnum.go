package pcifw

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"pcifw/bitfield"
)

// AssignBusNumbers recursively allocates secondary/subordinate bus numbers
// to every P2P bridge reachable from bridgeSBDF, honoring the root's bus
// range (spec.md §4.1). It walks config space directly and writes the
// primary/secondary/subordinate bus registers of every bridge it finds; it
// builds no tree — the resource discoverer re-walks the now-numbered buses
// separately.
//
// nextBus is both input (the next free bus number to hand out) and output
// (advanced past everything this call's subtree consumed). It returns the
// highest bus number reached in this bridge's subtree, which becomes its
// subordinate bus number.
func AssignBusNumbers(cs *ConfigSpace, bridgeSBDF SBDF, nextBus *uint8, ceiling uint8, log *logrus.Entry) (uint8, error) {
	secBus := bridgeSBDF.Bus
	highest := secBus

	for dev := uint8(0); dev < 32; dev++ {
		multi := true
		for fn := uint8(0); fn < 8; fn++ {
			if fn > 0 && !multi {
				break
			}
			sbdf := SBDF{Segment: bridgeSBDF.Segment, Bus: secBus, Device: dev, Function: fn}
			present, err := Present(cs, sbdf)
			if err != nil {
				return highest, err
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
					return highest, err
				}
			}

			capOff, hasCap, err := FindPCIeCapability(cs, sbdf)
			if err != nil {
				return highest, err
			}
			if !hasCap {
				continue
			}
			portType, err := DeviceType(cs, sbdf, capOff)
			if err != nil {
				return highest, err
			}
			if !portType.IsBridge() {
				continue
			}

			if *nextBus > ceiling {
				return highest, fmt.Errorf("%w: bridge %s needs bus %d > ceiling %d", ErrBusRangeExhausted, sbdf, *nextBus, ceiling)
			}
			childSecBus := *nextBus
			*nextBus++

			if err := writeBusRegisters(cs, sbdf, secBus, childSecBus, 0xFF); err != nil {
				return highest, err
			}
			log.WithFields(logrus.Fields{"bridge": sbdf, "secondary": childSecBus}).Debug("assigning bus number")

			childHighest, err := AssignBusNumbers(cs, SBDF{Segment: bridgeSBDF.Segment, Bus: childSecBus}, nextBus, ceiling, log)
			if err != nil {
				return highest, err
			}
			if err := writeBusRegisters(cs, sbdf, secBus, childSecBus, childHighest); err != nil {
				return highest, err
			}
			if childHighest > highest {
				highest = childHighest
			}
		}
	}
	return highest, nil
}

func writeBusRegisters(cs *ConfigSpace, sbdf SBDF, primary, secondary, subordinate uint8) error {
	if err := cs.Write8(sbdf, offBridgePrimaryBus, primary); err != nil {
		return err
	}
	if err := cs.Write8(sbdf, offBridgeSecondaryBus, secondary); err != nil {
		return err
	}
	return cs.Write8(sbdf, offBridgeSubordinate, subordinate)
}

// bridgeCommandEnable sets IO/MEM/BUS_MASTER on a bridge's command
// register (spec.md §4.5's "enable every non-root bridge").
func bridgeCommandEnable(cs *ConfigSpace, sbdf SBDF) error {
	cmd, err := cs.Read16(sbdf, offCommand)
	if err != nil {
		return err
	}
	enable := bitfield.PackCommand(bitfield.Command{IOSpace: true, MemorySpace: true, BusMaster: true})
	return cs.Write16(sbdf, offCommand, cmd|enable)
}
