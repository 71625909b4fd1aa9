package pcifw

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"pcifw/bitfield"
)

// CloseBridgeWindows recursively writes closed (limit < base) values into
// every non-root bridge's memory and I/O window registers, so a bridge that
// ends up with no memory (or no I/O) children never decodes a stale window
// left over from whatever ran before this driver (spec.md §4.5,
// SPEC_FULL.md §3.1). It must run before ProgramMem/ProgramIO.
func CloseBridgeWindows(cs *ConfigSpace, bridge *P2PBridge) error {
	for _, child := range bridge.ChildBridges {
		sbdf := child.Device.SBDF
		// base=0xFFFF0000, limit=0x00000000 -> base > limit, closed.
		if err := cs.Write32(sbdf, offBridgeMemBase, bitfield.BridgeMemWindow(0xFFFF0000, 0)); err != nil {
			return err
		}
		if err := cs.Write32(sbdf, offBridgeIOBase, bitfield.BridgeIOWindow(0xFF00, 0)); err != nil {
			return err
		}
		if err := CloseBridgeWindows(cs, child); err != nil {
			return err
		}
	}
	return nil
}

// ProgramMem recursively programs the non-prefetchable 32-bit memory BARs
// and bridge windows laid out by AlignTree, against the allocatable range
// [base, limit] (spec.md §4.5).
func ProgramMem(cs *ConfigSpace, bridge *P2PBridge, base, limit uint32, log *logrus.Entry) error {
	for _, r := range bridge.Resources {
		if r.Type != TypeMem {
			continue
		}
		addr := base + r.Offset
		if uint64(addr)+uint64(r.Length)-1 > uint64(limit) {
			return fmt.Errorf("%w: need [%#x,%#x) within limit %#x", ErrMemExhausted, addr, uint64(addr)+uint64(r.Length), limit)
		}

		switch r.Kind {
		case KindBar:
			barOff := offBAR0 + r.BarIndex*4
			if err := cs.Write32(r.Owner.SBDF, barOff, addr); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"device": r.Owner.SBDF, "bar": r.BarIndex, "addr": fmt.Sprintf("%#x", addr)}).Debug("programmed memory BAR")
		case KindAperture:
			child := r.OwnerBridge
			childLimit := addr + r.Length - 1
			if err := cs.Write32(child.Device.SBDF, offBridgeMemBase, bitfield.BridgeMemWindow(addr, childLimit)); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"bridge": child.Device.SBDF, "base": fmt.Sprintf("%#x", addr), "limit": fmt.Sprintf("%#x", childLimit)}).Debug("programmed memory window")
			if err := ProgramMem(cs, child, addr, childLimit, log); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProgramIO is ProgramMem's I/O counterpart. It intentionally preserves a
// quirk spec.md §9 flags as an open question and leaves unresolved: the
// recursive call for an I/O aperture is given (base+offset, base+length-1)
// rather than (base+offset, base+offset+length-1) — i.e. the child's upper
// bound is computed from the *parent's* base, not the aperture's own
// programmed base. DESIGN.md records the decision to preserve this exactly
// as specified rather than silently "fixing" it.
func ProgramIO(cs *ConfigSpace, bridge *P2PBridge, base, limit uint32, log *logrus.Entry) error {
	for _, r := range bridge.Resources {
		if r.Type != TypeIO {
			continue
		}
		addr := base + r.Offset
		if uint64(addr)+uint64(r.Length)-1 > uint64(limit) {
			return fmt.Errorf("%w: need [%#x,%#x) within limit %#x", ErrIoExhausted, addr, uint64(addr)+uint64(r.Length), limit)
		}

		switch r.Kind {
		case KindBar:
			barOff := offBAR0 + r.BarIndex*4
			if err := cs.Write32(r.Owner.SBDF, barOff, addr|0x1); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"device": r.Owner.SBDF, "bar": r.BarIndex, "addr": fmt.Sprintf("%#x", addr)}).Debug("programmed io BAR")
		case KindAperture:
			child := r.OwnerBridge
			childLimit := base + r.Length - 1
			if err := cs.Write32(child.Device.SBDF, offBridgeIOBase, bitfield.BridgeIOWindow(addr, childLimit)); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"bridge": child.Device.SBDF, "base": fmt.Sprintf("%#x", addr), "limit": fmt.Sprintf("%#x", childLimit)}).Debug("programmed io window")
			if err := ProgramIO(cs, child, addr, childLimit, log); err != nil {
				return err
			}
		}
	}
	return nil
}

// EnableBridges recursively toggles IO, MEM and BUS_MASTER on every
// non-root bridge's command register (spec.md §4.5's final step).
func EnableBridges(cs *ConfigSpace, bridge *P2PBridge) error {
	for _, child := range bridge.ChildBridges {
		if err := bridgeCommandEnable(cs, child.Device.SBDF); err != nil {
			return err
		}
		if err := EnableBridges(cs, child); err != nil {
			return err
		}
	}
	return nil
}
