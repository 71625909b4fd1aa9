package pcifw

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// RootBridgeDescriptor is the platform-supplied description of one root
// bridge to enumerate (spec.md §2, §4.1): its segment/bus coordinates and
// the bus-number ceiling firmware has reserved for it, plus the
// memory/IO apertures the platform has carved out for everything behind
// it.
type RootBridgeDescriptor struct {
	Segment    uint16
	Bus        uint8
	BusCeiling uint8

	MemBase, MemLimit uint32
	IoBase, IoLimit   uint32

	// TreeBudget caps discovery-tree node allocation; zero means
	// unlimited. See Tree.budget.
	TreeBudget int
}

// RootBridgeEnumerator runs the full enumerate-align-program-publish
// pipeline (spec.md §4) against one or more root bridges sharing a
// config-space and MMIO collaborator set.
type RootBridgeEnumerator struct {
	cs     *ConfigSpace
	collab *collaborators
	log    *logrus.Entry
}

// NewRootBridgeEnumerator builds an enumerator over the given config-space
// accessor, BAR-target MMIO, and optional timer/IOMMU collaborators (both
// may be nil if nothing behind this root bridge ever calls PollMem/PollIo
// or Map/AllocateBuffer).
func NewRootBridgeEnumerator(cs *ConfigSpace, mmio MMIO, timer Timer, iommu IOMMU, log *logrus.Entry) *RootBridgeEnumerator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RootBridgeEnumerator{
		cs:     cs,
		collab: &collaborators{cs: cs, mmio: mmio, timer: timer, iommu: iommu},
		log:    log,
	}
}

// EnumerateRootBridge runs spec.md §4's full sequence for one root bridge:
// assign bus numbers, discover and size resources, align the tree, close
// stale bridge windows, program BARs and bridge windows, enable bridges,
// and publish every function brought up into reg. It recovers the fatal
// out-of-resources panic (spec.md §4.9) at this boundary, so one starved
// root bridge doesn't abort enumeration of the others a caller may be
// looping over.
func (e *RootBridgeEnumerator) EnumerateRootBridge(desc RootBridgeDescriptor, reg *Registry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if oom, ok := rec.(oomPanic); ok {
				err = oom.err
				return
			}
			panic(rec)
		}
	}()

	log := e.log.WithField("root", fmt.Sprintf("%04x:%02x", desc.Segment, desc.Bus))
	tree := newTree(desc.TreeBudget)

	rootDev := &DevicePrivate{SBDF: rootSBDF(desc.Segment, desc.Bus), collab: e.collab}
	root := &P2PBridge{Device: rootDev, SecBus: desc.Bus, Subordinate: desc.BusCeiling}
	tree.Root = root

	nextBus := desc.Bus + 1
	highest, err := AssignBusNumbers(e.cs, rootDev.SBDF, &nextBus, desc.BusCeiling, log)
	if err != nil {
		return err
	}
	root.Subordinate = highest
	log.WithField("subordinate", highest).Debug("bus numbers assigned")

	if err := DiscoverResources(e.cs, tree, root, e.collab, log); err != nil {
		return err
	}

	AlignTree(root, tree, log)

	for _, t := range []ResourceType{TypeMem, TypeIO} {
		if err := CheckNonOverlap(filterByType(root.Resources, t)); err != nil {
			return err
		}
	}

	if err := CloseBridgeWindows(e.cs, root); err != nil {
		return err
	}
	if err := ProgramMem(e.cs, root, desc.MemBase, desc.MemLimit, log); err != nil {
		return err
	}
	if err := ProgramIO(e.cs, root, desc.IoBase, desc.IoLimit, log); err != nil {
		return err
	}
	if err := EnableBridges(e.cs, root); err != nil {
		return err
	}

	PublishTree(reg, root, log)
	log.WithField("published", reg.Len()).Info("PCI devices ready")
	return nil
}
