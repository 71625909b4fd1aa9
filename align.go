package pcifw

import (
	"fmt"
	"sort"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"
)

const (
	memApertureGranularity = 1 << 20 // 1 MiB
	ioApertureGranularity  = 4 << 10 // 4 KiB
)

// AlignTree walks the discovery tree depth-first, post-order (spec.md
// §4.4): children are aligned (and, where they have memory/IO children of
// their own, contribute a synthesized aperture to their parent) before a
// bridge lays out its own resource list.
func AlignTree(bridge *P2PBridge, tree *Tree, log *logrus.Entry) {
	for _, child := range bridge.ChildBridges {
		AlignTree(child, tree, log)
	}

	alignBridgeResources(bridge)

	if bridge.Parent != nil {
		synthesizeApertures(bridge, tree, log)
	}
}

// alignBridgeResources bubble-sorts bridge.Resources by descending length,
// then assigns in-aperture offsets in two passes (memory, then I/O),
// per spec.md §4.4 steps 1-2.
func alignBridgeResources(bridge *P2PBridge) {
	bubbleSortDescending(bridge.Resources)

	assignOffsets(filterByType(bridge.Resources, TypeMem))
	assignOffsets(filterByType(bridge.Resources, TypeIO))
}

// bubbleSortDescending sorts in place by descending Length. Spec.md §4.4
// specifically calls for a bubble sort (not "whatever the standard library
// does"): the largest, best-aligned resource must land at offset 0, and a
// literal bubble sort keeps that guarantee legible and easy to test against
// the worked examples in spec.md §8.
func bubbleSortDescending(nodes []*ResourceNode) {
	n := len(nodes)
	for i := 0; i < n; i++ {
		for j := 0; j < n-i-1; j++ {
			if nodes[j].Length < nodes[j+1].Length {
				nodes[j], nodes[j+1] = nodes[j+1], nodes[j]
			}
		}
	}
}

func filterByType(nodes []*ResourceNode, t ResourceType) []*ResourceNode {
	var out []*ResourceNode
	for _, n := range nodes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

func assignOffsets(nodes []*ResourceNode) {
	if len(nodes) == 0 {
		return
	}
	nodes[0].Offset = 0
	for i := 1; i < len(nodes); i++ {
		prev := nodes[i-1]
		nodes[i].Offset = roundUp(prev.Offset+prev.Length, nodes[i].Length)
	}
}

func roundUp(v, granularity uint32) uint32 {
	if granularity == 0 {
		return v
	}
	return (v + granularity - 1) / granularity * granularity
}

// synthesizeApertures builds the MemAperture/IoAperture nodes a bridge
// contributes to its parent's resource list, one per resource type it has
// any children of (spec.md §4.4 step 3).
func synthesizeApertures(bridge *P2PBridge, tree *Tree, log *logrus.Entry) {
	if mem := filterByType(bridge.Resources, TypeMem); len(mem) > 0 {
		node := buildAperture(tree, bridge, mem, memApertureGranularity)
		bridge.Parent.Resources = append(bridge.Parent.Resources, node)
		log.WithFields(logrus.Fields{"bridge": bridge.Device.SBDF, "length": node.Length}).Debug("synthesized memory aperture")
	}
	if io := filterByType(bridge.Resources, TypeIO); len(io) > 0 {
		node := buildAperture(tree, bridge, io, ioApertureGranularity)
		bridge.Parent.Resources = append(bridge.Parent.Resources, node)
		log.WithFields(logrus.Fields{"bridge": bridge.Device.SBDF, "length": node.Length}).Debug("synthesized io aperture")
	}
}

func buildAperture(tree *Tree, bridge *P2PBridge, sorted []*ResourceNode, granularity uint32) *ResourceNode {
	last := sorted[len(sorted)-1]
	length := roundUp(last.Offset+last.Length, granularity)
	alignment := sorted[0].Alignment // largest child == sorted[0], descending order
	if length-1 > alignment {
		alignment = length - 1
	}

	node := tree.newResourceNode()
	node.Kind = KindAperture
	node.Type = sorted[0].Type
	node.Length = length
	node.Alignment = alignment
	node.OwnerBridge = bridge
	return node
}

// CheckNonOverlap verifies spec.md §8 property 2 (non-overlap) across a
// flat list of already-offset resources sharing one base address space.
// It sorts the intervals by start and compares each with its predecessor,
// rather than the O(n²) pairwise comparison a naive check would need; each
// interval is also inserted into a google/btree keyed by start.
func CheckNonOverlap(nodes []*ResourceNode) error {
	type interval struct {
		start, end uint32 // [start, end)
		node       *ResourceNode
	}
	less := func(a, b interval) bool { return a.start < b.start }
	tree := btree.NewG(32, less)

	sorted := make([]interval, len(nodes))
	for i, n := range nodes {
		sorted[i] = interval{start: n.Offset, end: n.Offset + n.Length, node: n}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	var prev interval
	havePrev := false
	for _, iv := range sorted {
		tree.ReplaceOrInsert(iv)
		if havePrev && iv.start < prev.end {
			return fmt.Errorf("pcifw: resource overlap: bar %d [%#x,%#x) overlaps [%#x,%#x)",
				iv.node.BarIndex, iv.start, iv.end, prev.start, prev.end)
		}
		prev = iv
		havePrev = true
	}
	return nil
}
