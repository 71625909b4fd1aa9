package pcifw

import (
	"fmt"
	"strings"

	"github.com/armon/go-radix"
	"github.com/sirupsen/logrus"
)

// DevicePath renders the single "PCI(device,function)" device-path node for
// a function (spec.md §4.8). fullDevicePath joins one such node per bridge
// hop with "/", rooted at the segment's synthetic root bridge.
func DevicePath(sbdf SBDF) string {
	return fmt.Sprintf("PCI(%#x,%#x)", sbdf.Device, sbdf.Function)
}

// fullDevicePath walks a device's Parent chain to build its whole path
// from the segment root, oldest ancestor first.
func fullDevicePath(d *DevicePrivate) string {
	var segs []string
	for cur := d; cur != nil; cur = cur.Parent {
		segs = append([]string{DevicePath(cur.SBDF)}, segs...)
	}
	return strings.Join(segs, "/")
}

// Registry is the published-device directory this core hands to the rest
// of firmware: a radix tree keyed by device path, so "every device under
// this bridge" is a single prefix walk rather than a linear scan
// (spec.md §4.8; grounded on armon/go-radix's hierarchical-key use).
type Registry struct {
	tree *radix.Tree
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return &Registry{tree: radix.New()}
}

// Publish records device's façade under its full device path. A device
// that was already decoding resources at discovery time never reaches
// here: DiscoverResources leaves it out of the tree, so it is not
// published — see DESIGN.md for the reasoning.
func (r *Registry) Publish(device *DevicePrivate) {
	path := fullDevicePath(device)
	r.tree.Insert(path, device.PciIo())
}

// Lookup returns the façade published at path, if any.
func (r *Registry) Lookup(path string) (*PciIo, bool) {
	v, ok := r.tree.Get(path)
	if !ok {
		return nil, false
	}
	return v.(*PciIo), true
}

// WalkPrefix invokes fn for every façade published under prefix (e.g. all
// functions behind a given bridge), in path order. fn returning true stops
// the walk early.
func (r *Registry) WalkPrefix(prefix string, fn func(path string, io *PciIo) bool) {
	r.tree.WalkPrefix(prefix, func(path string, v interface{}) bool {
		return fn(path, v.(*PciIo))
	})
}

// Len reports how many façades are published.
func (r *Registry) Len() int { return r.tree.Len() }

// PublishTree walks every endpoint and bridge device reachable from
// bridge and publishes it into reg (spec.md §4.8's "PCI devices ready"
// step, run once enumeration and programming of a root bridge finishes).
func PublishTree(reg *Registry, bridge *P2PBridge, log *logrus.Entry) {
	if bridge.Parent != nil {
		reg.Publish(bridge.Device)
	}
	for _, ep := range bridge.Endpoints {
		reg.Publish(ep)
		log.WithField("path", fullDevicePath(ep)).Debug("published device")
	}
	for _, child := range bridge.ChildBridges {
		PublishTree(reg, child, log)
	}
}
