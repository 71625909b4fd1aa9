package pcifw

import (
	"errors"
	"fmt"
)

// Error taxonomy, spec.md §7. DeviceAbsent is a skip signal rather than a
// true error. A 64-bit BAR over 2GiB degrades only its own device, and
// discovery goes on. BusRangeExhausted, MemExhausted and IoExhausted end
// the EnumerateRootBridge pass for the root bridge being enumerated
// (BusRangeExhausted before any resource under that root is discovered or
// programmed); other root bridges a caller enumerates are unaffected.
var (
	ErrDeviceAbsent      = errors.New("pcifw: device absent")
	ErrUnsupportedBar    = errors.New("pcifw: unsupported bar")
	ErrBusRangeExhausted = errors.New("pcifw: bus range exhausted")
	ErrMemExhausted      = errors.New("pcifw: memory aperture exhausted")
	ErrIoExhausted       = errors.New("pcifw: io aperture exhausted")
	ErrTimeout           = errors.New("pcifw: poll timed out")
	ErrUnsupported       = errors.New("pcifw: unsupported attribute request")
	ErrOutOfResources    = errors.New("pcifw: out of resources")
)

// oomPanic is raised when a tree-node allocation fails during enumeration.
// spec.md §4.9 treats this as fatal within the enumeration paths; it is
// recovered only at the per-root-bridge boundary (EnumerateRootBridge), so
// one starved root can't take down callers enumerating other segments.
type oomPanic struct{ err error }

func panicOOM(context string) {
	panic(oomPanic{err: fmt.Errorf("%w: %s", ErrOutOfResources, context)})
}
