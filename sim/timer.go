package sim

// Timer is a pcifw.Timer that advances a logical microsecond counter
// instead of actually sleeping, so poll-loop tests run instantly and
// deterministically.
type Timer struct {
	Elapsed uint64
}

func (t *Timer) StallMicroseconds(us uint32) {
	t.Elapsed += uint64(us)
}
