package vxlan

import "time"

const (
	minReadBackoff = 10 * time.Millisecond
	maxReadBackoff = time.Second

	// readWarnEvery is how often a run of failures is logged again.
	readWarnEvery = 64
)

// ReadBackoff paces a read loop through consecutive transient failures.
// The delay starts at 10ms and doubles up to one second. The zero value
// is ready to use; it is not safe for concurrent use.
type ReadBackoff struct {
	failures int
	delay    time.Duration
}

// Fail records one failure and returns how long to wait before the next
// read.
func (b *ReadBackoff) Fail() time.Duration {
	b.failures++
	if b.delay == 0 {
		b.delay = minReadBackoff
	} else {
		b.delay = min(2*b.delay, maxReadBackoff)
	}
	return b.delay
}

// Failures returns the length of the current run of failures.
func (b *ReadBackoff) Failures() int { return b.failures }

// ShouldLog reports whether the latest failure should be logged: the
// first of a run and every 64th after it.
func (b *ReadBackoff) ShouldLog() bool {
	return b.failures == 1 || b.failures%readWarnEvery == 0
}

// Reset ends the current run after a successful read.
func (b *ReadBackoff) Reset() {
	b.failures = 0
	b.delay = 0
}
