package internal

import "sync/atomic"

// SequenceCounter hands out clientSequenceId values. Each session owns its
// own counter rather than sharing process-wide state, so independent sessions
// (and tests) never observe each other's ids. Wrapping at int32 overflow is
// accepted.
type SequenceCounter struct {
	value atomic.Int32
}

func (c *SequenceCounter) Next() int32 {
	return c.value.Add(1)
}

// Current returns the most recently issued sequence id without advancing.
func (c *SequenceCounter) Current() int32 {
	return c.value.Load()
}
