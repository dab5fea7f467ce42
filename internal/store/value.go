package store

// Value is a single transactional cell, used for configuration such as fee
// rates and pause flags.
type Value[T any] struct {
	v T
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial}
}

func (c *Value[T]) Get() T {
	return c.v
}

func (c *Value[T]) Set(tx *Tx, v T) {
	prev := c.v
	c.v = v
	tx.OnRollback(func() { c.v = prev })
}

// Load sets the value outside of any transaction.
func (c *Value[T]) Load(v T) {
	c.v = v
}

// Sequence hands out monotonically increasing ids starting at 1. An id taken
// inside a rolled-back transaction was never published and is returned to
// the sequence.
type Sequence struct {
	last uint64
}

func (s *Sequence) Next(tx *Tx) uint64 {
	s.last++
	tx.OnRollback(func() { s.last-- })
	return s.last
}

func (s *Sequence) Last() uint64 {
	return s.last
}

func (s *Sequence) Load(last uint64) {
	s.last = last
}
