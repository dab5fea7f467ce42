// Package store provides the in-memory persistence primitives behind the
// marketplace engine: append-only tables keyed by stable ids, monotonic
// sequences and a transaction journal that undoes every write of a failed
// call and buffers the events of a successful one.
package store

import "time"

// Event is a committed state transition, delivered to commit hooks after the
// transaction that produced it succeeds.
type Event struct {
	Type       string      `json:"type"`
	Key        string      `json:"key"`
	Payload    interface{} `json:"payload,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Tx records undo actions for every mutation made through it. A Tx is used by
// a single goroutine holding the engine's writer lock.
type Tx struct {
	undo   []func()
	events []Event
	closed bool
}

func NewTx() *Tx {
	return &Tx{}
}

// OnRollback registers fn to run if the transaction is rolled back. Undo
// actions run in reverse registration order.
func (tx *Tx) OnRollback(fn func()) {
	if tx.closed {
		panic("store: write after transaction closed")
	}
	tx.undo = append(tx.undo, fn)
}

func (tx *Tx) Emit(ev Event) {
	if tx.closed {
		panic("store: emit after transaction closed")
	}
	tx.events = append(tx.events, ev)
}

// Pending returns the events buffered so far.
func (tx *Tx) Pending() []Event {
	return tx.events
}

// Rollback undoes every write and discards buffered events.
func (tx *Tx) Rollback() {
	if tx.closed {
		return
	}
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.events = nil
	tx.closed = true
}

// Commit closes the transaction and returns its events in emission order.
func (tx *Tx) Commit() []Event {
	if tx.closed {
		return nil
	}
	events := tx.events
	tx.undo = nil
	tx.events = nil
	tx.closed = true
	return events
}
