// Package engine owns the marketplace components and serialises every state
// change through a single writer. Each Update runs inside one store.Tx, so a
// failed call leaves no trace and a successful one publishes its events to the
// commit hooks in commit order.
package engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/assets"
	"github.com/javajoker/imi-market/internal/dispute"
	"github.com/javajoker/imi-market/internal/ledger"
	"github.com/javajoker/imi-market/internal/license"
	"github.com/javajoker/imi-market/internal/marketplace"
	"github.com/javajoker/imi-market/internal/scheduler"
	"github.com/javajoker/imi-market/internal/store"
)

type Config struct {
	Ledger             ledger.Config
	DisputeAutoExecute bool
}

// Hook receives the events of one committed Update. Hooks run outside the
// writer lock and must not call Update themselves.
type Hook func(op string, events []store.Event)

type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithLogger(log *logrus.Logger) Option {
	return func(e *Engine) { e.log = log }
}

type Engine struct {
	mu      sync.RWMutex
	deliver sync.Mutex
	hooks   []Hook
	clock   func() time.Time
	log     *logrus.Logger

	Assets    *assets.Custody
	Licenses  *license.Registry
	Ledger    *ledger.Ledger
	Scheduler *scheduler.Scheduler
	Disputes  *dispute.Arbitrator
	Market    *marketplace.Orchestrator
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	l, err := ledger.New(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	custody := assets.NewCustody()
	registry := license.NewRegistry(custody)
	sched := scheduler.New(registry)
	registry.SetMissedPaymentSource(sched)

	e := &Engine{
		clock:     func() time.Time { return time.Now().UTC() },
		log:       logrus.StandardLogger(),
		Assets:    custody,
		Licenses:  registry,
		Ledger:    l,
		Scheduler: sched,
		Disputes:  dispute.New(registry, custody, cfg.DisputeAutoExecute),
		Market:    marketplace.New(custody, registry, l, sched),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// OnCommit registers h. Hooks registered after the engine starts serving
// only see later commits.
func (e *Engine) OnCommit(h Hook) {
	e.deliver.Lock()
	defer e.deliver.Unlock()
	e.hooks = append(e.hooks, h)
}

func (e *Engine) Now() time.Time {
	return e.clock()
}

// Update runs fn as one atomic operation named op. If fn returns an error or
// panics, every write it made is undone.
func (e *Engine) Update(op string, fn func(tx *store.Tx, now time.Time) error) (events []store.Event, err error) {
	e.mu.Lock()
	tx := store.NewTx()
	now := e.clock()
	unlocked := false
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			e.log.WithFields(logrus.Fields{"op": op, "panic": r}).Error("Operation panicked, rolled back")
			err = apperr.Internal(op, "operation panicked: %v", r)
		}
		if !unlocked {
			e.mu.Unlock()
		}
	}()

	if err = fn(tx, now); err != nil {
		tx.Rollback()
		e.log.WithFields(logrus.Fields{"op": op, "kind": apperr.KindOf(err).String()}).WithError(err).Warn("Operation rejected")
		return nil, err
	}
	events = tx.Commit()
	for i := range events {
		if events[i].OccurredAt.IsZero() {
			events[i].OccurredAt = now
		}
	}

	// Take the delivery lock before releasing the writer so hooks observe
	// commits in order.
	e.deliver.Lock()
	e.mu.Unlock()
	unlocked = true
	defer e.deliver.Unlock()

	for _, ev := range events {
		e.log.WithFields(logrus.Fields{"op": op, "event": ev.Type, "key": ev.Key}).Info("State transition committed")
	}
	for _, h := range e.hooks {
		e.runHook(h, op, events)
	}
	return events, nil
}

// runHook delivers one commit to h. The commit already happened, so a panic
// is logged and the remaining hooks still run.
func (e *Engine) runHook(h Hook, op string, events []store.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(logrus.Fields{"op": op, "panic": r}).Error("Commit hook panicked")
		}
	}()
	h(op, events)
}

// View runs fn under the read lock. fn must not mutate state.
func (e *Engine) View(fn func(now time.Time) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.clock())
}
