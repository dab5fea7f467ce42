package engine

import (
	"encoding/json"
	"time"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/assets"
	"github.com/javajoker/imi-market/internal/dispute"
	"github.com/javajoker/imi-market/internal/ledger"
	"github.com/javajoker/imi-market/internal/license"
	"github.com/javajoker/imi-market/internal/marketplace"
	"github.com/javajoker/imi-market/internal/scheduler"
)

const SnapshotVersion = 1

// Snapshot is a consistent copy of every component's state.
type Snapshot struct {
	Version   int                `json:"version"`
	TakenAt   time.Time          `json:"taken_at"`
	Assets    assets.State       `json:"assets"`
	Licenses  license.State      `json:"licenses"`
	Ledger    ledger.State       `json:"ledger"`
	Schedules scheduler.Snapshot `json:"schedules"`
	Disputes  dispute.State      `json:"disputes"`
	Market    marketplace.State  `json:"market"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		Version:   SnapshotVersion,
		TakenAt:   e.clock(),
		Assets:    e.Assets.Export(),
		Licenses:  e.Licenses.Export(),
		Ledger:    e.Ledger.Export(),
		Schedules: e.Scheduler.Export(),
		Disputes:  e.Disputes.Export(),
		Market:    e.Market.Export(),
	}
}

// Restore replaces the engine state with s. It must run before the engine
// serves requests.
func (e *Engine) Restore(s Snapshot) error {
	const op = "engine.restore"
	if s.Version != SnapshotVersion {
		return apperr.Validation(op, "unsupported snapshot version %d", s.Version)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Ledger.Import(s.Ledger); err != nil {
		return apperr.Wrap(op, err)
	}
	e.Assets.Import(s.Assets)
	e.Licenses.Import(s.Licenses)
	e.Scheduler.Import(s.Schedules)
	e.Disputes.Import(s.Disputes)
	e.Market.Import(s.Market)
	e.log.WithField("taken_at", s.TakenAt).Info("Engine state restored from snapshot")
	return nil
}

func (s Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, apperr.Wrap("engine.unmarshal_snapshot", err)
	}
	return s, nil
}
