// internal/services/snapshot_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/imi-market/internal/database"
	"github.com/javajoker/imi-market/internal/engine"
	"github.com/javajoker/imi-market/internal/models"
)

// snapshotsKept is how many snapshots survive each prune.
const snapshotsKept = 5

type SnapshotStore interface {
	Save(ctx context.Context, version int, takenAt time.Time, data []byte) error
	Latest(ctx context.Context) (*models.EngineSnapshot, error)
	Prune(ctx context.Context, keep int) error
}

// SnapshotService checkpoints engine state so a restart resumes where the
// last snapshot left off.
type SnapshotService struct {
	eng   *engine.Engine
	store SnapshotStore
	log   *logrus.Logger
}

func NewSnapshotService(eng *engine.Engine, store SnapshotStore, log *logrus.Logger) *SnapshotService {
	return &SnapshotService{eng: eng, store: store, log: log}
}

// Restore loads the latest snapshot. An empty store leaves the engine fresh.
func (s *SnapshotService) Restore(ctx context.Context) error {
	latest, err := s.store.Latest(ctx)
	if errors.Is(err, database.ErrNoSnapshot) {
		s.log.Info("No engine snapshot found, starting with empty state")
		return nil
	}
	if err != nil {
		return err
	}
	snap, err := engine.UnmarshalSnapshot(latest.Data)
	if err != nil {
		return err
	}
	return s.eng.Restore(snap)
}

func (s *SnapshotService) Save(ctx context.Context) error {
	snap := s.eng.Snapshot()
	data, err := snap.Marshal()
	if err != nil {
		return err
	}
	if err := s.store.Save(ctx, snap.Version, snap.TakenAt, data); err != nil {
		return err
	}
	if err := s.store.Prune(ctx, snapshotsKept); err != nil {
		s.log.WithError(err).Warn("Failed to prune old snapshots")
	}
	s.log.WithField("taken_at", snap.TakenAt).Debug("Engine snapshot saved")
	return nil
}

// Run saves a snapshot every interval and once more when ctx is cancelled.
func (s *SnapshotService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.Save(final); err != nil {
				s.log.WithError(err).Error("Failed to save final snapshot")
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Save(ctx); err != nil {
				s.log.WithError(err).Error("Failed to save snapshot")
			}
		}
	}
}
