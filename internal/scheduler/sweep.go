// Package scheduler runs incremental clustering for owners whose uploads
// have been indexed but not yet grouped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/clustering"
	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/runlock"
)

type PendingLister interface {
	OwnersWithPending(ctx context.Context) ([]uuid.UUID, error)
}

type IncrementalRunner interface {
	RunIncremental(ctx context.Context, owner uuid.UUID) (*clustering.IncrementalReport, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, ev models.FaceEvent) error
}

type SweepResult struct {
	Owners  int
	Ran     int
	Busy    int
	Failed  int
	Matched int
	Created int
}

// Sweeper clusters pending embeddings owner by owner. Each owner run takes
// the same lock as an API-triggered run, so the two never overlap.
type Sweeper struct {
	store  PendingLister
	engine IncrementalRunner
	locker runlock.Locker
	events Publisher

	mu        sync.Mutex
	scheduler *gocron.Scheduler
}

// NewSweeper wires a sweeper. events may be nil.
func NewSweeper(store PendingLister, engine IncrementalRunner, locker runlock.Locker, events Publisher) *Sweeper {
	return &Sweeper{store: store, engine: engine, locker: locker, events: events}
}

// Sweep runs one pass over every owner with pending embeddings. Owners with
// a run already in progress are skipped; a failed owner does not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	owners, err := s.store.OwnersWithPending(ctx)
	if err != nil {
		return res, fmt.Errorf("list owners with pending embeddings: %w", err)
	}
	res.Owners = len(owners)

	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var report *clustering.IncrementalReport
		err := runlock.DoOwner(ctx, s.locker, owner, func(ctx context.Context) error {
			var err error
			report, err = s.engine.RunIncremental(ctx, owner)
			return err
		})
		switch {
		case errors.Is(err, runlock.ErrBusy):
			slog.Debug("owner busy, skipping", "owner_id", owner)
			res.Busy++
			continue
		case err != nil:
			slog.Warn("incremental clustering failed", "owner_id", owner, "error", err)
			res.Failed++
			continue
		}

		res.Ran++
		res.Matched += report.Matched
		res.Created += report.NewClusters
		s.publish(ctx, owner, report)
	}
	return res, nil
}

func (s *Sweeper) publish(ctx context.Context, owner uuid.UUID, report *clustering.IncrementalReport) {
	if s.events == nil || report.Embeddings == 0 {
		return
	}
	ev := models.FaceEvent{
		Type:        models.EventClusteringCompleted,
		OwnerID:     owner,
		Matched:     report.Matched,
		NewClusters: report.NewClusters,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.events.PublishEvent(ctx, ev); err != nil {
		slog.Warn("publish clustering_completed failed", "owner_id", owner, "error", err)
	}
}

// Start schedules Sweep on cronExpr. Overlapping ticks are dropped.
func (s *Sweeper) Start(ctx context.Context, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return fmt.Errorf("sweeper already started")
	}

	sched := gocron.NewScheduler(time.UTC)
	sched.SingletonModeAll()

	_, err := sched.Cron(cronExpr).Do(func() {
		start := time.Now()
		res, err := s.Sweep(ctx)
		if err != nil {
			slog.Error("clustering sweep failed", "error", err)
			return
		}
		if res.Owners > 0 {
			slog.Info("clustering sweep finished",
				"owners", res.Owners,
				"ran", res.Ran,
				"busy", res.Busy,
				"failed", res.Failed,
				"duration", time.Since(start),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep %q: %w", cronExpr, err)
	}

	sched.StartAsync()
	s.scheduler = sched
	slog.Info("clustering sweep scheduled", "cron", cronExpr)
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		s.scheduler.Stop()
		s.scheduler = nil
	}
}
