// Package scheduler runs periodic maintenance of the execution store.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

const (
	// DefaultRetention is how long terminal executions are kept.
	DefaultRetention = 24 * time.Hour
	// DefaultSchedule runs the sweep at the top of every hour.
	DefaultSchedule = "0 * * * *"
)

// SweptStatuses are the statuses eligible for cleanup. Halted executions are kept
// because an operator may still reopen them.
var SweptStatuses = []schema.ExecutionStatus{
	schema.StatusCompleted,
	schema.StatusCancelled,
	schema.StatusError,
}

// Vacuumer is implemented by stores that can reclaim space after deletions.
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

// Config configures a Sweeper. Zero values take the defaults.
type Config struct {
	Retention time.Duration
	Schedule  string // five-field cron expression
	BatchSize int    // records listed per pass; 0 means unlimited
}

// Sweeper deletes terminal executions older than the retention window on a cron schedule.
type Sweeper struct {
	store     store.Store
	retention time.Duration
	schedule  cron.Schedule
	batch     int
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a Sweeper. It fails when the schedule does not parse.
func NewSweeper(s store.Store, cfg Config, logger *slog.Logger) (*Sweeper, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse cleanup schedule %q", cfg.Schedule).WithCause(err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:     s,
		retention: cfg.Retention,
		schedule:  sched,
		batch:     cfg.BatchSize,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// NextRun returns the first scheduled sweep after from.
func (s *Sweeper) NextRun(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Sweep deletes every eligible execution last updated before now minus the retention
// window and returns how many were removed. A failed delete is logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	recs, err := s.store.List(ctx, store.Filter{
		Statuses:      SweptStatuses,
		UpdatedBefore: &cutoff,
		Limit:         s.batch,
	})
	if err != nil {
		return 0, fmt.Errorf("list expired executions: %w", err)
	}

	deleted := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := s.store.Delete(ctx, rec.ID); err != nil {
			s.logger.Error("failed to delete expired execution",
				slog.String("execution_id", rec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("swept expired executions",
			slog.Int("count", deleted),
			slog.Time("cutoff", cutoff),
		)
		if v, ok := s.store.(Vacuumer); ok {
			if err := v.Vacuum(ctx); err != nil {
				s.logger.Warn("vacuum after sweep failed", slog.String("error", err.Error()))
			}
		}
	}
	return deleted, nil
}

// Start runs an initial sweep and then sweeps on the schedule until Stop or ctx ends.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("retention sweeper started", slog.Duration("retention", s.retention))
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.tick(ctx)
	for {
		wait := s.NextRun(s.now()).Sub(s.now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retention sweep failed", slog.String("error", err.Error()))
	}
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("retention sweeper stopped")
	return nil
}
