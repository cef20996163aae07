// Package snapshot periodically persists session snapshots.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/dj-oyu/wefit/rep-counter/internal/logger"
	"github.com/dj-oyu/wefit/rep-counter/internal/metrics"
	"github.com/dj-oyu/wefit/rep-counter/internal/session"
	"github.com/dj-oyu/wefit/rep-counter/internal/trainlog"
)

// DefaultInterval between snapshots.
const DefaultInterval = 300 * time.Second

// Snapshotter produces a record for a given time.
type Snapshotter interface {
	Snapshot(now time.Time) session.Record
}

// Scheduler appends a snapshot of the session to the sink every interval.
type Scheduler struct {
	source   Snapshotter
	sink     trainlog.Sink
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time

	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a scheduler. m may be nil.
func New(source Snapshotter, sink trainlog.Sink, interval time.Duration, m *metrics.Metrics) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("snapshot interval must be positive, got %v", interval)
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		source:    source,
		sink:      sink,
		interval:  interval,
		metrics:   m,
		now:       time.Now,
		scheduler: scheduler,
	}, nil
}

// Start registers the snapshot job and starts the scheduler. Jobs stop
// appending once ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	j, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.Capture(s.ctx, s.now())
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("session-snapshot"),
	)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to create snapshot job: %w", err)
	}

	logger.Info("Snapshot", "Scheduled snapshots every %v (job %s)", s.interval, j.ID())
	s.scheduler.Start()
	return nil
}

// Capture takes one snapshot at now and appends it. Failures are logged
// and counted; they never stop the scheduler.
func (s *Scheduler) Capture(ctx context.Context, now time.Time) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	rec := s.source.Snapshot(now)
	if err := s.sink.Append(ctx, rec); err != nil {
		if s.metrics != nil {
			s.metrics.SnapshotErrors.Add(1)
		}
		logger.Warn("Snapshot", "Failed to persist snapshot: %v", err)
		return err
	}
	if s.metrics != nil {
		s.metrics.SnapshotsWritten.Add(1)
	}
	logger.Debug("Snapshot", "reps=%d angle=%.0f level=%s at %s %s",
		rec.Count, rec.DerivedAngle, rec.Level, rec.Date(), rec.Clock())
	return nil
}

// Shutdown stops the scheduler and waits for a running job.
func (s *Scheduler) Shutdown() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.scheduler.Shutdown()
}
