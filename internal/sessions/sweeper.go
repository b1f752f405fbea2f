package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inev/engage/internal/metrics"
)

// SweepStore is the subset of session persistence the sweeper needs.
type SweepStore interface {
	FindStale(ctx context.Context, cutoff time.Time) ([]StaleSession, error)
	CloseAt(ctx context.Context, id uuid.UUID, exitedAt time.Time) (bool, error)
}

// RollupEnqueuer schedules an engagement rollup for an event whose sessions
// changed. Optional; nil disables enqueueing.
type RollupEnqueuer interface {
	EnqueueEngagementRollup(ctx context.Context, eventID uuid.UUID) error
}

// Report summarizes one sweep run.
type Report struct {
	Found  int      `json:"total_found"`
	Closed int      `json:"closed_count"`
	Errors []string `json:"errors"`
}

// Sweeper force-closes sessions abandoned without an exit signal. It is the
// correctness backstop: without it a closed tab stays "open" forever and
// corrupts both concurrency counts and watch-time totals. Safe to run
// concurrently with itself and with live heartbeats; every close is a
// conditional write.
type Sweeper struct {
	store      SweepStore
	rollups    RollupEnqueuer
	metrics    *metrics.Metrics
	logger     *zap.Logger
	staleAfter time.Duration
	now        func() time.Time
}

// NewSweeper creates a sweeper closing sessions inactive for staleAfter.
func NewSweeper(store SweepStore, rollups RollupEnqueuer, m *metrics.Metrics, logger *zap.Logger, staleAfter time.Duration) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:      store,
		rollups:    rollups,
		metrics:    m,
		logger:     logger,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Sweep runs one batch. Each stale session is closed at its last known
// activity, not at sweep time: the viewer's departure is assumed to coincide
// with their last signal, so durations reflect watch time rather than sweep
// latency. Per-row failures are collected and the batch continues; the next
// scheduled run is the retry.
func (w *Sweeper) Sweep(ctx context.Context) (Report, error) {
	started := w.now()
	cutoff := started.Add(-w.staleAfter)

	stale, err := w.store.FindStale(ctx, cutoff)
	if err != nil {
		w.observe(started, false)
		return Report{}, fmt.Errorf("find stale sessions: %w", err)
	}

	report := Report{Found: len(stale), Errors: []string{}}
	touched := make(map[uuid.UUID]struct{})
	for _, s := range stale {
		closed, err := w.store.CloseAt(ctx, s.ID, s.LastActivity)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", s.ID, err))
			continue
		}
		if closed {
			report.Closed++
			touched[s.EventID] = struct{}{}
		}
		// closed == false means an exit or a concurrent sweep got there
		// first; the end state is what we wanted.
	}

	if w.rollups != nil {
		for eventID := range touched {
			if err := w.rollups.EnqueueEngagementRollup(ctx, eventID); err != nil {
				w.logger.Warn("enqueue rollup", zap.Error(err), zap.String("event_id", eventID.String()))
			}
		}
	}

	if w.metrics != nil {
		w.metrics.AddSessionsSwept(report.Closed)
	}
	w.observe(started, true)
	w.logger.Info("sweep finished",
		zap.Int("found", report.Found),
		zap.Int("closed", report.Closed),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

func (w *Sweeper) observe(started time.Time, ok bool) {
	if w.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if !ok {
		status = metrics.StatusFailure
	}
	w.metrics.IncJobRun(metrics.JobSweep, status)
	w.metrics.ObserveJobDuration(metrics.JobSweep, w.now().Sub(started).Seconds())
}
