package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inev/engage/internal/metrics"
	"github.com/inev/engage/internal/models"
)

// FoldStore is the bucket write side consumed by the sampler.
type FoldStore interface {
	Fold(ctx context.Context, eventID uuid.UUID, bucketTime time.Time, participants int) error
}

// ActiveSource reports current active-viewer counts per event.
type ActiveSource interface {
	ActiveByEvent(ctx context.Context) (map[uuid.UUID]int, error)
}

// LiveEventSource lists events currently inside their scheduled window.
type LiveEventSource interface {
	ListLiveAt(ctx context.Context, now time.Time) ([]models.Event, error)
}

// Sampler is the write side of the statistics engine: each run reads the
// current concurrency per event and folds one sample into the current bucket.
// Events inside their scheduled window are folded even at zero, so a quiet
// minute pulls the average down instead of vanishing from it.
type Sampler struct {
	store       FoldStore
	presence    ActiveSource
	events      LiveEventSource
	bucketWidth time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewSampler creates a sampler folding into buckets of bucketWidth.
func NewSampler(store FoldStore, presence ActiveSource, events LiveEventSource, bucketWidth time.Duration, m *metrics.Metrics, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{
		store:       store,
		presence:    presence,
		events:      events,
		bucketWidth: bucketWidth,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Sample runs one sampling pass and returns how many events were folded.
// Per-event fold failures are logged and skipped; the next tick retries.
func (s *Sampler) Sample(ctx context.Context) (int, error) {
	started := s.now()
	bucket := started.Truncate(s.bucketWidth)

	counts, err := s.presence.ActiveByEvent(ctx)
	if err != nil {
		s.observe(started, false)
		return 0, fmt.Errorf("read active counts: %w", err)
	}
	live, err := s.events.ListLiveAt(ctx, started)
	if err != nil {
		s.observe(started, false)
		return 0, fmt.Errorf("list live events: %w", err)
	}
	for _, e := range live {
		if _, ok := counts[e.ID]; !ok {
			counts[e.ID] = 0
		}
	}

	folded := 0
	for eventID, n := range counts {
		if err := s.store.Fold(ctx, eventID, bucket, n); err != nil {
			s.logger.Warn("fold sample", zap.Error(err), zap.String("event_id", eventID.String()))
			continue
		}
		folded++
	}

	if s.metrics != nil {
		s.metrics.AddSamplesFolded(folded)
	}
	s.observe(started, true)
	s.logger.Debug("sampling pass finished",
		zap.Int("events", folded),
		zap.Time("bucket", bucket))
	return folded, nil
}

func (s *Sampler) observe(started time.Time, ok bool) {
	if s.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if !ok {
		status = metrics.StatusFailure
	}
	s.metrics.IncJobRun(metrics.JobSample, status)
	s.metrics.ObserveJobDuration(metrics.JobSample, s.now().Sub(started).Seconds())
}
