package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inev/engage/internal/metrics"
	"github.com/inev/engage/internal/models"
	"github.com/inev/engage/pkg/queue"
)

// RollupStore computes and stores engagement rollups. Implemented by
// *Repository; tests use a fake.
type RollupStore interface {
	ComputeEngagement(ctx context.Context, eventID uuid.UUID, now time.Time) (*models.EventEngagement, error)
	UpsertEngagement(ctx context.Context, eng *models.EventEngagement) error
}

// EngagementProcessor consumes rollup jobs: recompute the event's engagement
// summary after sweeps or exits changed its closed sessions.
type EngagementProcessor struct {
	store   RollupStore
	queue   *queue.Queue
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngagementProcessor creates a rollup processor.
func NewEngagementProcessor(store RollupStore, q *queue.Queue, m *metrics.Metrics, logger *zap.Logger) *EngagementProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EngagementProcessor{store: store, queue: q, metrics: m, logger: logger, now: time.Now}
}

// Process executes one rollup job.
func (p *EngagementProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEngagementRollup {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EngagementRollupPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	started := p.now()
	eng, err := p.store.ComputeEngagement(ctx, payload.EventID, started)
	if err != nil {
		p.observe(started, false)
		return fmt.Errorf("compute engagement: %w", err)
	}
	if err := p.store.UpsertEngagement(ctx, eng); err != nil {
		p.observe(started, false)
		return fmt.Errorf("store engagement: %w", err)
	}

	p.observe(started, true)
	p.logger.Info("engagement rollup completed",
		zap.String("event_id", payload.EventID.String()),
		zap.Int("total_sessions", eng.TotalSessions),
		zap.Int("peak_concurrent", eng.PeakConcurrent))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EngagementProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("engagement worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
		}
	}
}

func (p *EngagementProcessor) observe(started time.Time, ok bool) {
	if p.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if !ok {
		status = metrics.StatusFailure
	}
	p.metrics.IncJobRun(metrics.JobRollup, status)
	p.metrics.ObserveJobDuration(metrics.JobRollup, p.now().Sub(started).Seconds())
}
