package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueEngagement is the Redis list key for engagement rollup jobs.
	QueueEngagement = "engage:jobs:engagement"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "engage:jobs:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// DequeueBlock is how long a dequeue blocks before returning empty.
	DequeueBlock = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	// JobTypeEngagementRollup recomputes the event_engagement summary for one
	// event, typically after a sweep closed sessions for it.
	JobTypeEngagementRollup JobType = "engagement_rollup"
)

// EngagementRollupPayload is the payload for engagement rollup jobs.
type EngagementRollupPayload struct {
	EventID uuid.UUID `json:"event_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueEngagementRollup enqueues a rollup job for one event.
func (q *Queue) EnqueueEngagementRollup(ctx context.Context, eventID uuid.UUID) error {
	body, err := json.Marshal(EngagementRollupPayload{EventID: eventID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeEngagementRollup,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueEngagement, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued engagement rollup", zap.String("job_id", job.ID), zap.String("event_id", eventID.String()))
	return nil
}

// Dequeue blocks up to DequeueBlock for the next job. Returns (nil, "", nil)
// when the queue stayed empty.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	res, err := q.client.BLPop(ctx, DequeueBlock, QueueEngagement).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("blpop: %w", err)
	}
	if len(res) != 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, "", fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, res[0], nil
}

// Retry re-enqueues a failed job, or moves it to the DLQ once MaxRetries is
// exhausted.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	key := QueueEngagement
	if job.Attempt >= MaxRetries {
		key = QueueDLQ
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt))
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}
