package stats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inev/engage/internal/models"
)

// Repository handles access_buckets persistence and the closed-session reads
// behind watch-time statistics and exports.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a stats repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Fold merges one concurrency sample into the bucket at bucketTime. First
// sample creates the row; later samples update the aggregates in place. The
// bucket is never recomputed from raw history.
func (r *Repository) Fold(ctx context.Context, eventID uuid.UUID, bucketTime time.Time, participants int) error {
	const q = `INSERT INTO access_buckets
		(event_id, bucket_time, sample_count, sum_participants, min_participants, max_participants, last_participants)
		VALUES ($1, $2, 1, $3, $3, $3, $3)
		ON CONFLICT (event_id, bucket_time) DO UPDATE SET
			sample_count      = access_buckets.sample_count + 1,
			sum_participants  = access_buckets.sum_participants + EXCLUDED.sum_participants,
			min_participants  = LEAST(access_buckets.min_participants, EXCLUDED.min_participants),
			max_participants  = GREATEST(access_buckets.max_participants, EXCLUDED.max_participants),
			last_participants = EXCLUDED.last_participants`
	_, err := r.pool.Exec(ctx, q, eventID, bucketTime, participants)
	return err
}

// Range returns the event's buckets with from <= bucket_time < to, in
// chronological order.
func (r *Repository) Range(ctx context.Context, eventID uuid.UUID, from, to time.Time) ([]models.AccessBucket, error) {
	const q = `SELECT event_id, bucket_time, sample_count, sum_participants,
			min_participants, max_participants, last_participants
		FROM access_buckets
		WHERE event_id = $1 AND bucket_time >= $2 AND bucket_time < $3
		ORDER BY bucket_time`
	rows, err := r.pool.Query(ctx, q, eventID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AccessBucket
	for rows.Next() {
		var b models.AccessBucket
		if err := rows.Scan(&b.EventID, &b.BucketTime, &b.SampleCount, &b.SumParticipants,
			&b.MinParticipants, &b.MaxParticipants, &b.LastParticipants); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// ClosedSession is one finished viewing, as read for watch-time statistics
// and CSV exports.
type ClosedSession struct {
	ID             uuid.UUID
	ViewerID       *uuid.UUID
	SessionToken   string
	ContentID      *uuid.UUID
	EnteredAt      time.Time
	ExitedAt       time.Time
	WatchedSeconds int64
}

// ClosedSessions returns the event's closed sessions entered within
// [from, to), oldest first. Open sessions are excluded; their watch time is
// still moving.
func (r *Repository) ClosedSessions(ctx context.Context, eventID uuid.UUID, from, to time.Time) ([]ClosedSession, error) {
	const q = `SELECT id, viewer_id, session_token, content_id, entered_at, exited_at, watched_seconds
		FROM viewer_sessions
		WHERE event_id = $1 AND exited_at IS NOT NULL
		  AND entered_at >= $2 AND entered_at < $3
		ORDER BY entered_at`
	rows, err := r.pool.Query(ctx, q, eventID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []ClosedSession
	for rows.Next() {
		var s ClosedSession
		if err := rows.Scan(&s.ID, &s.ViewerID, &s.SessionToken, &s.ContentID,
			&s.EnteredAt, &s.ExitedAt, &s.WatchedSeconds); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
