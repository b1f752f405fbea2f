package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inev/engage/internal/models"
)

// Repository computes and stores event_engagement rollups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a rollup repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ComputeEngagement aggregates the event's closed sessions and bucket peak
// into a fresh rollup. Open sessions are excluded; the next sweep-triggered
// rollup picks them up once they close.
func (r *Repository) ComputeEngagement(ctx context.Context, eventID uuid.UUID, now time.Time) (*models.EventEngagement, error) {
	const sessionsQ = `SELECT COUNT(*),
			COUNT(DISTINCT viewer_id) FILTER (WHERE viewer_id IS NOT NULL),
			COALESCE(SUM(watched_seconds), 0)
		FROM viewer_sessions
		WHERE event_id = $1 AND exited_at IS NOT NULL`
	eng := &models.EventEngagement{EventID: eventID, ComputedAt: now}
	err := r.pool.QueryRow(ctx, sessionsQ, eventID).
		Scan(&eng.TotalSessions, &eng.UniqueViewers, &eng.TotalWatchSeconds)
	if err != nil {
		return nil, err
	}
	if eng.TotalSessions > 0 {
		eng.AvgWatchSeconds = eng.TotalWatchSeconds / int64(eng.TotalSessions)
	}

	const peakQ = `SELECT COALESCE(MAX(max_participants), 0) FROM access_buckets WHERE event_id = $1`
	if err := r.pool.QueryRow(ctx, peakQ, eventID).Scan(&eng.PeakConcurrent); err != nil {
		return nil, err
	}
	return eng, nil
}

// UpsertEngagement stores the rollup, replacing any previous one.
func (r *Repository) UpsertEngagement(ctx context.Context, eng *models.EventEngagement) error {
	const q = `INSERT INTO event_engagement
		(event_id, total_sessions, unique_viewers, total_watch_seconds, avg_watch_seconds, peak_concurrent, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO UPDATE SET
			total_sessions      = EXCLUDED.total_sessions,
			unique_viewers      = EXCLUDED.unique_viewers,
			total_watch_seconds = EXCLUDED.total_watch_seconds,
			avg_watch_seconds   = EXCLUDED.avg_watch_seconds,
			peak_concurrent     = EXCLUDED.peak_concurrent,
			computed_at         = EXCLUDED.computed_at`
	_, err := r.pool.Exec(ctx, q,
		eng.EventID, eng.TotalSessions, eng.UniqueViewers,
		eng.TotalWatchSeconds, eng.AvgWatchSeconds, eng.PeakConcurrent, eng.ComputedAt)
	return err
}
