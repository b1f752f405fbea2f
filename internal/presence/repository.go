package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles event_presence persistence. One row per (event, viewer),
// overwritten in place on every ping.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a presence repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Touch records that the viewer was seen at the given time. Inserts on first
// contact, otherwise refreshes last_seen_at; joined_at is kept from the first
// ping.
func (r *Repository) Touch(ctx context.Context, eventID, viewerID uuid.UUID, at time.Time) error {
	const q = `INSERT INTO event_presence (event_id, viewer_id, joined_at, last_seen_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (event_id, viewer_id)
		DO UPDATE SET last_seen_at = GREATEST(event_presence.last_seen_at, EXCLUDED.last_seen_at)`
	_, err := r.pool.Exec(ctx, q, eventID, viewerID, at)
	return err
}

// CountActive returns how many viewers of the event were seen since the
// cutoff. Activity is derived at read time; nothing marks rows inactive.
func (r *Repository) CountActive(ctx context.Context, eventID uuid.UUID, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM event_presence WHERE event_id = $1 AND last_seen_at >= $2`
	var n int
	err := r.pool.QueryRow(ctx, q, eventID, since).Scan(&n)
	return n, err
}

// ActiveCounts returns active-viewer counts for every event with at least one
// viewer seen since the cutoff. Events absent from the map have zero.
func (r *Repository) ActiveCounts(ctx context.Context, since time.Time) (map[uuid.UUID]int, error) {
	const q = `SELECT event_id, COUNT(*) FROM event_presence
		WHERE last_seen_at >= $1 GROUP BY event_id`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var eventID uuid.UUID
		var n int
		if err := rows.Scan(&eventID, &n); err != nil {
			return nil, err
		}
		counts[eventID] = n
	}
	return counts, rows.Err()
}
