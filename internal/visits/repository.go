package visits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inev/engage/internal/models"
)

// Repository handles event_visits persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a visits repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record inserts one landing-page visit.
func (r *Repository) Record(ctx context.Context, v *models.EventVisit) error {
	const q = `INSERT INTO event_visits (id, event_id, session_token, landing_path, referrer)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, v.EventID, v.SessionToken, v.LandingPath, v.Referrer).
		Scan(&v.ID, &v.CreatedAt)
}

// LatestVisitID returns the most recent visit for (event, token) created
// after the cutoff, or nil when none exists. Most-recent-wins is a documented
// heuristic: two visits from the same token inside the window bind to the
// newer one.
func (r *Repository) LatestVisitID(ctx context.Context, eventID uuid.UUID, sessionToken string, since time.Time) (*uuid.UUID, error) {
	const q = `SELECT id FROM event_visits
		WHERE event_id = $1 AND session_token = $2 AND created_at >= $3
		ORDER BY created_at DESC LIMIT 1`
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, q, eventID, sessionToken, since).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &id, nil
}
