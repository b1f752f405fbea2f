package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inev/engage/internal/models"
)

// Repository reads events. Events are owned by the management product; the
// engine never writes them.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an events repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, slug, title, scheduled_start_at, scheduled_end_at, ondemand_enabled, created_at, updated_at`

// GetByID returns an event by ID, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	var e models.Event
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&e.ID, &e.Slug, &e.Title, &e.ScheduledStartAt, &e.ScheduledEndAt, &e.OndemandEnabled, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// ListLiveAt returns events whose scheduled window contains now. The sampler
// folds zero-count samples for these so quiet minutes weigh into averages.
func (r *Repository) ListLiveAt(ctx context.Context, now time.Time) ([]models.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events
		WHERE scheduled_start_at IS NOT NULL AND scheduled_end_at IS NOT NULL
		  AND scheduled_start_at <= $1 AND scheduled_end_at > $1`
	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.Slug, &e.Title, &e.ScheduledStartAt, &e.ScheduledEndAt, &e.OndemandEnabled, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
