package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inev/engage/internal/models"
)

// Repository handles viewer_sessions persistence. Every mutation is a
// single-row conditional write; the open/closed race with the sweeper is
// settled by whichever statement commits first.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a viewer sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, event_id, viewer_id, session_token, content_id, source_visit_id,
	entered_at, last_heartbeat_at, exited_at, watched_seconds, heartbeat_count,
	user_agent, ip_address, created_at, updated_at`

func scanSession(row pgx.Row) (*models.ViewerSession, error) {
	var s models.ViewerSession
	err := row.Scan(
		&s.ID, &s.EventID, &s.ViewerID, &s.SessionToken, &s.ContentID, &s.SourceVisitID,
		&s.EnteredAt, &s.LastHeartbeatAt, &s.ExitedAt, &s.WatchedSeconds, &s.HeartbeatCount,
		&s.UserAgent, &s.IPAddress, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetByID returns a session by ID, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ViewerSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM viewer_sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, q, id))
}

// FindOpenByToken returns the open session for (event, token), or nil.
// The partial unique index guarantees at most one row matches.
func (r *Repository) FindOpenByToken(ctx context.Context, eventID uuid.UUID, sessionToken string) (*models.ViewerSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM viewer_sessions
		WHERE event_id = $1 AND session_token = $2 AND exited_at IS NULL`
	return scanSession(r.pool.QueryRow(ctx, q, eventID, sessionToken))
}

// Insert creates a new session row. Returns false without error when another
// open row for the same (event, token) won the insert race.
func (r *Repository) Insert(ctx context.Context, s *models.ViewerSession) (bool, error) {
	const q = `INSERT INTO viewer_sessions
		(id, event_id, viewer_id, session_token, content_id, source_visit_id,
		 entered_at, last_heartbeat_at, watched_seconds, heartbeat_count, user_agent, ip_address)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $6, 0, 0, $7, $8)
		ON CONFLICT (event_id, session_token) WHERE exited_at IS NULL DO NOTHING
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q,
		s.EventID, s.ViewerID, s.SessionToken, s.ContentID, s.SourceVisitID,
		s.EnteredAt, s.UserAgent, s.IPAddress).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ApplyHeartbeat refreshes last_heartbeat_at and adds addSeconds to
// watched_seconds in one conditional statement. The guard keeps the write
// monotonic: a retransmit carrying an older timestamp than what is stored is
// a no-op, as is any write against a closed row. Returns the new
// watched_seconds and whether the row was updated.
func (r *Repository) ApplyHeartbeat(ctx context.Context, id uuid.UUID, at time.Time, addSeconds int64) (int64, bool, error) {
	const q = `UPDATE viewer_sessions
		SET last_heartbeat_at = $2,
		    watched_seconds = watched_seconds + $3,
		    heartbeat_count = heartbeat_count + 1,
		    updated_at = NOW()
		WHERE id = $1 AND exited_at IS NULL
		  AND (last_heartbeat_at IS NULL OR last_heartbeat_at <= $2)
		RETURNING watched_seconds`
	var watched int64
	err := r.pool.QueryRow(ctx, q, id, at, addSeconds).Scan(&watched)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return watched, true, nil
}

// CloseAt sets exited_at only when the session is still open. Returns false
// without error when the row was already closed or does not exist; double
// exit signals and sweeper races are normal, not failures.
func (r *Repository) CloseAt(ctx context.Context, id uuid.UUID, exitedAt time.Time) (bool, error) {
	const q = `UPDATE viewer_sessions
		SET exited_at = $2, updated_at = NOW()
		WHERE id = $1 AND exited_at IS NULL`
	tag, err := r.pool.Exec(ctx, q, id, exitedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// StaleSession identifies one abandoned open session for the sweeper.
type StaleSession struct {
	ID           uuid.UUID
	EventID      uuid.UUID
	LastActivity time.Time
}

// FindStale returns open sessions whose most recent activity (last heartbeat,
// or entry when no heartbeat ever arrived) predates the cutoff.
func (r *Repository) FindStale(ctx context.Context, cutoff time.Time) ([]StaleSession, error) {
	const q = `SELECT id, event_id, COALESCE(last_heartbeat_at, entered_at)
		FROM viewer_sessions
		WHERE exited_at IS NULL AND COALESCE(last_heartbeat_at, entered_at) < $1
		ORDER BY COALESCE(last_heartbeat_at, entered_at)`
	rows, err := r.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []StaleSession
	for rows.Next() {
		var s StaleSession
		if err := rows.Scan(&s.ID, &s.EventID, &s.LastActivity); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
