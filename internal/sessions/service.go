package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inev/engage/config"
	"github.com/inev/engage/internal/models"
)

// ErrSessionNotFound is returned when a heartbeat targets a session that
// does not exist or is already closed. The caller should start over.
var ErrSessionNotFound = errors.New("session not found")

// Store is the session persistence consumed by the service. Implemented by
// *Repository; tests use an in-memory fake.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ViewerSession, error)
	FindOpenByToken(ctx context.Context, eventID uuid.UUID, sessionToken string) (*models.ViewerSession, error)
	Insert(ctx context.Context, s *models.ViewerSession) (bool, error)
	ApplyHeartbeat(ctx context.Context, id uuid.UUID, at time.Time, addSeconds int64) (int64, bool, error)
	CloseAt(ctx context.Context, id uuid.UUID, exitedAt time.Time) (bool, error)
}

// VisitSource resolves the referring pageview for on-demand starts.
type VisitSource interface {
	LatestVisitID(ctx context.Context, eventID uuid.UUID, sessionToken string, since time.Time) (*uuid.UUID, error)
}

// Service owns the session lifecycle: creation, reuse-on-reentry, heartbeat
// throttling and explicit close.
type Service struct {
	store  Store
	visits VisitSource
	cfg    config.EngineConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the session lifecycle service.
func NewService(store Store, visits VisitSource, cfg config.EngineConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		visits: visits,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// StartParams identifies the viewer and tab starting a session.
type StartParams struct {
	EventID      uuid.UUID
	ViewerID     *uuid.UUID // nil for anonymous viewers
	SessionToken string
	ContentID    *uuid.UUID // set for on-demand playback
	UserAgent    *string
	IPAddress    *string
}

// StartOrResume returns the existing open session for (event, token) when its
// last activity falls within the liveness window, so a page reload does not
// fragment one viewing into many sessions. Otherwise it opens a new session.
// A lingering open row outside the window is closed at its last activity
// first, exactly as the sweeper would have closed it.
func (s *Service) StartOrResume(ctx context.Context, p StartParams) (*models.ViewerSession, bool, error) {
	if p.SessionToken == "" {
		return nil, false, fmt.Errorf("session token required")
	}
	now := s.now()

	open, err := s.store.FindOpenByToken(ctx, p.EventID, p.SessionToken)
	if err != nil {
		return nil, false, fmt.Errorf("find open session: %w", err)
	}
	if open != nil {
		if now.Sub(open.LastActivity()) <= s.cfg.LivenessWindow {
			return open, true, nil
		}
		// Abandoned row the sweeper has not reached yet. Close it at its last
		// activity so the new row can take the open slot.
		if _, err := s.store.CloseAt(ctx, open.ID, open.LastActivity()); err != nil {
			return nil, false, fmt.Errorf("close stale session: %w", err)
		}
	}

	sess := &models.ViewerSession{
		EventID:         p.EventID,
		ViewerID:        p.ViewerID,
		SessionToken:    p.SessionToken,
		ContentID:       p.ContentID,
		EnteredAt:       now,
		LastHeartbeatAt: &now,
		UserAgent:       p.UserAgent,
		IPAddress:       p.IPAddress,
	}
	if p.ContentID != nil && s.visits != nil {
		// Best-effort attribution; a miss or error never blocks the start.
		visitID, err := s.visits.LatestVisitID(ctx, p.EventID, p.SessionToken, now.Add(-s.cfg.VisitLookback))
		if err != nil {
			s.logger.Warn("resolve source visit", zap.Error(err), zap.String("event_id", p.EventID.String()))
		} else {
			sess.SourceVisitID = visitID
		}
	}

	inserted, err := s.store.Insert(ctx, sess)
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}
	if !inserted {
		// Lost the insert race to a concurrent start with the same token;
		// adopt the row that won.
		winner, err := s.store.FindOpenByToken(ctx, p.EventID, p.SessionToken)
		if err != nil {
			return nil, false, fmt.Errorf("find racing session: %w", err)
		}
		if winner == nil {
			return nil, false, fmt.Errorf("session insert conflict but no open row")
		}
		return winner, true, nil
	}
	return sess, false, nil
}

// HeartbeatResult reports what one heartbeat did.
type HeartbeatResult struct {
	Accepted       bool
	Accumulated    bool
	WatchedSeconds int64
}

// Heartbeat applies one client heartbeat. The server is the source of truth
// for credited watch-time: elapsed time since the last recorded heartbeat
// must reach the throttle window before the client-reported deltaSeconds
// counts, and a paused player never accrues regardless of elapsed time.
// last_heartbeat_at is refreshed on every accepted heartbeat either way.
func (s *Service) Heartbeat(ctx context.Context, sessionID uuid.UUID, deltaSeconds int64, isPlaying bool) (HeartbeatResult, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return HeartbeatResult{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || !sess.Open() {
		return HeartbeatResult{}, ErrSessionNotFound
	}

	now := s.now()
	elapsed := now.Sub(sess.LastActivity())

	var add int64
	if elapsed >= s.cfg.HeartbeatThrottle && isPlaying && deltaSeconds > 0 {
		add = deltaSeconds
	}

	watched, updated, err := s.store.ApplyHeartbeat(ctx, sessionID, now, add)
	if err != nil {
		return HeartbeatResult{}, fmt.Errorf("apply heartbeat: %w", err)
	}
	if !updated {
		// Either the sweeper closed the row between load and update, or a
		// concurrent heartbeat already recorded a newer timestamp. Re-read to
		// tell the two apart.
		current, err := s.store.GetByID(ctx, sessionID)
		if err != nil {
			return HeartbeatResult{}, fmt.Errorf("reload session: %w", err)
		}
		if current == nil || !current.Open() {
			return HeartbeatResult{}, ErrSessionNotFound
		}
		return HeartbeatResult{Accepted: true, WatchedSeconds: current.WatchedSeconds}, nil
	}
	return HeartbeatResult{Accepted: true, Accumulated: add > 0, WatchedSeconds: watched}, nil
}

// Close ends a session at exitedAt. Already-closed sessions are a no-op:
// exit signals arrive more than once (tab close plus navigation).
func (s *Service) Close(ctx context.Context, sessionID uuid.UUID, exitedAt time.Time) error {
	if exitedAt.IsZero() {
		exitedAt = s.now()
	}
	if _, err := s.store.CloseAt(ctx, sessionID, exitedAt); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
