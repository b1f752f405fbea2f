package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the presence persistence consumed by the tracker.
type Store interface {
	Touch(ctx context.Context, eventID, viewerID uuid.UUID, at time.Time) error
	CountActive(ctx context.Context, eventID uuid.UUID, since time.Time) (int, error)
	ActiveCounts(ctx context.Context, since time.Time) (map[uuid.UUID]int, error)
}

// Tracker answers "who is here right now". It is intentionally independent of
// viewer sessions: pings require an identified viewer and never create or
// refresh a session, and a viewer with several tabs still counts once.
type Tracker struct {
	store        Store
	activeWindow time.Duration
	now          func() time.Time
}

// NewTracker creates a tracker counting viewers seen within activeWindow.
func NewTracker(store Store, activeWindow time.Duration) *Tracker {
	return &Tracker{store: store, activeWindow: activeWindow, now: time.Now}
}

// Ping records the viewer as seen now.
func (t *Tracker) Ping(ctx context.Context, eventID, viewerID uuid.UUID) error {
	if err := t.store.Touch(ctx, eventID, viewerID, t.now()); err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	return nil
}

// AudienceCount returns the event's current active-viewer count.
func (t *Tracker) AudienceCount(ctx context.Context, eventID uuid.UUID) (int, error) {
	n, err := t.store.CountActive(ctx, eventID, t.now().Add(-t.activeWindow))
	if err != nil {
		return 0, fmt.Errorf("count active viewers: %w", err)
	}
	return n, nil
}

// ActiveByEvent returns active-viewer counts keyed by event for every event
// with current activity. Used by the concurrency sampler.
func (t *Tracker) ActiveByEvent(ctx context.Context) (map[uuid.UUID]int, error) {
	counts, err := t.store.ActiveCounts(ctx, t.now().Add(-t.activeWindow))
	if err != nil {
		return nil, fmt.Errorf("list active counts: %w", err)
	}
	return counts, nil
}
