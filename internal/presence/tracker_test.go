package presence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type key struct {
	event  uuid.UUID
	viewer uuid.UUID
}

type fakePresenceStore struct {
	lastSeen map[key]time.Time
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{lastSeen: make(map[key]time.Time)}
}

func (f *fakePresenceStore) Touch(_ context.Context, eventID, viewerID uuid.UUID, at time.Time) error {
	k := key{eventID, viewerID}
	if prev, ok := f.lastSeen[k]; !ok || at.After(prev) {
		f.lastSeen[k] = at
	}
	return nil
}

func (f *fakePresenceStore) CountActive(_ context.Context, eventID uuid.UUID, since time.Time) (int, error) {
	n := 0
	for k, seen := range f.lastSeen {
		if k.event == eventID && !seen.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakePresenceStore) ActiveCounts(_ context.Context, since time.Time) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int)
	for k, seen := range f.lastSeen {
		if !seen.Before(since) {
			counts[k.event]++
		}
	}
	return counts, nil
}

func TestAudienceCountUsesActiveWindow(t *testing.T) {
	store := newFakePresenceStore()
	eventID := uuid.New()
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	tr := NewTracker(store, 3*time.Minute)

	// Viewer A pings at 10:00, viewer B at 10:02.
	a, b := uuid.New(), uuid.New()
	tr.now = func() time.Time { return t0 }
	require.NoError(t, tr.Ping(context.Background(), eventID, a))
	tr.now = func() time.Time { return t0.Add(2 * time.Minute) }
	require.NoError(t, tr.Ping(context.Background(), eventID, b))

	// At 10:02 both are active; at 10:04 only B remains inside the window.
	n, err := tr.AudienceCount(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tr.now = func() time.Time { return t0.Add(4 * time.Minute) }
	n, err = tr.AudienceCount(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPingRefreshesWithoutDuplicating(t *testing.T) {
	store := newFakePresenceStore()
	eventID := uuid.New()
	viewerID := uuid.New()
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	tr := NewTracker(store, 3*time.Minute)
	for i := 0; i < 5; i++ {
		at := t0.Add(time.Duration(i) * 30 * time.Second)
		tr.now = func() time.Time { return at }
		require.NoError(t, tr.Ping(context.Background(), eventID, viewerID))
	}

	n, err := tr.AudienceCount(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestActiveByEventOmitsIdleEvents(t *testing.T) {
	store := newFakePresenceStore()
	liveEvent := uuid.New()
	idleEvent := uuid.New()
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	tr := NewTracker(store, 3*time.Minute)
	tr.now = func() time.Time { return t0.Add(-10 * time.Minute) }
	require.NoError(t, tr.Ping(context.Background(), idleEvent, uuid.New()))
	tr.now = func() time.Time { return t0 }
	require.NoError(t, tr.Ping(context.Background(), liveEvent, uuid.New()))
	require.NoError(t, tr.Ping(context.Background(), liveEvent, uuid.New()))

	counts, err := tr.ActiveByEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{liveEvent: 2}, counts)
}
