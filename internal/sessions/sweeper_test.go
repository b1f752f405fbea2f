package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inev/engage/internal/models"
)

type fakeEnqueuer struct {
	mu     sync.Mutex
	events []uuid.UUID
	err    error
}

func (f *fakeEnqueuer) EnqueueEngagementRollup(_ context.Context, eventID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, eventID)
	return nil
}

func seedSession(store *fakeStore, eventID uuid.UUID, lastActivity time.Time) uuid.UUID {
	id := uuid.New()
	ts := lastActivity
	store.sessions[id] = &models.ViewerSession{
		ID:              id,
		EventID:         eventID,
		SessionToken:    id.String(),
		EnteredAt:       lastActivity.Add(-time.Minute),
		LastHeartbeatAt: &ts,
	}
	return id
}

func TestSweepClosesAtLastActivity(t *testing.T) {
	store := newFakeStore()
	eventID := uuid.New()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	staleID := seedSession(store, eventID, now.Add(-6*time.Minute))
	freshID := seedSession(store, eventID, now.Add(-4*time.Minute))

	sw := NewSweeper(store, nil, nil, nil, 5*time.Minute)
	sw.now = func() time.Time { return now }

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found)
	assert.Equal(t, 1, report.Closed)
	assert.Empty(t, report.Errors)

	stale := store.sessions[staleID]
	require.NotNil(t, stale.ExitedAt)
	assert.Equal(t, now.Add(-6*time.Minute), *stale.ExitedAt)
	assert.Nil(t, store.sessions[freshID].ExitedAt)
}

func TestSweepExactlyAtThresholdIsFresh(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	id := seedSession(store, uuid.New(), now.Add(-5*time.Minute))

	sw := NewSweeper(store, nil, nil, nil, 5*time.Minute)
	sw.now = func() time.Time { return now }

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Found)
	assert.Nil(t, store.sessions[id].ExitedAt)
}

func TestSweepContinuesPastRowErrors(t *testing.T) {
	store := newFakeStore()
	eventID := uuid.New()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	badID := seedSession(store, eventID, now.Add(-10*time.Minute))
	goodID := seedSession(store, eventID, now.Add(-8*time.Minute))
	store.closeErr[badID] = errors.New("deadlock detected")

	sw := NewSweeper(store, nil, nil, nil, 5*time.Minute)
	sw.now = func() time.Time { return now }

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Found)
	assert.Equal(t, 1, report.Closed)
	assert.Len(t, report.Errors, 1)
	assert.NotNil(t, store.sessions[goodID].ExitedAt)
	assert.Nil(t, store.sessions[badID].ExitedAt)
}

func TestSweepSkipsAlreadyClosedRows(t *testing.T) {
	store := newFakeStore()
	eventID := uuid.New()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	id := seedSession(store, eventID, now.Add(-6*time.Minute))
	exit := now.Add(-time.Minute)
	store.sessions[id].ExitedAt = &exit

	sw := NewSweeper(store, nil, nil, nil, 5*time.Minute)
	sw.now = func() time.Time { return now }

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Found)
	assert.Equal(t, 0, report.Closed)
	assert.Equal(t, exit, *store.sessions[id].ExitedAt)
}

func TestSweepEnqueuesOneRollupPerEvent(t *testing.T) {
	store := newFakeStore()
	eventA := uuid.New()
	eventB := uuid.New()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	seedSession(store, eventA, now.Add(-6*time.Minute))
	seedSession(store, eventA, now.Add(-7*time.Minute))
	seedSession(store, eventB, now.Add(-6*time.Minute))

	rollups := &fakeEnqueuer{}
	sw := NewSweeper(store, rollups, nil, nil, 5*time.Minute)
	sw.now = func() time.Time { return now }

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Closed)

	assert.Len(t, rollups.events, 2)
	assert.Contains(t, rollups.events, eventA)
	assert.Contains(t, rollups.events, eventB)
}

func TestSweepRollupFailureDoesNotFailSweep(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	seedSession(store, uuid.New(), now.Add(-6*time.Minute))

	rollups := &fakeEnqueuer{err: errors.New("redis unavailable")}
	sw := NewSweeper(store, rollups, nil, nil, 5*time.Minute)
	sw.now = func() time.Time { return now }

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)
	assert.Empty(t, report.Errors)
}
