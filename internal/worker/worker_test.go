package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inev/engage/internal/models"
	"github.com/inev/engage/pkg/queue"
)

type fakeRollupStore struct {
	computed   *models.EventEngagement
	computeErr error
	stored     *models.EventEngagement
}

func (f *fakeRollupStore) ComputeEngagement(_ context.Context, eventID uuid.UUID, now time.Time) (*models.EventEngagement, error) {
	if f.computeErr != nil {
		return nil, f.computeErr
	}
	eng := *f.computed
	eng.EventID = eventID
	eng.ComputedAt = now
	return &eng, nil
}

func (f *fakeRollupStore) UpsertEngagement(_ context.Context, eng *models.EventEngagement) error {
	f.stored = eng
	return nil
}

func rollupJob(t *testing.T, eventID uuid.UUID) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.EngagementRollupPayload{EventID: eventID})
	require.NoError(t, err)
	return &queue.Job{
		ID:      uuid.New().String(),
		Type:    queue.JobTypeEngagementRollup,
		Payload: payload,
	}
}

func TestProcessStoresRecomputedRollup(t *testing.T) {
	eventID := uuid.New()
	store := &fakeRollupStore{computed: &models.EventEngagement{
		TotalSessions:     12,
		UniqueViewers:     8,
		TotalWatchSeconds: 14400,
		AvgWatchSeconds:   1200,
		PeakConcurrent:    9,
	}}
	p := NewEngagementProcessor(store, nil, nil, nil)
	now := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	require.NoError(t, p.Process(context.Background(), rollupJob(t, eventID)))

	require.NotNil(t, store.stored)
	assert.Equal(t, eventID, store.stored.EventID)
	assert.Equal(t, 12, store.stored.TotalSessions)
	assert.Equal(t, now, store.stored.ComputedAt)
}

func TestProcessRejectsUnknownJobType(t *testing.T) {
	p := NewEngagementProcessor(&fakeRollupStore{}, nil, nil, nil)
	err := p.Process(context.Background(), &queue.Job{Type: "resize_thumbnails"})
	assert.Error(t, err)
}

func TestProcessPropagatesComputeError(t *testing.T) {
	store := &fakeRollupStore{computeErr: errors.New("timeout")}
	p := NewEngagementProcessor(store, nil, nil, nil)
	err := p.Process(context.Background(), rollupJob(t, uuid.New()))
	assert.Error(t, err)
	assert.Nil(t, store.stored)
}
