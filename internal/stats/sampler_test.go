package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inev/engage/internal/models"
)

type fakeActiveSource struct {
	counts map[uuid.UUID]int
	err    error
}

func (f *fakeActiveSource) ActiveByEvent(context.Context) (map[uuid.UUID]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[uuid.UUID]int, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out, nil
}

type fakeLiveEvents struct {
	events []models.Event
}

func (f *fakeLiveEvents) ListLiveAt(_ context.Context, now time.Time) ([]models.Event, error) {
	var out []models.Event
	for _, e := range f.events {
		if e.IsLiveAt(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func liveEvent(start, end time.Time) models.Event {
	return models.Event{ID: uuid.New(), ScheduledStartAt: &start, ScheduledEndAt: &end}
}

func TestSampleFoldsIntoTruncatedBucket(t *testing.T) {
	store := newFakeBucketStore()
	eventID := uuid.New()
	now := time.Date(2026, 3, 14, 10, 7, 42, 0, time.UTC)

	s := NewSampler(store, &fakeActiveSource{counts: map[uuid.UUID]int{eventID: 12}}, &fakeLiveEvents{}, time.Minute, nil, nil)
	s.now = func() time.Time { return now }

	folded, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, folded)

	slot := time.Date(2026, 3, 14, 10, 7, 0, 0, time.UTC)
	b := store.buckets[bucketKey{eventID, slot}]
	require.NotNil(t, b)
	assert.Equal(t, 1, b.SampleCount)
	assert.Equal(t, 12, b.LastParticipants)
}

func TestSampleFoldsZeroForQuietLiveEvents(t *testing.T) {
	store := newFakeBucketStore()
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	quiet := liveEvent(now.Add(-30*time.Minute), now.Add(30*time.Minute))
	ended := liveEvent(now.Add(-2*time.Hour), now.Add(-time.Hour))
	busyID := uuid.New()

	s := NewSampler(store,
		&fakeActiveSource{counts: map[uuid.UUID]int{busyID: 40}},
		&fakeLiveEvents{events: []models.Event{quiet, ended}},
		time.Minute, nil, nil)
	s.now = func() time.Time { return now }

	folded, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, folded)

	// The quiet live event gets an explicit zero sample so empty minutes
	// weigh into its average; the ended event gets nothing.
	zero := store.buckets[bucketKey{quiet.ID, now}]
	require.NotNil(t, zero)
	assert.Equal(t, 0, zero.LastParticipants)
	assert.Equal(t, 1, zero.SampleCount)
	assert.Nil(t, store.buckets[bucketKey{ended.ID, now}])
	assert.Equal(t, 40, store.buckets[bucketKey{busyID, now}].LastParticipants)
}

func TestSampleContinuesPastFoldErrors(t *testing.T) {
	store := newFakeBucketStore()
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	badID := uuid.New()
	goodID := uuid.New()
	store.foldErr[badID] = errors.New("constraint violation")

	s := NewSampler(store,
		&fakeActiveSource{counts: map[uuid.UUID]int{badID: 5, goodID: 9}},
		&fakeLiveEvents{}, time.Minute, nil, nil)
	s.now = func() time.Time { return now }

	folded, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, folded)
	assert.NotNil(t, store.buckets[bucketKey{goodID, now}])
}

func TestSampleSourceErrorFailsRun(t *testing.T) {
	s := NewSampler(newFakeBucketStore(), &fakeActiveSource{err: errors.New("redis down")}, &fakeLiveEvents{}, time.Minute, nil, nil)
	_, err := s.Sample(context.Background())
	assert.Error(t, err)
}
