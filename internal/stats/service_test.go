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

type bucketKey struct {
	event uuid.UUID
	at    time.Time
}

// fakeBucketStore mirrors the fold-upsert semantics in memory.
type fakeBucketStore struct {
	buckets map[bucketKey]*models.AccessBucket
	foldErr map[uuid.UUID]error
}

func newFakeBucketStore() *fakeBucketStore {
	return &fakeBucketStore{
		buckets: make(map[bucketKey]*models.AccessBucket),
		foldErr: make(map[uuid.UUID]error),
	}
}

func (f *fakeBucketStore) Fold(_ context.Context, eventID uuid.UUID, bucketTime time.Time, participants int) error {
	if err := f.foldErr[eventID]; err != nil {
		return err
	}
	k := bucketKey{eventID, bucketTime}
	b, ok := f.buckets[k]
	if !ok {
		f.buckets[k] = &models.AccessBucket{
			EventID:          eventID,
			BucketTime:       bucketTime,
			SampleCount:      1,
			SumParticipants:  int64(participants),
			MinParticipants:  participants,
			MaxParticipants:  participants,
			LastParticipants: participants,
		}
		return nil
	}
	b.SampleCount++
	b.SumParticipants += int64(participants)
	if participants < b.MinParticipants {
		b.MinParticipants = participants
	}
	if participants > b.MaxParticipants {
		b.MaxParticipants = participants
	}
	b.LastParticipants = participants
	return nil
}

func (f *fakeBucketStore) Range(_ context.Context, eventID uuid.UUID, from, to time.Time) ([]models.AccessBucket, error) {
	var out []models.AccessBucket
	for k, b := range f.buckets {
		if k.event == eventID && !b.BucketTime.Before(from) && b.BucketTime.Before(to) {
			out = append(out, *b)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].BucketTime.Before(out[i].BucketTime) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

type fakeSessionSource struct {
	sessions []ClosedSession
	err      error
}

func (f *fakeSessionSource) ClosedSessions(_ context.Context, _ uuid.UUID, from, to time.Time) ([]ClosedSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []ClosedSession
	for _, s := range f.sessions {
		if !s.EnteredAt.Before(from) && s.EnteredAt.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeAudience struct{ count int }

func (f *fakeAudience) AudienceCount(context.Context, uuid.UUID) (int, error) {
	return f.count, nil
}

func scheduledEvent(start, end time.Time) *models.Event {
	return &models.Event{
		ID:               uuid.New(),
		Slug:             "launch",
		Title:            "Launch",
		ScheduledStartAt: &start,
		ScheduledEndAt:   &end,
	}
}

func TestFoldAggregates(t *testing.T) {
	store := newFakeBucketStore()
	eventID := uuid.New()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for _, v := range []int{12, 20, 8, 20, 20} {
		require.NoError(t, store.Fold(context.Background(), eventID, at, v))
	}

	b := store.buckets[bucketKey{eventID, at}]
	assert.Equal(t, 5, b.SampleCount)
	assert.Equal(t, int64(80), b.SumParticipants)
	assert.Equal(t, 8, b.MinParticipants)
	assert.Equal(t, 20, b.MaxParticipants)
	assert.Equal(t, 20, b.LastParticipants)
	assert.Equal(t, 16.0, b.Avg())
}

func TestQueryWeightedAverage(t *testing.T) {
	store := newFakeBucketStore()
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	event := scheduledEvent(start, start.Add(time.Hour))

	// One dense bucket (5 samples, sum 80) and one sparse (1 sample of 10).
	// The range average weights by sample count: 90/6 = 15, not (16+10)/2.
	for _, v := range []int{12, 20, 8, 20, 20} {
		require.NoError(t, store.Fold(context.Background(), event.ID, start, v))
	}
	require.NoError(t, store.Fold(context.Background(), event.ID, start.Add(time.Minute), 10))

	svc := NewService(store, nil, &fakeAudience{count: 7})
	tl, err := svc.Query(context.Background(), event, time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.InDelta(t, 15.0, tl.AvgConcurrent, 1e-9)
	assert.Equal(t, 20, tl.MaxConcurrent)
	require.NotNil(t, tl.Peak)
	assert.Equal(t, start, tl.Peak.Time)
	assert.Equal(t, 7, tl.CurrentActive)
	require.Len(t, tl.Points, 2)
	assert.Equal(t, 16.0, tl.Points[0].Avg)
	assert.True(t, tl.Points[0].Time.Before(tl.Points[1].Time))
}

func TestQueryEmptyRange(t *testing.T) {
	store := newFakeBucketStore()
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	event := scheduledEvent(start, start.Add(time.Hour))

	svc := NewService(store, nil, nil)
	tl, err := svc.Query(context.Background(), event, time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Zero(t, tl.AvgConcurrent)
	assert.Zero(t, tl.MaxConcurrent)
	assert.Nil(t, tl.Peak)
	assert.Empty(t, tl.Points)
}

func TestQueryDefaultsToScheduledWindow(t *testing.T) {
	store := newFakeBucketStore()
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	event := scheduledEvent(start, end)

	// A bucket outside the scheduled window must not leak into the default
	// range.
	require.NoError(t, store.Fold(context.Background(), event.ID, start.Add(-10*time.Minute), 99))
	require.NoError(t, store.Fold(context.Background(), event.ID, start.Add(5*time.Minute), 3))

	svc := NewService(store, nil, nil)
	tl, err := svc.Query(context.Background(), event, time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, start, tl.From)
	assert.Equal(t, end, tl.To)
	require.Len(t, tl.Points, 1)
	assert.Equal(t, 3, tl.Points[0].Max)
}

func TestSessionStatsMath(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	event := scheduledEvent(start, start.Add(time.Hour)) // 3600s scheduled

	alice := uuid.New()
	bob := uuid.New()
	src := &fakeSessionSource{sessions: []ClosedSession{
		{ID: uuid.New(), ViewerID: &alice, SessionToken: "a1", EnteredAt: start.Add(1 * time.Minute), ExitedAt: start.Add(55 * time.Minute), WatchedSeconds: 3200},
		{ID: uuid.New(), ViewerID: &alice, SessionToken: "a2", EnteredAt: start.Add(12 * time.Minute), ExitedAt: start.Add(20 * time.Minute), WatchedSeconds: 400},
		{ID: uuid.New(), ViewerID: &bob, SessionToken: "b1", EnteredAt: start.Add(2 * time.Minute), ExitedAt: start.Add(17 * time.Minute), WatchedSeconds: 900},
		{ID: uuid.New(), ViewerID: nil, SessionToken: "anon", EnteredAt: start.Add(3 * time.Minute), ExitedAt: start.Add(6 * time.Minute), WatchedSeconds: 180},
	}}

	svc := NewService(newFakeBucketStore(), src, nil)
	stats, err := svc.SessionStats(context.Background(), event, time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 4, stats.TotalSessions)
	assert.Equal(t, 2, stats.UniqueViewers)
	assert.Equal(t, 1, stats.AnonymousSessions)
	assert.Equal(t, int64(4680), stats.TotalWatchSeconds)
	assert.Equal(t, int64(1170), stats.AvgWatchSeconds)

	// Alice came back; Bob did not.
	assert.InDelta(t, 0.5, stats.ReturningViewerRate, 1e-9)
	assert.InDelta(t, 1.5, stats.AvgSessionsPerViewer, 1e-9)

	// Only the 3200s session clears 80% of the 3600s schedule.
	assert.InDelta(t, 0.25, stats.CompletionRate, 1e-9)

	// Histogram: 180s -> <5m, 400s -> 5-10m, 900s -> 10-30m, 3200s -> 30-60m.
	require.Len(t, stats.Distribution, 5)
	assert.Equal(t, 1, stats.Distribution[0].Count)
	assert.Equal(t, 1, stats.Distribution[1].Count)
	assert.Equal(t, 1, stats.Distribution[2].Count)
	assert.Equal(t, 1, stats.Distribution[3].Count)
	assert.Equal(t, 0, stats.Distribution[4].Count)

	// Entries at 10:01, 10:02, 10:03 share the 10:00 slot; 10:12 is its own.
	require.Len(t, stats.EntryTimeline, 2)
	assert.Equal(t, start, stats.EntryTimeline[0].Time)
	assert.Equal(t, 3, stats.EntryTimeline[0].Count)
	assert.Equal(t, start.Add(10*time.Minute), stats.EntryTimeline[1].Time)
	assert.Equal(t, 1, stats.EntryTimeline[1].Count)

	require.Len(t, stats.TopViewers, 2)
	assert.Equal(t, alice, stats.TopViewers[0].ViewerID)
	assert.Equal(t, int64(3600), stats.TopViewers[0].WatchedSeconds)
	assert.Equal(t, 2, stats.TopViewers[0].Sessions)
	assert.Equal(t, bob, stats.TopViewers[1].ViewerID)
}

func TestSessionStatsEmptyRange(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	event := scheduledEvent(start, start.Add(time.Hour))

	svc := NewService(newFakeBucketStore(), &fakeSessionSource{}, nil)
	stats, err := svc.SessionStats(context.Background(), event, time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Zero(t, stats.TotalSessions)
	assert.Zero(t, stats.AvgWatchSeconds)
	assert.Zero(t, stats.CompletionRate)
	assert.Empty(t, stats.EntryTimeline)
	assert.Empty(t, stats.TopViewers)
}

func TestSessionStatsSourceError(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	event := scheduledEvent(start, start.Add(time.Hour))

	svc := NewService(newFakeBucketStore(), &fakeSessionSource{err: errors.New("timeout")}, nil)
	_, err := svc.SessionStats(context.Background(), event, time.Time{}, time.Time{})
	assert.Error(t, err)
}
