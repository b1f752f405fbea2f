package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/inev/engage/internal/models"
)

// entryBucketWidth groups session entries for the entry timeline.
const entryBucketWidth = 5 * time.Minute

// completionFraction of the scheduled duration a session must have watched
// to count as a completion.
const completionFraction = 0.8

// BucketSource reads concurrency buckets.
type BucketSource interface {
	Range(ctx context.Context, eventID uuid.UUID, from, to time.Time) ([]models.AccessBucket, error)
}

// SessionSource reads closed sessions for watch-time statistics and exports.
type SessionSource interface {
	ClosedSessions(ctx context.Context, eventID uuid.UUID, from, to time.Time) ([]ClosedSession, error)
}

// AudienceSource reports the current active-viewer count.
type AudienceSource interface {
	AudienceCount(ctx context.Context, eventID uuid.UUID) (int, error)
}

// Service is the read side of the statistics engine.
type Service struct {
	buckets  BucketSource
	sessions SessionSource
	audience AudienceSource
	now      func() time.Time
}

// NewService creates the statistics read service.
func NewService(buckets BucketSource, sessions SessionSource, audience AudienceSource) *Service {
	return &Service{buckets: buckets, sessions: sessions, audience: audience, now: time.Now}
}

// TimelinePoint is one bucket in API form.
type TimelinePoint struct {
	Time time.Time `json:"time"`
	Avg  float64   `json:"avg"`
	Min  int       `json:"min"`
	Max  int       `json:"max"`
	Last int       `json:"last"`
}

// Peak marks the bucket holding the range's concurrency high-water mark.
type Peak struct {
	Time         time.Time `json:"time"`
	Participants int       `json:"participants"`
}

// Timeline is the concurrency view over a time range.
type Timeline struct {
	EventID       uuid.UUID       `json:"event_id"`
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	CurrentActive int             `json:"current_active"`
	MaxConcurrent int             `json:"max_concurrent"`
	AvgConcurrent float64         `json:"avg_concurrent"`
	Peak          *Peak           `json:"peak,omitempty"`
	Points        []TimelinePoint `json:"points"`
}

// rangeOrDefault fills missing range bounds from the event's scheduled
// window, falling back to the trailing 24 hours for unscheduled events.
func (s *Service) rangeOrDefault(event *models.Event, from, to time.Time) (time.Time, time.Time) {
	now := s.now()
	defFrom, defTo := event.ScheduledWindow(now.Add(-24*time.Hour), now)
	if from.IsZero() {
		from = defFrom
	}
	if to.IsZero() {
		to = defTo
	}
	return from, to
}

// Query returns the event's concurrency timeline over [from, to). The
// average is weighted by sample count, not averaged per bucket: a bucket
// holding 5 samples summing 80 contributes 80 and 5, so sparse buckets do
// not distort the range average. An empty range yields zeroes, not an error.
func (s *Service) Query(ctx context.Context, event *models.Event, from, to time.Time) (*Timeline, error) {
	from, to = s.rangeOrDefault(event, from, to)

	buckets, err := s.buckets.Range(ctx, event.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("read buckets: %w", err)
	}

	tl := &Timeline{
		EventID: event.ID,
		From:    from,
		To:      to,
		Points:  make([]TimelinePoint, 0, len(buckets)),
	}
	var sumAll, countAll int64
	for i := range buckets {
		b := &buckets[i]
		tl.Points = append(tl.Points, TimelinePoint{
			Time: b.BucketTime,
			Avg:  b.Avg(),
			Min:  b.MinParticipants,
			Max:  b.MaxParticipants,
			Last: b.LastParticipants,
		})
		sumAll += b.SumParticipants
		countAll += int64(b.SampleCount)
		if b.MaxParticipants > tl.MaxConcurrent || tl.Peak == nil {
			tl.MaxConcurrent = b.MaxParticipants
			tl.Peak = &Peak{Time: b.BucketTime, Participants: b.MaxParticipants}
		}
	}
	if countAll > 0 {
		tl.AvgConcurrent = float64(sumAll) / float64(countAll)
	}

	if s.audience != nil {
		current, err := s.audience.AudienceCount(ctx, event.ID)
		if err != nil {
			return nil, fmt.Errorf("count current audience: %w", err)
		}
		tl.CurrentActive = current
	}
	return tl, nil
}

// DistributionBand is one watch-time histogram band.
type DistributionBand struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// EntryPoint counts session entries inside one timeline slot.
type EntryPoint struct {
	Time  time.Time `json:"time"`
	Count int       `json:"count"`
}

// TopViewer ranks one identified viewer by accumulated watch time.
type TopViewer struct {
	ViewerID       uuid.UUID `json:"viewer_id"`
	Sessions       int       `json:"sessions"`
	WatchedSeconds int64     `json:"watched_seconds"`
}

// WatchStats summarizes closed sessions over a range.
type WatchStats struct {
	EventID              uuid.UUID          `json:"event_id"`
	From                 time.Time          `json:"from"`
	To                   time.Time          `json:"to"`
	TotalSessions        int                `json:"total_sessions"`
	UniqueViewers        int                `json:"unique_viewers"`
	AnonymousSessions    int                `json:"anonymous_sessions"`
	TotalWatchSeconds    int64              `json:"total_watch_seconds"`
	AvgWatchSeconds      int64              `json:"avg_watch_seconds"`
	ReturningViewerRate  float64            `json:"returning_viewer_rate"`
	AvgSessionsPerViewer float64            `json:"avg_sessions_per_viewer"`
	CompletionRate       float64            `json:"completion_rate"`
	Distribution         []DistributionBand `json:"distribution"`
	EntryTimeline        []EntryPoint       `json:"entry_timeline"`
	TopViewers           []TopViewer        `json:"top_viewers"`
}

// SessionStats computes watch-time statistics over the event's closed
// sessions entered within [from, to). Open sessions are excluded.
func (s *Service) SessionStats(ctx context.Context, event *models.Event, from, to time.Time) (*WatchStats, error) {
	from, to = s.rangeOrDefault(event, from, to)

	closed, err := s.sessions.ClosedSessions(ctx, event.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("read closed sessions: %w", err)
	}

	stats := &WatchStats{
		EventID:      event.ID,
		From:         from,
		To:           to,
		Distribution: newDistribution(),
	}
	if len(closed) == 0 {
		stats.EntryTimeline = []EntryPoint{}
		stats.TopViewers = []TopViewer{}
		return stats, nil
	}

	var scheduledSeconds int64
	if event.ScheduledStartAt != nil && event.ScheduledEndAt != nil {
		scheduledSeconds = int64(event.ScheduledEndAt.Sub(*event.ScheduledStartAt).Seconds())
	}

	perViewer := make(map[uuid.UUID]*TopViewer)
	entries := make(map[time.Time]int)
	completed := 0
	for _, sess := range closed {
		stats.TotalSessions++
		stats.TotalWatchSeconds += sess.WatchedSeconds
		entries[sess.EnteredAt.Truncate(entryBucketWidth)]++
		bandFor(stats.Distribution, sess.WatchedSeconds)

		if sess.ViewerID == nil {
			stats.AnonymousSessions++
		} else {
			tv := perViewer[*sess.ViewerID]
			if tv == nil {
				tv = &TopViewer{ViewerID: *sess.ViewerID}
				perViewer[*sess.ViewerID] = tv
			}
			tv.Sessions++
			tv.WatchedSeconds += sess.WatchedSeconds
		}
		if scheduledSeconds > 0 && float64(sess.WatchedSeconds) >= completionFraction*float64(scheduledSeconds) {
			completed++
		}
	}

	stats.AvgWatchSeconds = stats.TotalWatchSeconds / int64(stats.TotalSessions)
	stats.CompletionRate = float64(completed) / float64(stats.TotalSessions)
	stats.UniqueViewers = len(perViewer)

	if stats.UniqueViewers > 0 {
		returning := 0
		identified := 0
		for _, tv := range perViewer {
			identified += tv.Sessions
			if tv.Sessions > 1 {
				returning++
			}
		}
		stats.ReturningViewerRate = float64(returning) / float64(stats.UniqueViewers)
		stats.AvgSessionsPerViewer = float64(identified) / float64(stats.UniqueViewers)
	}

	stats.EntryTimeline = make([]EntryPoint, 0, len(entries))
	for t, n := range entries {
		stats.EntryTimeline = append(stats.EntryTimeline, EntryPoint{Time: t, Count: n})
	}
	sort.Slice(stats.EntryTimeline, func(i, j int) bool {
		return stats.EntryTimeline[i].Time.Before(stats.EntryTimeline[j].Time)
	})

	stats.TopViewers = make([]TopViewer, 0, len(perViewer))
	for _, tv := range perViewer {
		stats.TopViewers = append(stats.TopViewers, *tv)
	}
	sort.Slice(stats.TopViewers, func(i, j int) bool {
		if stats.TopViewers[i].WatchedSeconds != stats.TopViewers[j].WatchedSeconds {
			return stats.TopViewers[i].WatchedSeconds > stats.TopViewers[j].WatchedSeconds
		}
		return stats.TopViewers[i].ViewerID.String() < stats.TopViewers[j].ViewerID.String()
	})
	if len(stats.TopViewers) > 5 {
		stats.TopViewers = stats.TopViewers[:5]
	}
	return stats, nil
}

func newDistribution() []DistributionBand {
	return []DistributionBand{
		{Label: "<5m"},
		{Label: "5-10m"},
		{Label: "10-30m"},
		{Label: "30-60m"},
		{Label: ">=1h"},
	}
}

func bandFor(bands []DistributionBand, watchedSeconds int64) {
	minutes := watchedSeconds / 60
	switch {
	case minutes < 5:
		bands[0].Count++
	case minutes < 10:
		bands[1].Count++
	case minutes < 30:
		bands[2].Count++
	case minutes < 60:
		bands[3].Count++
	default:
		bands[4].Count++
	}
}
