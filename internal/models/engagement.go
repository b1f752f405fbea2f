package models

import (
	"time"

	"github.com/google/uuid"
)

// EventEngagement is the per-event rollup summary recomputed by the worker
// after sweeps close sessions. Dashboards read this instead of scanning raw
// session rows.
type EventEngagement struct {
	EventID           uuid.UUID `json:"event_id"`
	TotalSessions     int       `json:"total_sessions"`
	UniqueViewers     int       `json:"unique_viewers"`
	TotalWatchSeconds int64     `json:"total_watch_seconds"`
	AvgWatchSeconds   int64     `json:"avg_watch_seconds"`
	PeakConcurrent    int       `json:"peak_concurrent"`
	ComputedAt        time.Time `json:"computed_at"`
}
