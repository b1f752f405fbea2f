package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the scheduled broadcast this engine tracks sessions for.
// Events are owned by the management product; this engine only reads them
// for existence checks and stats-range defaults.
type Event struct {
	ID               uuid.UUID  `json:"id"`
	Slug             string     `json:"slug"`
	Title            string     `json:"title"`
	ScheduledStartAt *time.Time `json:"scheduled_start_at,omitempty"`
	ScheduledEndAt   *time.Time `json:"scheduled_end_at,omitempty"`
	OndemandEnabled  bool       `json:"ondemand_enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ScheduledWindow returns the event's scheduled start/end, falling back to
// the given defaults when either side is unset.
func (e *Event) ScheduledWindow(defaultFrom, defaultTo time.Time) (time.Time, time.Time) {
	from, to := defaultFrom, defaultTo
	if e.ScheduledStartAt != nil {
		from = *e.ScheduledStartAt
	}
	if e.ScheduledEndAt != nil {
		to = *e.ScheduledEndAt
	}
	return from, to
}

// IsLiveAt reports whether now falls inside the scheduled window.
// Events without a schedule are never considered live.
func (e *Event) IsLiveAt(now time.Time) bool {
	if e.ScheduledStartAt == nil || e.ScheduledEndAt == nil {
		return false
	}
	return !now.Before(*e.ScheduledStartAt) && now.Before(*e.ScheduledEndAt)
}
