package models

import (
	"time"

	"github.com/google/uuid"
)

// EventVisit is one landing-page view for an event. On-demand session starts
// link back to the most recent visit with the same session token within a
// short lookback window (best-effort attribution, not an invariant).
type EventVisit struct {
	ID           uuid.UUID `json:"id"`
	EventID      uuid.UUID `json:"event_id"`
	SessionToken string    `json:"session_token"`
	LandingPath  *string   `json:"landing_path,omitempty"`
	Referrer     *string   `json:"referrer,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
