package models

import (
	"time"

	"github.com/google/uuid"
)

// ViewerSession is one viewing session: one viewer watching one event from
// one tab, reconnect-tolerant via the client-generated session token.
// A session is open while ExitedAt is nil; closing is terminal.
type ViewerSession struct {
	ID              uuid.UUID  `json:"id"`
	EventID         uuid.UUID  `json:"event_id"`
	ViewerID        *uuid.UUID `json:"viewer_id,omitempty"` // nil for anonymous viewers
	SessionToken    string     `json:"session_token"`
	ContentID       *uuid.UUID `json:"content_id,omitempty"`       // set for on-demand playback
	SourceVisitID   *uuid.UUID `json:"source_visit_id,omitempty"`  // best-effort backlink to the referring pageview
	EnteredAt       time.Time  `json:"entered_at"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
	ExitedAt        *time.Time `json:"exited_at,omitempty"`
	WatchedSeconds  int64      `json:"watched_seconds"`
	HeartbeatCount  int        `json:"heartbeat_count"`
	UserAgent       *string    `json:"user_agent,omitempty"`
	IPAddress       *string    `json:"ip_address,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Open reports whether the session has not been closed yet.
func (s *ViewerSession) Open() bool {
	return s.ExitedAt == nil
}

// LastActivity returns the most recent signal from the client:
// the last heartbeat if one arrived, otherwise the entry time.
func (s *ViewerSession) LastActivity() time.Time {
	if s.LastHeartbeatAt != nil {
		return *s.LastHeartbeatAt
	}
	return s.EnteredAt
}
