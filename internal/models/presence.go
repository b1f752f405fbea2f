package models

import (
	"time"

	"github.com/google/uuid"
)

// Presence is the lightweight "last seen" record per (event, viewer),
// overwritten in place. It answers "is this viewer active right now" and is
// deliberately decoupled from the heavier watch-time bookkeeping in
// ViewerSession: a ping always refreshes Presence even when the session
// heartbeat path throttles accumulation.
type Presence struct {
	EventID    uuid.UUID `json:"event_id"`
	ViewerID   uuid.UUID `json:"viewer_id"`
	JoinedAt   time.Time `json:"joined_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
