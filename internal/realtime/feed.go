package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inev/engage/internal/auth"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Snapshot is one live-concurrency reading pushed to dashboard clients.
type Snapshot struct {
	EventID   uuid.UUID `json:"event_id"`
	Active    int       `json:"active"`
	Timestamp time.Time `json:"timestamp"`
}

// AudienceSource reports the current active-viewer count for an event.
type AudienceSource interface {
	AudienceCount(ctx context.Context, eventID uuid.UUID) (int, error)
}

type client struct {
	conn *websocket.Conn
	send chan Snapshot
}

// Feed pushes periodic concurrency snapshots to dashboard websockets. One
// reading per event per tick, fanned out to every subscriber of that event;
// events without subscribers are not polled.
type Feed struct {
	audience AudienceSource
	interval time.Duration
	logger   *zap.Logger

	mu     sync.RWMutex
	events map[uuid.UUID]map[*client]struct{}
}

// NewFeed creates a feed polling the audience source every interval.
func NewFeed(audience AudienceSource, interval time.Duration, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		audience: audience,
		interval: interval,
		logger:   logger,
		events:   make(map[uuid.UUID]map[*client]struct{}),
	}
}

// Run polls and broadcasts until the context is cancelled.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.closeAll()
			return
		case <-ticker.C:
			f.broadcast(ctx)
		}
	}
}

func (f *Feed) broadcast(ctx context.Context) {
	f.mu.RLock()
	ids := make([]uuid.UUID, 0, len(f.events))
	for id := range f.events {
		ids = append(ids, id)
	}
	f.mu.RUnlock()

	now := time.Now()
	for _, eventID := range ids {
		count, err := f.audience.AudienceCount(ctx, eventID)
		if err != nil {
			f.logger.Warn("audience poll failed", zap.Error(err), zap.String("event_id", eventID.String()))
			continue
		}
		snap := Snapshot{EventID: eventID, Active: count, Timestamp: now}

		f.mu.RLock()
		for c := range f.events[eventID] {
			select {
			case c.send <- snap:
			default:
				// Slow consumer; drop the reading, the next tick supersedes it.
			}
		}
		f.mu.RUnlock()
	}
}

func (f *Feed) subscribe(eventID uuid.UUID, c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events[eventID] == nil {
		f.events[eventID] = make(map[*client]struct{})
	}
	f.events[eventID][c] = struct{}{}
}

func (f *Feed) unsubscribe(eventID uuid.UUID, c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.events[eventID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(f.events, eventID)
		}
	}
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, set := range f.events {
		for c := range set {
			close(c.send)
		}
	}
	f.events = make(map[uuid.UUID]map[*client]struct{})
}

// SubscriberCount returns how many clients watch the event.
func (f *Feed) SubscriberCount(eventID uuid.UUID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.events[eventID])
}

// ServeWS handles GET /ws/stats?event_id&token. Auth rides the query string
// because browsers cannot set headers on websocket dials; the gate applies
// the same stats-tier rule as the HTTP routes.
func (f *Feed) ServeWS(jwt *auth.JWTService, gate auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, err := uuid.Parse(c.Query("event_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event_id"})
			return
		}
		claims, err := jwt.Validate(c.Query("token"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if err := gate.AllowStats(c.Request.Context(), claims, eventID); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for event statistics"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			f.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		cl := &client{conn: conn, send: make(chan Snapshot, 16)}
		f.subscribe(eventID, cl)
		f.logger.Debug("stats feed subscriber joined", zap.String("event_id", eventID.String()))

		go f.writePump(cl)
		go f.readPump(eventID, cl)
	}
}

// writePump delivers snapshots and keeps the connection alive with pings.
func (f *Feed) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case snap, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the feed is one-way. It exists to notice
// closes and answer pongs.
func (f *Feed) readPump(eventID uuid.UUID, c *client) {
	defer func() {
		f.unsubscribe(eventID, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
