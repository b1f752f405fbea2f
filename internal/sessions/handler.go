package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inev/engage/internal/metrics"
	"github.com/inev/engage/internal/middleware"
	"github.com/inev/engage/internal/models"
	"github.com/inev/engage/pkg/response"
)

// EventSource verifies the target event exists before opening a session.
type EventSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Handler handles session start/heartbeat/exit plus the internal sweep
// trigger.
type Handler struct {
	service *Service
	sweeper *Sweeper
	events  EventSource
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(service *Service, sweeper *Sweeper, events EventSource, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, sweeper: sweeper, events: events, metrics: m, logger: logger}
}

type startRequest struct {
	SessionToken string     `json:"session_token" binding:"required"`
	ContentID    *uuid.UUID `json:"content_id"`
}

// Start handles POST /events/:id/sessions/start. Anonymous viewers are
// allowed; a viewer identity is attached when the caller sent a valid token.
func (h *Handler) Start(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "session_token is required")
		return
	}
	event, err := h.events.GetByID(c.Request.Context(), eventID)
	if err != nil {
		response.Internal(c, "failed to load event")
		return
	}
	if event == nil {
		response.NotFound(c, "event not found")
		return
	}
	if req.ContentID != nil && !event.OndemandEnabled {
		response.BadRequest(c, "on-demand playback not enabled for this event")
		return
	}

	params := StartParams{
		EventID:      eventID,
		SessionToken: req.SessionToken,
		ContentID:    req.ContentID,
	}
	if claims := middleware.ClaimsFrom(c); claims != nil {
		viewerID := claims.ViewerID
		params.ViewerID = &viewerID
	}
	if ua := c.GetHeader("User-Agent"); ua != "" {
		params.UserAgent = &ua
	}
	if ip := c.ClientIP(); ip != "" {
		params.IPAddress = &ip
	}

	sess, resumed, err := h.service.StartOrResume(c.Request.Context(), params)
	if err != nil {
		h.logger.Error("start session", zap.Error(err), zap.String("event_id", eventID.String()))
		response.Internal(c, "failed to start session")
		return
	}
	response.OK(c, gin.H{
		"session_id": sess.ID,
		"resumed":    resumed,
	})
}

type heartbeatRequest struct {
	DeltaSeconds int64 `json:"delta_seconds"`
	IsPlaying    bool  `json:"is_playing"`
}

// Heartbeat handles POST /sessions/:id/heartbeat. Responds 404 when the
// session is missing or closed so the client restarts via start.
func (h *Handler) Heartbeat(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "delta_seconds and is_playing are required")
		return
	}

	res, err := h.service.Heartbeat(c.Request.Context(), sessionID, req.DeltaSeconds, req.IsPlaying)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			h.countHeartbeat(metrics.HeartbeatRejected)
			response.NotFound(c, "session not found")
			return
		}
		// Heartbeats are fire-and-forget for the client; log and let the
		// next scheduled heartbeat be the retry.
		h.logger.Warn("heartbeat failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "heartbeat failed")
		return
	}

	switch {
	case res.Accumulated:
		h.countHeartbeat(metrics.HeartbeatAccumulated)
	case !req.IsPlaying:
		h.countHeartbeat(metrics.HeartbeatPaused)
	default:
		h.countHeartbeat(metrics.HeartbeatThrottled)
	}
	response.OK(c, gin.H{
		"accepted":        res.Accepted,
		"watched_seconds": res.WatchedSeconds,
	})
}

// Exit handles POST /sessions/:id/exit. Idempotent: repeated exits succeed.
func (h *Handler) Exit(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if err := h.service.Close(c.Request.Context(), sessionID, time.Time{}); err != nil {
		h.logger.Warn("exit failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "exit failed")
		return
	}
	response.NoContent(c)
}

// SweepNow handles POST /internal/sweep, invoked by the external scheduler.
func (h *Handler) SweepNow(c *gin.Context) {
	report, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		h.logger.Error("sweep failed", zap.Error(err))
		response.Internal(c, "sweep failed")
		return
	}
	response.OK(c, report)
}

func (h *Handler) countHeartbeat(outcome string) {
	if h.metrics != nil {
		h.metrics.IncHeartbeat(outcome)
	}
}
