package presence

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inev/engage/internal/auth"
	"github.com/inev/engage/internal/middleware"
	"github.com/inev/engage/pkg/response"
)

// Handler handles presence pings and audience counts.
type Handler struct {
	tracker *Tracker
	gate    auth.Gate
	logger  *zap.Logger
}

// NewHandler creates a presence handler.
func NewHandler(tracker *Tracker, gate auth.Gate, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tracker: tracker, gate: gate, logger: logger}
}

// Ping handles POST /events/:id/presence/ping. Requires an identified viewer;
// anonymous traffic is tracked through sessions only.
func (h *Handler) Ping(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		response.Unauthorized(c, "viewer identity required")
		return
	}
	if err := h.gate.AllowViewer(c.Request.Context(), claims, eventID); err != nil {
		response.Forbidden(c, "not authorized for this event")
		return
	}
	if err := h.tracker.Ping(c.Request.Context(), eventID, claims.ViewerID); err != nil {
		h.logger.Warn("presence ping failed", zap.Error(err), zap.String("event_id", eventID.String()))
		response.Internal(c, "failed to record presence")
		return
	}
	response.NoContent(c)
}

// AudienceCount handles GET /events/:id/audience_count.
func (h *Handler) AudienceCount(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	n, err := h.tracker.AudienceCount(c.Request.Context(), eventID)
	if err != nil {
		h.logger.Error("audience count failed", zap.Error(err), zap.String("event_id", eventID.String()))
		response.Internal(c, "failed to count audience")
		return
	}
	response.OK(c, gin.H{
		"event_id":     eventID,
		"active_count": n,
	})
}
