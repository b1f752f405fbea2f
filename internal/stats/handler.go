package stats

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inev/engage/internal/events"
	"github.com/inev/engage/pkg/response"
)

// Handler serves the operator statistics routes and the internal sampling
// trigger. All /stats routes run behind events.RequireStatsAccess.
type Handler struct {
	service  *Service
	sampler  *Sampler
	exporter *Exporter
	logger   *zap.Logger
}

// NewHandler creates a stats handler. exporter may be nil when object
// storage is not configured; the export route then responds 500.
func NewHandler(service *Service, sampler *Sampler, exporter *Exporter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, sampler: sampler, exporter: exporter, logger: logger}
}

// parseRange reads optional from/to query params (RFC3339). Zero values mean
// "use the event's scheduled window".
func parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	var from, to time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(c, "from must be RFC3339")
			return from, to, false
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(c, "to must be RFC3339")
			return from, to, false
		}
		to = t
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		response.BadRequest(c, "to must be after from")
		return from, to, false
	}
	return from, to, true
}

// Access handles GET /events/:id/stats/access.
func (h *Handler) Access(c *gin.Context) {
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	event := events.EventFrom(c)
	tl, err := h.service.Query(c.Request.Context(), event, from, to)
	if err != nil {
		h.logger.Error("access stats failed", zap.Error(err), zap.String("event_id", event.ID.String()))
		response.Internal(c, "failed to load access statistics")
		return
	}
	response.OK(c, tl)
}

// Sessions handles GET /events/:id/stats/sessions.
func (h *Handler) Sessions(c *gin.Context) {
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	event := events.EventFrom(c)
	stats, err := h.service.SessionStats(c.Request.Context(), event, from, to)
	if err != nil {
		h.logger.Error("session stats failed", zap.Error(err), zap.String("event_id", event.ID.String()))
		response.Internal(c, "failed to load session statistics")
		return
	}
	response.OK(c, stats)
}

// Export handles GET /events/:id/stats/export.
func (h *Handler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Internal(c, "exports are not configured")
		return
	}
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	event := events.EventFrom(c)
	from, to = h.service.rangeOrDefault(event, from, to)
	result, err := h.exporter.Export(c.Request.Context(), event, from, to)
	if err != nil {
		h.logger.Error("stats export failed", zap.Error(err), zap.String("event_id", event.ID.String()))
		response.Internal(c, "failed to export statistics")
		return
	}
	response.OK(c, result)
}

// SampleNow handles POST /internal/sample, invoked by the external scheduler.
func (h *Handler) SampleNow(c *gin.Context) {
	sampled, err := h.sampler.Sample(c.Request.Context())
	if err != nil {
		h.logger.Error("sampling failed", zap.Error(err))
		response.Internal(c, "sampling failed")
		return
	}
	response.OK(c, gin.H{"events_sampled": sampled})
}
