package visits

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inev/engage/internal/models"
	"github.com/inev/engage/pkg/response"
)

// Handler handles POST /events/:id/visits.
type Handler struct {
	repo *Repository
}

// NewHandler creates a visits handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

type recordRequest struct {
	SessionToken string  `json:"session_token" binding:"required"`
	LandingPath  *string `json:"landing_path"`
	Referrer     *string `json:"referrer"`
}

// Record handles POST /events/:id/visits: logs one landing-page view so
// later on-demand session starts can attribute their referring visit.
func (h *Handler) Record(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "session_token is required")
		return
	}
	v := &models.EventVisit{
		EventID:      eventID,
		SessionToken: req.SessionToken,
		LandingPath:  req.LandingPath,
		Referrer:     req.Referrer,
	}
	if err := h.repo.Record(c.Request.Context(), v); err != nil {
		response.Internal(c, "failed to record visit")
		return
	}
	response.Created(c, gin.H{"visit_id": v.ID})
}
