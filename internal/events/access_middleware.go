package events

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inev/engage/internal/auth"
	"github.com/inev/engage/internal/middleware"
	"github.com/inev/engage/internal/models"
	"github.com/inev/engage/pkg/response"
)

// ContextEvent is the context key for the resolved event.
const ContextEvent = "event"

// RequireStatsAccess validates the event exists and that the gate approves
// the caller for the stats tier. Call after middleware.JWT.
func RequireStatsAccess(repo *Repository, gate auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid event id")
			c.Abort()
			return
		}
		e, err := repo.GetByID(c.Request.Context(), eventID)
		if err != nil || e == nil {
			response.NotFound(c, "event not found")
			c.Abort()
			return
		}
		claims := middleware.ClaimsFrom(c)
		if err := gate.AllowStats(c.Request.Context(), claims, eventID); err != nil {
			response.Forbidden(c, "not authorized for event statistics")
			c.Abort()
			return
		}
		c.Set(ContextEvent, e)
		c.Next()
	}
}

// EventFrom returns the event resolved by RequireStatsAccess.
func EventFrom(c *gin.Context) *models.Event {
	return c.MustGet(ContextEvent).(*models.Event)
}
