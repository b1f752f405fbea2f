package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inev/engage/internal/auth"
	"github.com/inev/engage/pkg/response"
)

const (
	// ContextClaims is the key for validated JWT claims in gin context.
	ContextClaims = "claims"
	// ContextViewerID is the key for viewer ID in gin context.
	ContextViewerID = "viewer_id"
	// ContextRole is the key for the caller role in gin context.
	ContextRole = "role"
)

// JWT returns a middleware that requires a valid bearer token and sets
// claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, jwtService)
		if !ok {
			response.Unauthorized(c, "missing or invalid authorization header")
			c.Abort()
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

// OptionalJWT validates a bearer token when present but lets anonymous
// callers through. Session starts and heartbeats allow anonymous viewers.
func OptionalJWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := bearerClaims(c, jwtService); ok {
			setClaims(c, claims)
		}
		c.Next()
	}
}

// ClaimsFrom returns the validated claims from context, nil for anonymous
// callers.
func ClaimsFrom(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(ContextClaims); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

func bearerClaims(c *gin.Context, jwtService *auth.JWTService) (*auth.Claims, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, false
	}
	claims, err := jwtService.Validate(parts[1])
	if err != nil {
		return nil, false
	}
	return claims, true
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ContextClaims, claims)
	c.Set(ContextViewerID, claims.ViewerID)
	c.Set(ContextRole, claims.Role)
}
