package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrForbidden is returned when the gate declines a caller. Non-retryable.
var ErrForbidden = errors.New("forbidden")

// Stats-tier roles. Viewer-level tokens cannot read aggregated statistics.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleAnalyst  = "analyst"
	RoleViewer   = "viewer"
)

// Gate is the single capability-check consumed at the endpoint boundary.
// The real membership/role derivation lives in the management product; this
// engine only asks for a decision.
type Gate interface {
	// AllowViewer decides whether the caller may act as a viewer of the event
	// (start sessions, ping presence).
	AllowViewer(ctx context.Context, claims *Claims, eventID uuid.UUID) error
	// AllowStats decides whether the caller may read aggregated statistics
	// for the event (operator/analyst tier).
	AllowStats(ctx context.Context, claims *Claims, eventID uuid.UUID) error
}

// RoleGate authorizes from the token role alone. Deployments that need
// per-event membership checks swap in a Gate backed by the membership store.
type RoleGate struct{}

// NewRoleGate creates the default role-based gate.
func NewRoleGate() *RoleGate {
	return &RoleGate{}
}

// AllowViewer lets any authenticated caller act as a viewer.
func (g *RoleGate) AllowViewer(ctx context.Context, claims *Claims, eventID uuid.UUID) error {
	if claims == nil {
		return ErrForbidden
	}
	return nil
}

// AllowStats requires an elevated role.
func (g *RoleGate) AllowStats(ctx context.Context, claims *Claims, eventID uuid.UUID) error {
	if claims == nil {
		return ErrForbidden
	}
	switch claims.Role {
	case RoleAdmin, RoleOperator, RoleAnalyst:
		return nil
	}
	return ErrForbidden
}
