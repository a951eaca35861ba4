package shared

import (
	"context"
	"fmt"
)

// Role is the caller role asserted by the identity provider.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
)

// Valid reports whether the role is one the engine understands.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAdmin, RoleStaff:
		return true
	}
	return false
}

// Privileged reports whether the role may mutate catalog, stock and coupons.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleStaff
}

// Actor describes the authenticated caller.
type Actor struct {
	ID   int64
	Role Role
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ActorID returns the caller id or zero for anonymous calls.
func ActorID(ctx context.Context) int64 {
	actor, _ := ActorFromContext(ctx)
	return actor.ID
}

// RequireActor fails with ErrForbidden when no authenticated actor is present.
func RequireActor(ctx context.Context) (Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Role.Valid() {
		return Actor{}, fmt.Errorf("authentication required: %w", ErrForbidden)
	}
	return actor, nil
}

// RequireStaff fails with ErrForbidden unless the caller is admin or staff.
func RequireStaff(ctx context.Context) (Actor, error) {
	actor, err := RequireActor(ctx)
	if err != nil {
		return Actor{}, err
	}
	if !actor.Role.Privileged() {
		return Actor{}, fmt.Errorf("role %s: %w", actor.Role, ErrForbidden)
	}
	return actor, nil
}
