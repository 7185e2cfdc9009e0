package shared

import "context"

// Actor identifies the authenticated caller. Identity lookup itself happens in
// an external gateway; the engine only needs the id and role it forwards.
type Actor struct {
	ID   int64
	Role string
}

// Roles understood by the engine.
const (
	RoleAdmin      = "ADMIN"
	RoleWarehouse  = "WAREHOUSE"
	RolePurchasing = "PURCHASING"
	RoleViewer     = "VIEWER"
)

// CanPostStock reports whether the role may post movements and goods receipts.
func (a Actor) CanPostStock() bool {
	return a.Role == RoleAdmin || a.Role == RoleWarehouse
}

// CanApprove reports whether the role may approve or reject documents.
func (a Actor) CanApprove() bool {
	return a.Role == RoleAdmin || a.Role == RolePurchasing
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
