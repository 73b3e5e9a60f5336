package types

import "context"

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	ActorTypeStaff  ActorType = "staff"
	ActorTypeSystem ActorType = "system"
)

// Actor represents the authenticated entity performing an operation.
type Actor struct {
	ID             string    `json:"id"`
	Type           ActorType `json:"type"`
	OrganizationID string    `json:"organization_id"`
	Role           StaffRole `json:"role"`
}

// staffRoleRank orders roles for permission checks.
// Representative > Admin > Caregiver.
var staffRoleRank = map[StaffRole]int{
	RoleCaregiver:      0,
	RoleAdmin:          1,
	RoleRepresentative: 2,
}

// RoleHasAtLeast reports whether the actor's role meets the given minimum.
// Unknown roles rank below every defined role.
func (a Actor) RoleHasAtLeast(min StaffRole) bool {
	return staffRoleRank[a.Role] >= staffRoleRank[min]
}

// Context Keys
type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// GetOrgID retrieves the authenticated organization ID from the context.
func GetOrgID(ctx context.Context) (string, bool) {
	actor, ok := GetActor(ctx)
	if !ok || actor.OrganizationID == "" {
		return "", false
	}
	return actor.OrganizationID, true
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
