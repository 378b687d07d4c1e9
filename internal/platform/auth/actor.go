package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Role is the clinical role of the acting party.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	// RoleSystem is used by in-process collaborators such as the reminder dispatcher.
	RoleSystem Role = "system"
)

// ParseRole validates a role claim. Only patient and doctor are accepted from callers.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleDoctor:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor identifies who is performing an operation. Every workflow service
// operation receives the Actor explicitly.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

func (a Actor) IsPatient() bool { return a.Role == RolePatient }
func (a Actor) IsDoctor() bool  { return a.Role == RoleDoctor }

// Valid reports whether the actor carries an identity and a known role.
func (a Actor) Valid() bool {
	return a.ID != uuid.Nil && (a.Role == RolePatient || a.Role == RoleDoctor)
}

// WithActor stores the actor on ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ActorKey, a)
}

// ActorFromContext returns the actor set by the auth middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ActorKey).(Actor)
	if !ok || !a.Valid() {
		return Actor{}, false
	}
	return a, true
}
