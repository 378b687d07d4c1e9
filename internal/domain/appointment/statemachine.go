package appointment

import (
	"github.com/ayurflow/workflow/internal/platform/apperr"
	"github.com/ayurflow/workflow/internal/platform/auth"
)

// Action is an operation that moves an existing appointment between states.
type Action string

const (
	ActionReschedule Action = "reschedule"
	ActionCancel     Action = "cancel"
	ActionAccept     Action = "accept"
	ActionReject     Action = "reject"
	ActionComplete   Action = "complete"
)

type transitionKey struct {
	role   auth.Role
	action Action
}

// transitions lists every (role, action) pair and the state it produces.
// Each applies only from a non-terminal state.
var transitions = map[transitionKey]Status{
	{auth.RolePatient, ActionReschedule}: StatusRescheduled,
	{auth.RolePatient, ActionCancel}:     StatusCancelledByPatient,
	{auth.RoleDoctor, ActionAccept}:      StatusAccepted,
	{auth.RoleDoctor, ActionReschedule}:  StatusRescheduled,
	{auth.RoleDoctor, ActionCancel}:      StatusCancelledByDoctor,
	{auth.RoleDoctor, ActionReject}:      StatusRejected,
	{auth.RoleDoctor, ActionComplete}:    StatusCompleted,
}

// Permitted reports whether role may perform action at all.
func Permitted(role auth.Role, action Action) bool {
	_, ok := transitions[transitionKey{role, action}]
	return ok
}

// Next returns the status that action by role produces from current.
func Next(current Status, role auth.Role, action Action) (Status, error) {
	next, ok := transitions[transitionKey{role, action}]
	if !ok {
		return "", apperr.Authorization("role %s may not %s an appointment", role, action)
	}
	if current.Terminal() {
		return "", apperr.StateConflict(string(current),
			"cannot "+string(action)+" an appointment that is "+string(current))
	}
	return next, nil
}
