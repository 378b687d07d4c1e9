package appointment

import (
	"strings"
	"testing"

	"github.com/ayurflow/workflow/internal/platform/auth"
	"github.com/ayurflow/workflow/migrations"
)

var allStatuses = []Status{
	StatusPending, StatusAccepted, StatusRescheduled,
	StatusCancelledByPatient, StatusCancelledByDoctor,
	StatusRejected, StatusCompleted,
}

func lookupColumn(t *testing.T, table, column string) migrations.Column {
	t.Helper()
	col, err := migrations.Lookup(table, column)
	if err != nil {
		t.Fatalf("lookup %s.%s: %v", table, column, err)
	}
	return col
}

func TestSchema_AppointmentStatusAcceptsEveryStatus(t *testing.T) {
	col := lookupColumn(t, "appointment", "status")
	for _, st := range allStatuses {
		if !col.Accepts(string(st)) {
			t.Errorf("appointment.status (%s, allowed %v) rejects %q", col.Type, col.Allowed, st)
		}
	}
	if len(col.Allowed) != len(allStatuses) {
		t.Errorf("expected %d allowed statuses, got %v", len(allStatuses), col.Allowed)
	}
}

func TestSchema_EventTypeAcceptsEveryTransition(t *testing.T) {
	col := lookupColumn(t, "appointment_event", "type")
	types := []string{EventCreated}
	for _, st := range allStatuses {
		types = append(types, string(st))
	}
	for _, typ := range types {
		if !col.Accepts(typ) {
			t.Errorf("appointment_event.type (%s, allowed %v) rejects %q", col.Type, col.Allowed, typ)
		}
	}
}

func TestSchema_EventActorRoleFitsEveryRole(t *testing.T) {
	col := lookupColumn(t, "appointment_event", "actor_role")
	for _, role := range []auth.Role{auth.RolePatient, auth.RoleDoctor, auth.RoleSystem} {
		if !col.Accepts(string(role)) {
			t.Errorf("appointment_event.actor_role (%s) rejects %q", col.Type, role)
		}
	}
}

func TestSchema_ModeAcceptsEveryMode(t *testing.T) {
	col := lookupColumn(t, "appointment", "mode")
	for _, mode := range []string{ModeInPerson, ModeOnline} {
		if !col.Accepts(mode) {
			t.Errorf("appointment.mode (%s) rejects %q", col.Type, mode)
		}
	}
}

func TestSchema_FreeTextColumnsAreUnbounded(t *testing.T) {
	long := strings.Repeat("x", 1000)
	tests := []struct{ table, column string }{
		{"appointment", "concern"},
		{"appointment", "treatment_type"},
		{"visit", "treatment_type"},
		{"visit", "summary"},
	}
	for _, tt := range tests {
		t.Run(tt.table+"."+tt.column, func(t *testing.T) {
			col := lookupColumn(t, tt.table, tt.column)
			if !col.Accepts(long) {
				t.Errorf("%s.%s (%s) rejects a %d character value", tt.table, tt.column, col.Type, len(long))
			}
		})
	}
}
