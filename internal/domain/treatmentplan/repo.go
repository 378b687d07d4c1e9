package treatmentplan

import (
	"context"

	"github.com/google/uuid"
)

type PlanRepository interface {
	Create(ctx context.Context, p *Plan) error
	GetByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	// GetForUpdate is GetByID with the row locked until the enclosing transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Plan, error)
	// Update writes the whole plan document, days included.
	Update(ctx context.Context, p *Plan) error
	SetRemindersScheduled(ctx context.Context, id uuid.UUID, scheduled bool) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Plan, int, error)
}

type ProgressLogRepository interface {
	Append(ctx context.Context, l *ProgressLog) error
	// ListByPlan returns the plan's logs, newest first.
	ListByPlan(ctx context.Context, planID uuid.UUID) ([]*ProgressLog, error)
}

// ReminderScheduler derives and stores the reminders of a newly built plan.
// It runs with the caller's transaction on ctx and returns how many it wrote.
type ReminderScheduler interface {
	SchedulePlan(ctx context.Context, p *Plan) (int, error)
}

// VitalsProvider returns the patient's most recent vitals, or nil when none
// have been recorded.
type VitalsProvider interface {
	Latest(ctx context.Context, patientID uuid.UUID) (*VitalsSnapshot, error)
}
