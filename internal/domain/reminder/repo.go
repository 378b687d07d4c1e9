package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Reminder) error
	// CreateBatch inserts all reminders or none.
	CreateBatch(ctx context.Context, rs []*Reminder) error
	// ListBetween returns the patient's reminders scheduled in [from, to), earliest first.
	ListBetween(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Reminder, error)
	List(ctx context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]*Reminder, int, error)
	// Transition moves a pending reminder to status. When patientID is set the
	// reminder must also belong to that patient. A reminder that is missing,
	// not owned or no longer pending yields NotFound.
	Transition(ctx context.Context, id uuid.UUID, patientID *uuid.UUID, status Status, at time.Time) (*Reminder, error)
	// Due claims up to limit pending reminders scheduled at or before now that
	// have attempts left and no live claim, earliest first. Claimed reminders
	// are not returned again until now+ClaimLease.
	Due(ctx context.Context, now time.Time, limit int) ([]*Reminder, error)
	// RecordFailure counts a failed attempt and releases the claim.
	RecordFailure(ctx context.Context, id uuid.UUID, msg string) error
}
