package appointment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	// GetByID loads the appointment with its events.
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate is GetByID with the row locked until the enclosing transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	AppendEvent(ctx context.Context, e *Event) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
}

// VisitSink receives the visit emitted on completion.
type VisitSink interface {
	Append(ctx context.Context, v *Visit) error
}

type VisitRepository interface {
	VisitSink
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Visit, int, error)
}
