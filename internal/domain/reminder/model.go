package reminder

import (
	"time"

	"github.com/ayurflow/workflow/internal/platform/auth"
	"github.com/google/uuid"
)

type Category string

const (
	CategoryPre      Category = "pre"
	CategoryPost     Category = "post"
	CategoryMedicine Category = "medicine"
	CategoryDiet     Category = "diet"
	CategoryExercise Category = "exercise"
	CategoryGeneral  Category = "general"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryPre, CategoryPost, CategoryMedicine, CategoryDiet, CategoryExercise, CategoryGeneral:
		return true
	}
	return false
}

// Status moves one way only: pending to sent, or pending to cancelled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusSent || s == StatusCancelled
}

// MaxDeliveryAttempts bounds how often the dispatcher retries one reminder.
const MaxDeliveryAttempts = 5

// ClaimLease is how long a reminder handed out by Due stays hidden from other
// dispatchers. A failed attempt releases the claim early.
const ClaimLease = 5 * time.Minute

// Reminder maps to the reminder table.
type Reminder struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	PlanID      *uuid.UUID `db:"plan_id" json:"plan_id,omitempty"`
	DayNumber   *int       `db:"day_number" json:"day_number,omitempty"`
	Category    Category   `db:"category" json:"category"`
	Message     string     `db:"message" json:"message"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Status      Status     `db:"status" json:"status"`
	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedBy   auth.Role  `db:"created_by" json:"created_by"`
	Attempts    int        `db:"attempts" json:"attempts"`
	LastError   string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// CreateInput is an ad-hoc reminder request. PatientID may be omitted by a
// patient and is required from a doctor.
type CreateInput struct {
	PatientID   uuid.UUID `json:"patient_id,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Message     string    `json:"message"`
	Category    Category  `json:"category,omitempty"`
}
