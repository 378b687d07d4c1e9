package appointment

import (
	"time"

	"github.com/ayurflow/workflow/internal/platform/auth"
	"github.com/google/uuid"
)

// Status is the booking lifecycle state of an appointment.
type Status string

const (
	StatusPending            Status = "pending"
	StatusAccepted           Status = "accepted"
	StatusRescheduled        Status = "rescheduled"
	StatusCancelledByPatient Status = "cancelled_by_patient"
	StatusCancelledByDoctor  Status = "cancelled_by_doctor"
	StatusRejected           Status = "rejected"
	StatusCompleted          Status = "completed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelledByPatient, StatusCancelledByDoctor, StatusRejected, StatusCompleted:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRescheduled,
		StatusCancelledByPatient, StatusCancelledByDoctor, StatusRejected, StatusCompleted:
		return true
	}
	return false
}

const (
	ModeInPerson = "in-person"
	ModeOnline   = "online"

	DefaultDurationMinutes = 30
)

// EventCreated is the type of the event appended when an appointment is booked.
// Every later event is typed with the status it moved to.
const EventCreated = "created"

// Appointment maps to the appointment table.
type Appointment struct {
	ID              uuid.UUID `db:"id" json:"id"`
	PatientID       uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID        uuid.UUID `db:"doctor_id" json:"doctor_id"`
	ScheduledAt     time.Time `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Status          Status    `db:"status" json:"status"`
	Concern         string    `db:"concern" json:"concern,omitempty"`
	TreatmentType   string    `db:"treatment_type" json:"treatment_type,omitempty"`
	Mode            string    `db:"mode" json:"mode"`
	Fee             float64   `db:"fee" json:"fee"`
	Events          []Event   `db:"-" json:"events"`
	VersionID       int       `db:"version_id" json:"version_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// OwnedBy reports whether the actor is this appointment's patient or doctor.
func (a *Appointment) OwnedBy(actor auth.Actor) bool {
	switch actor.Role {
	case auth.RolePatient:
		return a.PatientID == actor.ID
	case auth.RoleDoctor:
		return a.DoctorID == actor.ID
	}
	return false
}

// Event maps to the append-only appointment_event table.
type Event struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	Type          string    `db:"type" json:"type"`
	ActorRole     auth.Role `db:"actor_role" json:"actor_role"`
	At            time.Time `db:"at" json:"at"`
}

// Visit maps to the visit table. One is written when a doctor completes an appointment.
type Visit struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	AppointmentID       uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	PatientID           uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID            uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Date                time.Time  `db:"date" json:"date"`
	TreatmentType       string     `db:"treatment_type" json:"treatment_type,omitempty"`
	Summary             string     `db:"summary" json:"summary,omitempty"`
	FollowUpRecommended bool       `db:"follow_up_recommended" json:"follow_up_recommended"`
	NextVisitAt         *time.Time `db:"next_visit_at" json:"next_visit_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

// CreateInput is what a patient supplies to book an appointment.
type CreateInput struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Concern         string    `json:"concern,omitempty"`
	TreatmentType   string    `json:"treatment_type,omitempty"`
	Mode            string    `json:"mode,omitempty"`
	Fee             float64   `json:"fee,omitempty"`
}

// CompleteInput carries the visit details recorded on completion.
type CompleteInput struct {
	Summary             string     `json:"summary"`
	FollowUpRecommended bool       `json:"follow_up_recommended"`
	NextVisitAt         *time.Time `json:"next_visit_at,omitempty"`
}

// CompleteResult is the completed appointment and the visit it produced.
type CompleteResult struct {
	Appointment *Appointment `json:"appointment"`
	Visit       *Visit       `json:"visit"`
}

// ListFilter scopes a listing to one party. Exactly one of PatientID and DoctorID is set.
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    Status
}
