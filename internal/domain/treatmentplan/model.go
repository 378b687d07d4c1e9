package treatmentplan

import (
	"time"

	"github.com/ayurflow/workflow/internal/platform/auth"
	"github.com/google/uuid"
)

// Phase is the clinical stage a therapy belongs to.
type Phase string

const (
	PhasePurvakarma   Phase = "Purvakarma"
	PhasePradhankarma Phase = "Pradhankarma"
	PhasePaschatkarma Phase = "Paschatkarma"
	PhaseOther        Phase = "Other"
)

// Bucket maps p onto one of the four reporting phases. Empty and unknown
// phases fall into Other.
func (p Phase) Bucket() Phase {
	switch p {
	case PhasePurvakarma, PhasePradhankarma, PhasePaschatkarma:
		return p
	}
	return PhaseOther
}

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusCompleted || s == StatusCancelled
}

// Therapy is one named clinical activity within a Day.
type Therapy struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions,omitempty"`
	Phase        Phase  `json:"phase,omitempty"`
	TimeOfDay    string `json:"time_of_day,omitempty"`
}

// Day has no identity of its own; it lives inside its plan's days document.
type Day struct {
	DayNumber int       `json:"day_number"`
	Date      time.Time `json:"date"`
	Therapies []Therapy `json:"therapies"`
	Completed bool      `json:"completed"`
	Notes     string    `json:"notes,omitempty"`
}

// Plan maps to the treatment_plan table. Days are stored as one JSONB column.
type Plan struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	PatientID          uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Title              string    `db:"title" json:"title"`
	StartDate          time.Time `db:"start_date" json:"start_date"`
	Days               []Day     `db:"days" json:"days"`
	Status             Status    `db:"status" json:"status"`
	RemindersScheduled bool      `db:"reminders_scheduled" json:"reminders_scheduled"`
	VersionID          int       `db:"version_id" json:"version_id"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// OwnedBy reports whether the actor is this plan's patient or doctor.
func (p *Plan) OwnedBy(actor auth.Actor) bool {
	switch actor.Role {
	case auth.RolePatient:
		return p.PatientID == actor.ID
	case auth.RoleDoctor:
		return p.DoctorID == actor.ID
	}
	return false
}

// Day returns the day numbered n, or nil.
func (p *Plan) Day(n int) *Day {
	if n < 1 || n > len(p.Days) {
		return nil
	}
	d := &p.Days[n-1]
	if d.DayNumber != n {
		return nil
	}
	return d
}

func (p *Plan) CompletedDays() int {
	n := 0
	for _, d := range p.Days {
		if d.Completed {
			n++
		}
	}
	return n
}

// Percent is round(100 * completed / total), 0 for an empty plan.
func (p *Plan) Percent() int {
	return percent(p.CompletedDays(), len(p.Days))
}

func percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	v := (200*done + total) / (2 * total)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

type BloodPressure struct {
	Systolic  int `json:"systolic"`
	Diastolic int `json:"diastolic"`
}

// VitalsSnapshot is the patient's most recent vitals at the time a day was completed.
type VitalsSnapshot struct {
	HeartRate        int           `json:"heart_rate"`
	BloodPressure    BloodPressure `json:"blood_pressure"`
	OxygenSaturation float64       `json:"oxygen_saturation"`
	RespiratoryRate  int           `json:"respiratory_rate"`
	RecordedAt       time.Time     `json:"recorded_at"`
}

// ProgressLog maps to the append-only progress_log table.
type ProgressLog struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	PlanID             uuid.UUID       `db:"plan_id" json:"plan_id"`
	PatientID          uuid.UUID       `db:"patient_id" json:"patient_id"`
	DayNumber          int             `db:"day_number" json:"day_number"`
	Stage              string          `db:"stage" json:"stage"`
	CompletedTherapies []string        `db:"completed_therapies" json:"completed_therapies"`
	Mood               string          `db:"mood" json:"mood,omitempty"`
	Notes              string          `db:"notes" json:"notes,omitempty"`
	Vitals             *VitalsSnapshot `db:"vitals" json:"vitals,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// DefaultStage labels a completion that did not name its stage.
const DefaultStage = "Unknown"

// CreatePlanInput is the doctor's plan request. A zero StartDate means today
// in the clinic zone; nil Therapies selects DefaultTemplate.
type CreatePlanInput struct {
	PatientID uuid.UUID
	Title     string
	StartDate time.Time
	Therapies [][]Therapy
}

// ReminderFailure names the days left without reminders after plan creation.
type ReminderFailure struct {
	DayNumbers []int  `json:"day_numbers"`
	Error      string `json:"error"`
}

// CreatePlanResult is a committed plan plus, on partial success, the reminders
// that could not be scheduled.
type CreatePlanResult struct {
	Plan            *Plan            `json:"plan"`
	ReminderFailure *ReminderFailure `json:"reminder_failure,omitempty"`
}

// DayUpdate edits one day's content. Nil fields are left unchanged.
type DayUpdate struct {
	DayNumber int       `json:"day_number"`
	Therapies []Therapy `json:"therapies,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
}

type UpdatePlanInput struct {
	Title  *string     `json:"title,omitempty"`
	Days   []DayUpdate `json:"days,omitempty"`
	Status *Status     `json:"status,omitempty"`
}

type CompleteDayInput struct {
	DayNumber          int      `json:"day_number"`
	Stage              string   `json:"stage,omitempty"`
	Mood               string   `json:"mood,omitempty"`
	Notes              string   `json:"notes,omitempty"`
	CompletedTherapies []string `json:"completed_therapies,omitempty"`
}

type CompleteDayResult struct {
	Percent int   `json:"percent"`
	Plan    *Plan `json:"plan"`
}

type Progress struct {
	Percent       int            `json:"percent"`
	TotalDays     int            `json:"total_days"`
	CompletedDays int            `json:"completed_days"`
	Logs          []*ProgressLog `json:"logs"`
}

// PhaseSummary is the completion of one phase bucket.
type PhaseSummary struct {
	Phase     Phase `json:"phase"`
	Total     int   `json:"total"`
	Completed int   `json:"completed"`
	Percent   int   `json:"percent"`
}

// ScheduledTherapy is a therapy annotated with its day's completion.
type ScheduledTherapy struct {
	Therapy
	Completed bool `json:"completed"`
}

// DailySchedule is the plan's agenda for one calendar date. DayNumber is 0
// when no day falls on Date.
type DailySchedule struct {
	Date      time.Time          `json:"date"`
	DayNumber int                `json:"day_number,omitempty"`
	Therapies []ScheduledTherapy `json:"therapies"`
}

// ListFilter scopes a listing to one party.
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    Status
}
