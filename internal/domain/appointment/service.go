package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayurflow/workflow/internal/platform/apperr"
	"github.com/ayurflow/workflow/internal/platform/auth"
	"github.com/ayurflow/workflow/internal/platform/db"
	"github.com/ayurflow/workflow/internal/platform/telemetry"
)

type Service struct {
	appointments Repository
	visits       VisitRepository
	tx           db.Transactor
	metrics      *telemetry.Metrics
	log          zerolog.Logger
	now          func() time.Time
}

func NewService(appts Repository, visits VisitRepository, tx db.Transactor, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		appointments: appts,
		visits:       visits,
		tx:           tx,
		metrics:      metrics,
		log:          logger.With().Str("component", "appointment").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Create books a pending appointment for the calling patient.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (*Appointment, error) {
	if actor.Role != auth.RolePatient {
		return nil, apperr.Authorization("only patients may book appointments")
	}
	if in.DoctorID == uuid.Nil {
		return nil, apperr.Validation("doctor_id is required")
	}
	if in.ScheduledAt.IsZero() {
		return nil, apperr.Validation("scheduled_at is required")
	}
	if in.DurationMinutes < 0 {
		return nil, apperr.Validation("duration_minutes must not be negative")
	}
	if in.DurationMinutes == 0 {
		in.DurationMinutes = DefaultDurationMinutes
	}
	if in.Mode == "" {
		in.Mode = ModeInPerson
	}
	if in.Mode != ModeInPerson && in.Mode != ModeOnline {
		return nil, apperr.Validation("mode must be %q or %q", ModeInPerson, ModeOnline)
	}
	if in.Fee < 0 {
		return nil, apperr.Validation("fee must not be negative")
	}

	now := s.now()
	a := &Appointment{
		ID:              uuid.New(),
		PatientID:       actor.ID,
		DoctorID:        in.DoctorID,
		ScheduledAt:     in.ScheduledAt.UTC(),
		DurationMinutes: in.DurationMinutes,
		Status:          StatusPending,
		Concern:         in.Concern,
		TreatmentType:   in.TreatmentType,
		Mode:            in.Mode,
		Fee:             in.Fee,
		VersionID:       1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.Create(ctx, a); err != nil {
			return err
		}
		ev := Event{ID: uuid.New(), AppointmentID: a.ID, Type: EventCreated, ActorRole: actor.Role, At: now}
		if err := s.appointments.AppendEvent(ctx, &ev); err != nil {
			return err
		}
		a.Events = []Event{ev}
		return nil
	})
	s.metrics.Transition("create", resultLabel(err))
	if err != nil {
		return nil, classify(err)
	}
	s.log.Info().Str("appointment_id", a.ID.String()).Str("doctor_id", a.DoctorID.String()).Msg("appointment booked")
	return a, nil
}

// Reschedule moves the appointment to newTime.
func (s *Service) Reschedule(ctx context.Context, actor auth.Actor, id uuid.UUID, newTime time.Time) (*Appointment, error) {
	if newTime.IsZero() {
		return nil, apperr.Validation("scheduled_at is required")
	}
	return s.transition(ctx, actor, id, ActionReschedule, func(ctx context.Context, a *Appointment) error {
		a.ScheduledAt = newTime.UTC()
		return nil
	})
}

// Cancel cancels on behalf of the caller's role. reason is logged only.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Appointment, error) {
	a, err := s.transition(ctx, actor, id, ActionCancel, nil)
	if err == nil && reason != "" {
		s.log.Info().Str("appointment_id", id.String()).Str("reason", reason).Msg("appointment cancelled")
	}
	return a, err
}

func (s *Service) Accept(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, ActionAccept, nil)
}

func (s *Service) Reject(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, ActionReject, nil)
}

// Complete closes the appointment and writes exactly one Visit in the same transaction.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID, in CompleteInput) (*CompleteResult, error) {
	var visit *Visit
	a, err := s.transition(ctx, actor, id, ActionComplete, func(ctx context.Context, a *Appointment) error {
		visit = &Visit{
			ID:                  uuid.New(),
			AppointmentID:       a.ID,
			PatientID:           a.PatientID,
			DoctorID:            a.DoctorID,
			Date:                a.UpdatedAt,
			TreatmentType:       a.TreatmentType,
			Summary:             in.Summary,
			FollowUpRecommended: in.FollowUpRecommended,
			NextVisitAt:         in.NextVisitAt,
			CreatedAt:           a.UpdatedAt,
		}
		return s.visits.Append(ctx, visit)
	})
	if err != nil {
		return nil, err
	}
	return &CompleteResult{Appointment: a, Visit: visit}, nil
}

// transition runs one locked read-modify-write: check role, load with lock,
// check ownership and state, apply, persist status and append one event.
func (s *Service) transition(ctx context.Context, actor auth.Actor, id uuid.UUID, action Action,
	apply func(ctx context.Context, a *Appointment) error) (*Appointment, error) {
	if !Permitted(actor.Role, action) {
		s.metrics.Transition(string(action), string(apperr.KindAuthorization))
		return nil, apperr.Authorization("role %s may not %s an appointment", actor.Role, action)
	}

	var out *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !a.OwnedBy(actor) {
			return apperr.NotFound("appointment")
		}
		next, err := Next(a.Status, actor.Role, action)
		if err != nil {
			return err
		}

		now := s.now()
		a.Status = next
		a.VersionID++
		a.UpdatedAt = now
		if apply != nil {
			if err := apply(ctx, a); err != nil {
				return err
			}
		}
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		ev := Event{ID: uuid.New(), AppointmentID: a.ID, Type: string(next), ActorRole: actor.Role, At: now}
		if err := s.appointments.AppendEvent(ctx, &ev); err != nil {
			return err
		}
		a.Events = append(a.Events, ev)
		out = a
		return nil
	})
	s.metrics.Transition(string(action), resultLabel(err))
	if err != nil {
		return nil, classify(err)
	}
	s.log.Info().
		Str("appointment_id", id.String()).
		Str("action", string(action)).
		Str("status", string(out.Status)).
		Msg("appointment transition")
	return out, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	if !a.OwnedBy(actor) {
		return nil, apperr.NotFound("appointment")
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, actor auth.Actor, status Status, limit, offset int) ([]*Appointment, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, apperr.Validation("unknown status %q", status)
	}
	f, err := filterFor(actor)
	if err != nil {
		return nil, 0, err
	}
	f.Status = status
	items, total, err := s.appointments.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, classify(err)
	}
	return items, total, nil
}

func (s *Service) ListVisits(ctx context.Context, actor auth.Actor, limit, offset int) ([]*Visit, int, error) {
	f, err := filterFor(actor)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.visits.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, classify(err)
	}
	return items, total, nil
}

func filterFor(actor auth.Actor) (ListFilter, error) {
	id := actor.ID
	switch actor.Role {
	case auth.RolePatient:
		return ListFilter{PatientID: &id}, nil
	case auth.RoleDoctor:
		return ListFilter{DoctorID: &id}, nil
	}
	return ListFilter{}, apperr.Authorization("unknown role %q", actor.Role)
}

func classify(err error) error {
	return apperr.Classify("appointment storage failure", err)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}
