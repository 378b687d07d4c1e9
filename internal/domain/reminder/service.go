package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayurflow/workflow/internal/domain/treatmentplan"
	"github.com/ayurflow/workflow/internal/platform/apperr"
	"github.com/ayurflow/workflow/internal/platform/auth"
	"github.com/ayurflow/workflow/internal/platform/telemetry"
	"github.com/ayurflow/workflow/pkg/calendar"
)

// DefaultHour is the local hour at which plan-day reminders fire.
const DefaultHour = 10

type Service struct {
	repo    Repository
	loc     *time.Location
	hour    int
	metrics *telemetry.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewService creates the reminder scheduler. Plan-day reminders fire at
// hour:00 in loc, the clinic zone.
func NewService(repo Repository, loc *time.Location, hour int, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if hour < 0 || hour > 23 {
		hour = DefaultHour
	}
	return &Service{
		repo:    repo,
		loc:     loc,
		hour:    hour,
		metrics: metrics,
		log:     logger.With().Str("component", "reminder").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Location is the clinic zone.
func (s *Service) Location() *time.Location { return s.loc }

// ForPlan derives one general reminder per plan day, at the configured hour
// on that day's date.
func (s *Service) ForPlan(p *treatmentplan.Plan) []*Reminder {
	planID := p.ID
	out := make([]*Reminder, len(p.Days))
	for i, d := range p.Days {
		n := d.DayNumber
		out[i] = &Reminder{
			ID:          uuid.New(),
			PatientID:   p.PatientID,
			PlanID:      &planID,
			DayNumber:   &n,
			Category:    CategoryGeneral,
			Message:     dayMessage(d),
			ScheduledAt: calendar.At(d.Date, s.hour, 0, s.loc),
			Status:      StatusPending,
			CreatedBy:   auth.RoleSystem,
		}
	}
	return out
}

func dayMessage(d treatmentplan.Day) string {
	names := d.TherapyNames()
	if len(names) == 0 {
		return fmt.Sprintf("Day %d: rest day, no therapies scheduled", d.DayNumber)
	}
	return fmt.Sprintf("Day %d therapies: %s", d.DayNumber, strings.Join(names, ", "))
}

// SchedulePlan stores the reminders of a newly built plan as one batch. It
// joins the transaction on ctx when there is one.
func (s *Service) SchedulePlan(ctx context.Context, p *treatmentplan.Plan) (int, error) {
	rs := s.ForPlan(p)
	if err := s.repo.CreateBatch(ctx, rs); err != nil {
		s.log.Error().Err(err).Str("plan_id", p.ID.String()).Msg("plan reminder batch failed")
		return 0, classify(err)
	}
	s.metrics.RemindersScheduled("plan", len(rs))
	return len(rs), nil
}

// Create stores an ad-hoc reminder. A patient always targets themself; a
// doctor must name the patient.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (*Reminder, error) {
	var target uuid.UUID
	switch actor.Role {
	case auth.RolePatient:
		if in.PatientID != uuid.Nil && in.PatientID != actor.ID {
			return nil, apperr.Authorization("patients may only create reminders for themselves")
		}
		target = actor.ID
	case auth.RoleDoctor:
		if in.PatientID == uuid.Nil {
			return nil, apperr.Validation("patient_id is required when a doctor creates a reminder")
		}
		target = in.PatientID
	default:
		return nil, apperr.Authorization("role %s may not create reminders", actor.Role)
	}

	if in.ScheduledAt.IsZero() {
		return nil, apperr.Validation("scheduled_at is required")
	}
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return nil, apperr.Validation("message is required")
	}
	cat := in.Category
	if cat == "" {
		cat = CategoryGeneral
	}
	if !cat.Valid() {
		return nil, apperr.Validation("unknown category %q", cat)
	}

	rem := &Reminder{
		ID:          uuid.New(),
		PatientID:   target,
		Category:    cat,
		Message:     msg,
		ScheduledAt: in.ScheduledAt.UTC(),
		Status:      StatusPending,
		CreatedBy:   actor.Role,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, rem); err != nil {
		return nil, classify(err)
	}
	s.metrics.RemindersScheduled("adhoc", 1)
	return rem, nil
}

// Today lists the patient's reminders for the local day containing now in
// loc, earliest first.
func (s *Service) Today(ctx context.Context, actor auth.Actor, loc *time.Location) ([]*Reminder, error) {
	if actor.Role != auth.RolePatient {
		return nil, apperr.Authorization("only patients may list their reminders")
	}
	if loc == nil {
		loc = s.loc
	}
	from, to := calendar.DayBounds(s.now(), loc)
	items, err := s.repo.ListBetween(ctx, actor.ID, from, to)
	if err != nil {
		return nil, classify(err)
	}
	if items == nil {
		items = []*Reminder{}
	}
	return items, nil
}

func (s *Service) List(ctx context.Context, actor auth.Actor, status Status, limit, offset int) ([]*Reminder, int, error) {
	if actor.Role != auth.RolePatient {
		return nil, 0, apperr.Authorization("only patients may list their reminders")
	}
	if status != "" && !status.Valid() {
		return nil, 0, apperr.Validation("unknown reminder status %q", status)
	}
	items, total, err := s.repo.List(ctx, actor.ID, status, limit, offset)
	if err != nil {
		return nil, 0, classify(err)
	}
	return items, total, nil
}

// MarkSent confirms delivery of one of the patient's pending reminders.
func (s *Service) MarkSent(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Reminder, error) {
	if actor.Role != auth.RolePatient {
		return nil, apperr.Authorization("only patients may mark reminders sent")
	}
	rem, err := s.repo.Transition(ctx, id, &actor.ID, StatusSent, s.now())
	if err != nil {
		return nil, classify(err)
	}
	return rem, nil
}

// Cancel withdraws one of the patient's pending reminders.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Reminder, error) {
	if actor.Role != auth.RolePatient {
		return nil, apperr.Authorization("only patients may cancel reminders")
	}
	rem, err := s.repo.Transition(ctx, id, &actor.ID, StatusCancelled, s.now())
	if err != nil {
		return nil, classify(err)
	}
	return rem, nil
}

// -- Delivery --

// Due claims pending reminders whose time has come. Concurrent dispatchers
// never receive the same reminder while its claim is live.
func (s *Service) Due(ctx context.Context, limit int) ([]*Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	items, err := s.repo.Due(ctx, s.now(), limit)
	if err != nil {
		return nil, classify(err)
	}
	return items, nil
}

// MarkDispatched marks a reminder sent on behalf of the delivery worker.
func (s *Service) MarkDispatched(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	rem, err := s.repo.Transition(ctx, id, nil, StatusSent, s.now())
	if err != nil {
		return nil, classify(err)
	}
	return rem, nil
}

// RecordFailure counts a failed delivery attempt. The reminder stays pending
// until it runs out of attempts.
func (s *Service) RecordFailure(ctx context.Context, id uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.repo.RecordFailure(ctx, id, msg); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	return apperr.Classify("reminder storage", err)
}
