package treatmentplan

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayurflow/workflow/internal/platform/apperr"
	"github.com/ayurflow/workflow/internal/platform/auth"
	"github.com/ayurflow/workflow/internal/platform/db"
	"github.com/ayurflow/workflow/internal/platform/telemetry"
	"github.com/ayurflow/workflow/pkg/calendar"
)

type Service struct {
	plans     PlanRepository
	logs      ProgressLogRepository
	vitals    VitalsProvider
	reminders ReminderScheduler
	tx        db.Transactor
	loc       *time.Location
	metrics   *telemetry.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

// NewService wires the plan builder and progress tracker. loc is the clinic
// zone used to pick "today" when a plan has no start date.
func NewService(plans PlanRepository, logs ProgressLogRepository, vitals VitalsProvider, reminders ReminderScheduler,
	tx db.Transactor, loc *time.Location, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	if vitals == nil {
		vitals = NoVitals{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		plans:     plans,
		logs:      logs,
		vitals:    vitals,
		reminders: reminders,
		tx:        tx,
		loc:       loc,
		metrics:   metrics,
		log:       logger.With().Str("component", "treatmentplan").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// -- Plan Builder --

// CreatePlan builds and stores a plan with its days, then schedules one
// reminder per day in a nested unit of work. A reminder failure rolls back
// only the reminders: the plan is kept and the result reports the failure.
func (s *Service) CreatePlan(ctx context.Context, actor auth.Actor, in CreatePlanInput) (*CreatePlanResult, error) {
	if actor.Role != auth.RoleDoctor {
		return nil, apperr.Authorization("only doctors may create treatment plans")
	}
	if in.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = DefaultTitle
	}
	start := in.StartDate
	if start.IsZero() {
		start = calendar.DateIn(s.now(), s.loc)
	}
	therapies := in.Therapies
	if therapies == nil {
		therapies = DefaultTemplate()
	}
	days, err := BuildDays(start, therapies)
	if err != nil {
		return nil, err
	}

	now := s.now()
	plan := &Plan{
		ID:        uuid.New(),
		PatientID: in.PatientID,
		DoctorID:  actor.ID,
		Title:     title,
		StartDate: calendar.Date(start),
		Days:      days,
		Status:    StatusActive,
		VersionID: 1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var failure *ReminderFailure
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.plans.Create(ctx, plan); err != nil {
			return err
		}
		if rerr := s.scheduleReminders(ctx, plan); rerr != nil {
			failure = &ReminderFailure{DayNumbers: dayNumbers(plan.Days), Error: rerr.Error()}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	s.metrics.PlanCreated()
	if failure != nil {
		s.metrics.Degraded("reminders")
		s.log.Warn().Str("plan_id", plan.ID.String()).Str("error", failure.Error).
			Msg("plan created without reminders")
	}
	s.log.Info().Str("plan_id", plan.ID.String()).Str("patient_id", plan.PatientID.String()).
		Int("days", len(plan.Days)).Msg("treatment plan created")
	return &CreatePlanResult{Plan: plan, ReminderFailure: failure}, nil
}

// scheduleReminders writes the plan's reminders and flags the plan inside a
// savepoint of the caller's transaction.
func (s *Service) scheduleReminders(ctx context.Context, plan *Plan) error {
	if s.reminders == nil {
		return apperr.Unavailable("reminder scheduler", nil)
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.reminders.SchedulePlan(ctx, plan); err != nil {
			return err
		}
		if err := s.plans.SetRemindersScheduled(ctx, plan.ID, true); err != nil {
			return err
		}
		plan.RemindersScheduled = true
		return nil
	})
}

func dayNumbers(days []Day) []int {
	out := make([]int, len(days))
	for i, d := range days {
		out[i] = d.DayNumber
	}
	return out
}

// ScheduleReminders retries reminder creation for a plan whose reminders
// failed at creation.
func (s *Service) ScheduleReminders(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Plan, error) {
	if actor.Role != auth.RoleDoctor {
		return nil, apperr.Authorization("only doctors may schedule plan reminders")
	}
	var out *Plan
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		plan, err := s.plans.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !plan.OwnedBy(actor) {
			return apperr.NotFound("treatment plan")
		}
		if plan.Status == StatusCancelled {
			return apperr.StateConflict(string(plan.Status), "cannot schedule reminders for a cancelled plan")
		}
		if plan.RemindersScheduled {
			return apperr.StateConflict(string(plan.Status), "reminders are already scheduled for this plan")
		}
		if err := s.scheduleReminders(ctx, plan); err != nil {
			return err
		}
		out = plan
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// UpdatePlan applies a doctor's content edits. Day numbers, dates and
// completion flags are not editable; only active plans change.
func (s *Service) UpdatePlan(ctx context.Context, actor auth.Actor, id uuid.UUID, in UpdatePlanInput) (*Plan, error) {
	if actor.Role != auth.RoleDoctor {
		return nil, apperr.Authorization("only doctors may update treatment plans")
	}
	if in.Status != nil && *in.Status != StatusCancelled {
		return nil, apperr.Validation("status may only be set to %q", StatusCancelled)
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, apperr.Validation("title must not be empty")
	}
	for _, du := range in.Days {
		if du.Therapies != nil {
			if err := validateTherapies(du.DayNumber, du.Therapies); err != nil {
				return nil, err
			}
		}
	}

	var out *Plan
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		plan, err := s.plans.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !plan.OwnedBy(actor) {
			return apperr.NotFound("treatment plan")
		}
		if plan.Status != StatusActive {
			return apperr.StateConflict(string(plan.Status), "only active plans can be updated")
		}
		if in.Title != nil {
			plan.Title = strings.TrimSpace(*in.Title)
		}
		for _, du := range in.Days {
			d := plan.Day(du.DayNumber)
			if d == nil {
				return apperr.Validation("day %d does not exist in this plan", du.DayNumber)
			}
			if du.Therapies != nil {
				d.Therapies = normalizeTherapies(du.Therapies)
			}
			if du.Notes != nil {
				d.Notes = *du.Notes
			}
		}
		if in.Status != nil {
			plan.Status = *in.Status
		}
		plan.VersionID++
		plan.UpdatedAt = s.now()
		if err := s.plans.Update(ctx, plan); err != nil {
			return err
		}
		out = plan
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// -- Progress & Adherence --

// CompleteDay marks a day done for the plan's patient, snapshots vitals,
// appends a progress log and recomputes completion. Completing a day twice
// keeps the flag set and appends a second log.
func (s *Service) CompleteDay(ctx context.Context, actor auth.Actor, planID uuid.UUID, in CompleteDayInput) (*CompleteDayResult, error) {
	if actor.Role != auth.RolePatient {
		return nil, apperr.Authorization("only the plan's patient may complete a day")
	}
	if in.DayNumber < 1 {
		return nil, apperr.Validation("day_number must be at least 1")
	}
	stage := strings.TrimSpace(in.Stage)
	if stage == "" {
		stage = DefaultStage
	}
	therapies := in.CompletedTherapies
	if therapies == nil {
		therapies = []string{}
	}

	var out *CompleteDayResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		plan, err := s.plans.GetForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		if !plan.OwnedBy(actor) {
			return apperr.NotFound("treatment plan")
		}
		if plan.Status == StatusCancelled {
			return apperr.StateConflict(string(plan.Status), "cannot complete a day of a cancelled plan")
		}
		day := plan.Day(in.DayNumber)
		if day == nil {
			return apperr.Validation("day %d does not exist in this plan", in.DayNumber)
		}

		day.Completed = true
		day.Notes = in.Notes

		vitals, verr := s.vitals.Latest(ctx, plan.PatientID)
		if verr != nil {
			s.metrics.Degraded("vitals")
			s.log.Warn().Err(verr).Str("plan_id", plan.ID.String()).Msg("vitals unavailable, completing day without snapshot")
			vitals = nil
		}

		now := s.now()
		entry := &ProgressLog{
			ID:                 uuid.New(),
			PlanID:             plan.ID,
			PatientID:          plan.PatientID,
			DayNumber:          day.DayNumber,
			Stage:              stage,
			CompletedTherapies: therapies,
			Mood:               in.Mood,
			Notes:              in.Notes,
			Vitals:             vitals,
			CreatedAt:          now,
		}
		if err := s.logs.Append(ctx, entry); err != nil {
			return err
		}

		pct := plan.Percent()
		if plan.CompletedDays() == len(plan.Days) {
			plan.Status = StatusCompleted
		}
		plan.VersionID++
		plan.UpdatedAt = now
		if err := s.plans.Update(ctx, plan); err != nil {
			return err
		}
		out = &CompleteDayResult{Percent: pct, Plan: plan}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	s.metrics.DayCompleted()
	s.log.Info().Str("plan_id", planID.String()).Int("day", in.DayNumber).Int("percent", out.Percent).
		Str("status", string(out.Plan.Status)).Msg("plan day completed")
	return out, nil
}

// GetProgress reports completion and the progress logs, newest first.
func (s *Service) GetProgress(ctx context.Context, actor auth.Actor, planID uuid.UUID) (*Progress, error) {
	plan, err := s.Get(ctx, actor, planID)
	if err != nil {
		return nil, err
	}
	logs, err := s.logs.ListByPlan(ctx, planID)
	if err != nil {
		return nil, classify(err)
	}
	if logs == nil {
		logs = []*ProgressLog{}
	}
	return &Progress{
		Percent:       plan.Percent(),
		TotalDays:     len(plan.Days),
		CompletedDays: plan.CompletedDays(),
		Logs:          logs,
	}, nil
}

// -- Read views --

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Plan, error) {
	plan, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	if !plan.OwnedBy(actor) {
		return nil, apperr.NotFound("treatment plan")
	}
	return plan, nil
}

func (s *Service) List(ctx context.Context, actor auth.Actor, status Status, limit, offset int) ([]*Plan, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, apperr.Validation("unknown plan status %q", status)
	}
	var f ListFilter
	switch actor.Role {
	case auth.RolePatient:
		f.PatientID = &actor.ID
	case auth.RoleDoctor:
		f.DoctorID = &actor.ID
	default:
		return nil, 0, apperr.Authorization("role %s may not list plans", actor.Role)
	}
	f.Status = status
	items, total, err := s.plans.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, classify(err)
	}
	return items, total, nil
}

func (s *Service) GetPhases(ctx context.Context, actor auth.Actor, planID uuid.UUID) ([]PhaseSummary, error) {
	plan, err := s.Get(ctx, actor, planID)
	if err != nil {
		return nil, err
	}
	return Phases(plan), nil
}

func (s *Service) GetDailySchedule(ctx context.Context, actor auth.Actor, planID uuid.UUID, date time.Time) (*DailySchedule, error) {
	plan, err := s.Get(ctx, actor, planID)
	if err != nil {
		return nil, err
	}
	sched := Schedule(plan, date)
	return &sched, nil
}

// Today is the current civil date in the clinic zone.
func (s *Service) Today() time.Time {
	return calendar.DateIn(s.now(), s.loc)
}

func classify(err error) error {
	return apperr.Classify("treatment plan storage", err)
}
