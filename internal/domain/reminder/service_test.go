package reminder

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayurflow/workflow/internal/domain/treatmentplan"
	"github.com/ayurflow/workflow/internal/platform/apperr"
	"github.com/ayurflow/workflow/internal/platform/auth"
)

// -- Mock Repository --

type mockRepo struct {
	mu       sync.Mutex
	store    map[uuid.UUID]*Reminder
	claims   map[uuid.UUID]time.Time
	batchErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Reminder), claims: make(map[uuid.UUID]time.Time)}
}

func (m *mockRepo) Create(_ context.Context, r *Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *mockRepo) CreateBatch(_ context.Context, rs []*Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchErr != nil {
		return m.batchErr
	}
	for _, r := range rs {
		cp := *r
		m.store[r.ID] = &cp
	}
	return nil
}

func (m *mockRepo) sorted(keep func(*Reminder) bool) []*Reminder {
	var out []*Reminder
	for _, r := range m.store {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func (m *mockRepo) ListBetween(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(r *Reminder) bool {
		return r.PatientID == patientID && !r.ScheduledAt.Before(from) && r.ScheduledAt.Before(to)
	}), nil
}

func (m *mockRepo) List(_ context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]*Reminder, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(r *Reminder) bool {
		return r.PatientID == patientID && (status == "" || r.Status == status)
	})
	return out, len(out), nil
}

func (m *mockRepo) Transition(_ context.Context, id uuid.UUID, patientID *uuid.UUID, status Status, at time.Time) (*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok || r.Status != StatusPending || (patientID != nil && r.PatientID != *patientID) {
		return nil, apperr.NotFound("reminder")
	}
	r.Status = status
	if status == StatusSent {
		r.SentAt = &at
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) Due(_ context.Context, now time.Time, limit int) ([]*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(r *Reminder) bool {
		until, claimed := m.claims[r.ID]
		return r.Status == StatusPending && !r.ScheduledAt.After(now) && r.Attempts < MaxDeliveryAttempts &&
			(!claimed || !until.After(now))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for _, r := range out {
		m.claims[r.ID] = now.Add(ClaimLease)
	}
	return out, nil
}

func (m *mockRepo) RecordFailure(_ context.Context, id uuid.UUID, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.store[id]; ok && r.Status == StatusPending {
		r.Attempts++
		r.LastError = msg
		delete(m.claims, id)
	}
	return nil
}

func (m *mockRepo) get(id uuid.UUID) Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.store[id]
}

var (
	fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	patient  = auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
	doctor   = auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
)

func newTestService(repo *mockRepo, loc *time.Location) *Service {
	s := NewService(repo, loc, 10, nil, zerolog.Nop())
	s.now = func() time.Time { return fixedNow }
	return s
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	return loc
}

func testPlan(t *testing.T, start time.Time) *treatmentplan.Plan {
	t.Helper()
	days, err := treatmentplan.BuildDays(start, treatmentplan.DefaultTemplate())
	if err != nil {
		t.Fatalf("build days: %v", err)
	}
	return &treatmentplan.Plan{ID: uuid.New(), PatientID: patient.ID, DoctorID: doctor.ID, StartDate: start, Days: days}
}

// -- Plan reminders --

func TestForPlan(t *testing.T) {
	ist := mustLoad(t, "Asia/Kolkata")
	s := newTestService(newMockRepo(), ist)
	p := testPlan(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	rs := s.ForPlan(p)
	if len(rs) != 7 {
		t.Fatalf("expected one reminder per day, got %d", len(rs))
	}
	r := rs[2]
	want := time.Date(2024, 1, 3, 10, 0, 0, 0, ist)
	if !r.ScheduledAt.Equal(want) {
		t.Errorf("expected %v, got %v", want, r.ScheduledAt)
	}
	if r.Message != "Day 3 therapies: Vamana" {
		t.Errorf("unexpected message %q", r.Message)
	}
	if r.Category != CategoryGeneral || r.Status != StatusPending || r.PatientID != patient.ID {
		t.Errorf("unexpected reminder %+v", r)
	}
	if r.PlanID == nil || *r.PlanID != p.ID || r.DayNumber == nil || *r.DayNumber != 3 {
		t.Error("expected plan id and day number to be set")
	}
	if rs[0].Message != "Day 1 therapies: Snehapana, Abhyanga" {
		t.Errorf("unexpected day 1 message %q", rs[0].Message)
	}
}

func TestForPlan_LocalHourAcrossDST(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	s := newTestService(newMockRepo(), ny)
	p := testPlan(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC))

	for _, r := range s.ForPlan(p) {
		local := r.ScheduledAt.In(ny)
		if local.Hour() != 10 || local.Minute() != 0 {
			t.Errorf("day %d: expected 10:00 local, got %s", *r.DayNumber, local.Format(time.Kitchen))
		}
		wantDay := 8 + *r.DayNumber - 1
		if local.Day() != wantDay {
			t.Errorf("day %d: expected March %d, got %s", *r.DayNumber, wantDay, local.Format("2006-01-02"))
		}
	}
}

func TestSchedulePlan(t *testing.T) {
	repo := newMockRepo()
	s := newTestService(repo, time.UTC)
	p := testPlan(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	n, err := s.SchedulePlan(context.Background(), p)
	if err != nil {
		t.Fatalf("schedule plan: %v", err)
	}
	if n != 7 || len(repo.store) != 7 {
		t.Errorf("expected 7 stored reminders, got n=%d stored=%d", n, len(repo.store))
	}
}

func TestSchedulePlan_BatchFailure(t *testing.T) {
	repo := newMockRepo()
	repo.batchErr = errors.New("deadlock detected")
	s := newTestService(repo, time.UTC)

	n, err := s.SchedulePlan(context.Background(), testPlan(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	if err == nil {
		t.Fatal("expected batch error")
	}
	if !apperr.Is(err, apperr.KindInternal) {
		t.Errorf("expected internal error, got %v", err)
	}
	if n != 0 || len(repo.store) != 0 {
		t.Errorf("expected nothing stored, got n=%d stored=%d", n, len(repo.store))
	}
}

// -- Ad-hoc reminders --

func TestCreate_RoleDispatch(t *testing.T) {
	s := newTestService(newMockRepo(), time.UTC)
	at := fixedNow.Add(2 * time.Hour)
	ctx := context.Background()

	r, err := s.Create(ctx, patient, CreateInput{ScheduledAt: at, Message: "take Triphala"})
	if err != nil {
		t.Fatalf("patient create: %v", err)
	}
	if r.PatientID != patient.ID || r.Category != CategoryGeneral || r.CreatedBy != auth.RolePatient {
		t.Errorf("unexpected reminder %+v", r)
	}

	other := uuid.New()
	r, err = s.Create(ctx, doctor, CreateInput{PatientID: other, ScheduledAt: at, Message: "light dinner", Category: CategoryDiet})
	if err != nil {
		t.Fatalf("doctor create: %v", err)
	}
	if r.PatientID != other || r.Category != CategoryDiet || r.CreatedBy != auth.RoleDoctor {
		t.Errorf("unexpected reminder %+v", r)
	}
}

func TestCreate_Errors(t *testing.T) {
	s := newTestService(newMockRepo(), time.UTC)
	at := fixedNow.Add(time.Hour)
	tests := []struct {
		name  string
		actor auth.Actor
		in    CreateInput
		kind  apperr.Kind
	}{
		{"patient for someone else", patient, CreateInput{PatientID: uuid.New(), ScheduledAt: at, Message: "x"}, apperr.KindAuthorization},
		{"doctor without patient", doctor, CreateInput{ScheduledAt: at, Message: "x"}, apperr.KindValidation},
		{"system role", auth.Actor{ID: uuid.New(), Role: auth.RoleSystem}, CreateInput{ScheduledAt: at, Message: "x"}, apperr.KindAuthorization},
		{"missing time", patient, CreateInput{Message: "x"}, apperr.KindValidation},
		{"blank message", patient, CreateInput{ScheduledAt: at, Message: "   "}, apperr.KindValidation},
		{"unknown category", patient, CreateInput{ScheduledAt: at, Message: "x", Category: "yoga"}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Create(context.Background(), tt.actor, tt.in); !apperr.Is(err, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}

// -- Queries --

func TestToday(t *testing.T) {
	repo := newMockRepo()
	s := newTestService(repo, time.UTC)
	ist := mustLoad(t, "Asia/Kolkata")
	ctx := context.Background()

	// fixedNow is 17:30 on March 15 in Kolkata; that local day spans
	// 2024-03-14T18:30Z to 2024-03-15T18:30Z.
	times := []time.Time{
		time.Date(2024, 3, 14, 18, 0, 0, 0, time.UTC),  // previous local day
		time.Date(2024, 3, 15, 17, 0, 0, 0, time.UTC),  // today, later
		time.Date(2024, 3, 14, 18, 30, 0, 0, time.UTC), // today, first instant
		time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC), // next local day
	}
	for i, at := range times {
		if _, err := s.Create(ctx, patient, CreateInput{ScheduledAt: at, Message: "r" + string(rune('0'+i))}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := s.Create(ctx, doctor, CreateInput{PatientID: uuid.New(), ScheduledAt: times[1], Message: "other"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Today(ctx, patient, ist)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 reminders today, got %d", len(got))
	}
	if got[0].Message != "r2" || got[1].Message != "r1" {
		t.Errorf("expected ascending order r2, r1; got %s, %s", got[0].Message, got[1].Message)
	}

	utc, err := s.Today(ctx, patient, nil)
	if err != nil {
		t.Fatalf("today utc: %v", err)
	}
	if len(utc) != 2 || utc[0].Message != "r1" || utc[1].Message != "r3" {
		t.Errorf("unexpected UTC day listing %d", len(utc))
	}

	if _, err := s.Today(ctx, doctor, nil); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("expected authorization error for doctor, got %v", err)
	}
}

func TestList_StatusFilter(t *testing.T) {
	s := newTestService(newMockRepo(), time.UTC)
	ctx := context.Background()
	r, _ := s.Create(ctx, patient, CreateInput{ScheduledAt: fixedNow, Message: "a"})
	s.Create(ctx, patient, CreateInput{ScheduledAt: fixedNow, Message: "b"})
	if _, err := s.MarkSent(ctx, patient, r.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	_, total, err := s.List(ctx, patient, StatusPending, 20, 0)
	if err != nil || total != 1 {
		t.Errorf("expected 1 pending reminder, got %d (%v)", total, err)
	}
	if _, _, err := s.List(ctx, patient, "snoozed", 20, 0); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// -- Status transitions --

func TestMarkSent(t *testing.T) {
	repo := newMockRepo()
	s := newTestService(repo, time.UTC)
	ctx := context.Background()
	r, _ := s.Create(ctx, patient, CreateInput{ScheduledAt: fixedNow, Message: "Abhyanga at 9"})

	stranger := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
	if _, err := s.MarkSent(ctx, stranger, r.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found for stranger, got %v", err)
	}

	got, err := s.MarkSent(ctx, patient, r.ID)
	if err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if got.Status != StatusSent || got.SentAt == nil || !got.SentAt.Equal(fixedNow) {
		t.Errorf("unexpected reminder %+v", got)
	}
	if _, err := s.MarkSent(ctx, patient, r.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found marking twice, got %v", err)
	}
	if _, err := s.Cancel(ctx, patient, r.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found cancelling a sent reminder, got %v", err)
	}
	if _, err := s.MarkSent(ctx, doctor, r.ID); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("expected authorization error for doctor, got %v", err)
	}
}

func TestStatus_OneWay(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	repo := newMockRepo()
	s := newTestService(repo, time.UTC)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 20; i++ {
		r, _ := s.Create(ctx, patient, CreateInput{ScheduledAt: fixedNow.Add(-time.Minute), Message: "m"})
		ids = append(ids, r.ID)
	}
	settled := map[uuid.UUID]Status{}
	for step := 0; step < 200; step++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(4) {
		case 0:
			s.MarkSent(ctx, patient, id)
		case 1:
			s.Cancel(ctx, patient, id)
		case 2:
			s.MarkDispatched(ctx, id)
		case 3:
			s.RecordFailure(ctx, id, errors.New("smtp timeout"))
		}
		for _, rid := range ids {
			st := repo.get(rid).Status
			if prev, ok := settled[rid]; ok && st != prev {
				t.Fatalf("reminder left settled status %s for %s", prev, st)
			}
			if st != StatusPending {
				settled[rid] = st
			}
		}
	}
}

// -- Delivery --

func TestDueAndDispatch(t *testing.T) {
	repo := newMockRepo()
	s := newTestService(repo, time.UTC)
	ctx := context.Background()

	past, _ := s.Create(ctx, patient, CreateInput{ScheduledAt: fixedNow.Add(-time.Hour), Message: "past"})
	s.Create(ctx, patient, CreateInput{ScheduledAt: fixedNow.Add(time.Hour), Message: "future"})
	exhausted, _ := s.Create(ctx, patient, CreateInput{ScheduledAt: fixedNow.Add(-2 * time.Hour), Message: "exhausted"})
	for i := 0; i < MaxDeliveryAttempts; i++ {
		if err := s.RecordFailure(ctx, exhausted.ID, errors.New("bounce")); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	due, err := s.Due(ctx, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].ID != past.ID {
		t.Fatalf("expected only the past reminder due, got %d", len(due))
	}
	if repo.get(exhausted.ID).LastError != "bounce" {
		t.Error("expected last error to be recorded")
	}

	got, err := s.MarkDispatched(ctx, past.ID)
	if err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}
	if got.Status != StatusSent || got.SentAt == nil {
		t.Errorf("unexpected reminder %+v", got)
	}
	if due, _ := s.Due(ctx, 10); len(due) != 0 {
		t.Errorf("expected nothing due after dispatch, got %d", len(due))
	}
}

func TestDue_ClaimHidesReminderFromSecondDispatcher(t *testing.T) {
	repo := newMockRepo()
	s := newTestService(repo, time.UTC)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		s.Create(ctx, patient, CreateInput{ScheduledAt: fixedNow.Add(-time.Duration(i) * time.Minute), Message: "m"})
	}

	first, err := s.Due(ctx, 2)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	second, err := s.Due(ctx, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(first) != 2 || len(second) != 1 {
		t.Fatalf("expected claims split 2/1, got %d/%d", len(first), len(second))
	}
	for _, r := range first {
		if r.ID == second[0].ID {
			t.Fatalf("reminder %s handed to both dispatchers", r.ID)
		}
	}
	if again, _ := s.Due(ctx, 10); len(again) != 0 {
		t.Errorf("expected every reminder claimed, got %d", len(again))
	}

	if err := s.RecordFailure(ctx, first[0].ID, errors.New("smtp timeout")); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	retry, _ := s.Due(ctx, 10)
	if len(retry) != 1 || retry[0].ID != first[0].ID {
		t.Errorf("expected failed reminder released for retry, got %d", len(retry))
	}

	s.now = func() time.Time { return fixedNow.Add(ClaimLease) }
	if expired, _ := s.Due(ctx, 10); len(expired) != 3 {
		t.Errorf("expected all claims expired after the lease, got %d", len(expired))
	}
}

// Plan reminders satisfy the plan builder's scheduler contract.
var _ treatmentplan.ReminderScheduler = (*Service)(nil)
