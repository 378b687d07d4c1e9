package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// ---------------------------------------------------------------------------
// Template Engine Tests
// ---------------------------------------------------------------------------

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{
		ID:      "test-tpl",
		Name:    "Test Template",
		Subject: "Hello {{name}}",
		Body:    "Dear {{name}}, your code is {{code}}.",
	})

	subject, body, err := eng.Render("test-tpl", map[string]string{
		"name": "Asha",
		"code": "1234",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Hello Asha" {
		t.Errorf("subject = %q, want %q", subject, "Hello Asha")
	}
	if body != "Dear Asha, your code is 1234." {
		t.Errorf("body = %q, want %q", body, "Dear Asha, your code is 1234.")
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	if _, _, err := eng.Render("nonexistent", nil); err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_BuiltInCategories(t *testing.T) {
	eng := NewTemplateEngine()
	for _, cat := range []string{"general", "pre", "post", "medicine", "diet", "exercise"} {
		if _, _, err := eng.Render(TemplateID(cat), nil); err != nil {
			t.Errorf("built-in template for %q missing: %v", cat, err)
		}
	}
}

func TestTemplateEngine_UnknownPlaceholderKept(t *testing.T) {
	eng := NewTemplateEngine()
	_, body, err := eng.Render(TemplateID("diet"), map[string]string{"patient_name": "Ravi"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "Ravi") || !strings.Contains(body, "{{message}}") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestTemplateEngine_RenderJobFallsBackToGeneral(t *testing.T) {
	eng := NewTemplateEngine()
	job := Job{ID: uuid.New(), Category: "unknown", Message: "Day 2 therapies: Abhyanga",
		ScheduledAt: time.Date(2024, 1, 2, 4, 30, 0, 0, time.UTC)}
	msg, err := eng.render(job, Contact{}, time.FixedZone("IST", 5*3600+1800))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Subject != "Your Panchakarma schedule" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Dear patient") || !strings.Contains(msg.Body, "10:00 IST") {
		t.Errorf("body = %q", msg.Body)
	}
	if msg.Data["reminder_id"] != job.ID.String() {
		t.Errorf("data = %v", msg.Data)
	}
}

// ---------------------------------------------------------------------------
// Sender Tests
// ---------------------------------------------------------------------------

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func TestEmailSender_Send(t *testing.T) {
	d := &fakeDialer{}
	s := &EmailSender{dialer: d, from: "clinic@example.com"}
	err := s.Send(context.Background(), Contact{Email: "p@example.com", Name: "Asha"}, Message{Subject: "S", Body: "B"})
	if err != nil {
		t.Fatal(err)
	}
	if len(d.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(d.sent))
	}
	if got := d.sent[0].GetHeader("Subject"); len(got) != 1 || got[0] != "S" {
		t.Errorf("subject header = %v", got)
	}
	if got := d.sent[0].GetHeader("From"); len(got) != 1 || got[0] != "clinic@example.com" {
		t.Errorf("from header = %v", got)
	}
}

func TestEmailSender_NoAddress(t *testing.T) {
	s := &EmailSender{dialer: &fakeDialer{}}
	if err := s.Send(context.Background(), Contact{}, Message{}); !errors.Is(err, ErrNoAddress) {
		t.Errorf("expected ErrNoAddress, got %v", err)
	}
}

func TestEmailSender_DialError(t *testing.T) {
	s := &EmailSender{dialer: &fakeDialer{err: errors.New("connection refused")}}
	err := s.Send(context.Background(), Contact{Email: "p@example.com"}, Message{})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected dial error, got %v", err)
	}
}

type fakePublisher struct {
	msgs   []*expo.PushMessage
	status string
	err    error
}

func (f *fakePublisher) Publish(m *expo.PushMessage) (expo.PushResponse, error) {
	f.msgs = append(f.msgs, m)
	if f.err != nil {
		return expo.PushResponse{}, f.err
	}
	return expo.PushResponse{PushMessage: *m, Status: f.status}, nil
}

const testToken = "ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"

func TestPushSender_Send(t *testing.T) {
	p := &fakePublisher{status: "ok"}
	s := &PushSender{client: p}
	err := s.Send(context.Background(), Contact{PushToken: testToken},
		Message{Subject: "Title", Body: "Body", Data: map[string]string{"category": "diet"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.msgs) != 1 {
		t.Fatalf("expected 1 push, got %d", len(p.msgs))
	}
	m := p.msgs[0]
	if m.Title != "Title" || m.Body != "Body" || m.Data["category"] != "diet" {
		t.Errorf("unexpected push message %+v", m)
	}
}

func TestPushSender_Rejected(t *testing.T) {
	s := &PushSender{client: &fakePublisher{status: "error"}}
	if err := s.Send(context.Background(), Contact{PushToken: testToken}, Message{}); err == nil {
		t.Fatal("expected error for rejected push")
	}
}

func TestPushSender_InvalidToken(t *testing.T) {
	p := &fakePublisher{status: "ok"}
	s := &PushSender{client: p}
	if err := s.Send(context.Background(), Contact{PushToken: "not-a-token"}, Message{}); err == nil {
		t.Fatal("expected error for invalid token")
	}
	if len(p.msgs) != 0 {
		t.Error("nothing should be published for an invalid token")
	}
}

func TestPushSender_NoAddress(t *testing.T) {
	s := &PushSender{client: &fakePublisher{}}
	if err := s.Send(context.Background(), Contact{}, Message{}); !errors.Is(err, ErrNoAddress) {
		t.Errorf("expected ErrNoAddress, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Dispatcher Tests
// ---------------------------------------------------------------------------

type mockSource struct {
	mu        sync.Mutex
	jobs      []Job
	dueErr    error
	delivered []uuid.UUID
	failed    map[uuid.UUID]error
}

func (m *mockSource) Due(_ context.Context, limit int) ([]Job, error) {
	if m.dueErr != nil {
		return nil, m.dueErr
	}
	if len(m.jobs) > limit {
		return m.jobs[:limit], nil
	}
	return m.jobs, nil
}

func (m *mockSource) MarkDelivered(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, id)
	return nil
}

func (m *mockSource) MarkFailed(_ context.Context, id uuid.UUID, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed == nil {
		m.failed = make(map[uuid.UUID]error)
	}
	m.failed[id] = cause
	return nil
}

type mockSender struct {
	ch    Channel
	mu    sync.Mutex
	count int
	err   func(Contact) error
}

func (m *mockSender) Channel() Channel { return m.ch }
func (m *mockSender) Send(_ context.Context, to Contact, _ Message) error {
	m.mu.Lock()
	m.count++
	m.mu.Unlock()
	if m.err != nil {
		return m.err(to)
	}
	return nil
}

type mapContacts map[uuid.UUID]Contact

func (m mapContacts) Resolve(_ context.Context, id uuid.UUID) (Contact, error) {
	if c, ok := m[id]; ok {
		return c, nil
	}
	return Contact{PatientID: id}, nil
}

func newJobs(n int) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{ID: uuid.New(), PatientID: uuid.New(), Category: "general", Message: "hello",
			ScheduledAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	}
	return jobs
}

func TestDispatcher_DeliversAll(t *testing.T) {
	src := &mockSource{jobs: newJobs(10)}
	sender := &mockSender{ch: ChannelLog}
	d := NewDispatcher(src, StaticContacts{}, []Sender{sender}, DispatcherConfig{Concurrency: 3}, nil, zerolog.Nop())

	stats, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Due != 10 || stats.Delivered != 10 || stats.Failed != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if len(src.delivered) != 10 || sender.count != 10 {
		t.Errorf("delivered=%d sends=%d", len(src.delivered), sender.count)
	}
}

func TestDispatcher_OneChannelIsEnough(t *testing.T) {
	jobs := newJobs(1)
	src := &mockSource{jobs: jobs}
	email := &mockSender{ch: ChannelEmail, err: func(Contact) error { return errors.New("smtp down") }}
	push := &mockSender{ch: ChannelPush}
	d := NewDispatcher(src, StaticContacts{}, []Sender{email, push}, DispatcherConfig{}, nil, zerolog.Nop())

	stats, _ := d.RunOnce(context.Background())
	if stats.Delivered != 1 || len(src.failed) != 0 {
		t.Errorf("expected delivery through push, got %+v failed=%v", stats, src.failed)
	}
}

func TestDispatcher_AllChannelsFail(t *testing.T) {
	jobs := newJobs(2)
	src := &mockSource{jobs: jobs}
	email := &mockSender{ch: ChannelEmail, err: func(Contact) error { return errors.New("smtp down") }}
	d := NewDispatcher(src, StaticContacts{}, []Sender{email}, DispatcherConfig{}, nil, zerolog.Nop())

	stats, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 2 || stats.Delivered != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	for _, j := range jobs {
		cause, ok := src.failed[j.ID]
		if !ok || !strings.Contains(cause.Error(), "smtp down") {
			t.Errorf("job %s: expected recorded failure, got %v", j.ID, cause)
		}
	}
}

func TestDispatcher_NoAddressIsNotDelivery(t *testing.T) {
	jobs := newJobs(2)
	reachable := jobs[0].PatientID
	src := &mockSource{jobs: jobs}
	email := &mockSender{ch: ChannelEmail, err: func(c Contact) error {
		if c.Email == "" {
			return ErrNoAddress
		}
		return nil
	}}
	contacts := mapContacts{reachable: {PatientID: reachable, Email: "p@example.com"}}
	d := NewDispatcher(src, contacts, []Sender{email}, DispatcherConfig{}, nil, zerolog.Nop())

	stats, _ := d.RunOnce(context.Background())
	if stats.Delivered != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if cause := src.failed[jobs[1].ID]; cause == nil || !strings.Contains(cause.Error(), "no channel") {
		t.Errorf("unexpected failure cause %v", cause)
	}
}

func TestDispatcher_BatchLimit(t *testing.T) {
	src := &mockSource{jobs: newJobs(7)}
	d := NewDispatcher(src, StaticContacts{}, []Sender{&mockSender{ch: ChannelLog}}, DispatcherConfig{Batch: 5}, nil, zerolog.Nop())
	stats, _ := d.RunOnce(context.Background())
	if stats.Due != 5 {
		t.Errorf("expected batch of 5, got %d", stats.Due)
	}
}

func TestDispatcher_DueError(t *testing.T) {
	src := &mockSource{dueErr: errors.New("db down")}
	d := NewDispatcher(src, StaticContacts{}, nil, DispatcherConfig{}, nil, zerolog.Nop())
	if _, err := d.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error when the batch cannot be fetched")
	}
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	src := &mockSource{}
	d := NewDispatcher(src, StaticContacts{}, nil, DispatcherConfig{}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
