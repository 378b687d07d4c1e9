// Package notification delivers due reminders to patients over email, Expo
// push and a structured-log channel, with {{key}} template rendering.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

// Channel names a delivery route.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelLog   Channel = "log"
)

// ErrNoAddress is returned by a Sender when the contact has no address for
// its channel. The dispatcher skips such channels rather than counting a failure.
var ErrNoAddress = errors.New("contact has no address for channel")

// Contact is where a patient can be reached.
type Contact struct {
	PatientID uuid.UUID
	Name      string
	Email     string
	PushToken string
}

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
	Data    map[string]string
}

// Sender delivers a message over one channel.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, to Contact, msg Message) error
}

// ContactResolver looks up a patient's contact details. A patient without a
// stored contact yields a Contact with only PatientID set.
type ContactResolver interface {
	Resolve(ctx context.Context, patientID uuid.UUID) (Contact, error)
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with one built-in template per
// reminder category.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

// TemplateID is the template used for reminders of category.
func TemplateID(category string) string {
	return "reminder-" + category
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateID("general"),
			Name:    "Treatment Reminder",
			Subject: "Your Panchakarma schedule",
			Body:    "Dear {{patient_name}}, {{message}} (scheduled {{scheduled_at}}).",
		},
		{
			ID:      TemplateID("pre"),
			Name:    "Pre-procedure Reminder",
			Subject: "Preparing for your therapy",
			Body:    "Dear {{patient_name}}, before your session: {{message}} (at {{scheduled_at}}).",
		},
		{
			ID:      TemplateID("post"),
			Name:    "Post-procedure Reminder",
			Subject: "After your therapy",
			Body:    "Dear {{patient_name}}, after your session: {{message}}.",
		},
		{
			ID:      TemplateID("medicine"),
			Name:    "Medicine Reminder",
			Subject: "Time for your medicine",
			Body:    "Dear {{patient_name}}, please take your medicine: {{message}} ({{scheduled_at}}).",
		},
		{
			ID:      TemplateID("diet"),
			Name:    "Diet Reminder",
			Subject: "Your diet plan",
			Body:    "Dear {{patient_name}}, diet guidance for today: {{message}}.",
		},
		{
			ID:      TemplateID("exercise"),
			Name:    "Exercise Reminder",
			Subject: "Time to move",
			Body:    "Dear {{patient_name}}, {{message}} ({{scheduled_at}}).",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

// Job is one reminder awaiting delivery.
type Job struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	Category    string
	Message     string
	ScheduledAt time.Time
}

// Source feeds the dispatcher and records outcomes.
type Source interface {
	Due(ctx context.Context, limit int) ([]Job, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

// render builds the message for job, falling back to the general template for
// unknown categories.
func (e *TemplateEngine) render(job Job, to Contact, loc *time.Location) (Message, error) {
	name := to.Name
	if name == "" {
		name = "patient"
	}
	data := map[string]string{
		"patient_name": name,
		"message":      job.Message,
		"category":     job.Category,
		"scheduled_at": job.ScheduledAt.In(loc).Format("Mon 02 Jan 15:04 MST"),
	}
	subject, body, err := e.Render(TemplateID(job.Category), data)
	if err != nil {
		subject, body, err = e.Render(TemplateID("general"), data)
		if err != nil {
			return Message{}, err
		}
	}
	return Message{
		Subject: subject,
		Body:    body,
		Data:    map[string]string{"reminder_id": job.ID.String(), "category": job.Category},
	}, nil
}
