package notification

import (
	"context"
	"fmt"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// ---------------------------------------------------------------------------
// Email
// ---------------------------------------------------------------------------

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender delivers over SMTP.
type EmailSender struct {
	dialer mailDialer
	from   string
}

// NewEmailSender dials host:port with user/password for every message.
func NewEmailSender(host string, port int, user, password, from string) *EmailSender {
	return &EmailSender{dialer: gomail.NewDialer(host, port, user, password), from: from}
}

func (s *EmailSender) Channel() Channel { return ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, to Contact, msg Message) error {
	if to.Email == "" {
		return ErrNoAddress
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	if to.Name != "" {
		m.SetAddressHeader("To", to.Email, to.Name)
	} else {
		m.SetHeader("To", to.Email)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Expo push
// ---------------------------------------------------------------------------

type pushPublisher interface {
	Publish(message *expo.PushMessage) (expo.PushResponse, error)
}

// PushSender delivers through the Expo push service.
type PushSender struct {
	client pushPublisher
}

func NewPushSender() *PushSender {
	return &PushSender{client: expo.NewPushClient(nil)}
}

func (s *PushSender) Channel() Channel { return ChannelPush }

func (s *PushSender) Send(ctx context.Context, to Contact, msg Message) error {
	if to.PushToken == "" {
		return ErrNoAddress
	}
	token, err := expo.NewExponentPushToken(to.PushToken)
	if err != nil {
		return fmt.Errorf("invalid push token: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := s.client.Publish(&expo.PushMessage{
		To:       []expo.ExponentPushToken{token},
		Title:    msg.Subject,
		Body:     msg.Body,
		Data:     msg.Data,
		Sound:    "default",
		Priority: expo.DefaultPriority,
	})
	if err != nil {
		return fmt.Errorf("publish push: %w", err)
	}
	if err := resp.ValidateResponse(); err != nil {
		return fmt.Errorf("push rejected: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Log
// ---------------------------------------------------------------------------

// LogSender writes the notification to the structured log. It stands in for
// real channels in development.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{log: logger.With().Str("channel", string(ChannelLog)).Logger()}
}

func (s *LogSender) Channel() Channel { return ChannelLog }

func (s *LogSender) Send(_ context.Context, to Contact, msg Message) error {
	s.log.Info().
		Str("patient_id", to.PatientID.String()).
		Str("subject", msg.Subject).
		Str("body", msg.Body).
		Msg("reminder notification")
	return nil
}
