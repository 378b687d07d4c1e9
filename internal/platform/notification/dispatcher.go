package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ayurflow/workflow/internal/platform/telemetry"
)

const (
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

// Stats summarizes one dispatch pass.
type Stats struct {
	Due       int `json:"due"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// DispatcherConfig tunes a Dispatcher.
type DispatcherConfig struct {
	Batch       int
	Concurrency int
	Location    *time.Location
}

// Dispatcher pulls due reminders from a Source and pushes them through every
// configured Sender. A job counts as delivered when at least one channel
// accepts it.
type Dispatcher struct {
	source    Source
	contacts  ContactResolver
	senders   []Sender
	templates *TemplateEngine
	cfg       DispatcherConfig
	metrics   *telemetry.Metrics
	log       zerolog.Logger
}

func NewDispatcher(source Source, contacts ContactResolver, senders []Sender, cfg DispatcherConfig, metrics *telemetry.Metrics, logger zerolog.Logger) *Dispatcher {
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Dispatcher{
		source:    source,
		contacts:  contacts,
		senders:   senders,
		templates: NewTemplateEngine(),
		cfg:       cfg,
		metrics:   metrics,
		log:       logger.With().Str("component", "reminder-dispatcher").Logger(),
	}
}

// Templates exposes the engine so callers can override built-in templates.
func (d *Dispatcher) Templates() *TemplateEngine { return d.templates }

// RunOnce delivers one batch of due reminders. Per-job failures are recorded
// on the source and counted in Stats; only a failure to fetch the batch is
// returned.
func (d *Dispatcher) RunOnce(ctx context.Context) (Stats, error) {
	jobs, err := d.source.Due(ctx, d.cfg.Batch)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch due reminders: %w", err)
	}
	stats := Stats{Due: len(jobs)}
	if len(jobs) == 0 {
		return stats, nil
	}

	results := make([]error, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i := range jobs {
		i := i
		g.Go(func() error {
			results[i] = d.deliver(gctx, jobs[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, failure := range results {
		if failure == nil {
			stats.Delivered++
			if err := d.source.MarkDelivered(ctx, jobs[i].ID); err != nil {
				d.log.Warn().Err(err).Str("reminder_id", jobs[i].ID.String()).Msg("mark delivered failed")
			}
			continue
		}
		stats.Failed++
		if err := d.source.MarkFailed(ctx, jobs[i].ID, failure); err != nil {
			d.log.Warn().Err(err).Str("reminder_id", jobs[i].ID.String()).Msg("record delivery failure failed")
		}
	}

	d.log.Info().Int("due", stats.Due).Int("delivered", stats.Delivered).Int("failed", stats.Failed).
		Msg("dispatch pass complete")
	return stats, nil
}

func (d *Dispatcher) deliver(ctx context.Context, job Job) error {
	to, err := d.contacts.Resolve(ctx, job.PatientID)
	if err != nil {
		return err
	}
	msg, err := d.templates.render(job, to, d.cfg.Location)
	if err != nil {
		return err
	}

	var errs []string
	delivered := false
	for _, s := range d.senders {
		ch := string(s.Channel())
		err := s.Send(ctx, to, msg)
		switch {
		case err == nil:
			delivered = true
			d.metrics.Delivery(ch, outcomeDelivered)
		case errors.Is(err, ErrNoAddress):
			d.metrics.Delivery(ch, outcomeSkipped)
		default:
			d.metrics.Delivery(ch, outcomeFailed)
			errs = append(errs, ch+": "+err.Error())
			d.log.Warn().Err(err).Str("channel", ch).Str("reminder_id", job.ID.String()).Msg("delivery failed")
		}
	}
	if delivered {
		return nil
	}
	if len(errs) == 0 {
		return errors.New("no channel could reach patient")
	}
	return errors.New(strings.Join(errs, "; "))
}

// Run calls RunOnce every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.RunOnce(ctx); err != nil {
			d.log.Error().Err(err).Msg("dispatch pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
