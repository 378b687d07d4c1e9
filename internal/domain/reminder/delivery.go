package reminder

import (
	"context"

	"github.com/google/uuid"

	"github.com/ayurflow/workflow/internal/platform/notification"
)

// DeliverySource adapts the service to the notification dispatcher.
type DeliverySource struct {
	svc *Service
}

func NewDeliverySource(svc *Service) *DeliverySource {
	return &DeliverySource{svc: svc}
}

func (d *DeliverySource) Due(ctx context.Context, limit int) ([]notification.Job, error) {
	items, err := d.svc.Due(ctx, limit)
	if err != nil {
		return nil, err
	}
	jobs := make([]notification.Job, 0, len(items))
	for _, r := range items {
		jobs = append(jobs, notification.Job{
			ID:          r.ID,
			PatientID:   r.PatientID,
			Category:    string(r.Category),
			Message:     r.Message,
			ScheduledAt: r.ScheduledAt,
		})
	}
	return jobs, nil
}

func (d *DeliverySource) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	_, err := d.svc.MarkDispatched(ctx, id)
	return err
}

func (d *DeliverySource) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return d.svc.RecordFailure(ctx, id, cause)
}
