package treatmentplan

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayurflow/workflow/internal/platform/apperr"
)

// NoVitals is a VitalsProvider for deployments without a vitals feed.
type NoVitals struct{}

func (NoVitals) Latest(context.Context, uuid.UUID) (*VitalsSnapshot, error) { return nil, nil }

type vitalsPG struct{ pool *pgxpool.Pool }

// NewVitalsPG reads the newest row of vitals_reading, which the fitness
// data poller fills.
func NewVitalsPG(pool *pgxpool.Pool) VitalsProvider { return &vitalsPG{pool: pool} }

func (v *vitalsPG) Latest(ctx context.Context, patientID uuid.UUID) (*VitalsSnapshot, error) {
	var s VitalsSnapshot
	err := v.pool.QueryRow(ctx, `
		SELECT COALESCE(heart_rate, 0), COALESCE(systolic, 0), COALESCE(diastolic, 0),
			COALESCE(oxygen_saturation, 0), COALESCE(respiratory_rate, 0), recorded_at
		FROM vitals_reading WHERE patient_id = $1
		ORDER BY recorded_at DESC LIMIT 1`, patientID,
	).Scan(&s.HeartRate, &s.BloodPressure.Systolic, &s.BloodPressure.Diastolic,
		&s.OxygenSaturation, &s.RespiratoryRate, &s.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("vitals provider", fmt.Errorf("query vitals: %w", err))
	}
	return &s, nil
}
