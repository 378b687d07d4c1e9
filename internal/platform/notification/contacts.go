package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contactsPG struct{ pool *pgxpool.Pool }

// NewContactsPG resolves contacts from the patient_contact table.
func NewContactsPG(pool *pgxpool.Pool) ContactResolver { return &contactsPG{pool: pool} }

func (r *contactsPG) Resolve(ctx context.Context, patientID uuid.UUID) (Contact, error) {
	c := Contact{PatientID: patientID}
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(name,''), COALESCE(email,''), COALESCE(push_token,'')
		FROM patient_contact WHERE patient_id = $1`, patientID,
	).Scan(&c.Name, &c.Email, &c.PushToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return Contact{}, fmt.Errorf("resolve contact: %w", err)
	}
	return c, nil
}

// StaticContacts resolves every patient to a contact with no addresses, so
// only channels like the log sender deliver.
type StaticContacts struct{}

func (StaticContacts) Resolve(_ context.Context, patientID uuid.UUID) (Contact, error) {
	return Contact{PatientID: patientID}, nil
}
