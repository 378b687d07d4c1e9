package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayurflow/workflow/internal/platform/apperr"
	"github.com/ayurflow/workflow/internal/platform/db"
)

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &appointmentRepoPG{pool: pool} }

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, patient_id, doctor_id, scheduled_at, duration_minutes, status,
	concern, treatment_type, mode, fee, version_id, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ScheduledAt, &a.DurationMinutes, &a.Status,
		&a.Concern, &a.TreatmentType, &a.Mode, &a.Fee, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment")
	}
	if err != nil {
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, scheduled_at, duration_minutes, status,
			concern, treatment_type, mode, fee, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.ScheduledAt, a.DurationMinutes, a.Status,
		a.Concern, a.TreatmentType, a.Mode, a.Fee, a.VersionID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) get(ctx context.Context, id uuid.UUID, lock bool) (*Appointment, error) {
	q := `SELECT ` + apptCols + ` FROM appointment WHERE id = $1`
	if lock {
		q += ` FOR UPDATE`
	}
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, q, id))
	if err != nil {
		return nil, err
	}
	events, err := r.eventsFor(ctx, []uuid.UUID{a.ID})
	if err != nil {
		return nil, err
	}
	a.Events = events[a.ID]
	return a, nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, id, false)
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("GetForUpdate requires a transaction")
	}
	return r.get(ctx, id, true)
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status=$2, scheduled_at=$3, version_id=$4, updated_at=$5
		WHERE id = $1`,
		a.ID, a.Status, a.ScheduledAt, a.VersionID, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment")
	}
	return nil
}

func (r *appointmentRepoPG) AppendEvent(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment_event (id, appointment_id, type, actor_role, at)
		VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.AppointmentID, e.Type, e.ActorRole, e.At)
	if err != nil {
		return fmt.Errorf("insert appointment event: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) eventsFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]Event, error) {
	out := make(map[uuid.UUID][]Event, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, appointment_id, type, actor_role, at FROM appointment_event
		WHERE appointment_id = ANY($1) ORDER BY at, seq`, ids)
	if err != nil {
		return nil, fmt.Errorf("query appointment events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.Type, &e.ActorRole, &e.At); err != nil {
			return nil, fmt.Errorf("scan appointment event: %w", err)
		}
		out[e.AppointmentID] = append(out[e.AppointmentID], e)
	}
	return out, rows.Err()
}

// partyClause renders the ownership and status predicate shared by the list queries.
func partyClause(f ListFilter) (string, []interface{}) {
	var where string
	var args []interface{}
	switch {
	case f.PatientID != nil:
		where = `patient_id = $1`
		args = append(args, *f.PatientID)
	case f.DoctorID != nil:
		where = `doctor_id = $1`
		args = append(args, *f.DoctorID)
	default:
		where = `FALSE`
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	return where, args
}

func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where, args := partyClause(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	idx := len(args) + 1
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+apptCols+` FROM appointment WHERE `+where+
		` ORDER BY scheduled_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var items []*Appointment
	var ids []uuid.UUID
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
		ids = append(ids, a.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()

	events, err := r.eventsFor(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, a := range items {
		a.Events = events[a.ID]
	}
	return items, total, nil
}

// =========== Visit Repository ===========

type visitRepoPG struct{ pool *pgxpool.Pool }

func NewVisitRepoPG(pool *pgxpool.Pool) VisitRepository { return &visitRepoPG{pool: pool} }

func (r *visitRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const visitCols = `id, appointment_id, patient_id, doctor_id, date, treatment_type, summary,
	follow_up_recommended, next_visit_at, created_at`

func (r *visitRepoPG) Append(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit (id, appointment_id, patient_id, doctor_id, date, treatment_type, summary,
			follow_up_recommended, next_visit_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		v.ID, v.AppointmentID, v.PatientID, v.DoctorID, v.Date, v.TreatmentType, v.Summary,
		v.FollowUpRecommended, v.NextVisitAt,
	).Scan(&v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (r *visitRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Visit, int, error) {
	f.Status = ""
	where, args := partyClause(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visit WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count visits: %w", err)
	}
	idx := len(args) + 1
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+visitCols+` FROM visit WHERE `+where+
		` ORDER BY date DESC LIMIT $%d OFFSET $%d`, idx, idx+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	var items []*Visit
	for rows.Next() {
		var v Visit
		if err := rows.Scan(&v.ID, &v.AppointmentID, &v.PatientID, &v.DoctorID, &v.Date, &v.TreatmentType,
			&v.Summary, &v.FollowUpRecommended, &v.NextVisitAt, &v.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan visit: %w", err)
		}
		items = append(items, &v)
	}
	return items, total, rows.Err()
}
