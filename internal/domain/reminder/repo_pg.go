package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayurflow/workflow/internal/platform/apperr"
	"github.com/ayurflow/workflow/internal/platform/db"
)

type reminderRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &reminderRepoPG{pool: pool} }

func (r *reminderRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const reminderCols = `id, patient_id, plan_id, day_number, category, message, scheduled_at, status,
	sent_at, created_by, attempts, COALESCE(last_error, ''), created_at`

const insertReminder = `
	INSERT INTO reminder (id, patient_id, plan_id, day_number, category, message, scheduled_at,
		status, created_by)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	RETURNING created_at`

func (r *reminderRepoPG) scanReminder(row pgx.Row) (*Reminder, error) {
	var rem Reminder
	err := row.Scan(&rem.ID, &rem.PatientID, &rem.PlanID, &rem.DayNumber, &rem.Category, &rem.Message,
		&rem.ScheduledAt, &rem.Status, &rem.SentAt, &rem.CreatedBy, &rem.Attempts, &rem.LastError, &rem.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("reminder")
	}
	if err != nil {
		return nil, fmt.Errorf("scan reminder: %w", err)
	}
	return &rem, nil
}

func insertArgs(rem *Reminder) []interface{} {
	return []interface{}{rem.ID, rem.PatientID, rem.PlanID, rem.DayNumber, rem.Category, rem.Message,
		rem.ScheduledAt, rem.Status, rem.CreatedBy}
}

func (r *reminderRepoPG) Create(ctx context.Context, rem *Reminder) error {
	if rem.ID == uuid.Nil {
		rem.ID = uuid.New()
	}
	if err := r.conn(ctx).QueryRow(ctx, insertReminder, insertArgs(rem)...).Scan(&rem.CreatedAt); err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

// CreateBatch pipelines every insert in one pgx.Batch. Outside a transaction
// the batch still runs as one implicit transaction, so a failing row aborts
// the whole batch.
func (r *reminderRepoPG) CreateBatch(ctx context.Context, rs []*Reminder) error {
	if len(rs) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, rem := range rs {
		if rem.ID == uuid.Nil {
			rem.ID = uuid.New()
		}
		b.Queue(insertReminder, insertArgs(rem)...)
	}
	br := r.conn(ctx).SendBatch(ctx, b)
	defer br.Close()
	for i, rem := range rs {
		if err := br.QueryRow().Scan(&rem.CreatedAt); err != nil {
			return fmt.Errorf("insert reminder %d of %d: %w", i+1, len(rs), err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close reminder batch: %w", err)
	}
	return nil
}

func (r *reminderRepoPG) collect(rows pgx.Rows) ([]*Reminder, error) {
	defer rows.Close()
	var items []*Reminder
	for rows.Next() {
		rem, err := r.scanReminder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rem)
	}
	return items, rows.Err()
}

func (r *reminderRepoPG) ListBetween(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Reminder, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reminderCols+` FROM reminder
		WHERE patient_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at ASC, created_at ASC`, patientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list reminders between: %w", err)
	}
	return r.collect(rows)
}

func (r *reminderRepoPG) List(ctx context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]*Reminder, int, error) {
	where := `patient_id = $1`
	args := []interface{}{patientID}
	if status != "" {
		args = append(args, status)
		where += ` AND status = $2`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reminder WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reminders: %w", err)
	}
	idx := len(args) + 1
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+reminderCols+` FROM reminder WHERE `+where+
		` ORDER BY scheduled_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reminders: %w", err)
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *reminderRepoPG) Transition(ctx context.Context, id uuid.UUID, patientID *uuid.UUID, status Status, at time.Time) (*Reminder, error) {
	q := `UPDATE reminder SET status = $2,
			sent_at = CASE WHEN $2::text = 'sent' THEN $3::timestamptz ELSE sent_at END
		WHERE id = $1 AND status = 'pending'`
	args := []interface{}{id, status, at}
	if patientID != nil {
		q += ` AND patient_id = $4`
		args = append(args, *patientID)
	}
	q += ` RETURNING ` + reminderCols
	return r.scanReminder(r.conn(ctx).QueryRow(ctx, q, args...))
}

func (r *reminderRepoPG) Due(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	rows, err := r.conn(ctx).Query(ctx, `UPDATE reminder SET claimed_until = $4
		WHERE id IN (
			SELECT id FROM reminder
			WHERE status = 'pending' AND scheduled_at <= $1 AND attempts < $2
				AND (claimed_until IS NULL OR claimed_until <= $1)
			ORDER BY scheduled_at ASC LIMIT $3
			FOR UPDATE SKIP LOCKED)
		RETURNING `+reminderCols, now, MaxDeliveryAttempts, limit, now.Add(ClaimLease))
	if err != nil {
		return nil, fmt.Errorf("claim due reminders: %w", err)
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not keep the subquery order.
	sort.Slice(items, func(i, j int) bool { return items[i].ScheduledAt.Before(items[j].ScheduledAt) })
	return items, nil
}

func (r *reminderRepoPG) RecordFailure(ctx context.Context, id uuid.UUID, msg string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminder SET attempts = attempts + 1, last_error = $2, claimed_until = NULL
		WHERE id = $1 AND status = 'pending'`, id, msg)
	if err != nil {
		return fmt.Errorf("record reminder failure: %w", err)
	}
	return nil
}
