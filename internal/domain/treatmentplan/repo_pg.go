package treatmentplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayurflow/workflow/internal/platform/apperr"
	"github.com/ayurflow/workflow/internal/platform/db"
)

// =========== Plan Repository ===========

type planRepoPG struct{ pool *pgxpool.Pool }

func NewPlanRepoPG(pool *pgxpool.Pool) PlanRepository { return &planRepoPG{pool: pool} }

func (r *planRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const planCols = `id, patient_id, doctor_id, title, start_date, days, status,
	reminders_scheduled, version_id, created_at, updated_at`

func (r *planRepoPG) scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	var days []byte
	err := row.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.Title, &p.StartDate, &days, &p.Status,
		&p.RemindersScheduled, &p.VersionID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("treatment plan")
	}
	if err != nil {
		return nil, fmt.Errorf("scan treatment plan: %w", err)
	}
	if err := json.Unmarshal(days, &p.Days); err != nil {
		return nil, fmt.Errorf("decode plan days: %w", err)
	}
	return &p, nil
}

func (r *planRepoPG) Create(ctx context.Context, p *Plan) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	days, err := json.Marshal(p.Days)
	if err != nil {
		return fmt.Errorf("encode plan days: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO treatment_plan (id, patient_id, doctor_id, title, start_date, days, status,
			reminders_scheduled, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.DoctorID, p.Title, p.StartDate, days, p.Status,
		p.RemindersScheduled, p.VersionID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert treatment plan: %w", err)
	}
	return nil
}

func (r *planRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Plan, error) {
	return r.scanPlan(r.conn(ctx).QueryRow(ctx, `SELECT `+planCols+` FROM treatment_plan WHERE id = $1`, id))
}

func (r *planRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Plan, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("GetForUpdate requires a transaction")
	}
	return r.scanPlan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+planCols+` FROM treatment_plan WHERE id = $1 FOR UPDATE`, id))
}

func (r *planRepoPG) Update(ctx context.Context, p *Plan) error {
	days, err := json.Marshal(p.Days)
	if err != nil {
		return fmt.Errorf("encode plan days: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE treatment_plan SET title=$2, days=$3, status=$4, reminders_scheduled=$5,
			version_id=$6, updated_at=$7
		WHERE id = $1`,
		p.ID, p.Title, days, p.Status, p.RemindersScheduled, p.VersionID, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update treatment plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("treatment plan")
	}
	return nil
}

func (r *planRepoPG) SetRemindersScheduled(ctx context.Context, id uuid.UUID, scheduled bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE treatment_plan SET reminders_scheduled = $2, updated_at = NOW() WHERE id = $1`, id, scheduled)
	if err != nil {
		return fmt.Errorf("update reminders_scheduled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("treatment plan")
	}
	return nil
}

func (r *planRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Plan, int, error) {
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

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM treatment_plan WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count treatment plans: %w", err)
	}
	idx := len(args) + 1
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+planCols+` FROM treatment_plan WHERE `+where+
		` ORDER BY start_date DESC, created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list treatment plans: %w", err)
	}
	defer rows.Close()

	var items []*Plan
	for rows.Next() {
		p, err := r.scanPlan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Progress Log Repository ===========

type progressLogRepoPG struct{ pool *pgxpool.Pool }

func NewProgressLogRepoPG(pool *pgxpool.Pool) ProgressLogRepository {
	return &progressLogRepoPG{pool: pool}
}

func (r *progressLogRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *progressLogRepoPG) Append(ctx context.Context, l *ProgressLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	var vitals []byte
	if l.Vitals != nil {
		b, err := json.Marshal(l.Vitals)
		if err != nil {
			return fmt.Errorf("encode vitals snapshot: %w", err)
		}
		vitals = b
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO progress_log (id, plan_id, patient_id, day_number, stage, completed_therapies,
			mood, notes, vitals)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		l.ID, l.PlanID, l.PatientID, l.DayNumber, l.Stage, l.CompletedTherapies,
		l.Mood, l.Notes, vitals,
	).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert progress log: %w", err)
	}
	return nil
}

func (r *progressLogRepoPG) ListByPlan(ctx context.Context, planID uuid.UUID) ([]*ProgressLog, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, plan_id, patient_id, day_number, stage, completed_therapies, mood, notes, vitals, created_at
		FROM progress_log WHERE plan_id = $1
		ORDER BY created_at DESC, seq DESC`, planID)
	if err != nil {
		return nil, fmt.Errorf("list progress logs: %w", err)
	}
	defer rows.Close()

	var items []*ProgressLog
	for rows.Next() {
		var l ProgressLog
		var vitals []byte
		if err := rows.Scan(&l.ID, &l.PlanID, &l.PatientID, &l.DayNumber, &l.Stage, &l.CompletedTherapies,
			&l.Mood, &l.Notes, &vitals, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan progress log: %w", err)
		}
		if len(vitals) > 0 {
			l.Vitals = &VitalsSnapshot{}
			if err := json.Unmarshal(vitals, l.Vitals); err != nil {
				return nil, fmt.Errorf("decode vitals snapshot: %w", err)
			}
		}
		items = append(items, &l)
	}
	return items, rows.Err()
}
