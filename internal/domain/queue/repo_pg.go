package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/queuesync/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, appointment_id, patient_id, doctor_id, clinic_id, status, priority, notes,
	called_at, started_at, completed_at, created_at, updated_at`

func scanEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	var status string
	err := row.Scan(&e.ID, &e.AppointmentID, &e.PatientID, &e.DoctorID, &e.ClinicID, &status, &e.Priority, &e.Notes,
		&e.CalledAt, &e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt)
	e.Status = QueueStatus(status)
	return &e, err
}

func (r *repoPG) ListAppointments(ctx context.Context, w Window, s Scope) ([]*AppointmentRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.id, a.patient_id, a.doctor_id, a.clinic_id, a.start_time, a.status::text,
			COALESCE(p.name, '')
		FROM appointments a
		JOIN patients p ON a.patient_id = p.id
		WHERE a.start_time >= $1 AND a.start_time < $2
			AND ($3::uuid IS NULL OR a.clinic_id = $3)
			AND ($4::uuid IS NULL OR a.doctor_id = $4)
		ORDER BY a.start_time`,
		w.Start, w.End, s.ClinicID, s.DoctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*AppointmentRecord
	for rows.Next() {
		var a AppointmentRecord
		var status string
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ClinicID, &a.StartTime, &status, &a.PatientName); err != nil {
			return nil, err
		}
		a.Status = AppointmentStatus(status)
		items = append(items, &a)
	}
	return items, rows.Err()
}

// Upsert relies on the queue_status_appointment_id_key constraint: two
// concurrent passes both land on the ON CONFLICT branch instead of inserting
// twice. The conditional DO UPDATE leaves rows whose status already matches
// untouched, and RETURNING then yields no row.
func (r *repoPG) Upsert(ctx context.Context, e *QueueEntry, now time.Time) (Action, QueueStatus, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	var (
		id       uuid.UUID
		inserted bool
		previous string
	)
	err := r.conn(ctx).QueryRow(ctx, `
		WITH prev AS (
			SELECT status FROM queue_status WHERE appointment_id = $2
		)
		INSERT INTO queue_status (id, appointment_id, patient_id, doctor_id, clinic_id,
			status, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (appointment_id) DO UPDATE
			SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
			WHERE queue_status.status IS DISTINCT FROM EXCLUDED.status
		RETURNING id, (xmax = 0) AS inserted, COALESCE((SELECT status FROM prev), '')`,
		e.ID, e.AppointmentID, e.PatientID, e.DoctorID, e.ClinicID,
		string(e.Status), e.Priority, now).Scan(&id, &inserted, &previous)

	switch {
	case db.IsNoRows(err):
		return ActionUnchanged, e.Status, nil
	case db.IsUniqueViolation(err):
		return "", "", fmt.Errorf("%w: %s (%s)", ErrDuplicateEntry, e.AppointmentID, db.ConstraintName(err))
	case db.IsMissingUniqueConstraint(err):
		return "", "", fmt.Errorf("queue_status has no unique constraint on appointment_id, apply migrations first (queuesync migrate up): %w", err)
	case err != nil:
		return "", "", err
	}

	e.ID = id
	if inserted {
		e.CreatedAt, e.UpdatedAt = now, now
		return ActionCreated, "", nil
	}
	e.UpdatedAt = now
	return ActionUpdated, QueueStatus(previous), nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, appointmentID uuid.UUID, status QueueStatus, now time.Time) (uuid.UUID, QueueStatus, error) {
	var (
		id       uuid.UUID
		previous string
	)
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_status q SET status = $2, updated_at = $3
		FROM (SELECT id, status FROM queue_status WHERE appointment_id = $1 FOR UPDATE) old
		WHERE q.id = old.id
		RETURNING q.id, old.status`,
		appointmentID, string(status), now).Scan(&id, &previous)
	if db.IsNoRows(err) {
		return uuid.Nil, "", ErrNotFound
	}
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, QueueStatus(previous), nil
}

func (r *repoPG) ResetInProgress(ctx context.Context, w Window, s Scope, now time.Time) ([]*QueueEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE queue_status
		SET status = 'waiting', called_at = NULL, started_at = NULL, updated_at = $3
		WHERE status = 'in_progress'
			AND created_at >= $1 AND created_at < $2
			AND ($4::uuid IS NULL OR clinic_id = $4)
			AND ($5::uuid IS NULL OR doctor_id = $5)
		RETURNING `+entryCols,
		w.Start, w.End, now, s.ClinicID, s.DoctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) MarkCalled(ctx context.Context, appointmentID uuid.UUID, now time.Time) (*QueueEntry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_status
		SET status = 'in_progress', called_at = $2, started_at = $2, updated_at = $2
		WHERE appointment_id = $1
		RETURNING `+entryCols, appointmentID, now))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return e, err
}

func (r *repoPG) MarkCompleted(ctx context.Context, appointmentID uuid.UUID, now time.Time) (*QueueEntry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_status
		SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE appointment_id = $1
		RETURNING `+entryCols, appointmentID, now))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return e, err
}

func (r *repoPG) ListQueue(ctx context.Context, w Window, s Scope) ([]*SnapshotRow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT q.id, q.appointment_id, q.patient_id, q.doctor_id, q.clinic_id,
			COALESCE(p.name, ''), q.status, q.priority, a.start_time, a.status::text,
			q.called_at, q.started_at, q.created_at
		FROM queue_status q
		JOIN patients p ON q.patient_id = p.id
		JOIN appointments a ON q.appointment_id = a.id
		WHERE q.created_at >= $1 AND q.created_at < $2
			AND ($3::uuid IS NULL OR q.clinic_id = $3)
			AND ($4::uuid IS NULL OR q.doctor_id = $4)
		ORDER BY
			CASE q.status
				WHEN 'waiting' THEN 1
				WHEN 'in_progress' THEN 2
				WHEN 'completed' THEN 3
				ELSE 4
			END,
			q.priority DESC,
			a.start_time ASC`,
		w.Start, w.End, s.ClinicID, s.DoctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*SnapshotRow
	for rows.Next() {
		var row SnapshotRow
		var status, apptStatus string
		if err := rows.Scan(&row.EntryID, &row.AppointmentID, &row.PatientID, &row.DoctorID, &row.ClinicID,
			&row.PatientName, &status, &row.Priority, &row.StartTime, &apptStatus,
			&row.CalledAt, &row.StartedAt, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Status = QueueStatus(status)
		row.AppointmentStatus = AppointmentStatus(apptStatus)
		items = append(items, &row)
	}
	return items, rows.Err()
}
