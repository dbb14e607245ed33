package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/agendamento/libs/db"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/appointments"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/events"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

// AppointmentRepository is the authoritative appointment store. Writes go
// through InTx so the row, its outbox event and its idempotency key commit
// together.
type AppointmentRepository struct {
	db     db.Beginner
	outbox *OutboxRepository
}

func NewAppointmentRepository(b db.Beginner) *AppointmentRepository {
	return &AppointmentRepository{db: b, outbox: NewOutboxRepository(b)}
}

const appointmentColumns = `id, company_id, customer_id, professional_id, service_id, start_time, end_time,
	status, notes, created_by, cancel_reason, confirmed_at, started_at, completed_at, cancelled_at,
	no_show_at, created_at, updated_at`

var activeStatuses = []string{
	string(model.StatusScheduled),
	string(model.StatusConfirmed),
	string(model.StatusInProgress),
}

func (r *AppointmentRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx appointments.Tx) error) error {
	err := db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &appointmentTx{tx: tx, outbox: r.outbox})
	})
	return mapErr(err, "appointment")
}

func (r *AppointmentRepository) Get(ctx context.Context, companyID, id string) (model.Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND company_id = $2
	`, id, companyID)
	a, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, mapErr(err, "appointment")
	}
	return a, nil
}

// ListBusy returns the intervals of non-terminal appointments overlapping [from, to).
func (r *AppointmentRepository) ListBusy(ctx context.Context, companyID, professionalID string, from, to time.Time) ([]model.Interval, error) {
	return listBusy(ctx, r.db, companyID, professionalID, from, to, "")
}

// ListRange returns appointments starting in [from, to), optionally for one
// professional, ordered by start time.
func (r *AppointmentRepository) ListRange(ctx context.Context, companyID, professionalID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE company_id = $1
			AND ($2 = '' OR professional_id = $2)
			AND start_time >= $3 AND start_time < $4
		ORDER BY start_time, id
	`, companyID, professionalID, from, to)
	if err != nil {
		return nil, mapErr(err, "appointments")
	}
	return collectAppointments(rows)
}

// ListDueForReminder returns active appointments of a company starting in
// [from, to) that have not had a reminder yet.
func (r *AppointmentRepository) ListDueForReminder(ctx context.Context, companyID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE company_id = $1
			AND status = ANY($2)
			AND reminder_sent_at IS NULL
			AND start_time >= $3 AND start_time < $4
		ORDER BY start_time, id
	`, companyID, []string{string(model.StatusScheduled), string(model.StatusConfirmed)}, from, to)
	if err != nil {
		return nil, mapErr(err, "appointments")
	}
	return collectAppointments(rows)
}

// MarkReminderSent claims the reminder for an appointment. It reports false
// when another sweep already claimed it.
func (r *AppointmentRepository) MarkReminderSent(ctx context.Context, companyID, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent_at = now()
		WHERE id = $1 AND company_id = $2 AND reminder_sent_at IS NULL
	`, id, companyID)
	if err != nil {
		return false, mapErr(err, "appointment")
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseReminder undoes a claim so a later sweep can send the reminder.
func (r *AppointmentRepository) ReleaseReminder(ctx context.Context, companyID, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent_at = NULL
		WHERE id = $1 AND company_id = $2
	`, id, companyID)
	return mapErr(err, "appointment")
}

type appointmentTx struct {
	tx     pgx.Tx
	outbox *OutboxRepository
}

func (t *appointmentTx) LockProfessional(ctx context.Context, companyID, professionalID string) error {
	return lockProfessional(ctx, t.tx, companyID, professionalID)
}

func (t *appointmentTx) GetForUpdate(ctx context.Context, companyID, id string) (model.Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, id, companyID)
	a, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, mapErr(err, "appointment")
	}
	return a, nil
}

func (t *appointmentTx) ListBusy(ctx context.Context, companyID, professionalID string, from, to time.Time, excludeID string) ([]model.Interval, error) {
	return listBusy(ctx, t.tx, companyID, professionalID, from, to, excludeID)
}

func (t *appointmentTx) Insert(ctx context.Context, a model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments (id, company_id, customer_id, professional_id, service_id, start_time,
			end_time, status, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, a.CompanyID, a.CustomerID, a.ProfessionalID, a.ServiceID, a.StartTime, a.EndTime,
		string(a.Status), a.Notes, a.CreatedBy, a.CreatedAt, a.UpdatedAt)
	return mapErr(err, "appointment")
}

func (t *appointmentTx) Update(ctx context.Context, a model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET start_time = $3,
			end_time = $4,
			status = $5,
			notes = $6,
			cancel_reason = $7,
			confirmed_at = $8,
			started_at = $9,
			completed_at = $10,
			cancelled_at = $11,
			no_show_at = $12,
			updated_at = $13,
			reminder_sent_at = CASE WHEN start_time <> $3 THEN NULL ELSE reminder_sent_at END
		WHERE id = $1 AND company_id = $2
	`, a.ID, a.CompanyID, a.StartTime, a.EndTime, string(a.Status), a.Notes, a.CancelReason,
		a.ConfirmedAt, a.StartedAt, a.CompletedAt, a.CancelledAt, a.NoShowAt, a.UpdatedAt)
	if err != nil {
		return mapErr(err, "appointment")
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "appointment")
	}
	return nil
}

func (t *appointmentTx) AppendEvent(ctx context.Context, e events.Event) error {
	return t.outbox.Insert(ctx, t.tx, e)
}

func (t *appointmentTx) FindIdempotencyKey(ctx context.Context, companyID, key string) (string, bool, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		SELECT appointment_id
		FROM appointment_idempotency
		WHERE company_id = $1 AND idempotency_key = $2
	`, companyID, key).Scan(&id)
	if db.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapErr(err, "idempotency key")
	}
	return id, true, nil
}

func (t *appointmentTx) SaveIdempotencyKey(ctx context.Context, companyID, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointment_idempotency (company_id, idempotency_key, appointment_id)
		VALUES ($1, $2, $3)
	`, companyID, key, appointmentID)
	return mapErr(err, "idempotency key")
}

// lockProfessional takes a transaction-scoped advisory lock on one
// professional's calendar.
func lockProfessional(ctx context.Context, q db.Querier, companyID, professionalID string) error {
	_, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, companyID+":"+professionalID)
	return mapErr(err, "professional lock")
}

func listBusy(ctx context.Context, q db.Querier, companyID, professionalID string, from, to time.Time, excludeID string) ([]model.Interval, error) {
	rows, err := q.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE company_id = $1
			AND professional_id = $2
			AND status = ANY($3)
			AND start_time < $5
			AND end_time > $4
			AND id <> $6
		ORDER BY start_time
	`, companyID, professionalID, activeStatuses, from, to, excludeID)
	if err != nil {
		return nil, mapErr(err, "busy intervals")
	}
	defer rows.Close()

	var out []model.Interval
	for rows.Next() {
		var iv model.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var (
		a      model.Appointment
		status string
	)
	err := row.Scan(&a.ID, &a.CompanyID, &a.CustomerID, &a.ProfessionalID, &a.ServiceID,
		&a.StartTime, &a.EndTime, &status, &a.Notes, &a.CreatedBy, &a.CancelReason,
		&a.ConfirmedAt, &a.StartedAt, &a.CompletedAt, &a.CancelledAt, &a.NoShowAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.AppointmentStatus(status)
	return a, nil
}
