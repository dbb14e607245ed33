package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/agendamento/libs/db"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

type WaitlistRepository struct {
	db db.Querier
}

func NewWaitlistRepository(q db.Querier) *WaitlistRepository {
	return &WaitlistRepository{db: q}
}

const waitlistColumns = `id, company_id, customer_id, service_id, professional_id, preferred_from, preferred_to,
	preferred_days, notes, status, COALESCE(appointment_id, ''), created_by, created_at, updated_at`

func (r *WaitlistRepository) Insert(ctx context.Context, it model.WaitingListItem) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO waiting_list (id, company_id, customer_id, service_id, professional_id, preferred_from,
			preferred_to, preferred_days, notes, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, it.ID, it.CompanyID, it.CustomerID, it.ServiceID, it.ProfessionalID, it.PreferredFrom, it.PreferredTo,
		weekdayInts(it.PreferredDays), it.Notes, string(it.Status), it.CreatedBy, it.CreatedAt)
	return mapErr(err, "waiting list item")
}

func (r *WaitlistRepository) Get(ctx context.Context, companyID, id string) (model.WaitingListItem, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+waitlistColumns+`
		FROM waiting_list
		WHERE company_id = $1 AND id = $2
	`, companyID, id)
	it, err := scanWaitlist(row)
	if err != nil {
		return model.WaitingListItem{}, mapErr(err, "waiting list item")
	}
	return it, nil
}

// List returns the company's items, oldest first. An empty status lists all.
func (r *WaitlistRepository) List(ctx context.Context, companyID string, status model.WaitlistStatus) ([]model.WaitingListItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+waitlistColumns+`
		FROM waiting_list
		WHERE company_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at, id
	`, companyID, string(status))
	if err != nil {
		return nil, mapErr(err, "waiting list")
	}
	defer rows.Close()
	var out []model.WaitingListItem
	for rows.Next() {
		it, err := scanWaitlist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *WaitlistRepository) UpdateStatus(ctx context.Context, companyID, id string, status model.WaitlistStatus, appointmentID string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE waiting_list
		SET status = $3, appointment_id = COALESCE($4, appointment_id), updated_at = $5
		WHERE company_id = $1 AND id = $2
	`, companyID, id, string(status), nullString(appointmentID), at)
	return mapErr(err, "waiting list item")
}

func scanWaitlist(row rowScanner) (model.WaitingListItem, error) {
	var (
		it     model.WaitingListItem
		days   []int16
		status string
	)
	err := row.Scan(&it.ID, &it.CompanyID, &it.CustomerID, &it.ServiceID, &it.ProfessionalID,
		&it.PreferredFrom, &it.PreferredTo, &days, &it.Notes, &status, &it.AppointmentID,
		&it.CreatedBy, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return model.WaitingListItem{}, err
	}
	it.Status = model.WaitlistStatus(status)
	for _, d := range days {
		it.PreferredDays = append(it.PreferredDays, time.Weekday(d))
	}
	return it, nil
}

func weekdayInts(days []time.Weekday) []int16 {
	out := make([]int16, 0, len(days))
	for _, d := range days {
		out = append(out, int16(d))
	}
	return out
}
