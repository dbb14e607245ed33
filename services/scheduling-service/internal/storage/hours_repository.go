package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/agendamento/libs/db"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

// HoursRepository stores weekday business hours and schedule blocks.
type HoursRepository struct {
	db db.Beginner
}

func NewHoursRepository(b db.Beginner) *HoursRepository {
	return &HoursRepository{db: b}
}

const hourColumns = `company_id, weekday, is_open, open_minute, close_minute, lunch_start_minute,
	lunch_end_minute, COALESCE(slot_duration_minutes, 0), min_advance_hours, max_advance_days`

func (r *HoursRepository) GetBusinessHour(ctx context.Context, companyID string, weekday time.Weekday) (model.BusinessHour, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+hourColumns+`
		FROM business_hours
		WHERE company_id = $1 AND weekday = $2
	`, companyID, int(weekday))
	bh, err := scanHour(row)
	if err != nil {
		return model.BusinessHour{}, mapErr(err, "business hours")
	}
	return bh, nil
}

func (r *HoursRepository) ListBusinessHours(ctx context.Context, companyID string) ([]model.BusinessHour, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+hourColumns+`
		FROM business_hours
		WHERE company_id = $1
		ORDER BY weekday
	`, companyID)
	if err != nil {
		return nil, mapErr(err, "business hours")
	}
	defer rows.Close()

	var out []model.BusinessHour
	for rows.Next() {
		bh, err := scanHour(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bh)
	}
	return out, rows.Err()
}

func (r *HoursRepository) UpsertBusinessHour(ctx context.Context, bh model.BusinessHour) error {
	if err := ValidateBusinessHour(bh); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO business_hours (company_id, weekday, is_open, open_minute, close_minute,
			lunch_start_minute, lunch_end_minute, slot_duration_minutes, min_advance_hours, max_advance_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (company_id, weekday) DO UPDATE SET
			is_open = EXCLUDED.is_open,
			open_minute = EXCLUDED.open_minute,
			close_minute = EXCLUDED.close_minute,
			lunch_start_minute = EXCLUDED.lunch_start_minute,
			lunch_end_minute = EXCLUDED.lunch_end_minute,
			slot_duration_minutes = EXCLUDED.slot_duration_minutes,
			min_advance_hours = EXCLUDED.min_advance_hours,
			max_advance_days = EXCLUDED.max_advance_days
	`, hourArgs(bh)...)
	return mapErr(err, "business hours")
}

// SeedBusinessHours inserts the rows whose weekday has no configuration yet.
func (r *HoursRepository) SeedBusinessHours(ctx context.Context, rows []model.BusinessHour) error {
	return mapErr(db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, bh := range rows {
			if _, err := tx.Exec(ctx, `
				INSERT INTO business_hours (company_id, weekday, is_open, open_minute, close_minute,
					lunch_start_minute, lunch_end_minute, slot_duration_minutes, min_advance_hours, max_advance_days)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (company_id, weekday) DO NOTHING
			`, hourArgs(bh)...); err != nil {
				return err
			}
		}
		return nil
	}), "seed business hours")
}

// ValidateBusinessHour rejects rows the resolver could not turn into windows.
func ValidateBusinessHour(bh model.BusinessHour) error {
	if bh.CompanyID == "" {
		return apperr.New(apperr.Validation, "company_id is required")
	}
	if bh.Weekday < time.Sunday || bh.Weekday > time.Saturday {
		return apperr.New(apperr.Validation, "weekday must be between 0 and 6")
	}
	if bh.SlotDurationMinutes < 0 {
		return apperr.New(apperr.Validation, "slot duration must not be negative")
	}
	if !bh.IsOpen {
		return nil
	}
	if bh.OpenMinute < 0 || bh.CloseMinute > 24*60 || bh.OpenMinute >= bh.CloseMinute {
		return apperr.New(apperr.Validation, "open time must be before close time")
	}
	if (bh.LunchStartMinute == nil) != (bh.LunchEndMinute == nil) {
		return apperr.New(apperr.Validation, "lunch needs both a start and an end")
	}
	if bh.LunchStartMinute != nil {
		ls, le := *bh.LunchStartMinute, *bh.LunchEndMinute
		if ls >= le || ls < bh.OpenMinute || le > bh.CloseMinute {
			return apperr.New(apperr.Validation, "lunch must be a non-empty interval inside opening hours")
		}
	}
	return nil
}

func hourArgs(bh model.BusinessHour) []any {
	var slot *int
	if bh.SlotDurationMinutes > 0 {
		v := bh.SlotDurationMinutes
		slot = &v
	}
	return []any{bh.CompanyID, int(bh.Weekday), bh.IsOpen, bh.OpenMinute, bh.CloseMinute,
		bh.LunchStartMinute, bh.LunchEndMinute, slot, bh.MinAdvanceHours, bh.MaxAdvanceDays}
}

func scanHour(row rowScanner) (model.BusinessHour, error) {
	var (
		bh      model.BusinessHour
		weekday int
	)
	err := row.Scan(&bh.CompanyID, &weekday, &bh.IsOpen, &bh.OpenMinute, &bh.CloseMinute,
		&bh.LunchStartMinute, &bh.LunchEndMinute, &bh.SlotDurationMinutes, &bh.MinAdvanceHours, &bh.MaxAdvanceDays)
	if err != nil {
		return model.BusinessHour{}, err
	}
	bh.Weekday = time.Weekday(weekday)
	return bh, nil
}
