package hours

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

// Seeder inserts rows for weekdays that have none, leaving configured days alone.
type Seeder interface {
	SeedBusinessHours(ctx context.Context, rows []model.BusinessHour) error
}

// DefaultWeek is Monday to Friday 09:00-18:00 with lunch 12:00-13:00;
// weekends closed.
func DefaultWeek(companyID string) []model.BusinessHour {
	lunchStart, lunchEnd := 12*60, 13*60
	rows := make([]model.BusinessHour, 0, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		row := model.BusinessHour{
			CompanyID:           companyID,
			Weekday:             wd,
			SlotDurationMinutes: int(DefaultSlotDuration / time.Minute),
		}
		if wd != time.Saturday && wd != time.Sunday {
			row.IsOpen = true
			row.OpenMinute = 9 * 60
			row.CloseMinute = 18 * 60
			row.LunchStartMinute = &lunchStart
			row.LunchEndMinute = &lunchEnd
		}
		rows = append(rows, row)
	}
	return rows
}

func SeedDefaults(ctx context.Context, s Seeder, companyID string) ([]model.BusinessHour, error) {
	rows := DefaultWeek(companyID)
	if err := s.SeedBusinessHours(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}
