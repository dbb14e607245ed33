// Package hours turns a company's weekday configuration and schedule blocks
// into the concrete open windows of one local day.
package hours

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

const DefaultSlotDuration = 30 * time.Minute

type Store interface {
	GetBusinessHour(ctx context.Context, companyID string, weekday time.Weekday) (model.BusinessHour, error)
	ListBlocks(ctx context.Context, companyID string, from, to time.Time) ([]model.ScheduleBlock, error)
}

type ConfigSource interface {
	Get(ctx context.Context, companyID string) (model.CompanyConfig, error)
}

// Day is the resolved schedule of one local calendar day.
type Day struct {
	CompanyID      string
	Start          time.Time // local midnight
	End            time.Time // next local midnight
	Location       *time.Location
	IsOpen         bool
	Windows        []model.Interval
	Blocks         []model.ScheduleBlock
	SlotDuration   time.Duration
	MinAdvance     time.Duration
	MaxAdvanceDays int
	UrgentBypass   bool
}

// BusyBlocks returns the block intervals that make time unbookable. With
// urgent set and the company allowing it, professional vacations are ignored.
func (d Day) BusyBlocks(urgent bool) []model.Interval {
	out := make([]model.Interval, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		if urgent && d.UrgentBypass && b.Type == model.BlockVacation && !b.CompanyWide() {
			continue
		}
		out = append(out, b.Interval())
	}
	return out
}

type Resolver struct {
	store   Store
	configs ConfigSource
}

func NewResolver(store Store, configs ConfigSource) *Resolver {
	return &Resolver{store: store, configs: configs}
}

// Resolve builds the day of date's calendar date (its Y/M/D fields, not the
// instant) in the company's timezone. Blocks are the company-wide ones plus
// those of professionalID.
func (r *Resolver) Resolve(ctx context.Context, companyID string, date time.Time, professionalID string) (Day, error) {
	cfg, err := r.configs.Get(ctx, companyID)
	if err != nil {
		return Day{}, fmt.Errorf("load company config: %w", err)
	}
	return r.resolve(ctx, companyID, cfg, LocalMidnight(date, cfg.Location()), professionalID)
}

// ResolveAt builds the local day containing the instant t.
func (r *Resolver) ResolveAt(ctx context.Context, companyID string, t time.Time, professionalID string) (Day, error) {
	cfg, err := r.configs.Get(ctx, companyID)
	if err != nil {
		return Day{}, fmt.Errorf("load company config: %w", err)
	}
	loc := cfg.Location()
	return r.resolve(ctx, companyID, cfg, LocalMidnight(t.In(loc), loc), professionalID)
}

func (r *Resolver) resolve(ctx context.Context, companyID string, cfg model.CompanyConfig, dayStart time.Time, professionalID string) (Day, error) {
	dayEnd := dayStart.AddDate(0, 0, 1)

	bh, err := r.store.GetBusinessHour(ctx, companyID, dayStart.Weekday())
	if err != nil {
		if errors.Is(err, apperr.NotFound) {
			return Day{}, apperr.New(apperr.ConfigurationMissing, "no business hours configured for %s", dayStart.Weekday())
		}
		return Day{}, fmt.Errorf("load business hours: %w", err)
	}

	day := Day{
		CompanyID:      companyID,
		Start:          dayStart,
		End:            dayEnd,
		Location:       dayStart.Location(),
		IsOpen:         bh.IsOpen,
		SlotDuration:   DefaultSlotDuration,
		MinAdvance:     time.Duration(cfg.MinAdvanceHours) * time.Hour,
		MaxAdvanceDays: cfg.MaxAdvanceDays,
		UrgentBypass:   cfg.AllowUrgentDuringVacation,
	}
	if bh.SlotDurationMinutes > 0 {
		day.SlotDuration = time.Duration(bh.SlotDurationMinutes) * time.Minute
	}
	if bh.MinAdvanceHours != nil {
		day.MinAdvance = time.Duration(*bh.MinAdvanceHours) * time.Hour
	}
	if bh.MaxAdvanceDays != nil {
		day.MaxAdvanceDays = *bh.MaxAdvanceDays
	}
	if !bh.IsOpen {
		return day, nil
	}

	day.Windows = Windows(dayStart, bh)

	blocks, err := r.store.ListBlocks(ctx, companyID, dayStart, dayEnd)
	if err != nil {
		return Day{}, fmt.Errorf("list schedule blocks: %w", err)
	}
	for _, b := range blocks {
		if b.CompanyWide() || b.ProfessionalID == professionalID {
			day.Blocks = append(day.Blocks, b)
		}
	}
	return day, nil
}

// Windows returns the open intervals of a business-hour row on dayStart's date,
// with the lunch break carved out.
func Windows(dayStart time.Time, bh model.BusinessHour) []model.Interval {
	open := model.Interval{Start: atMinute(dayStart, bh.OpenMinute), End: atMinute(dayStart, bh.CloseMinute)}
	if open.Empty() {
		return nil
	}
	if bh.LunchStartMinute == nil || bh.LunchEndMinute == nil {
		return []model.Interval{open}
	}
	lunch := model.Interval{Start: atMinute(dayStart, *bh.LunchStartMinute), End: atMinute(dayStart, *bh.LunchEndMinute)}
	if lunch.Empty() || !lunch.Overlaps(open) {
		return []model.Interval{open}
	}

	var out []model.Interval
	if lunch.Start.After(open.Start) {
		out = append(out, model.Interval{Start: open.Start, End: lunch.Start})
	}
	if lunch.End.Before(open.End) {
		out = append(out, model.Interval{Start: lunch.End, End: open.End})
	}
	return out
}

// LocalMidnight returns 00:00 of t's calendar date in loc, reading the date
// fields as given rather than converting the instant.
func LocalMidnight(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func atMinute(dayStart time.Time, minute int) time.Time {
	return time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), minute/60, minute%60, 0, 0, dayStart.Location())
}
