package availability

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/cache"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/hours"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

const MaxRangeDays = 31

type DayResolver interface {
	Resolve(ctx context.Context, companyID string, date time.Time, professionalID string) (hours.Day, error)
}

// BusyLister returns the intervals of a professional's non-terminal appointments.
type BusyLister interface {
	ListBusy(ctx context.Context, companyID, professionalID string, from, to time.Time) ([]model.Interval, error)
}

type Cache interface {
	Remember(ctx context.Context, key cache.Key, dst any, fill func(context.Context) error) error
}

type Query struct {
	CompanyID       string
	ProfessionalID  string
	ServiceDuration time.Duration
	Date            time.Time
	Granularity     time.Duration
	Urgent          bool
}

// Plan is the now-independent part of a day's availability, safe to cache.
type Plan struct {
	Timezone   string           `json:"timezone"`
	Candidates []model.Interval `json:"candidates"`
	Rules      Rules            `json:"rules"`
}

type DaySlots struct {
	Date  string `json:"date"`
	Slots []Slot `json:"slots"`
}

type Calculator struct {
	days   DayResolver
	busy   BusyLister
	cache  Cache
	now    func() time.Time
	logger *slog.Logger
}

func NewCalculator(days DayResolver, busy BusyLister, c Cache, logger *slog.Logger) *Calculator {
	return &Calculator{days: days, busy: busy, cache: c, now: time.Now, logger: logger}
}

// ComputeSlots returns the tagged slots of one day. The step grid and busy
// time may come from cache; the advance-booking tags are always computed
// against the current time.
func (c *Calculator) ComputeSlots(ctx context.Context, q Query) ([]Slot, error) {
	if q.ServiceDuration <= 0 {
		return nil, apperr.New(apperr.Validation, "service duration must be positive")
	}
	plan, err := c.plan(ctx, q)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(plan.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return Tag(plan.Candidates, plan.Rules, c.now().In(loc)), nil
}

// ComputeRange returns per-day slots for days consecutive dates starting at q.Date.
func (c *Calculator) ComputeRange(ctx context.Context, q Query, days int) ([]DaySlots, error) {
	if days <= 0 {
		days = 1
	}
	if days > MaxRangeDays {
		return nil, apperr.New(apperr.Validation, "days must be at most %d", MaxRangeDays)
	}
	out := make([]DaySlots, 0, days)
	for i := 0; i < days; i++ {
		dq := q
		dq.Date = q.Date.AddDate(0, 0, i)
		slots, err := c.ComputeSlots(ctx, dq)
		if err != nil {
			return nil, err
		}
		out = append(out, DaySlots{Date: dq.Date.Format(time.DateOnly), Slots: slots})
	}
	return out, nil
}

func (c *Calculator) plan(ctx context.Context, q Query) (Plan, error) {
	var plan Plan
	fill := func(ctx context.Context) error {
		p, err := c.buildPlan(ctx, q)
		if err != nil {
			return err
		}
		plan = p
		return nil
	}
	if c.cache == nil {
		return plan, fill(ctx)
	}
	key := cache.Key{
		Namespace:      cache.NamespaceAvailability,
		CompanyID:      q.CompanyID,
		ProfessionalID: q.ProfessionalID,
		Dims: []string{
			q.Date.Format(time.DateOnly),
			strconv.Itoa(int(q.ServiceDuration / time.Minute)),
			strconv.Itoa(int(q.Granularity / time.Minute)),
			strconv.FormatBool(q.Urgent),
		},
	}
	if err := c.cache.Remember(ctx, key, &plan, fill); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func (c *Calculator) buildPlan(ctx context.Context, q Query) (Plan, error) {
	day, err := c.days.Resolve(ctx, q.CompanyID, q.Date, q.ProfessionalID)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{
		Timezone: day.Location.String(),
		Rules:    Rules{MinAdvance: day.MinAdvance, MaxAdvanceDays: day.MaxAdvanceDays},
	}
	if !day.IsOpen || len(day.Windows) == 0 {
		return plan, nil
	}

	appts, err := c.busy.ListBusy(ctx, q.CompanyID, q.ProfessionalID, day.Start, day.End)
	if err != nil {
		return Plan{}, fmt.Errorf("list appointments: %w", err)
	}
	busy := append(day.BusyBlocks(q.Urgent), appts...)

	step := q.Granularity
	if step <= 0 {
		step = day.SlotDuration
	}
	plan.Candidates = Candidates(day.Windows, busy, q.ServiceDuration, step)
	if c.logger != nil {
		c.logger.Debug("availability computed",
			"company_id", q.CompanyID,
			"professional_id", q.ProfessionalID,
			"date", q.Date.Format(time.DateOnly),
			"candidates", len(plan.Candidates),
		)
	}
	return plan, nil
}
