// Package calendar assembles day, week and month views of a company's
// appointments and schedule blocks in the company timezone.
package calendar

import (
	"context"
	"sort"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/cache"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/hours"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

type Appointments interface {
	ListRange(ctx context.Context, companyID, professionalID string, from, to time.Time) ([]model.Appointment, error)
}

type Blocks interface {
	ListBlocks(ctx context.Context, companyID string, from, to time.Time) ([]model.ScheduleBlock, error)
}

type Configs interface {
	Get(ctx context.Context, companyID string) (model.CompanyConfig, error)
}

type Cache interface {
	Remember(ctx context.Context, key cache.Key, dst any, fill func(context.Context) error) error
}

const (
	KindAppointment = "appointment"
	KindBlock       = "block"
)

type Event struct {
	Kind           string    `json:"kind"`
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Status         string    `json:"status,omitempty"`
	BlockType      string    `json:"block_type,omitempty"`
	ProfessionalID string    `json:"professional_id,omitempty"`
	CustomerID     string    `json:"customer_id,omitempty"`
	ServiceID      string    `json:"service_id,omitempty"`
}

type View struct {
	View     model.CalendarView `json:"view"`
	Timezone string             `json:"timezone"`
	From     time.Time          `json:"from"`
	To       time.Time          `json:"to"`
	Events   []Event            `json:"events"`
}

type Query struct {
	CompanyID      string
	View           model.CalendarView // empty uses the company default
	Date           time.Time          // only the calendar date is used; zero means today
	ProfessionalID string
}

type Service struct {
	appointments Appointments
	blocks       Blocks
	configs      Configs
	cache        Cache
}

func NewService(appointments Appointments, blocks Blocks, configs Configs, c Cache) *Service {
	return &Service{appointments: appointments, blocks: blocks, configs: configs, cache: c}
}

func (s *Service) View(ctx context.Context, q Query) (View, error) {
	cfg, err := s.configs.Get(ctx, q.CompanyID)
	if err != nil {
		return View{}, err
	}
	if q.View == "" {
		q.View = cfg.DefaultView
	}
	if !q.View.Valid() {
		return View{}, apperr.New(apperr.Validation, "view must be day, week or month")
	}
	loc := cfg.Location()
	if q.Date.IsZero() {
		q.Date = time.Now().In(loc)
	}
	from, to := Range(q.View, q.Date, loc)

	var out View
	fill := func(ctx context.Context) error {
		v, err := s.build(ctx, q, from, to)
		if err != nil {
			return err
		}
		v.Timezone = loc.String()
		out = v
		return nil
	}
	if s.cache == nil {
		return out, fill(ctx)
	}
	key := cache.Key{
		Namespace:      cache.NamespaceCalendar,
		CompanyID:      q.CompanyID,
		ProfessionalID: q.ProfessionalID,
		Dims:           []string{string(q.View), from.Format(time.DateOnly)},
	}
	if err := s.cache.Remember(ctx, key, &out, fill); err != nil {
		return View{}, err
	}
	return out, nil
}

func (s *Service) build(ctx context.Context, q Query, from, to time.Time) (View, error) {
	appts, err := s.appointments.ListRange(ctx, q.CompanyID, q.ProfessionalID, from, to)
	if err != nil {
		return View{}, err
	}
	blocks, err := s.blocks.ListBlocks(ctx, q.CompanyID, from, to)
	if err != nil {
		return View{}, err
	}

	events := make([]Event, 0, len(appts)+len(blocks))
	for _, a := range appts {
		events = append(events, Event{
			Kind:           KindAppointment,
			ID:             a.ID,
			Start:          a.StartTime,
			End:            a.EndTime,
			Status:         string(a.Status),
			ProfessionalID: a.ProfessionalID,
			CustomerID:     a.CustomerID,
			ServiceID:      a.ServiceID,
		})
	}
	for _, b := range blocks {
		if q.ProfessionalID != "" && !b.CompanyWide() && b.ProfessionalID != q.ProfessionalID {
			continue
		}
		events = append(events, Event{
			Kind:           KindBlock,
			ID:             b.ID,
			Title:          b.Title,
			Start:          b.StartTime,
			End:            b.EndTime,
			BlockType:      string(b.Type),
			ProfessionalID: b.ProfessionalID,
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
	return View{View: q.View, From: from, To: to, Events: events}, nil
}

// Range returns the half-open local range covering date for view. Weeks start on Monday.
func Range(view model.CalendarView, date time.Time, loc *time.Location) (time.Time, time.Time) {
	day := hours.LocalMidnight(date, loc)
	switch view {
	case model.ViewWeek:
		start := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
		return start, start.AddDate(0, 0, 7)
	case model.ViewMonth:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	default:
		return day, day.AddDate(0, 0, 1)
	}
}
