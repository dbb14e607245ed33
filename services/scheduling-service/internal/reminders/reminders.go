// Package reminders periodically sends the reminder notification for
// appointments starting one company-configured lead time from now.
package reminders

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/notify"
	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 5m"

type Companies interface {
	ListCompanyIDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, companyID string) (model.CompanyConfig, error)
}

type Appointments interface {
	ListDueForReminder(ctx context.Context, companyID string, from, to time.Time) ([]model.Appointment, error)
	// MarkReminderSent claims the reminder; false means another sweep already did.
	MarkReminderSent(ctx context.Context, companyID, id string) (bool, error)
	ReleaseReminder(ctx context.Context, companyID, id string) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, companyID, appointmentID string, typ model.TemplateType) (notify.Result, error)
}

type Sweeper struct {
	companies    Companies
	appointments Appointments
	dispatcher   Dispatcher
	interval     time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewSweeper builds a sweeper whose window width is interval; it should match
// the cron schedule so consecutive windows tile without gaps. Each window also
// reaches back one interval, so a reminder released after a transient failure
// is offered to exactly one more sweep.
func NewSweeper(companies Companies, appointments Appointments, dispatcher Dispatcher, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		companies:    companies,
		appointments: appointments,
		dispatcher:   dispatcher,
		interval:     interval,
		logger:       logger,
		now:          time.Now,
	}
}

// Sweep dispatches reminders for every company and returns how many were sent.
// One company's failure does not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.companies.ListCompanyIDs(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()
	sent := 0
	var errs []error
	for _, companyID := range ids {
		n, err := s.sweepCompany(ctx, companyID, now)
		sent += n
		if err != nil {
			errs = append(errs, err)
			s.logger.ErrorContext(ctx, "reminder sweep failed", "company_id", companyID, "err", err)
		}
	}
	return sent, errors.Join(errs...)
}

func (s *Sweeper) sweepCompany(ctx context.Context, companyID string, now time.Time) (int, error) {
	cfg, err := s.companies.Get(ctx, companyID)
	if err != nil {
		return 0, err
	}
	if cfg.ReminderLeadMinutes <= 0 {
		return 0, nil
	}
	edge := now.Add(time.Duration(cfg.ReminderLeadMinutes) * time.Minute)
	from := edge.Add(-s.interval)
	if from.Before(now) {
		from = now
	}
	due, err := s.appointments.ListDueForReminder(ctx, companyID, from, edge.Add(s.interval))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, a := range due {
		claimed, err := s.appointments.MarkReminderSent(ctx, companyID, a.ID)
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}
		res, err := s.dispatcher.Dispatch(ctx, companyID, a.ID, model.TemplateReminder)
		if err != nil {
			s.logger.WarnContext(ctx, "reminder not delivered", "appointment_id", a.ID, "retryable", apperr.IsRetryable(err), "err", err)
			if apperr.IsRetryable(err) {
				if err := s.appointments.ReleaseReminder(ctx, companyID, a.ID); err != nil {
					s.logger.ErrorContext(ctx, "reminder claim not released", "appointment_id", a.ID, "err", err)
				}
			}
			continue
		}
		if res.Outcome == notify.OutcomeSent {
			sent++
		}
	}
	return sent, nil
}

// Run sweeps on schedule until ctx is done, then waits for a running sweep.
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	logger := cronLogger{s.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	_, err := c.AddFunc(schedule, func() {
		started := time.Now()
		n, err := s.Sweep(ctx)
		s.logger.Info("reminder sweep finished", "sent", n, "duration_ms", time.Since(started).Milliseconds(), "failed", err != nil)
	})
	if err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
