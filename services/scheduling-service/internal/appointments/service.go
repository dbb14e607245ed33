// Package appointments owns the appointment lifecycle. Every status change goes
// through Service, which validates the transition against the authoritative
// store, writes the change and its event in one transaction, and then
// invalidates derived cache entries.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/events"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/hours"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

// Store opens transactions over the appointment tables.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, companyID, id string) (model.Appointment, error)
}

// Tx is the transactional surface used while a transition is validated and written.
type Tx interface {
	// LockProfessional serialises writers touching one professional's calendar.
	LockProfessional(ctx context.Context, companyID, professionalID string) error
	GetForUpdate(ctx context.Context, companyID, id string) (model.Appointment, error)
	ListBusy(ctx context.Context, companyID, professionalID string, from, to time.Time, excludeID string) ([]model.Interval, error)
	Insert(ctx context.Context, a model.Appointment) error
	Update(ctx context.Context, a model.Appointment) error
	AppendEvent(ctx context.Context, e events.Event) error
	FindIdempotencyKey(ctx context.Context, companyID, key string) (appointmentID string, found bool, err error)
	SaveIdempotencyKey(ctx context.Context, companyID, key, appointmentID string) error
}

type DayResolver interface {
	ResolveAt(ctx context.Context, companyID string, t time.Time, professionalID string) (hours.Day, error)
}

type Catalog interface {
	Service(ctx context.Context, id string) (model.Service, error)
}

type Validator interface {
	CheckReference(ctx context.Context, kind model.RefKind, id string) (bool, error)
}

type Invalidator interface {
	InvalidateProfessional(ctx context.Context, companyID, professionalID string) error
}

// Observer receives transition outcomes; nil is allowed.
type Observer interface {
	Transition(action, outcome string)
}

type Service struct {
	store       Store
	days        DayResolver
	catalog     Catalog
	validator   Validator
	invalidator Invalidator
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

func NewService(store Store, days DayResolver, catalog Catalog, validator Validator, invalidator Invalidator, observer Observer, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		days:        days,
		catalog:     catalog,
		validator:   validator,
		invalidator: invalidator,
		observer:    observer,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

type CreateInput struct {
	CompanyID      string
	CustomerID     string
	ProfessionalID string
	ServiceID      string
	Start          time.Time
	Notes          string
	CreatedBy      string
	IdempotencyKey string
	// Urgent lets a booking through a professional's vacation when the company allows it.
	Urgent bool
}

type RescheduleInput struct {
	CompanyID string
	ID        string
	Start     *time.Time
	Notes     *string
	ActorID   string
	Urgent    bool
}

// Create books a new appointment. Replayed is true when the idempotency key
// matched an earlier booking and that booking is returned instead.
func (s *Service) Create(ctx context.Context, in CreateInput) (appt model.Appointment, replayed bool, err error) {
	defer func() { s.observe(ActionCreate, err) }()

	if err := validateCreate(in); err != nil {
		return model.Appointment{}, false, err
	}
	refs := []struct {
		kind model.RefKind
		id   string
	}{
		{model.RefCustomer, in.CustomerID},
		{model.RefProfessional, in.ProfessionalID},
		{model.RefService, in.ServiceID},
		{model.RefUser, in.CreatedBy},
	}
	for _, r := range refs {
		if err := s.checkReference(ctx, r.kind, r.id); err != nil {
			return model.Appointment{}, false, err
		}
	}

	duration, err := s.serviceDuration(ctx, in.ServiceID)
	if err != nil {
		return model.Appointment{}, false, err
	}
	day, err := s.days.ResolveAt(ctx, in.CompanyID, in.Start, in.ProfessionalID)
	if err != nil {
		return model.Appointment{}, false, err
	}

	now := s.now()
	appt = model.Appointment{
		ID:             s.newID(),
		CompanyID:      in.CompanyID,
		CustomerID:     in.CustomerID,
		ProfessionalID: in.ProfessionalID,
		ServiceID:      in.ServiceID,
		StartTime:      in.Start.UTC(),
		EndTime:        in.Start.Add(duration).UTC(),
		Status:         model.StatusScheduled,
		Notes:          strings.TrimSpace(in.Notes),
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if in.IdempotencyKey != "" {
			id, found, err := tx.FindIdempotencyKey(ctx, in.CompanyID, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				existing, err := tx.GetForUpdate(ctx, in.CompanyID, id)
				if err != nil {
					return err
				}
				appt, replayed = existing, true
				return nil
			}
		}

		if err := s.guardInterval(ctx, tx, day, appt, in.Urgent, now); err != nil {
			return err
		}
		if err := tx.Insert(ctx, appt); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, tx, ActionCreate, appt, nil, in.CreatedBy, ""); err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			return tx.SaveIdempotencyKey(ctx, in.CompanyID, in.IdempotencyKey, appt.ID)
		}
		return nil
	})
	if err != nil {
		return model.Appointment{}, false, err
	}
	if !replayed {
		s.invalidate(ctx, appt)
		s.log(ctx, "appointment created", appt)
	}
	return appt, replayed, nil
}

// Reschedule moves a scheduled or confirmed appointment and/or edits its notes.
// A new start re-runs the booking guards, ignoring the appointment's own slot.
func (s *Service) Reschedule(ctx context.Context, in RescheduleInput) (appt model.Appointment, err error) {
	action := ActionEdit
	if in.Start != nil {
		action = ActionReschedule
	}
	defer func() { s.observe(action, err) }()

	if in.Start == nil && in.Notes == nil {
		return model.Appointment{}, apperr.New(apperr.Validation, "nothing to update")
	}

	var (
		duration time.Duration
		day      hours.Day
	)
	if in.Start != nil {
		existing, err := s.store.Get(ctx, in.CompanyID, in.ID)
		if err != nil {
			return model.Appointment{}, err
		}
		if _, err := Next(existing.Status, action); err != nil {
			return model.Appointment{}, err
		}
		if duration, err = s.serviceDuration(ctx, existing.ServiceID); err != nil {
			return model.Appointment{}, err
		}
		if day, err = s.days.ResolveAt(ctx, in.CompanyID, *in.Start, existing.ProfessionalID); err != nil {
			return model.Appointment{}, err
		}
	}

	var prior model.Appointment
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetForUpdate(ctx, in.CompanyID, in.ID)
		if err != nil {
			return err
		}
		if _, err := Next(current.Status, action); err != nil {
			return err
		}
		prior = current
		appt = current
		now := s.now()

		if in.Notes != nil {
			appt.Notes = strings.TrimSpace(*in.Notes)
		}
		if in.Start != nil {
			appt.StartTime = in.Start.UTC()
			appt.EndTime = in.Start.Add(duration).UTC()
			if err := s.guardInterval(ctx, tx, day, appt, in.Urgent, now); err != nil {
				return err
			}
		}
		appt.UpdatedAt = now.UTC()
		if err := tx.Update(ctx, appt); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, action, appt, &prior, in.ActorID, "")
	})
	if err != nil {
		return model.Appointment{}, err
	}
	s.invalidate(ctx, appt)
	s.log(ctx, "appointment updated", appt, "action", string(action), "previous_start", prior.StartTime)
	return appt, nil
}

func (s *Service) Confirm(ctx context.Context, companyID, id, actorID string) (model.Appointment, error) {
	return s.transition(ctx, companyID, id, ActionConfirm, actorID, "")
}

func (s *Service) Start(ctx context.Context, companyID, id, actorID string) (model.Appointment, error) {
	return s.transition(ctx, companyID, id, ActionStart, actorID, "")
}

func (s *Service) Complete(ctx context.Context, companyID, id, actorID string) (model.Appointment, error) {
	return s.transition(ctx, companyID, id, ActionComplete, actorID, "")
}

// Cancel keeps the row and records the reason.
func (s *Service) Cancel(ctx context.Context, companyID, id, actorID, reason string) (model.Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		s.observe(ActionCancel, apperr.Validation)
		return model.Appointment{}, apperr.New(apperr.Validation, "a cancellation reason is required")
	}
	return s.transition(ctx, companyID, id, ActionCancel, actorID, reason)
}

// MarkNoShow is only valid once the appointment's start time has passed.
func (s *Service) MarkNoShow(ctx context.Context, companyID, id, actorID string) (model.Appointment, error) {
	return s.transition(ctx, companyID, id, ActionNoShow, actorID, "")
}

func (s *Service) Get(ctx context.Context, companyID, id string) (model.Appointment, error) {
	return s.store.Get(ctx, companyID, id)
}

func (s *Service) transition(ctx context.Context, companyID, id string, action Action, actorID, reason string) (appt model.Appointment, err error) {
	defer func() { s.observe(action, err) }()

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetForUpdate(ctx, companyID, id)
		if err != nil {
			return err
		}
		next, err := Next(current.Status, action)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if action == ActionNoShow && now.Before(current.StartTime) {
			return apperr.New(apperr.InvalidTransition, "cannot mark no-show before the appointment starts at %s", current.StartTime.Format(time.RFC3339))
		}

		prior := current
		appt = current
		appt.Status = next
		appt.UpdatedAt = now
		stamp(&appt, action, now, reason)
		if err := tx.Update(ctx, appt); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, action, appt, &prior, actorID, reason)
	})
	if err != nil {
		return model.Appointment{}, err
	}
	s.invalidate(ctx, appt)
	s.log(ctx, "appointment transitioned", appt, "action", string(action))
	return appt, nil
}

func stamp(a *model.Appointment, action Action, now time.Time, reason string) {
	switch action {
	case ActionConfirm:
		a.ConfirmedAt = &now
	case ActionStart:
		a.StartedAt = &now
	case ActionComplete:
		a.CompletedAt = &now
	case ActionCancel:
		a.CancelledAt = &now
		a.CancelReason = reason
	case ActionNoShow:
		a.NoShowAt = &now
	}
}

// guardInterval re-validates appt's interval against the authoritative store
// while holding the professional lock.
func (s *Service) guardInterval(ctx context.Context, tx Tx, day hours.Day, appt model.Appointment, urgent bool, now time.Time) error {
	if err := tx.LockProfessional(ctx, appt.CompanyID, appt.ProfessionalID); err != nil {
		return err
	}
	booked, err := tx.ListBusy(ctx, appt.CompanyID, appt.ProfessionalID, day.Start, day.End, appt.ID)
	if err != nil {
		return err
	}
	busy := append(day.BusyBlocks(urgent), booked...)
	var windows []model.Interval
	if day.IsOpen {
		windows = day.Windows
	}
	rules := availability.Rules{MinAdvance: day.MinAdvance, MaxAdvanceDays: day.MaxAdvanceDays}
	return availability.Check(windows, busy, appt.Interval(), rules, now.In(day.Location))
}

func (s *Service) appendEvent(ctx context.Context, tx Tx, action Action, appt model.Appointment, prior *model.Appointment, actorID, reason string) error {
	payload := events.AppointmentPayload{
		Action:         string(action),
		Status:         string(appt.Status),
		CustomerID:     appt.CustomerID,
		ProfessionalID: appt.ProfessionalID,
		ServiceID:      appt.ServiceID,
		StartTime:      appt.StartTime,
		EndTime:        appt.EndTime,
		Reason:         reason,
		ActorID:        actorID,
	}
	if prior != nil {
		payload.PreviousStatus = string(prior.Status)
		if !prior.StartTime.Equal(appt.StartTime) {
			ps, pe := prior.StartTime, prior.EndTime
			payload.PreviousStart, payload.PreviousEnd = &ps, &pe
		}
	}
	evt, err := events.New(eventType(action), appt.CompanyID, appt.ID, appt.UpdatedAt, payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return tx.AppendEvent(ctx, evt)
}

func (s *Service) serviceDuration(ctx context.Context, serviceID string) (time.Duration, error) {
	svc, err := s.catalog.Service(ctx, serviceID)
	if err != nil {
		if errors.Is(err, apperr.NotFound) {
			return 0, apperr.New(apperr.ReferenceNotFound, "service %s does not exist", serviceID)
		}
		return 0, err
	}
	if svc.DurationMinutes <= 0 {
		return 0, apperr.New(apperr.Validation, "service %s has no duration", serviceID)
	}
	return svc.Duration(), nil
}

func (s *Service) checkReference(ctx context.Context, kind model.RefKind, id string) error {
	if id == "" || s.validator == nil {
		return nil
	}
	ok, err := s.validator.CheckReference(ctx, kind, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.ReferenceNotFound, "%s %s does not exist", kind, id)
	}
	return nil
}

// invalidate runs after commit. Cache failures are logged and never fail the
// transition; stale entries then expire by TTL.
func (s *Service) invalidate(ctx context.Context, appt model.Appointment) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateProfessional(ctx, appt.CompanyID, appt.ProfessionalID); err != nil && s.logger != nil {
		s.logger.Warn("cache invalidation failed",
			"company_id", appt.CompanyID,
			"professional_id", appt.ProfessionalID,
			"err", err,
		)
	}
}

func (s *Service) observe(action Action, err error) {
	if s.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	s.observer.Transition(string(action), outcome)
}

func (s *Service) log(ctx context.Context, msg string, appt model.Appointment, extra ...any) {
	if s.logger == nil {
		return
	}
	args := append([]any{
		"appointment_id", appt.ID,
		"company_id", appt.CompanyID,
		"professional_id", appt.ProfessionalID,
		"status", string(appt.Status),
		"start_time", appt.StartTime,
	}, extra...)
	s.logger.InfoContext(ctx, msg, args...)
}

func validateCreate(in CreateInput) error {
	var missing []string
	for name, v := range map[string]string{
		"company_id":      in.CompanyID,
		"customer_id":     in.CustomerID,
		"professional_id": in.ProfessionalID,
		"service_id":      in.ServiceID,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return apperr.New(apperr.Validation, "missing required fields: %s", strings.Join(missing, ", "))
	}
	if in.Start.IsZero() {
		return apperr.New(apperr.Validation, "start time is required")
	}
	return nil
}
