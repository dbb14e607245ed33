// Package waitlist keeps customers waiting for an opening and books them
// through the appointment lifecycle once a slot is found.
package waitlist

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/appointments"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

type Store interface {
	Insert(ctx context.Context, it model.WaitingListItem) error
	Get(ctx context.Context, companyID, id string) (model.WaitingListItem, error)
	List(ctx context.Context, companyID string, status model.WaitlistStatus) ([]model.WaitingListItem, error)
	UpdateStatus(ctx context.Context, companyID, id string, status model.WaitlistStatus, appointmentID string, at time.Time) error
}

type Booker interface {
	Create(ctx context.Context, in appointments.CreateInput) (model.Appointment, bool, error)
}

type Validator interface {
	CheckReference(ctx context.Context, kind model.RefKind, id string) (bool, error)
}

var transitions = map[model.WaitlistStatus][]model.WaitlistStatus{
	model.WaitlistWaiting:   {model.WaitlistContacted, model.WaitlistScheduled, model.WaitlistRemoved},
	model.WaitlistContacted: {model.WaitlistScheduled, model.WaitlistRemoved},
}

// CanMove reports whether an item may go from one status to another.
func CanMove(from, to model.WaitlistStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Service struct {
	store     Store
	booker    Booker
	validator Validator
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func NewService(store Store, booker Booker, validator Validator, logger *slog.Logger) *Service {
	return &Service{store: store, booker: booker, validator: validator, logger: logger, now: time.Now, newID: uuid.NewString}
}

type AddInput struct {
	CompanyID      string
	CustomerID     string
	ServiceID      string
	ProfessionalID string // optional
	PreferredFrom  *time.Time
	PreferredTo    *time.Time
	PreferredDays  []time.Weekday
	Notes          string
	CreatedBy      string
}

func (s *Service) Add(ctx context.Context, in AddInput) (model.WaitingListItem, error) {
	if in.CompanyID == "" || in.CustomerID == "" || in.ServiceID == "" {
		return model.WaitingListItem{}, apperr.New(apperr.Validation, "customer_id and service_id are required")
	}
	if in.PreferredFrom != nil && in.PreferredTo != nil && !in.PreferredTo.After(*in.PreferredFrom) {
		return model.WaitingListItem{}, apperr.New(apperr.Validation, "preferred_to must be after preferred_from")
	}
	for _, d := range in.PreferredDays {
		if d < time.Sunday || d > time.Saturday {
			return model.WaitingListItem{}, apperr.New(apperr.Validation, "preferred day %d out of range", d)
		}
	}
	refs := map[model.RefKind]string{
		model.RefCustomer:     in.CustomerID,
		model.RefService:      in.ServiceID,
		model.RefProfessional: in.ProfessionalID,
		model.RefUser:         in.CreatedBy,
	}
	for kind, id := range refs {
		if err := s.checkReference(ctx, kind, id); err != nil {
			return model.WaitingListItem{}, err
		}
	}

	now := s.now().UTC()
	it := model.WaitingListItem{
		ID:             s.newID(),
		CompanyID:      in.CompanyID,
		CustomerID:     in.CustomerID,
		ServiceID:      in.ServiceID,
		ProfessionalID: in.ProfessionalID,
		PreferredFrom:  in.PreferredFrom,
		PreferredTo:    in.PreferredTo,
		PreferredDays:  in.PreferredDays,
		Notes:          strings.TrimSpace(in.Notes),
		Status:         model.WaitlistWaiting,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Insert(ctx, it); err != nil {
		return model.WaitingListItem{}, err
	}
	s.logger.InfoContext(ctx, "waiting list item added", "company_id", it.CompanyID, "item_id", it.ID)
	return it, nil
}

func (s *Service) List(ctx context.Context, companyID string, status model.WaitlistStatus) ([]model.WaitingListItem, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.New(apperr.Validation, "unknown status %q", status)
	}
	return s.store.List(ctx, companyID, status)
}

func (s *Service) Contact(ctx context.Context, companyID, id string) (model.WaitingListItem, error) {
	return s.move(ctx, companyID, id, model.WaitlistContacted, "")
}

func (s *Service) Remove(ctx context.Context, companyID, id string) (model.WaitingListItem, error) {
	return s.move(ctx, companyID, id, model.WaitlistRemoved, "")
}

type ScheduleInput struct {
	CompanyID string
	ID        string
	Start     time.Time
	// ProfessionalID overrides the item's professional; required when the item has none.
	ProfessionalID string
	ActorID        string
	Urgent         bool
}

// Schedule books the item through the appointment lifecycle and links the
// booking. The item id doubles as the idempotency key, so retrying after a
// failed link returns the same appointment.
func (s *Service) Schedule(ctx context.Context, in ScheduleInput) (model.WaitingListItem, model.Appointment, error) {
	it, err := s.store.Get(ctx, in.CompanyID, in.ID)
	if err != nil {
		return model.WaitingListItem{}, model.Appointment{}, err
	}
	if !CanMove(it.Status, model.WaitlistScheduled) {
		return model.WaitingListItem{}, model.Appointment{}, apperr.New(apperr.InvalidTransition,
			"cannot schedule a waiting list item that is %s", it.Status)
	}
	prof := in.ProfessionalID
	if prof == "" {
		prof = it.ProfessionalID
	}
	if prof == "" {
		return model.WaitingListItem{}, model.Appointment{}, apperr.New(apperr.Validation, "professional_id is required")
	}

	appt, _, err := s.booker.Create(ctx, appointments.CreateInput{
		CompanyID:      in.CompanyID,
		CustomerID:     it.CustomerID,
		ProfessionalID: prof,
		ServiceID:      it.ServiceID,
		Start:          in.Start,
		Notes:          it.Notes,
		CreatedBy:      in.ActorID,
		IdempotencyKey: "waitlist:" + it.ID,
		Urgent:         in.Urgent,
	})
	if err != nil {
		return model.WaitingListItem{}, model.Appointment{}, err
	}
	it, err = s.move(ctx, in.CompanyID, in.ID, model.WaitlistScheduled, appt.ID)
	if err != nil {
		return model.WaitingListItem{}, appt, err
	}
	return it, appt, nil
}

func (s *Service) move(ctx context.Context, companyID, id string, to model.WaitlistStatus, appointmentID string) (model.WaitingListItem, error) {
	it, err := s.store.Get(ctx, companyID, id)
	if err != nil {
		return model.WaitingListItem{}, err
	}
	if !CanMove(it.Status, to) {
		return model.WaitingListItem{}, apperr.New(apperr.InvalidTransition,
			"waiting list item cannot move from %s to %s", it.Status, to)
	}
	now := s.now().UTC()
	if err := s.store.UpdateStatus(ctx, companyID, id, to, appointmentID, now); err != nil {
		return model.WaitingListItem{}, err
	}
	it.Status, it.UpdatedAt = to, now
	if appointmentID != "" {
		it.AppointmentID = appointmentID
	}
	s.logger.InfoContext(ctx, "waiting list item updated", "company_id", companyID, "item_id", id, "status", string(to))
	return it, nil
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
