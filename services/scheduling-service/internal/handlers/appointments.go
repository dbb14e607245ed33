package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/agendamento/libs/httpx"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/appointments"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

type Lifecycle interface {
	Create(ctx context.Context, in appointments.CreateInput) (model.Appointment, bool, error)
	Reschedule(ctx context.Context, in appointments.RescheduleInput) (model.Appointment, error)
	Confirm(ctx context.Context, companyID, id, actorID string) (model.Appointment, error)
	Start(ctx context.Context, companyID, id, actorID string) (model.Appointment, error)
	Complete(ctx context.Context, companyID, id, actorID string) (model.Appointment, error)
	Cancel(ctx context.Context, companyID, id, actorID, reason string) (model.Appointment, error)
	MarkNoShow(ctx context.Context, companyID, id, actorID string) (model.Appointment, error)
	Get(ctx context.Context, companyID, id string) (model.Appointment, error)
}

type AppointmentHandler struct {
	svc    Lifecycle
	logger *slog.Logger
}

func NewAppointmentHandler(svc Lifecycle, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

type createAppointmentRequest struct {
	CustomerID     string `json:"customer_id"`
	ProfessionalID string `json:"professional_id"`
	ServiceID      string `json:"service_id"`
	StartTime      string `json:"start_time"`
	Notes          string `json:"notes"`
	Urgent         bool   `json:"urgent"`
}

type updateAppointmentRequest struct {
	StartTime *string `json:"start_time"`
	Notes     *string `json:"notes"`
	Urgent    bool    `json:"urgent"`
}

type cancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type appointmentResponse struct {
	ID             string     `json:"id"`
	CustomerID     string     `json:"customer_id"`
	ProfessionalID string     `json:"professional_id"`
	ServiceID      string     `json:"service_id"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	Status         string     `json:"status"`
	Notes          string     `json:"notes,omitempty"`
	CancelReason   string     `json:"cancel_reason,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	NoShowAt       *time.Time `json:"no_show_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:             a.ID,
		CustomerID:     a.CustomerID,
		ProfessionalID: a.ProfessionalID,
		ServiceID:      a.ServiceID,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		Status:         string(a.Status),
		Notes:          a.Notes,
		CancelReason:   a.CancelReason,
		CreatedBy:      a.CreatedBy,
		ConfirmedAt:    a.ConfirmedAt,
		StartedAt:      a.StartedAt,
		CompletedAt:    a.CompletedAt,
		CancelledAt:    a.CancelledAt,
		NoShowAt:       a.NoShowAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func (h *AppointmentHandler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/", h.Update)
		r.Post("/confirm", h.transition(h.svc.Confirm))
		r.Post("/start", h.transition(h.svc.Start))
		r.Post("/complete", h.transition(h.svc.Complete))
		r.Post("/no-show", h.transition(h.svc.MarkNoShow))
		r.Post("/cancel", h.Cancel)
	})
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	start, err := parseTimestamp("start_time", req.StartTime)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}

	appt, replayed, err := h.svc.Create(r.Context(), appointments.CreateInput{
		CompanyID:      companyID(r),
		CustomerID:     strings.TrimSpace(req.CustomerID),
		ProfessionalID: strings.TrimSpace(req.ProfessionalID),
		ServiceID:      strings.TrimSpace(req.ServiceID),
		Start:          start,
		Notes:          req.Notes,
		CreatedBy:      userID(r),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)),
		Urgent:         req.Urgent,
	})
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Get(r.Context(), companyID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// Update reschedules and/or edits notes.
func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateAppointmentRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	in := appointments.RescheduleInput{
		CompanyID: companyID(r),
		ID:        chi.URLParam(r, "id"),
		Notes:     req.Notes,
		ActorID:   userID(r),
		Urgent:    req.Urgent,
	}
	if req.StartTime != nil {
		start, err := parseTimestamp("start_time", *req.StartTime)
		if err != nil {
			writeErr(w, r, h.logger, err)
			return
		}
		in.Start = &start
	}
	if in.Start == nil && in.Notes == nil {
		writeErr(w, r, h.logger, apperr.New(apperr.Validation, "nothing to update: send start_time and/or notes"))
		return
	}
	appt, err := h.svc.Reschedule(r.Context(), in)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelAppointmentRequest
	if err := decodeOptional(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	appt, err := h.svc.Cancel(r.Context(), companyID(r), chi.URLParam(r, "id"), userID(r), req.Reason)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) transition(fn func(ctx context.Context, companyID, id, actorID string) (model.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := fn(r.Context(), companyID(r), chi.URLParam(r, "id"), userID(r))
		if err != nil {
			writeErr(w, r, h.logger, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}
