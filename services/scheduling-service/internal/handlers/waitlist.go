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
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/waitlist"
)

type Waitlist interface {
	Add(ctx context.Context, in waitlist.AddInput) (model.WaitingListItem, error)
	List(ctx context.Context, companyID string, status model.WaitlistStatus) ([]model.WaitingListItem, error)
	Contact(ctx context.Context, companyID, id string) (model.WaitingListItem, error)
	Remove(ctx context.Context, companyID, id string) (model.WaitingListItem, error)
	Schedule(ctx context.Context, in waitlist.ScheduleInput) (model.WaitingListItem, model.Appointment, error)
}

type WaitlistHandler struct {
	svc    Waitlist
	logger *slog.Logger
}

func NewWaitlistHandler(svc Waitlist, logger *slog.Logger) *WaitlistHandler {
	return &WaitlistHandler{svc: svc, logger: logger}
}

type addWaitlistRequest struct {
	CustomerID     string `json:"customer_id"`
	ServiceID      string `json:"service_id"`
	ProfessionalID string `json:"professional_id"`
	PreferredFrom  string `json:"preferred_from"`
	PreferredTo    string `json:"preferred_to"`
	PreferredDays  []int  `json:"preferred_days"`
	Notes          string `json:"notes"`
}

type scheduleWaitlistRequest struct {
	StartTime      string `json:"start_time"`
	ProfessionalID string `json:"professional_id"`
	Urgent         bool   `json:"urgent"`
}

type waitlistResponse struct {
	ID             string     `json:"id"`
	CustomerID     string     `json:"customer_id"`
	ServiceID      string     `json:"service_id"`
	ProfessionalID string     `json:"professional_id,omitempty"`
	PreferredFrom  *time.Time `json:"preferred_from,omitempty"`
	PreferredTo    *time.Time `json:"preferred_to,omitempty"`
	PreferredDays  []int      `json:"preferred_days,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	Status         string     `json:"status"`
	AppointmentID  string     `json:"appointment_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toWaitlistResponse(it model.WaitingListItem) waitlistResponse {
	days := make([]int, 0, len(it.PreferredDays))
	for _, d := range it.PreferredDays {
		days = append(days, int(d))
	}
	return waitlistResponse{
		ID:             it.ID,
		CustomerID:     it.CustomerID,
		ServiceID:      it.ServiceID,
		ProfessionalID: it.ProfessionalID,
		PreferredFrom:  it.PreferredFrom,
		PreferredTo:    it.PreferredTo,
		PreferredDays:  days,
		Notes:          it.Notes,
		Status:         string(it.Status),
		AppointmentID:  it.AppointmentID,
		CreatedAt:      it.CreatedAt,
		UpdatedAt:      it.UpdatedAt,
	}
}

func (h *WaitlistHandler) Routes(r chi.Router) {
	r.Post("/", h.Add)
	r.Get("/", h.List)
	r.Post("/{id}/contact", h.move(h.svc.Contact))
	r.Post("/{id}/remove", h.move(h.svc.Remove))
	r.Post("/{id}/schedule", h.Schedule)
}

func (h *WaitlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addWaitlistRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	in := waitlist.AddInput{
		CompanyID:      companyID(r),
		CustomerID:     strings.TrimSpace(req.CustomerID),
		ServiceID:      strings.TrimSpace(req.ServiceID),
		ProfessionalID: strings.TrimSpace(req.ProfessionalID),
		Notes:          req.Notes,
		CreatedBy:      userID(r),
	}
	for _, d := range req.PreferredDays {
		in.PreferredDays = append(in.PreferredDays, time.Weekday(d))
	}
	if req.PreferredFrom != "" {
		t, err := parseTimestamp("preferred_from", req.PreferredFrom)
		if err != nil {
			writeErr(w, r, h.logger, err)
			return
		}
		in.PreferredFrom = &t
	}
	if req.PreferredTo != "" {
		t, err := parseTimestamp("preferred_to", req.PreferredTo)
		if err != nil {
			writeErr(w, r, h.logger, err)
			return
		}
		in.PreferredTo = &t
	}
	it, err := h.svc.Add(r.Context(), in)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toWaitlistResponse(it))
}

func (h *WaitlistHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), companyID(r), model.WaitlistStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	out := make([]waitlistResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toWaitlistResponse(it))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *WaitlistHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleWaitlistRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if req.StartTime == "" {
		writeErr(w, r, h.logger, apperr.New(apperr.Validation, "start_time is required"))
		return
	}
	start, err := parseTimestamp("start_time", req.StartTime)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	it, appt, err := h.svc.Schedule(r.Context(), waitlist.ScheduleInput{
		CompanyID:      companyID(r),
		ID:             chi.URLParam(r, "id"),
		Start:          start,
		ProfessionalID: strings.TrimSpace(req.ProfessionalID),
		ActorID:        userID(r),
		Urgent:         req.Urgent,
	})
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"item":        toWaitlistResponse(it),
		"appointment": toAppointmentResponse(appt),
	})
}

func (h *WaitlistHandler) move(fn func(ctx context.Context, companyID, id string) (model.WaitingListItem, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		it, err := fn(r.Context(), companyID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, r, h.logger, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, toWaitlistResponse(it))
	}
}
