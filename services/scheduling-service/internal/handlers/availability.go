package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agendamento/libs/httpx"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

type Slots interface {
	ComputeRange(ctx context.Context, q availability.Query, days int) ([]availability.DaySlots, error)
}

type Catalog interface {
	Service(ctx context.Context, id string) (model.Service, error)
}

type Calendar interface {
	View(ctx context.Context, q calendar.Query) (calendar.View, error)
}

type AvailabilityHandler struct {
	slots    Slots
	catalog  Catalog
	calendar Calendar
	logger   *slog.Logger
}

func NewAvailabilityHandler(slots Slots, catalog Catalog, cal Calendar, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{slots: slots, catalog: catalog, calendar: cal, logger: logger}
}

type availabilityResponse struct {
	ProfessionalID  string                  `json:"professional_id"`
	ServiceID       string                  `json:"service_id"`
	DurationMinutes int                     `json:"duration_minutes"`
	Days            []availability.DaySlots `json:"days"`
}

// Availability serves GET /availability?professional_id&service_id&date&days[&granularity][&urgent].
func (h *AvailabilityHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	professionalID := strings.TrimSpace(q.Get("professional_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	if professionalID == "" || serviceID == "" {
		writeErr(w, r, h.logger, apperr.New(apperr.Validation, "professional_id and service_id are required"))
		return
	}
	date, err := parseDate("date", q.Get("date"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	days, err := intParam(q.Get("days"), 1, "days")
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	granularity, err := intParam(q.Get("granularity"), 0, "granularity")
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	urgent, _ := strconv.ParseBool(q.Get("urgent"))

	svc, err := h.catalog.Service(r.Context(), serviceID)
	if errors.Is(err, apperr.NotFound) {
		err = apperr.New(apperr.ReferenceNotFound, "service %s does not exist", serviceID)
	}
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if svc.DurationMinutes <= 0 {
		writeErr(w, r, h.logger, apperr.New(apperr.Validation, "service %s has no duration", serviceID))
		return
	}

	out, err := h.slots.ComputeRange(r.Context(), availability.Query{
		CompanyID:       companyID(r),
		ProfessionalID:  professionalID,
		ServiceDuration: svc.Duration(),
		Date:            date,
		Granularity:     time.Duration(granularity) * time.Minute,
		Urgent:          urgent,
	}, days)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, availabilityResponse{
		ProfessionalID:  professionalID,
		ServiceID:       serviceID,
		DurationMinutes: svc.DurationMinutes,
		Days:            out,
	})
}

// Calendar serves GET /calendar?view=day|week|month&date[&professional_id].
func (h *AvailabilityHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var date time.Time
	if raw := q.Get("date"); raw != "" {
		d, err := parseDate("date", raw)
		if err != nil {
			writeErr(w, r, h.logger, err)
			return
		}
		date = d
	}
	view, err := h.calendar.View(r.Context(), calendar.Query{
		CompanyID:      companyID(r),
		View:           model.CalendarView(q.Get("view")),
		Date:           date,
		ProfessionalID: strings.TrimSpace(q.Get("professional_id")),
	})
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func intParam(raw string, fallback int, field string) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.Validation, "%s must be a non-negative integer", field)
	}
	return n, nil
}
