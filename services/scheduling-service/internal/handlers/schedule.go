package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/agendamento/libs/httpx"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/hours"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

type Schedules interface {
	ListBusinessHours(ctx context.Context, companyID string) ([]model.BusinessHour, error)
	UpsertBusinessHour(ctx context.Context, bh model.BusinessHour) error
	SeedBusinessHours(ctx context.Context, rows []model.BusinessHour) error
	ListBlocks(ctx context.Context, companyID string, from, to time.Time) ([]model.ScheduleBlock, error)
	GetBlock(ctx context.Context, companyID, id string) (model.ScheduleBlock, error)
	CreateBlock(ctx context.Context, b model.ScheduleBlock) (model.ScheduleBlock, error)
	DeleteBlock(ctx context.Context, companyID, id string) (model.ScheduleBlock, error)
}

type Invalidator interface {
	InvalidateProfessional(ctx context.Context, companyID, professionalID string) error
	InvalidateCompany(ctx context.Context, companyID string) error
}

type Validator interface {
	CheckReference(ctx context.Context, kind model.RefKind, id string) (bool, error)
}

// ScheduleHandler manages business hours and schedule blocks. Every write
// drops the derived availability and calendar entries it affects.
type ScheduleHandler struct {
	store       Schedules
	invalidator Invalidator
	validator   Validator
	logger      *slog.Logger
}

func NewScheduleHandler(store Schedules, invalidator Invalidator, validator Validator, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{store: store, invalidator: invalidator, validator: validator, logger: logger}
}

type businessHourBody struct {
	Weekday             int    `json:"weekday"`
	IsOpen              bool   `json:"is_open"`
	Open                string `json:"open,omitempty"`
	Close               string `json:"close,omitempty"`
	LunchStart          string `json:"lunch_start,omitempty"`
	LunchEnd            string `json:"lunch_end,omitempty"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	MinAdvanceHours     *int   `json:"min_advance_hours,omitempty"`
	MaxAdvanceDays      *int   `json:"max_advance_days,omitempty"`
}

func toBusinessHourBody(bh model.BusinessHour) businessHourBody {
	out := businessHourBody{
		Weekday:             int(bh.Weekday),
		IsOpen:              bh.IsOpen,
		SlotDurationMinutes: bh.SlotDurationMinutes,
		MinAdvanceHours:     bh.MinAdvanceHours,
		MaxAdvanceDays:      bh.MaxAdvanceDays,
	}
	if bh.IsOpen {
		out.Open, out.Close = formatClock(bh.OpenMinute), formatClock(bh.CloseMinute)
	}
	if bh.LunchStartMinute != nil && bh.LunchEndMinute != nil {
		out.LunchStart, out.LunchEnd = formatClock(*bh.LunchStartMinute), formatClock(*bh.LunchEndMinute)
	}
	return out
}

func (b businessHourBody) toModel(companyID string, weekday time.Weekday) (model.BusinessHour, error) {
	bh := model.BusinessHour{
		CompanyID:           companyID,
		Weekday:             weekday,
		IsOpen:              b.IsOpen,
		SlotDurationMinutes: b.SlotDurationMinutes,
		MinAdvanceHours:     b.MinAdvanceHours,
		MaxAdvanceDays:      b.MaxAdvanceDays,
	}
	if bh.SlotDurationMinutes == 0 {
		bh.SlotDurationMinutes = int(hours.DefaultSlotDuration / time.Minute)
	}
	if !b.IsOpen {
		return bh, nil
	}
	var err error
	if bh.OpenMinute, err = parseClock("open", b.Open); err != nil {
		return bh, err
	}
	if bh.CloseMinute, err = parseClock("close", b.Close); err != nil {
		return bh, err
	}
	if b.LunchStart != "" || b.LunchEnd != "" {
		ls, err := parseClock("lunch_start", b.LunchStart)
		if err != nil {
			return bh, err
		}
		le, err := parseClock("lunch_end", b.LunchEnd)
		if err != nil {
			return bh, err
		}
		bh.LunchStartMinute, bh.LunchEndMinute = &ls, &le
	}
	return bh, nil
}

func (h *ScheduleHandler) ListBusinessHours(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListBusinessHours(r.Context(), companyID(r))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	out := make([]businessHourBody, 0, len(rows))
	for _, bh := range rows {
		out = append(out, toBusinessHourBody(bh))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"business_hours": out})
}

// PutBusinessHour serves PUT /business-hours/{weekday}; weekday 0 is Sunday.
func (h *ScheduleHandler) PutBusinessHour(w http.ResponseWriter, r *http.Request) {
	wd, err := strconv.Atoi(chi.URLParam(r, "weekday"))
	if err != nil || wd < 0 || wd > 6 {
		writeErr(w, r, h.logger, apperr.New(apperr.Validation, "weekday must be 0 (Sunday) to 6 (Saturday)"))
		return
	}
	var body businessHourBody
	if err := decode(r, &body); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	bh, err := body.toModel(companyID(r), time.Weekday(wd))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if err := h.store.UpsertBusinessHour(r.Context(), bh); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	h.invalidateCompany(r)
	httpx.WriteJSON(w, http.StatusOK, toBusinessHourBody(bh))
}

// SeedBusinessHours fills unconfigured weekdays with the default week.
func (h *ScheduleHandler) SeedBusinessHours(w http.ResponseWriter, r *http.Request) {
	if _, err := hours.SeedDefaults(r.Context(), h.store, companyID(r)); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	h.invalidateCompany(r)
	h.ListBusinessHours(w, r)
}

type blockBody struct {
	ID             string    `json:"id,omitempty"`
	ProfessionalID string    `json:"professional_id,omitempty"`
	Title          string    `json:"title"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time"`
	Type           string    `json:"type"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

func toBlockBody(b model.ScheduleBlock) blockBody {
	return blockBody{
		ID:             b.ID,
		ProfessionalID: b.ProfessionalID,
		Title:          b.Title,
		StartTime:      b.StartTime.UTC().Format(time.RFC3339),
		EndTime:        b.EndTime.UTC().Format(time.RFC3339),
		Type:           string(b.Type),
		CreatedAt:      b.CreatedAt,
	}
}

// ListBlocks serves GET /blocks?from&to (RFC 3339); the default range is the next 31 days.
func (h *ScheduleHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := time.Now().UTC()
	var err error
	if raw := q.Get("from"); raw != "" {
		if from, err = parseTimestamp("from", raw); err != nil {
			writeErr(w, r, h.logger, err)
			return
		}
	}
	to := from.AddDate(0, 0, 31)
	if raw := q.Get("to"); raw != "" {
		if to, err = parseTimestamp("to", raw); err != nil {
			writeErr(w, r, h.logger, err)
			return
		}
	}
	if !to.After(from) {
		writeErr(w, r, h.logger, apperr.New(apperr.Validation, "to must be after from"))
		return
	}
	blocks, err := h.store.ListBlocks(r.Context(), companyID(r), from, to)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	out := make([]blockBody, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, toBlockBody(b))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"blocks": out})
}

func (h *ScheduleHandler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	var body blockBody
	if err := decode(r, &body); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	start, err := parseTimestamp("start_time", body.StartTime)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	end, err := parseTimestamp("end_time", body.EndTime)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	prof := strings.TrimSpace(body.ProfessionalID)
	if prof != "" && h.validator != nil {
		ok, err := h.validator.CheckReference(r.Context(), model.RefProfessional, prof)
		if err != nil {
			writeErr(w, r, h.logger, err)
			return
		}
		if !ok {
			writeErr(w, r, h.logger, apperr.New(apperr.ReferenceNotFound, "professional %s does not exist", prof))
			return
		}
	}

	b, err := h.store.CreateBlock(r.Context(), model.ScheduleBlock{
		CompanyID:      companyID(r),
		ProfessionalID: prof,
		Title:          strings.TrimSpace(body.Title),
		StartTime:      start,
		EndTime:        end,
		Type:           model.BlockType(body.Type),
	})
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	h.invalidateBlock(r, b)
	httpx.WriteJSON(w, http.StatusCreated, toBlockBody(b))
}

func (h *ScheduleHandler) GetBlock(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.GetBlock(r.Context(), companyID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toBlockBody(b))
}

func (h *ScheduleHandler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.DeleteBlock(r.Context(), companyID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	h.invalidateBlock(r, b)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScheduleHandler) invalidateBlock(r *http.Request, b model.ScheduleBlock) {
	if b.CompanyWide() {
		h.invalidateCompany(r)
		return
	}
	if err := h.invalidator.InvalidateProfessional(r.Context(), b.CompanyID, b.ProfessionalID); err != nil {
		h.logger.WarnContext(r.Context(), "cache invalidation failed", "company_id", b.CompanyID, "professional_id", b.ProfessionalID, "err", err)
	}
}

func (h *ScheduleHandler) invalidateCompany(r *http.Request) {
	if err := h.invalidator.InvalidateCompany(r.Context(), companyID(r)); err != nil {
		h.logger.WarnContext(r.Context(), "cache invalidation failed", "company_id", companyID(r), "err", err)
	}
}
