package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/agendamento/libs/httpx"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/appointments"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/waitlist"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeLifecycle struct {
	created    []appointments.CreateInput
	createErr  error
	replay     bool
	rescheds   []appointments.RescheduleInput
	confirmed  []string
	cancelled  []string
	transition error
}

func (f *fakeLifecycle) Create(_ context.Context, in appointments.CreateInput) (model.Appointment, bool, error) {
	f.created = append(f.created, in)
	if f.createErr != nil {
		return model.Appointment{}, false, f.createErr
	}
	return model.Appointment{
		ID:             "a1",
		CompanyID:      in.CompanyID,
		CustomerID:     in.CustomerID,
		ProfessionalID: in.ProfessionalID,
		ServiceID:      in.ServiceID,
		StartTime:      in.Start,
		EndTime:        in.Start.Add(30 * time.Minute),
		Status:         model.StatusScheduled,
	}, f.replay, nil
}

func (f *fakeLifecycle) Reschedule(_ context.Context, in appointments.RescheduleInput) (model.Appointment, error) {
	f.rescheds = append(f.rescheds, in)
	return model.Appointment{ID: in.ID, Status: model.StatusScheduled}, nil
}

func (f *fakeLifecycle) Confirm(_ context.Context, _, id, _ string) (model.Appointment, error) {
	f.confirmed = append(f.confirmed, id)
	if f.transition != nil {
		return model.Appointment{}, f.transition
	}
	return model.Appointment{ID: id, Status: model.StatusConfirmed}, nil
}

func (f *fakeLifecycle) Start(_ context.Context, _, id, _ string) (model.Appointment, error) {
	return model.Appointment{ID: id, Status: model.StatusInProgress}, f.transition
}

func (f *fakeLifecycle) Complete(_ context.Context, _, id, _ string) (model.Appointment, error) {
	return model.Appointment{ID: id, Status: model.StatusCompleted}, f.transition
}

func (f *fakeLifecycle) Cancel(_ context.Context, _, id, _, reason string) (model.Appointment, error) {
	f.cancelled = append(f.cancelled, id+":"+reason)
	return model.Appointment{ID: id, Status: model.StatusCancelled, CancelReason: reason}, nil
}

func (f *fakeLifecycle) MarkNoShow(_ context.Context, _, id, _ string) (model.Appointment, error) {
	return model.Appointment{ID: id, Status: model.StatusNoShow}, f.transition
}

func (f *fakeLifecycle) Get(_ context.Context, _, id string) (model.Appointment, error) {
	if id != "a1" {
		return model.Appointment{}, apperr.New(apperr.NotFound, "appointment %s not found", id)
	}
	return model.Appointment{ID: id, Status: model.StatusScheduled}, nil
}

type invalidation struct {
	companyID      string
	professionalID string
}

type fakeInvalidator struct {
	calls []invalidation
}

func (f *fakeInvalidator) InvalidateProfessional(_ context.Context, companyID, professionalID string) error {
	f.calls = append(f.calls, invalidation{companyID, professionalID})
	return nil
}

func (f *fakeInvalidator) InvalidateCompany(_ context.Context, companyID string) error {
	f.calls = append(f.calls, invalidation{companyID: companyID})
	return nil
}

type fakeSchedules struct {
	hours  map[time.Weekday]model.BusinessHour
	blocks map[string]model.ScheduleBlock
	seeded int
}

func newFakeSchedules() *fakeSchedules {
	return &fakeSchedules{hours: map[time.Weekday]model.BusinessHour{}, blocks: map[string]model.ScheduleBlock{}}
}

func (f *fakeSchedules) ListBusinessHours(_ context.Context, _ string) ([]model.BusinessHour, error) {
	var out []model.BusinessHour
	for d := time.Sunday; d <= time.Saturday; d++ {
		if bh, ok := f.hours[d]; ok {
			out = append(out, bh)
		}
	}
	return out, nil
}

func (f *fakeSchedules) UpsertBusinessHour(_ context.Context, bh model.BusinessHour) error {
	f.hours[bh.Weekday] = bh
	return nil
}

func (f *fakeSchedules) SeedBusinessHours(_ context.Context, rows []model.BusinessHour) error {
	for _, bh := range rows {
		if _, ok := f.hours[bh.Weekday]; !ok {
			f.hours[bh.Weekday] = bh
			f.seeded++
		}
	}
	return nil
}

func (f *fakeSchedules) ListBlocks(_ context.Context, _ string, _, _ time.Time) ([]model.ScheduleBlock, error) {
	out := make([]model.ScheduleBlock, 0, len(f.blocks))
	for _, b := range f.blocks {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeSchedules) CreateBlock(_ context.Context, b model.ScheduleBlock) (model.ScheduleBlock, error) {
	if !b.EndTime.After(b.StartTime) {
		return model.ScheduleBlock{}, apperr.New(apperr.Validation, "end_time must be after start_time")
	}
	b.ID = "b1"
	f.blocks[b.ID] = b
	return b, nil
}

func (f *fakeSchedules) GetBlock(_ context.Context, _, id string) (model.ScheduleBlock, error) {
	b, ok := f.blocks[id]
	if !ok {
		return model.ScheduleBlock{}, apperr.New(apperr.NotFound, "block %s not found", id)
	}
	return b, nil
}

func (f *fakeSchedules) DeleteBlock(_ context.Context, _, id string) (model.ScheduleBlock, error) {
	b, ok := f.blocks[id]
	if !ok {
		return model.ScheduleBlock{}, apperr.New(apperr.NotFound, "block %s not found", id)
	}
	delete(f.blocks, id)
	return b, nil
}

type fakeValidator map[string]bool

func (f fakeValidator) CheckReference(_ context.Context, _ model.RefKind, id string) (bool, error) {
	return f[id], nil
}

type fakeConfigs struct {
	cfg model.CompanyConfig
}

func (f *fakeConfigs) Get(_ context.Context, companyID string) (model.CompanyConfig, error) {
	if f.cfg.CompanyID == "" {
		f.cfg = model.DefaultCompanyConfig(companyID)
	}
	return f.cfg, nil
}

func (f *fakeConfigs) Update(_ context.Context, cfg model.CompanyConfig) (model.CompanyConfig, error) {
	f.cfg = cfg
	return cfg, nil
}

type fakeTemplates struct {
	created []model.MessageTemplate
}

func (f *fakeTemplates) List(_ context.Context, _ string) ([]model.MessageTemplate, error) {
	return f.created, nil
}

func (f *fakeTemplates) Create(_ context.Context, t model.MessageTemplate) (model.MessageTemplate, error) {
	t.ID = "t1"
	f.created = append(f.created, t)
	return t, nil
}

type fakeSlots struct {
	queries []availability.Query
}

func (f *fakeSlots) ComputeRange(_ context.Context, q availability.Query, days int) ([]availability.DaySlots, error) {
	f.queries = append(f.queries, q)
	return []availability.DaySlots{{Date: q.Date.Format(time.DateOnly)}}, nil
}

type fakeCatalog map[string]model.Service

func (f fakeCatalog) Service(_ context.Context, id string) (model.Service, error) {
	s, ok := f[id]
	if !ok {
		return model.Service{}, apperr.New(apperr.NotFound, "service %s not found", id)
	}
	return s, nil
}

type fakeCalendar struct{}

func (fakeCalendar) View(_ context.Context, q calendar.Query) (calendar.View, error) {
	return calendar.View{View: q.View, Timezone: "UTC"}, nil
}

type fakeWaitlist struct {
	scheduled []waitlist.ScheduleInput
}

func (f *fakeWaitlist) Add(_ context.Context, in waitlist.AddInput) (model.WaitingListItem, error) {
	return model.WaitingListItem{ID: "w1", CompanyID: in.CompanyID, CustomerID: in.CustomerID, ServiceID: in.ServiceID, Status: model.WaitlistWaiting}, nil
}

func (f *fakeWaitlist) List(_ context.Context, _ string, _ model.WaitlistStatus) ([]model.WaitingListItem, error) {
	return nil, nil
}

func (f *fakeWaitlist) Contact(_ context.Context, _, id string) (model.WaitingListItem, error) {
	return model.WaitingListItem{ID: id, Status: model.WaitlistContacted}, nil
}

func (f *fakeWaitlist) Remove(_ context.Context, _, id string) (model.WaitingListItem, error) {
	return model.WaitingListItem{}, apperr.New(apperr.InvalidTransition, "cannot move waiting list item from scheduled to removed")
}

func (f *fakeWaitlist) Schedule(_ context.Context, in waitlist.ScheduleInput) (model.WaitingListItem, model.Appointment, error) {
	f.scheduled = append(f.scheduled, in)
	return model.WaitingListItem{ID: in.ID, Status: model.WaitlistScheduled, AppointmentID: "a9"},
		model.Appointment{ID: "a9", StartTime: in.Start, Status: model.StatusScheduled}, nil
}

type harness struct {
	router      http.Handler
	lifecycle   *fakeLifecycle
	schedules   *fakeSchedules
	invalidator *fakeInvalidator
	configs     *fakeConfigs
	templates   *fakeTemplates
	slots       *fakeSlots
	waitlist    *fakeWaitlist
}

func newHarness() *harness {
	h := &harness{
		lifecycle:   &fakeLifecycle{},
		schedules:   newFakeSchedules(),
		invalidator: &fakeInvalidator{},
		configs:     &fakeConfigs{},
		templates:   &fakeTemplates{},
		slots:       &fakeSlots{},
		waitlist:    &fakeWaitlist{},
	}
	validator := fakeValidator{"p1": true}
	h.router = NewRouter(Deps{
		Appointments: NewAppointmentHandler(h.lifecycle, discard),
		Availability: NewAvailabilityHandler(h.slots, fakeCatalog{"s1": {ID: "s1", Name: "Corte", DurationMinutes: 45}}, fakeCalendar{}, discard),
		Schedule:     NewScheduleHandler(h.schedules, h.invalidator, validator, discard),
		Settings:     NewSettingsHandler(h.configs, h.templates, h.invalidator, discard),
		Waitlist:     NewWaitlistHandler(h.waitlist, discard),
		Logger:       discard,
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCompanyID, "c1")
	req.Header.Set(HeaderUserID, "u1")
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorBody {
	t.Helper()
	var body httpx.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestStatusForKinds(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.SlotUnavailable:          http.StatusConflict,
		apperr.InvalidTransition:        http.StatusConflict,
		apperr.OutOfBookingWindow:       http.StatusUnprocessableEntity,
		apperr.ReferenceNotFound:        http.StatusUnprocessableEntity,
		apperr.ConfigurationMissing:     http.StatusUnprocessableEntity,
		apperr.NotFound:                 http.StatusNotFound,
		apperr.Validation:               http.StatusBadRequest,
		apperr.ProviderTransientFailure: http.StatusServiceUnavailable,
		apperr.ProviderPermanentFailure: http.StatusBadGateway,
		apperr.Kind("mystery"):          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), string(kind))
	}
}

func TestCompanyHeaderRequired(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodGet, "/config", nil, map[string]string{HeaderCompanyID: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.Validation), decodeError(t, rec).Error)

	rec = h.do(t, http.MethodGet, "/health/liveness", nil, map[string]string{HeaderCompanyID: ""})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAppointment(t *testing.T) {
	h := newHarness()
	body := map[string]any{
		"customer_id":     "cu1",
		"professional_id": "p1",
		"service_id":      "s1",
		"start_time":      "2026-03-02T14:00:00-03:00",
	}

	rec := h.do(t, http.MethodPost, "/appointments", body, map[string]string{HeaderIdempotencyKey: "k-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, h.lifecycle.created, 1)
	in := h.lifecycle.created[0]
	assert.Equal(t, "c1", in.CompanyID)
	assert.Equal(t, "u1", in.CreatedBy)
	assert.Equal(t, "k-1", in.IdempotencyKey)
	assert.True(t, in.Start.Equal(time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)))

	var resp appointmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "a1", resp.ID)
	assert.Equal(t, string(model.StatusScheduled), resp.Status)

	h.lifecycle.replay = true
	rec = h.do(t, http.MethodPost, "/appointments", body, map[string]string{HeaderIdempotencyKey: "k-1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
}

func TestCreateAppointmentRejectsBadInput(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodPost, "/appointments", map[string]any{"start_time": "tomorrow"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/appointments", map[string]any{"start_time": "2026-03-02T14:00:00Z", "colour": "red"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.lifecycle.created)
}

func TestCreateAppointmentConflict(t *testing.T) {
	h := newHarness()
	busyStart := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	h.lifecycle.createErr = apperr.Conflict(busyStart, busyStart.Add(time.Hour), "professional p1 is busy")

	rec := h.do(t, http.MethodPost, "/appointments", map[string]any{
		"customer_id": "cu1", "professional_id": "p1", "service_id": "s1", "start_time": "2026-03-02T17:15:00Z",
	}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, string(apperr.SlotUnavailable), body.Error)
	conflict, ok := body.Details["conflict"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2026-03-02T17:00:00Z", conflict["start"])
	assert.Equal(t, "2026-03-02T18:00:00Z", conflict["end"])
}

func TestCreateAppointmentTooSoon(t *testing.T) {
	h := newHarness()
	earliest := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	h.lifecycle.createErr = apperr.TooSoon(earliest, "appointments need 1h notice")

	rec := h.do(t, http.MethodPost, "/appointments", map[string]any{
		"customer_id": "cu1", "professional_id": "p1", "service_id": "s1", "start_time": "2026-03-02T17:15:00Z",
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "2026-03-02T18:00:00Z", decodeError(t, rec).Details["earliest_start"])
}

func TestAppointmentTransitions(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodPost, "/appointments/a1/confirm", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1"}, h.lifecycle.confirmed)

	rec = h.do(t, http.MethodPost, "/appointments/a1/cancel", map[string]string{"reason": "sick"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1:sick"}, h.lifecycle.cancelled)

	h.lifecycle.transition = apperr.New(apperr.InvalidTransition, "cannot complete a scheduled appointment")
	rec = h.do(t, http.MethodPost, "/appointments/a1/complete", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.InvalidTransition), decodeError(t, rec).Error)

	rec = h.do(t, http.MethodGet, "/appointments/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateAppointment(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodPut, "/appointments/a1", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPut, "/appointments/a1", map[string]any{"start_time": "2026-03-03T10:00:00Z", "urgent": true}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.lifecycle.rescheds, 1)
	in := h.lifecycle.rescheds[0]
	require.NotNil(t, in.Start)
	assert.Nil(t, in.Notes)
	assert.True(t, in.Urgent)
	assert.Equal(t, "u1", in.ActorID)
}

func TestAvailability(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodGet, "/availability?professional_id=p1&service_id=s1&date=2026-03-02&days=2&granularity=15", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, h.slots.queries, 1)
	q := h.slots.queries[0]
	assert.Equal(t, "c1", q.CompanyID)
	assert.Equal(t, 45*time.Minute, q.ServiceDuration)
	assert.Equal(t, 15*time.Minute, q.Granularity)

	rec = h.do(t, http.MethodGet, "/availability?professional_id=p1&service_id=nope&date=2026-03-02", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(apperr.ReferenceNotFound), decodeError(t, rec).Error)

	rec = h.do(t, http.MethodGet, "/availability?professional_id=p1&service_id=s1&date=02/03/2026", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutBusinessHourInvalidatesCompany(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodPut, "/business-hours/1", map[string]any{
		"is_open": true, "open": "08:00", "close": "17:00", "lunch_start": "12:00", "lunch_end": "13:00",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	bh := h.schedules.hours[time.Monday]
	assert.Equal(t, 8*60, bh.OpenMinute)
	assert.Equal(t, 17*60, bh.CloseMinute)
	require.NotNil(t, bh.LunchStartMinute)
	assert.Equal(t, 12*60, *bh.LunchStartMinute)
	assert.Equal(t, 30, bh.SlotDurationMinutes)
	assert.Equal(t, []invalidation{{companyID: "c1"}}, h.invalidator.calls)

	rec = h.do(t, http.MethodPut, "/business-hours/7", map[string]any{"is_open": false}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPut, "/business-hours/2", map[string]any{"is_open": true, "open": "9h", "close": "17:00"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeedBusinessHoursKeepsConfiguredDays(t *testing.T) {
	h := newHarness()
	h.schedules.hours[time.Monday] = model.BusinessHour{CompanyID: "c1", Weekday: time.Monday, IsOpen: true, OpenMinute: 7 * 60, CloseMinute: 11 * 60}

	rec := h.do(t, http.MethodPost, "/business-hours/seed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, h.schedules.seeded)
	assert.Equal(t, 7*60, h.schedules.hours[time.Monday].OpenMinute)
}

func TestCreateBlock(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodPost, "/blocks", map[string]any{
		"professional_id": "p1",
		"title":           "Férias",
		"start_time":      "2026-03-02T00:00:00Z",
		"end_time":        "2026-03-09T00:00:00Z",
		"type":            "vacation",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []invalidation{{companyID: "c1", professionalID: "p1"}}, h.invalidator.calls)

	rec = h.do(t, http.MethodPost, "/blocks", map[string]any{
		"professional_id": "ghost",
		"title":           "Férias",
		"start_time":      "2026-03-02T00:00:00Z",
		"end_time":        "2026-03-09T00:00:00Z",
		"type":            "vacation",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(t, http.MethodGet, "/blocks/b1", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodDelete, "/blocks/b1", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(t, http.MethodDelete, "/blocks/b1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompanyWideBlockInvalidatesCompany(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodPost, "/blocks", map[string]any{
		"title":      "Carnaval",
		"start_time": "2026-02-16T00:00:00Z",
		"end_time":   "2026-02-18T00:00:00Z",
		"type":       "holiday",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []invalidation{{companyID: "c1"}}, h.invalidator.calls)
}

func TestPutConfigMergesFields(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodPut, "/config", map[string]any{"min_advance_hours": 4, "sms_enabled": true}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body configBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 4, body.MinAdvanceHours)
	assert.True(t, body.SMSEnabled)
	assert.Equal(t, "America/Sao_Paulo", body.Timezone)
	assert.Equal(t, 60, body.MaxAdvanceDays)
	assert.Equal(t, []invalidation{{companyID: "c1"}}, h.invalidator.calls)
}

func TestCreateTemplateDefaultsActive(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodPost, "/templates", map[string]any{
		"name": "lembrete", "type": "reminder", "channel": "whatsapp", "body": "Olá {{cliente}}",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, h.templates.created, 1)
	assert.True(t, h.templates.created[0].Active)
	assert.Equal(t, model.TemplateReminder, h.templates.created[0].Type)
}

func TestWaitlistRoutes(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodPost, "/waiting-list", map[string]any{"customer_id": "cu1", "service_id": "s1", "preferred_days": []int{1, 3}}, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodPost, "/waiting-list/w1/schedule", map[string]any{"start_time": "2026-03-04T13:00:00Z", "professional_id": "p1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, h.waitlist.scheduled, 1)
	assert.Equal(t, "w1", h.waitlist.scheduled[0].ID)
	assert.Equal(t, "u1", h.waitlist.scheduled[0].ActorID)

	rec = h.do(t, http.MethodPost, "/waiting-list/w1/remove", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnclassifiedErrorIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	writeErr(rec, req, discard, io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decodeError(t, rec).Error)
}
