package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/events"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var start = time.Date(2026, 3, 2, 17, 30, 0, 0, time.UTC) // 14:30 in Sao Paulo

type fakeAppointments map[string]model.Appointment

func (f fakeAppointments) Get(_ context.Context, companyID, id string) (model.Appointment, error) {
	a, ok := f[id]
	if !ok || a.CompanyID != companyID {
		return model.Appointment{}, apperr.New(apperr.NotFound, "appointment %s not found", id)
	}
	return a, nil
}

type fakeConfigs struct{ cfg model.CompanyConfig }

func (f fakeConfigs) Get(context.Context, string) (model.CompanyConfig, error) { return f.cfg, nil }

type fakeTemplates []model.MessageTemplate

func (f fakeTemplates) ListActive(_ context.Context, _ string, typ model.TemplateType) ([]model.MessageTemplate, error) {
	var out []model.MessageTemplate
	for _, t := range f {
		if t.Type == typ && t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeDirectory struct{ customer model.Customer }

func (f fakeDirectory) Customer(context.Context, string) (model.Customer, error) {
	return f.customer, nil
}
func (fakeDirectory) Professional(context.Context, string) (model.Professional, error) {
	return model.Professional{ID: "p1", Name: "Ana"}, nil
}
func (fakeDirectory) Service(context.Context, string) (model.Service, error) {
	return model.Service{ID: "s1", Name: "Corte", DurationMinutes: 30}, nil
}

type memLogs struct {
	mu   sync.Mutex
	rows map[string]model.NotificationLog
}

func newMemLogs() *memLogs { return &memLogs{rows: map[string]model.NotificationLog{}} }

func (m *memLogs) ExistsRecent(_ context.Context, companyID, appointmentID string, typ model.TemplateType, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.CompanyID == companyID && r.AppointmentID == appointmentID && r.TemplateType == typ && !r.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLogs) Insert(_ context.Context, n model.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[n.ID] = n
	return nil
}

func (m *memLogs) MarkSent(_ context.Context, id, providerMessageID string, attempts int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Status, r.ProviderMessageID, r.Attempts, r.SentAt = model.NotificationSent, providerMessageID, attempts, &at
	m.rows[id] = r
	return nil
}

func (m *memLogs) MarkFailed(_ context.Context, id, detail string, attempts int, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Status, r.ErrorDetail, r.Attempts = model.NotificationFailed, detail, attempts
	m.rows[id] = r
	return nil
}

func (m *memLogs) FindByProviderID(_ context.Context, providerMessageID string) (model.NotificationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ProviderMessageID == providerMessageID {
			return r, nil
		}
	}
	return model.NotificationLog{}, apperr.New(apperr.NotFound, "notification not found")
}

func (m *memLogs) UpdateDeliveryStatus(_ context.Context, id string, from, to model.NotificationStatus, detail string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status, r.ErrorDetail = to, detail
	m.rows[id] = r
	return true, nil
}

func (m *memLogs) all() []model.NotificationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.NotificationLog, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out
}

// scriptedProvider returns the queued errors in order, then succeeds.
type scriptedProvider struct {
	name string
	mu   sync.Mutex
	errs []error
	sent []Message
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Send(_ context.Context, msg Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return "", err
	}
	p.sent = append(p.sent, msg)
	return p.name + "-msg-1", nil
}

type recordingObserver struct {
	mu       sync.Mutex
	sent     []string
	webhooks []string
}

func (o *recordingObserver) NotificationSent(channel, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, channel+"/"+status)
}

func (o *recordingObserver) WebhookEvent(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.webhooks = append(o.webhooks, outcome)
}

type harness struct {
	d        *Dispatcher
	logs     *memLogs
	whatsapp *scriptedProvider
	email    *scriptedProvider
	observer *recordingObserver
	redis    *miniredis.Miniredis
}

func newHarness(t *testing.T, templates fakeTemplates, customer model.Customer) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		logs:     newMemLogs(),
		whatsapp: &scriptedProvider{name: "whatsapp"},
		email:    &scriptedProvider{name: "email"},
		observer: &recordingObserver{},
		redis:    mr,
	}
	cfg := model.DefaultCompanyConfig("c1")
	h.d = NewDispatcher(Deps{
		Appointments: fakeAppointments{"a1": {
			ID: "a1", CompanyID: "c1", CustomerID: "cu1", ProfessionalID: "p1", ServiceID: "s1",
			StartTime: start, EndTime: start.Add(30 * time.Minute), Status: model.StatusScheduled,
		}},
		Configs:   fakeConfigs{cfg: cfg},
		Templates: templates,
		Directory: fakeDirectory{customer: customer},
		Logs:      h.logs,
		Claims:    NewDeduper(rdb, h.logs, time.Hour, discard),
		Providers: map[model.Channel]Provider{
			model.ChannelWhatsApp: h.whatsapp,
			model.ChannelEmail:    h.email,
		},
		Observer: h.observer,
		Logger:   discard,
	}, RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond})
	ids := 0
	h.d.newID = func() string {
		ids++
		return fmt.Sprintf("n%d", ids)
	}
	return h
}

var (
	maria = model.Customer{ID: "cu1", Name: "Maria", Phone: "+5511999990000", Email: "maria@example.com"}

	confirmationWhatsApp = model.MessageTemplate{
		ID: "t1", Type: model.TemplateConfirmation, Channel: model.ChannelWhatsApp, Active: true, IsDefault: true,
		Body: "Olá {{customer_name}}, {{service}} com {{professional}} em {{date}} às {{time}}.",
	}
	confirmationEmail = model.MessageTemplate{
		ID: "t2", Type: model.TemplateConfirmation, Channel: model.ChannelEmail, Active: true,
		Body: "Hi {{customer_name}}",
	}
)

func TestDispatchSendsRenderedMessage(t *testing.T) {
	h := newHarness(t, fakeTemplates{confirmationWhatsApp, confirmationEmail}, maria)

	res, err := h.d.Dispatch(context.Background(), "c1", "a1", model.TemplateConfirmation)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, model.ChannelWhatsApp, res.Channel)
	assert.Equal(t, 1, res.Attempts)

	require.Len(t, h.whatsapp.sent, 1)
	assert.Equal(t, "Olá Maria, Corte com Ana em 02/03/2026 às 14:30.", h.whatsapp.sent[0].Body)
	assert.Equal(t, maria.Phone, h.whatsapp.sent[0].To)
	assert.Empty(t, h.email.sent)

	logs := h.logs.all()
	require.Len(t, logs, 1)
	assert.Equal(t, model.NotificationSent, logs[0].Status)
	assert.Equal(t, "whatsapp-msg-1", logs[0].ProviderMessageID)
	assert.Equal(t, []string{"whatsapp/sent"}, h.observer.sent)
}

func TestDispatchSuppressesDuplicates(t *testing.T) {
	h := newHarness(t, fakeTemplates{confirmationWhatsApp}, maria)
	ctx := context.Background()

	_, err := h.d.Dispatch(ctx, "c1", "a1", model.TemplateConfirmation)
	require.NoError(t, err)
	res, err := h.d.Dispatch(ctx, "c1", "a1", model.TemplateConfirmation)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Len(t, h.whatsapp.sent, 1)

	// a different template type is a different notification
	_, err = h.d.Dispatch(ctx, "c1", "a1", model.TemplateCancellation)
	require.NoError(t, err)
}

func TestDispatchFallsBackToLogsWhenRedisIsDown(t *testing.T) {
	h := newHarness(t, fakeTemplates{confirmationWhatsApp}, maria)
	ctx := context.Background()

	_, err := h.d.Dispatch(ctx, "c1", "a1", model.TemplateConfirmation)
	require.NoError(t, err)
	h.redis.Close()

	res, err := h.d.Dispatch(ctx, "c1", "a1", model.TemplateConfirmation)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Len(t, h.whatsapp.sent, 1)
}

func TestDispatchSkipsWithoutTemplate(t *testing.T) {
	h := newHarness(t, fakeTemplates{confirmationWhatsApp}, maria)

	res, err := h.d.Dispatch(context.Background(), "c1", "a1", model.TemplateReminder)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Empty(t, h.logs.all())
	assert.False(t, h.redis.Exists(dedupeKey("c1", "a1", model.TemplateReminder)), "skip must release the claim")
}

func TestDispatchFallsBackToNextChannel(t *testing.T) {
	noPhone := maria
	noPhone.Phone = ""
	h := newHarness(t, fakeTemplates{confirmationWhatsApp, confirmationEmail}, noPhone)

	res, err := h.d.Dispatch(context.Background(), "c1", "a1", model.TemplateConfirmation)
	require.NoError(t, err)
	assert.Equal(t, model.ChannelEmail, res.Channel)
	require.Len(t, h.email.sent, 1)
	assert.Equal(t, maria.Email, h.email.sent[0].To)
	assert.Equal(t, "Appointment confirmed", h.email.sent[0].Subject)
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	h := newHarness(t, fakeTemplates{confirmationWhatsApp}, maria)
	h.whatsapp.errs = []error{
		Transient(errors.New("503"), "twilio returned 503"),
		errors.New("connection reset"),
	}

	res, err := h.d.Dispatch(context.Background(), "c1", "a1", model.TemplateConfirmation)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, h.logs.all()[0].Attempts)
}

func TestDispatchTransientExhaustionReleasesClaim(t *testing.T) {
	h := newHarness(t, fakeTemplates{confirmationWhatsApp}, maria)
	for i := 0; i < 3; i++ {
		h.whatsapp.errs = append(h.whatsapp.errs, Transient(errors.New("timeout"), "twilio unreachable"))
	}

	res, err := h.d.Dispatch(context.Background(), "c1", "a1", model.TemplateConfirmation)
	require.Error(t, err)
	assert.Equal(t, apperr.ProviderTransientFailure, apperr.KindOf(err))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, model.NotificationFailed, h.logs.all()[0].Status)
	assert.False(t, h.redis.Exists(dedupeKey("c1", "a1", model.TemplateConfirmation)))
}

func TestDispatchPermanentFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, fakeTemplates{confirmationWhatsApp}, maria)
	h.whatsapp.errs = []error{Permanent(errors.New("21211"), "invalid number")}

	res, err := h.d.Dispatch(context.Background(), "c1", "a1", model.TemplateConfirmation)
	require.Error(t, err)
	assert.Equal(t, apperr.ProviderPermanentFailure, apperr.KindOf(err))
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, h.redis.Exists(dedupeKey("c1", "a1", model.TemplateConfirmation)), "permanent failure keeps the claim")
	assert.Equal(t, []string{"whatsapp/failed"}, h.observer.sent)
}

func TestApplyDeliveryUpdate(t *testing.T) {
	h := newHarness(t, fakeTemplates{confirmationWhatsApp}, maria)
	ctx := context.Background()
	_, err := h.d.Dispatch(ctx, "c1", "a1", model.TemplateConfirmation)
	require.NoError(t, err)

	outcome, err := h.d.ApplyDeliveryUpdate(ctx, DeliveryUpdate{ProviderMessageID: "unknown", Status: model.NotificationDelivered})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, outcome)

	outcome, err = h.d.ApplyDeliveryUpdate(ctx, DeliveryUpdate{ProviderMessageID: "whatsapp-msg-1", Status: model.NotificationRead})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	// delivered arriving after read is stale
	outcome, err = h.d.ApplyDeliveryUpdate(ctx, DeliveryUpdate{ProviderMessageID: "whatsapp-msg-1", Status: model.NotificationDelivered})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOutOfOrder, outcome)

	outcome, err = h.d.ApplyDeliveryUpdate(ctx, DeliveryUpdate{ProviderMessageID: "whatsapp-msg-1", Status: model.NotificationFailed})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOutOfOrder, outcome)

	assert.Equal(t, model.NotificationRead, h.logs.all()[0].Status)
}

func TestSubscriberMapsEventTypes(t *testing.T) {
	h := newHarness(t, fakeTemplates{confirmationWhatsApp}, maria)
	handler := h.d.Subscriber()
	ctx := context.Background()

	created, err := events.New(events.AppointmentCreated, "c1", "a1", start, events.AppointmentPayload{Action: "create"})
	require.NoError(t, err)
	require.NoError(t, handler(ctx, created))
	assert.Len(t, h.whatsapp.sent, 1)

	confirmed, err := events.New(events.AppointmentUpdated, "c1", "a1", start, events.AppointmentPayload{Action: "confirm"})
	require.NoError(t, err)
	require.NoError(t, handler(ctx, confirmed))
	assert.Len(t, h.whatsapp.sent, 1)

	// failures are logged, never returned
	missing, err := events.New(events.AppointmentCancelled, "c1", "nope", start, events.AppointmentPayload{Action: "cancel"})
	require.NoError(t, err)
	assert.NoError(t, handler(ctx, missing))
}
