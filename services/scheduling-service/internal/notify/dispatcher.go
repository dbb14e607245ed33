// Package notify sends appointment notifications over WhatsApp, SMS and email
// and applies provider delivery receipts to the notification log.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/events"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type Appointments interface {
	Get(ctx context.Context, companyID, id string) (model.Appointment, error)
}

type Configs interface {
	Get(ctx context.Context, companyID string) (model.CompanyConfig, error)
}

type Templates interface {
	ListActive(ctx context.Context, companyID string, typ model.TemplateType) ([]model.MessageTemplate, error)
}

// Directory resolves the people and service named in a message.
type Directory interface {
	Customer(ctx context.Context, id string) (model.Customer, error)
	Professional(ctx context.Context, id string) (model.Professional, error)
	Service(ctx context.Context, id string) (model.Service, error)
}

type Logs interface {
	RecentChecker
	Insert(ctx context.Context, n model.NotificationLog) error
	MarkSent(ctx context.Context, id, providerMessageID string, attempts int, at time.Time) error
	MarkFailed(ctx context.Context, id, detail string, attempts int, at time.Time) error
	FindByProviderID(ctx context.Context, providerMessageID string) (model.NotificationLog, error)
	UpdateDeliveryStatus(ctx context.Context, id string, from, to model.NotificationStatus, detail string, at time.Time) (bool, error)
}

type Claimer interface {
	Claim(ctx context.Context, companyID, appointmentID string, typ model.TemplateType) (bool, error)
	Release(ctx context.Context, companyID, appointmentID string, typ model.TemplateType)
}

// Observer receives dispatch and webhook outcomes; nil is allowed.
type Observer interface {
	NotificationSent(channel, status string)
	WebhookEvent(outcome string)
}

type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout bounds each provider call.
	AttemptTimeout time.Duration
}

type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeFailed     Outcome = "failed"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeApplied    Outcome = "applied"
	OutcomeUnmatched  Outcome = "unmatched"
	OutcomeOutOfOrder Outcome = "out_of_order"
)

type Result struct {
	Outcome           Outcome
	NotificationID    string
	Channel           model.Channel
	ProviderMessageID string
	Attempts          int
}

type Dispatcher struct {
	appointments Appointments
	configs      Configs
	templates    Templates
	directory    Directory
	logs         Logs
	claims       Claimer
	providers    map[model.Channel]Provider
	retry        RetryPolicy
	observer     Observer
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
}

type Deps struct {
	Appointments Appointments
	Configs      Configs
	Templates    Templates
	Directory    Directory
	Logs         Logs
	Claims       Claimer
	Providers    map[model.Channel]Provider
	Observer     Observer
	Logger       *slog.Logger
}

func NewDispatcher(deps Deps, retry RetryPolicy) *Dispatcher {
	if retry.MaxTries == 0 {
		retry.MaxTries = 4
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = 500 * time.Millisecond
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = 10 * time.Second
	}
	if retry.AttemptTimeout <= 0 {
		retry.AttemptTimeout = 10 * time.Second
	}
	return &Dispatcher{
		appointments: deps.Appointments,
		configs:      deps.Configs,
		templates:    deps.Templates,
		directory:    deps.Directory,
		logs:         deps.Logs,
		claims:       deps.Claims,
		providers:    deps.Providers,
		retry:        retry,
		observer:     deps.Observer,
		logger:       deps.Logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Dispatch sends the typ notification for an appointment on the company's
// preferred channel that has an active template, a recipient and a provider.
// A missing template is a configuration choice and yields OutcomeSkipped.
func (d *Dispatcher) Dispatch(ctx context.Context, companyID, appointmentID string, typ model.TemplateType) (res Result, err error) {
	ctx, span := otel.Tracer("notify").Start(ctx, "notify.dispatch")
	span.SetAttributes(
		attribute.String("appointment.id", appointmentID),
		attribute.String("notification.type", string(typ)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	claimed, err := d.claims.Claim(ctx, companyID, appointmentID, typ)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		d.logger.InfoContext(ctx, "duplicate notification suppressed",
			"company_id", companyID, "appointment_id", appointmentID, "type", string(typ))
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	res, err = d.dispatch(ctx, companyID, appointmentID, typ)
	// Keep the claim for permanent outcomes; release it when a redelivery could succeed.
	if res.Outcome == OutcomeSkipped || (err != nil && !errors.Is(err, apperr.ProviderPermanentFailure)) {
		d.claims.Release(ctx, companyID, appointmentID, typ)
	}
	return res, err
}

type route struct {
	channel   model.Channel
	template  model.MessageTemplate
	recipient string
	provider  Provider
}

func (d *Dispatcher) dispatch(ctx context.Context, companyID, appointmentID string, typ model.TemplateType) (Result, error) {
	appt, err := d.appointments.Get(ctx, companyID, appointmentID)
	if err != nil {
		return Result{}, err
	}
	cfg, err := d.configs.Get(ctx, companyID)
	if err != nil {
		return Result{}, err
	}
	templates, err := d.templates.ListActive(ctx, companyID, typ)
	if err != nil {
		return Result{}, err
	}
	customer, err := d.directory.Customer(ctx, appt.CustomerID)
	if err != nil {
		return Result{}, err
	}

	r, ok := d.route(cfg, templates, customer)
	if !ok {
		d.logger.InfoContext(ctx, "no active template for notification",
			"company_id", companyID, "appointment_id", appointmentID, "type", string(typ))
		return Result{Outcome: OutcomeSkipped}, nil
	}

	data := TemplateData{CustomerName: customer.Name, Start: appt.StartTime, Location: cfg.Location()}
	if p, err := d.directory.Professional(ctx, appt.ProfessionalID); err == nil {
		data.Professional = p.Name
	} else {
		d.logger.WarnContext(ctx, "professional lookup failed", "professional_id", appt.ProfessionalID, "err", err)
	}
	if s, err := d.directory.Service(ctx, appt.ServiceID); err == nil {
		data.Service = s.Name
	} else {
		d.logger.WarnContext(ctx, "service lookup failed", "service_id", appt.ServiceID, "err", err)
	}

	now := d.now().UTC()
	entry := model.NotificationLog{
		ID:            d.newID(),
		CompanyID:     companyID,
		AppointmentID: appointmentID,
		TemplateType:  typ,
		Channel:       r.channel,
		Recipient:     r.recipient,
		Content:       Render(r.template.Body, data),
		Status:        model.NotificationQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.logs.Insert(ctx, entry); err != nil {
		return Result{}, err
	}

	msg := Message{
		NotificationID: entry.ID,
		CompanyID:      companyID,
		Channel:        r.channel,
		To:             r.recipient,
		ToName:         customer.Name,
		Subject:        subjectFor(typ),
		Body:           entry.Content,
	}
	providerID, attempts, sendErr := d.send(ctx, r.provider, msg)
	res := Result{NotificationID: entry.ID, Channel: r.channel, ProviderMessageID: providerID, Attempts: attempts}
	at := d.now().UTC()

	if sendErr != nil {
		res.Outcome = OutcomeFailed
		d.observe(r.channel, OutcomeFailed)
		if err := d.logs.MarkFailed(ctx, entry.ID, sendErr.Error(), attempts, at); err != nil {
			d.logger.ErrorContext(ctx, "notification log update failed", "notification_id", entry.ID, "err", err)
		}
		d.logger.WarnContext(ctx, "notification failed",
			"notification_id", entry.ID,
			"provider", r.provider.Name(),
			"attempts", attempts,
			"err", sendErr,
		)
		return res, sendErr
	}

	res.Outcome = OutcomeSent
	d.observe(r.channel, OutcomeSent)
	if err := d.logs.MarkSent(ctx, entry.ID, providerID, attempts, at); err != nil {
		d.logger.ErrorContext(ctx, "notification log update failed", "notification_id", entry.ID, "err", err)
	}
	d.logger.InfoContext(ctx, "notification sent",
		"notification_id", entry.ID,
		"appointment_id", appointmentID,
		"channel", string(r.channel),
		"provider", r.provider.Name(),
		"provider_message_id", providerID,
	)
	return res, nil
}

func (d *Dispatcher) route(cfg model.CompanyConfig, templates []model.MessageTemplate, customer model.Customer) (route, bool) {
	for _, ch := range ChannelPreference(cfg) {
		tpl, ok := PickTemplate(templates, ch)
		if !ok {
			continue
		}
		recipient := customer.Phone
		if ch == model.ChannelEmail {
			recipient = customer.Email
		}
		p := d.providers[ch]
		if recipient == "" || p == nil {
			continue
		}
		return route{channel: ch, template: tpl, recipient: recipient, provider: p}, true
	}
	return route{}, false
}

// send retries transient failures with exponential backoff. Permanent
// failures stop immediately.
func (d *Dispatcher) send(ctx context.Context, p Provider, msg Message) (string, int, error) {
	attempts := 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retry.InitialInterval
	b.MaxInterval = d.retry.MaxInterval

	id, err := backoff.Retry(ctx, func() (string, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, d.retry.AttemptTimeout)
		defer cancel()
		id, err := p.Send(actx, msg)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, apperr.ProviderPermanentFailure) {
			return "", backoff.Permanent(err)
		}
		if apperr.KindOf(err) == "" {
			err = Transient(err, "%s send failed", p.Name())
		}
		return "", err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.retry.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.WarnContext(ctx, "notification send retry", "provider", p.Name(), "retry_in", next, "err", err)
		}),
	)
	return id, attempts, err
}

// DeliveryUpdate is a provider status receipt.
type DeliveryUpdate struct {
	ProviderMessageID string
	Status            model.NotificationStatus
	At                time.Time
	ErrorDetail       string
}

// ApplyDeliveryUpdate moves the matching log forward. Unmatched and
// out-of-order receipts are reported, not errors.
func (d *Dispatcher) ApplyDeliveryUpdate(ctx context.Context, u DeliveryUpdate) (Outcome, error) {
	entry, err := d.logs.FindByProviderID(ctx, u.ProviderMessageID)
	if errors.Is(err, apperr.NotFound) {
		return OutcomeUnmatched, nil
	}
	if err != nil {
		return "", err
	}
	if !entry.Status.Advances(u.Status) {
		return OutcomeOutOfOrder, nil
	}
	at := u.At
	if at.IsZero() {
		at = d.now()
	}
	ok, err := d.logs.UpdateDeliveryStatus(ctx, entry.ID, entry.Status, u.Status, u.ErrorDetail, at.UTC())
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeOutOfOrder, nil
	}
	d.observe(entry.Channel, Outcome(u.Status))
	return OutcomeApplied, nil
}

// Subscriber turns appointment events into notifications. Failures are
// logged and recorded in the notification log; they never fail the event.
func (d *Dispatcher) Subscriber() events.Handler {
	return func(ctx context.Context, e events.Event) error {
		var typ model.TemplateType
		switch e.Type {
		case events.AppointmentCreated:
			typ = model.TemplateConfirmation
		case events.AppointmentCancelled:
			typ = model.TemplateCancellation
		default:
			return nil
		}
		if _, err := d.Dispatch(ctx, e.CompanyID, e.AppointmentID, typ); err != nil {
			d.logger.ErrorContext(ctx, "notification dispatch failed",
				"event_id", e.ID,
				"appointment_id", e.AppointmentID,
				"type", string(typ),
				"err", err,
			)
		}
		return nil
	}
}

func (d *Dispatcher) observe(ch model.Channel, outcome Outcome) {
	if d.observer != nil {
		d.observer.NotificationSent(string(ch), string(outcome))
	}
}
