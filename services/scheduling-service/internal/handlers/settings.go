package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agendamento/libs/httpx"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

type Configs interface {
	Get(ctx context.Context, companyID string) (model.CompanyConfig, error)
	Update(ctx context.Context, cfg model.CompanyConfig) (model.CompanyConfig, error)
}

type Templates interface {
	List(ctx context.Context, companyID string) ([]model.MessageTemplate, error)
	Create(ctx context.Context, t model.MessageTemplate) (model.MessageTemplate, error)
}

type SettingsHandler struct {
	configs     Configs
	templates   Templates
	invalidator Invalidator
	logger      *slog.Logger
}

func NewSettingsHandler(configs Configs, templates Templates, invalidator Invalidator, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{configs: configs, templates: templates, invalidator: invalidator, logger: logger}
}

type configBody struct {
	Timezone                  string    `json:"timezone"`
	WhatsAppEnabled           bool      `json:"whatsapp_enabled"`
	SMSEnabled                bool      `json:"sms_enabled"`
	EmailEnabled              bool      `json:"email_enabled"`
	ChannelOrder              []string  `json:"channel_order"`
	MinAdvanceHours           int       `json:"min_advance_hours"`
	MaxAdvanceDays            int       `json:"max_advance_days"`
	ReminderLeadMinutes       int       `json:"reminder_lead_minutes"`
	DefaultView               string    `json:"default_view"`
	AllowUrgentDuringVacation bool      `json:"allow_urgent_during_vacation"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// configPatch holds the fields a PUT may change; absent fields keep their value.
type configPatch struct {
	Timezone                  *string  `json:"timezone"`
	WhatsAppEnabled           *bool    `json:"whatsapp_enabled"`
	SMSEnabled                *bool    `json:"sms_enabled"`
	EmailEnabled              *bool    `json:"email_enabled"`
	ChannelOrder              []string `json:"channel_order"`
	MinAdvanceHours           *int     `json:"min_advance_hours"`
	MaxAdvanceDays            *int     `json:"max_advance_days"`
	ReminderLeadMinutes       *int     `json:"reminder_lead_minutes"`
	DefaultView               *string  `json:"default_view"`
	AllowUrgentDuringVacation *bool    `json:"allow_urgent_during_vacation"`
}

func toConfigBody(c model.CompanyConfig) configBody {
	order := make([]string, 0, len(c.ChannelOrder))
	for _, ch := range c.ChannelOrder {
		order = append(order, string(ch))
	}
	return configBody{
		Timezone:                  c.Timezone,
		WhatsAppEnabled:           c.WhatsAppEnabled,
		SMSEnabled:                c.SMSEnabled,
		EmailEnabled:              c.EmailEnabled,
		ChannelOrder:              order,
		MinAdvanceHours:           c.MinAdvanceHours,
		MaxAdvanceDays:            c.MaxAdvanceDays,
		ReminderLeadMinutes:       c.ReminderLeadMinutes,
		DefaultView:               string(c.DefaultView),
		AllowUrgentDuringVacation: c.AllowUrgentDuringVacation,
		UpdatedAt:                 c.UpdatedAt,
	}
}

func (p configPatch) apply(c *model.CompanyConfig) {
	if p.Timezone != nil {
		c.Timezone = strings.TrimSpace(*p.Timezone)
	}
	if p.WhatsAppEnabled != nil {
		c.WhatsAppEnabled = *p.WhatsAppEnabled
	}
	if p.SMSEnabled != nil {
		c.SMSEnabled = *p.SMSEnabled
	}
	if p.EmailEnabled != nil {
		c.EmailEnabled = *p.EmailEnabled
	}
	if p.ChannelOrder != nil {
		c.ChannelOrder = make([]model.Channel, 0, len(p.ChannelOrder))
		for _, ch := range p.ChannelOrder {
			c.ChannelOrder = append(c.ChannelOrder, model.Channel(ch))
		}
	}
	if p.MinAdvanceHours != nil {
		c.MinAdvanceHours = *p.MinAdvanceHours
	}
	if p.MaxAdvanceDays != nil {
		c.MaxAdvanceDays = *p.MaxAdvanceDays
	}
	if p.ReminderLeadMinutes != nil {
		c.ReminderLeadMinutes = *p.ReminderLeadMinutes
	}
	if p.DefaultView != nil {
		c.DefaultView = model.CalendarView(*p.DefaultView)
	}
	if p.AllowUrgentDuringVacation != nil {
		c.AllowUrgentDuringVacation = *p.AllowUrgentDuringVacation
	}
}

func (h *SettingsHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Get(r.Context(), companyID(r))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toConfigBody(cfg))
}

// PutConfig merges the given fields into the current configuration.
// Timezone and advance rules feed availability, so the company cache is dropped.
func (h *SettingsHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var patch configPatch
	if err := decode(r, &patch); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	cfg, err := h.configs.Get(r.Context(), companyID(r))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	patch.apply(&cfg)
	cfg, err = h.configs.Update(r.Context(), cfg)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if err := h.invalidator.InvalidateCompany(r.Context(), cfg.CompanyID); err != nil {
		h.logger.WarnContext(r.Context(), "cache invalidation failed", "company_id", cfg.CompanyID, "err", err)
	}
	httpx.WriteJSON(w, http.StatusOK, toConfigBody(cfg))
}

type templateBody struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Channel   string    `json:"channel"`
	Body      string    `json:"body"`
	Active    *bool     `json:"active,omitempty"`
	IsDefault bool      `json:"is_default"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func toTemplateBody(t model.MessageTemplate) templateBody {
	active := t.Active
	return templateBody{
		ID:        t.ID,
		Name:      t.Name,
		Type:      string(t.Type),
		Channel:   string(t.Channel),
		Body:      t.Body,
		Active:    &active,
		IsDefault: t.IsDefault,
		UpdatedAt: t.UpdatedAt,
	}
}

func (h *SettingsHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.templates.List(r.Context(), companyID(r))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	out := make([]templateBody, 0, len(list))
	for _, t := range list {
		out = append(out, toTemplateBody(t))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"templates": out})
}

func (h *SettingsHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body templateBody
	if err := decode(r, &body); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	active := true
	if body.Active != nil {
		active = *body.Active
	}
	t, err := h.templates.Create(r.Context(), model.MessageTemplate{
		CompanyID: companyID(r),
		Name:      strings.TrimSpace(body.Name),
		Type:      model.TemplateType(body.Type),
		Channel:   model.Channel(body.Channel),
		Body:      body.Body,
		Active:    active,
		IsDefault: body.IsDefault,
	})
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toTemplateBody(t))
}
