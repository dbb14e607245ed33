package notify

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestRenderUsesCompanyTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	got := Render("{{customer_name}} {{date}} {{time}} {{professional}} {{service}} {{unknown}}", TemplateData{
		CustomerName: "Maria",
		Professional: "Ana",
		Service:      "Corte",
		Start:        time.Date(2026, 3, 2, 2, 15, 0, 0, time.UTC),
		Location:     loc,
	})
	assert.Equal(t, "Maria 01/03/2026 23:15 Ana Corte {{unknown}}", got)
}

func TestChannelPreference(t *testing.T) {
	cfg := model.DefaultCompanyConfig("c1")
	cfg.ChannelOrder = []model.Channel{model.ChannelEmail, model.ChannelSMS, model.ChannelWhatsApp, model.ChannelEmail}
	assert.Equal(t, []model.Channel{model.ChannelEmail, model.ChannelWhatsApp}, ChannelPreference(cfg))

	cfg.ChannelOrder = nil
	cfg.SMSEnabled = true
	assert.Equal(t, []model.Channel{model.ChannelWhatsApp, model.ChannelSMS, model.ChannelEmail}, ChannelPreference(cfg))
}

func TestPickTemplate(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	templates := []model.MessageTemplate{
		{ID: "b", Channel: model.ChannelWhatsApp, Active: true, UpdatedAt: newer},
		{ID: "a", Channel: model.ChannelWhatsApp, Active: true, UpdatedAt: newer},
		{ID: "c", Channel: model.ChannelWhatsApp, Active: true, UpdatedAt: older},
		{ID: "off", Channel: model.ChannelWhatsApp, Active: false, IsDefault: true},
		{ID: "mail", Channel: model.ChannelEmail, Active: true},
	}

	got, ok := PickTemplate(templates, model.ChannelWhatsApp)
	assert.True(t, ok)
	assert.Equal(t, "a", got.ID)

	templates[2].IsDefault = true
	got, _ = PickTemplate(templates, model.ChannelWhatsApp)
	assert.Equal(t, "c", got.ID)

	_, ok = PickTemplate(templates, model.ChannelSMS)
	assert.False(t, ok)
}
