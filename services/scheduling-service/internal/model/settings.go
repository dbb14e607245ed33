package model

import "time"

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelSMS, ChannelEmail:
		return true
	}
	return false
}

type CalendarView string

const (
	ViewDay   CalendarView = "day"
	ViewWeek  CalendarView = "week"
	ViewMonth CalendarView = "month"
)

func (v CalendarView) Valid() bool {
	return v == ViewDay || v == ViewWeek || v == ViewMonth
}

// CompanyConfig is the per-company scheduling configuration.
type CompanyConfig struct {
	CompanyID                 string
	Timezone                  string
	WhatsAppEnabled           bool
	SMSEnabled                bool
	EmailEnabled              bool
	ChannelOrder              []Channel
	MinAdvanceHours           int
	MaxAdvanceDays            int
	ReminderLeadMinutes       int
	DefaultView               CalendarView
	AllowUrgentDuringVacation bool
	UpdatedAt                 time.Time
}

func DefaultCompanyConfig(companyID string) CompanyConfig {
	return CompanyConfig{
		CompanyID:           companyID,
		Timezone:            "America/Sao_Paulo",
		WhatsAppEnabled:     true,
		SMSEnabled:          false,
		EmailEnabled:        true,
		ChannelOrder:        []Channel{ChannelWhatsApp, ChannelSMS, ChannelEmail},
		MinAdvanceHours:     1,
		MaxAdvanceDays:      60,
		ReminderLeadMinutes: 24 * 60,
		DefaultView:         ViewWeek,
	}
}

func (c CompanyConfig) ChannelEnabled(ch Channel) bool {
	switch ch {
	case ChannelWhatsApp:
		return c.WhatsAppEnabled
	case ChannelSMS:
		return c.SMSEnabled
	case ChannelEmail:
		return c.EmailEnabled
	}
	return false
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (c CompanyConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
