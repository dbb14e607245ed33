package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/agendamento/libs/db"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

type ConfigRepository struct {
	db db.Querier
}

func NewConfigRepository(q db.Querier) *ConfigRepository {
	return &ConfigRepository{db: q}
}

const configColumns = `company_id, timezone, whatsapp_enabled, sms_enabled, email_enabled, channel_order,
	min_advance_hours, max_advance_days, reminder_lead_minutes, default_view,
	allow_urgent_during_vacation, updated_at`

// Get returns the company's configuration, creating the default row on first use.
func (r *ConfigRepository) Get(ctx context.Context, companyID string) (model.CompanyConfig, error) {
	def := model.DefaultCompanyConfig(companyID)
	row := r.db.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO company_configs (company_id, timezone, whatsapp_enabled, sms_enabled, email_enabled,
				channel_order, min_advance_hours, max_advance_days, reminder_lead_minutes, default_view)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (company_id) DO NOTHING
			RETURNING `+configColumns+`
		)
		SELECT `+configColumns+` FROM ins
		UNION ALL
		SELECT `+configColumns+` FROM company_configs WHERE company_id = $1
		LIMIT 1
	`, companyID, def.Timezone, def.WhatsAppEnabled, def.SMSEnabled, def.EmailEnabled,
		channelStrings(def.ChannelOrder), def.MinAdvanceHours, def.MaxAdvanceDays,
		def.ReminderLeadMinutes, string(def.DefaultView))
	cfg, err := scanConfig(row)
	if err != nil {
		return model.CompanyConfig{}, mapErr(err, "company config")
	}
	return cfg, nil
}

func (r *ConfigRepository) Update(ctx context.Context, cfg model.CompanyConfig) (model.CompanyConfig, error) {
	if err := validateConfig(cfg); err != nil {
		return model.CompanyConfig{}, err
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO company_configs (company_id, timezone, whatsapp_enabled, sms_enabled, email_enabled,
			channel_order, min_advance_hours, max_advance_days, reminder_lead_minutes, default_view,
			allow_urgent_during_vacation, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (company_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			whatsapp_enabled = EXCLUDED.whatsapp_enabled,
			sms_enabled = EXCLUDED.sms_enabled,
			email_enabled = EXCLUDED.email_enabled,
			channel_order = EXCLUDED.channel_order,
			min_advance_hours = EXCLUDED.min_advance_hours,
			max_advance_days = EXCLUDED.max_advance_days,
			reminder_lead_minutes = EXCLUDED.reminder_lead_minutes,
			default_view = EXCLUDED.default_view,
			allow_urgent_during_vacation = EXCLUDED.allow_urgent_during_vacation,
			updated_at = now()
		RETURNING `+configColumns,
		cfg.CompanyID, cfg.Timezone, cfg.WhatsAppEnabled, cfg.SMSEnabled, cfg.EmailEnabled,
		channelStrings(cfg.ChannelOrder), cfg.MinAdvanceHours, cfg.MaxAdvanceDays,
		cfg.ReminderLeadMinutes, string(cfg.DefaultView), cfg.AllowUrgentDuringVacation)
	out, err := scanConfig(row)
	if err != nil {
		return model.CompanyConfig{}, mapErr(err, "company config")
	}
	return out, nil
}

// ListCompanyIDs returns every configured company, used by the reminder sweep.
func (r *ConfigRepository) ListCompanyIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT company_id FROM company_configs ORDER BY company_id`)
	if err != nil {
		return nil, mapErr(err, "company configs")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func validateConfig(cfg model.CompanyConfig) error {
	if cfg.CompanyID == "" {
		return apperr.New(apperr.Validation, "company_id is required")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil || cfg.Timezone == "" {
		return apperr.New(apperr.Validation, "unknown timezone %q", cfg.Timezone)
	}
	if cfg.MinAdvanceHours < 0 || cfg.MaxAdvanceDays < 0 || cfg.ReminderLeadMinutes < 0 {
		return apperr.New(apperr.Validation, "advance and reminder settings must not be negative")
	}
	if !cfg.DefaultView.Valid() {
		return apperr.New(apperr.Validation, "unknown calendar view %q", cfg.DefaultView)
	}
	for _, ch := range cfg.ChannelOrder {
		if !ch.Valid() {
			return apperr.New(apperr.Validation, "unknown channel %q", ch)
		}
	}
	return nil
}

func scanConfig(row rowScanner) (model.CompanyConfig, error) {
	var (
		cfg     model.CompanyConfig
		order   []string
		view    string
		updated time.Time
	)
	err := row.Scan(&cfg.CompanyID, &cfg.Timezone, &cfg.WhatsAppEnabled, &cfg.SMSEnabled, &cfg.EmailEnabled,
		&order, &cfg.MinAdvanceHours, &cfg.MaxAdvanceDays, &cfg.ReminderLeadMinutes, &view,
		&cfg.AllowUrgentDuringVacation, &updated)
	if err != nil {
		return model.CompanyConfig{}, err
	}
	cfg.DefaultView = model.CalendarView(view)
	cfg.UpdatedAt = updated
	for _, ch := range order {
		cfg.ChannelOrder = append(cfg.ChannelOrder, model.Channel(ch))
	}
	return cfg, nil
}

func channelStrings(chs []model.Channel) []string {
	out := make([]string, 0, len(chs))
	for _, ch := range chs {
		out = append(out, string(ch))
	}
	return out
}
