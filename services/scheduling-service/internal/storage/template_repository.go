package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/agendamento/libs/db"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

type TemplateRepository struct {
	db db.Beginner
}

func NewTemplateRepository(b db.Beginner) *TemplateRepository {
	return &TemplateRepository{db: b}
}

const templateColumns = `id, company_id, name, type, channel, body, active, is_default, updated_at`

// ListActive returns the company's active templates of one type.
func (r *TemplateRepository) ListActive(ctx context.Context, companyID string, typ model.TemplateType) ([]model.MessageTemplate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+templateColumns+`
		FROM message_templates
		WHERE company_id = $1 AND type = $2 AND active
		ORDER BY is_default DESC, updated_at DESC, id
	`, companyID, string(typ))
	if err != nil {
		return nil, mapErr(err, "message templates")
	}
	return collectTemplates(rows)
}

func (r *TemplateRepository) List(ctx context.Context, companyID string) ([]model.MessageTemplate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+templateColumns+`
		FROM message_templates
		WHERE company_id = $1
		ORDER BY type, channel, is_default DESC, updated_at DESC, id
	`, companyID)
	if err != nil {
		return nil, mapErr(err, "message templates")
	}
	return collectTemplates(rows)
}

// Create stores a template. A new default replaces the previous default for
// the same type and channel.
func (r *TemplateRepository) Create(ctx context.Context, t model.MessageTemplate) (model.MessageTemplate, error) {
	if !t.Type.Valid() || !t.Channel.Valid() {
		return model.MessageTemplate{}, apperr.New(apperr.Validation, "unknown template type %q or channel %q", t.Type, t.Channel)
	}
	if t.Name == "" || t.Body == "" {
		return model.MessageTemplate{}, apperr.New(apperr.Validation, "template name and body are required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		if t.IsDefault {
			if _, err := tx.Exec(ctx, `
				UPDATE message_templates
				SET is_default = FALSE, updated_at = now()
				WHERE company_id = $1 AND type = $2 AND channel = $3 AND is_default
			`, t.CompanyID, string(t.Type), string(t.Channel)); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx, `
			INSERT INTO message_templates (id, company_id, name, type, channel, body, active, is_default)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING updated_at
		`, t.ID, t.CompanyID, t.Name, string(t.Type), string(t.Channel), t.Body, t.Active, t.IsDefault).Scan(&t.UpdatedAt)
	})
	if err != nil {
		return model.MessageTemplate{}, mapErr(err, "message template")
	}
	return t, nil
}

func collectTemplates(rows pgx.Rows) ([]model.MessageTemplate, error) {
	defer rows.Close()
	var out []model.MessageTemplate
	for rows.Next() {
		var (
			t            model.MessageTemplate
			typ, channel string
		)
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.Name, &typ, &channel, &t.Body, &t.Active, &t.IsDefault, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Type, t.Channel = model.TemplateType(typ), model.Channel(channel)
		out = append(out, t)
	}
	return out, rows.Err()
}
