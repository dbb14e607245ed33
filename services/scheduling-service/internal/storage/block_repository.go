package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/agendamento/libs/db"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

const blockColumns = `id, company_id, COALESCE(professional_id, ''), title, start_time, end_time, block_type, created_at`

// ListBlocks returns every block of the company overlapping [from, to),
// company-wide and per professional.
func (r *HoursRepository) ListBlocks(ctx context.Context, companyID string, from, to time.Time) ([]model.ScheduleBlock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+blockColumns+`
		FROM schedule_blocks
		WHERE company_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time, id
	`, companyID, from, to)
	if err != nil {
		return nil, mapErr(err, "schedule blocks")
	}
	defer rows.Close()

	var out []model.ScheduleBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *HoursRepository) GetBlock(ctx context.Context, companyID, id string) (model.ScheduleBlock, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+blockColumns+`
		FROM schedule_blocks
		WHERE company_id = $1 AND id = $2
	`, companyID, id)
	b, err := scanBlock(row)
	if err != nil {
		return model.ScheduleBlock{}, mapErr(err, "schedule block")
	}
	return b, nil
}

// CreateBlock stores a block. It takes the same professional lock as booking so
// a block and an appointment cannot be written for the same time concurrently.
func (r *HoursRepository) CreateBlock(ctx context.Context, b model.ScheduleBlock) (model.ScheduleBlock, error) {
	if !b.Type.Valid() {
		return model.ScheduleBlock{}, apperr.New(apperr.Validation, "unknown block type %q", b.Type)
	}
	if !b.StartTime.Before(b.EndTime) {
		return model.ScheduleBlock{}, apperr.New(apperr.Validation, "block start must be before its end")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	err := db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		if b.ProfessionalID != "" {
			if err := lockProfessional(ctx, tx, b.CompanyID, b.ProfessionalID); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx, `
			INSERT INTO schedule_blocks (id, company_id, professional_id, title, start_time, end_time, block_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at
		`, b.ID, b.CompanyID, nullString(b.ProfessionalID), b.Title, b.StartTime.UTC(), b.EndTime.UTC(), string(b.Type)).Scan(&b.CreatedAt)
	})
	if err != nil {
		return model.ScheduleBlock{}, mapErr(err, "schedule block")
	}
	b.StartTime, b.EndTime = b.StartTime.UTC(), b.EndTime.UTC()
	return b, nil
}

func (r *HoursRepository) DeleteBlock(ctx context.Context, companyID, id string) (model.ScheduleBlock, error) {
	row := r.db.QueryRow(ctx, `
		DELETE FROM schedule_blocks
		WHERE company_id = $1 AND id = $2
		RETURNING `+blockColumns,
		companyID, id)
	b, err := scanBlock(row)
	if err != nil {
		return model.ScheduleBlock{}, mapErr(err, "schedule block")
	}
	return b, nil
}

func scanBlock(row rowScanner) (model.ScheduleBlock, error) {
	var (
		b   model.ScheduleBlock
		typ string
	)
	if err := row.Scan(&b.ID, &b.CompanyID, &b.ProfessionalID, &b.Title, &b.StartTime, &b.EndTime, &typ, &b.CreatedAt); err != nil {
		return model.ScheduleBlock{}, err
	}
	b.Type = model.BlockType(typ)
	return b, nil
}
