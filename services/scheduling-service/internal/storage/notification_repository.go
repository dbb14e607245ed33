package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/agendamento/libs/db"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

type NotificationRepository struct {
	db db.Querier
}

func NewNotificationRepository(q db.Querier) *NotificationRepository {
	return &NotificationRepository{db: q}
}

const notificationColumns = `id, company_id, appointment_id, template_type, channel, recipient, content, status,
	COALESCE(provider_message_id, ''), error_detail, attempts, sent_at, delivered_at, read_at, created_at, updated_at`

func (r *NotificationRepository) Insert(ctx context.Context, n model.NotificationLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notification_logs (id, company_id, appointment_id, template_type, channel, recipient,
			content, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, n.ID, n.CompanyID, n.AppointmentID, string(n.TemplateType), string(n.Channel), n.Recipient,
		n.Content, string(n.Status), n.Attempts, n.CreatedAt)
	return mapErr(err, "notification log")
}

func (r *NotificationRepository) MarkSent(ctx context.Context, id, providerMessageID string, attempts int, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE notification_logs
		SET status = 'sent', provider_message_id = $2, attempts = $3, sent_at = $4, error_detail = '', updated_at = $4
		WHERE id = $1
	`, id, nullString(providerMessageID), attempts, at)
	return mapErr(err, "notification log")
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, id, detail string, attempts int, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE notification_logs
		SET status = 'failed', error_detail = $2, attempts = $3, updated_at = $4
		WHERE id = $1
	`, id, detail, attempts, at)
	return mapErr(err, "notification log")
}

func (r *NotificationRepository) FindByProviderID(ctx context.Context, providerMessageID string) (model.NotificationLog, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM notification_logs
		WHERE provider_message_id = $1
	`, providerMessageID)
	var (
		n                    model.NotificationLog
		typ, channel, status string
	)
	err := row.Scan(&n.ID, &n.CompanyID, &n.AppointmentID, &typ, &channel, &n.Recipient, &n.Content, &status,
		&n.ProviderMessageID, &n.ErrorDetail, &n.Attempts, &n.SentAt, &n.DeliveredAt, &n.ReadAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return model.NotificationLog{}, mapErr(err, "notification log")
	}
	n.TemplateType, n.Channel, n.Status = model.TemplateType(typ), model.Channel(channel), model.NotificationStatus(status)
	return n, nil
}

// UpdateDeliveryStatus records a provider status change. The caller has
// already checked that the change moves the log forward; the WHERE clause
// guards against a concurrent update having moved it further.
func (r *NotificationRepository) UpdateDeliveryStatus(ctx context.Context, id string, from, to model.NotificationStatus, detail string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notification_logs
		SET status = $3,
			delivered_at = CASE WHEN $3 IN ('delivered', 'read') THEN COALESCE(delivered_at, $5) ELSE delivered_at END,
			read_at = CASE WHEN $3 = 'read' THEN $5 ELSE read_at END,
			error_detail = CASE WHEN $3 = 'failed' THEN $4 ELSE error_detail END,
			updated_at = $5
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), detail, at)
	if err != nil {
		return false, mapErr(err, "notification log")
	}
	return tag.RowsAffected() == 1, nil
}

// ExistsRecent reports whether a non-failed notification of typ was logged
// for the appointment since the given time.
func (r *NotificationRepository) ExistsRecent(ctx context.Context, companyID, appointmentID string, typ model.TemplateType, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notification_logs
			WHERE company_id = $1 AND appointment_id = $2 AND template_type = $3
				AND status <> 'failed' AND created_at >= $4
		)
	`, companyID, appointmentID, string(typ), since).Scan(&exists)
	if err != nil {
		return false, mapErr(err, "notification log")
	}
	return exists, nil
}
