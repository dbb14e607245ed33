package model

import "time"

type TemplateType string

const (
	TemplateConfirmation TemplateType = "confirmation"
	TemplateReminder     TemplateType = "reminder"
	TemplateCancellation TemplateType = "cancellation"
)

func (t TemplateType) Valid() bool {
	return t == TemplateConfirmation || t == TemplateReminder || t == TemplateCancellation
}

type MessageTemplate struct {
	ID        string
	CompanyID string
	Name      string
	Type      TemplateType
	Channel   Channel
	Body      string
	Active    bool
	IsDefault bool
	UpdatedAt time.Time
}

type NotificationStatus string

const (
	NotificationQueued    NotificationStatus = "queued"
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationRead      NotificationStatus = "read"
	NotificationFailed    NotificationStatus = "failed"
)

// Advances reports whether moving from s to next is forward progress.
// failed is reachable from queued and sent only.
func (s NotificationStatus) Advances(next NotificationStatus) bool {
	if next == NotificationFailed {
		return s == NotificationQueued || s == NotificationSent
	}
	if s == NotificationFailed {
		return false
	}
	return notificationRank[next] > notificationRank[s]
}

var notificationRank = map[NotificationStatus]int{
	NotificationQueued:    1,
	NotificationSent:      2,
	NotificationDelivered: 3,
	NotificationRead:      4,
}

type NotificationLog struct {
	ID                string
	CompanyID         string
	AppointmentID     string
	TemplateType      TemplateType
	Channel           Channel
	Recipient         string
	Content           string
	Status            NotificationStatus
	ProviderMessageID string
	ErrorDetail       string
	Attempts          int
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
