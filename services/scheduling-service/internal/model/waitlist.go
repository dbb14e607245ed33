package model

import "time"

type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistContacted WaitlistStatus = "contacted"
	WaitlistScheduled WaitlistStatus = "scheduled"
	WaitlistRemoved   WaitlistStatus = "removed"
)

type WaitingListItem struct {
	ID             string
	CompanyID      string
	CustomerID     string
	ServiceID      string
	ProfessionalID string
	PreferredFrom  *time.Time
	PreferredTo    *time.Time
	PreferredDays  []time.Weekday
	Notes          string
	Status         WaitlistStatus
	AppointmentID  string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (s WaitlistStatus) Valid() bool {
	switch s {
	case WaitlistWaiting, WaitlistContacted, WaitlistScheduled, WaitlistRemoved:
		return true
	}
	return false
}
