package appointments

import (
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/events"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

type Action string

const (
	ActionCreate     Action = "create"
	ActionConfirm    Action = "confirm"
	ActionStart      Action = "start"
	ActionComplete   Action = "complete"
	ActionCancel     Action = "cancel"
	ActionNoShow     Action = "no_show"
	ActionReschedule Action = "reschedule"
	ActionEdit       Action = "edit"
)

type transition struct {
	from []model.AppointmentStatus
	to   model.AppointmentStatus
}

var (
	active    = model.ActiveStatuses
	movable   = []model.AppointmentStatus{model.StatusScheduled, model.StatusConfirmed}
	lifecycle = map[Action]transition{
		ActionConfirm:    {from: []model.AppointmentStatus{model.StatusScheduled}, to: model.StatusConfirmed},
		ActionStart:      {from: movable, to: model.StatusInProgress},
		ActionComplete:   {from: active, to: model.StatusCompleted},
		ActionCancel:     {from: active, to: model.StatusCancelled},
		ActionNoShow:     {from: active, to: model.StatusNoShow},
		ActionReschedule: {from: movable},
		ActionEdit:       {from: active},
	}
)

// Next returns the status an appointment in from moves to under action.
// Actions that keep the status (reschedule, edit) return from.
func Next(from model.AppointmentStatus, action Action) (model.AppointmentStatus, error) {
	t, ok := lifecycle[action]
	if !ok {
		return "", apperr.New(apperr.InvalidTransition, "unknown action %q", action)
	}
	for _, s := range t.from {
		if s == from {
			if t.to == "" {
				return from, nil
			}
			return t.to, nil
		}
	}
	return "", apperr.New(apperr.InvalidTransition, "cannot %s an appointment that is %s", action, from)
}

// eventType maps an accepted action to the event it publishes.
func eventType(action Action) string {
	switch action {
	case ActionCreate:
		return events.AppointmentCreated
	case ActionCancel:
		return events.AppointmentCancelled
	case ActionComplete:
		return events.AppointmentCompleted
	default:
		return events.AppointmentUpdated
	}
}
