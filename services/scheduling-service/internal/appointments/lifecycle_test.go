package appointments

import (
	"errors"
	"testing"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/events"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

func TestNextHappyPath(t *testing.T) {
	steps := []struct {
		action Action
		want   model.AppointmentStatus
	}{
		{ActionConfirm, model.StatusConfirmed},
		{ActionStart, model.StatusInProgress},
		{ActionComplete, model.StatusCompleted},
	}
	status := model.StatusScheduled
	for _, s := range steps {
		next, err := Next(status, s.action)
		if err != nil {
			t.Fatalf("%s from %s: unexpected error %v", s.action, status, err)
		}
		if next != s.want {
			t.Fatalf("%s from %s: expected %s, got %s", s.action, status, s.want, next)
		}
		status = next
	}
}

func TestNoTransitionFromTerminal(t *testing.T) {
	terminal := []model.AppointmentStatus{model.StatusCompleted, model.StatusCancelled, model.StatusNoShow}
	actions := []Action{ActionConfirm, ActionStart, ActionComplete, ActionCancel, ActionNoShow, ActionReschedule, ActionEdit}
	for _, from := range terminal {
		for _, a := range actions {
			if _, err := Next(from, a); !errors.Is(err, apperr.InvalidTransition) {
				t.Fatalf("%s from %s: expected InvalidTransition, got %v", a, from, err)
			}
		}
	}
}

func TestFailureStatesReachableFromActive(t *testing.T) {
	for _, from := range model.ActiveStatuses {
		if got, err := Next(from, ActionCancel); err != nil || got != model.StatusCancelled {
			t.Fatalf("cancel from %s: got %s, %v", from, got, err)
		}
		if got, err := Next(from, ActionNoShow); err != nil || got != model.StatusNoShow {
			t.Fatalf("no_show from %s: got %s, %v", from, got, err)
		}
	}
}

func TestRescheduleKeepsStatus(t *testing.T) {
	if got, err := Next(model.StatusConfirmed, ActionReschedule); err != nil || got != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s (%v)", got, err)
	}
	if _, err := Next(model.StatusInProgress, ActionReschedule); !errors.Is(err, apperr.InvalidTransition) {
		t.Fatalf("expected InvalidTransition for in-progress reschedule, got %v", err)
	}
	if _, err := Next(model.StatusConfirmed, ActionConfirm); !errors.Is(err, apperr.InvalidTransition) {
		t.Fatalf("expected InvalidTransition for double confirm, got %v", err)
	}
}

func TestEventTypes(t *testing.T) {
	cases := map[Action]string{
		ActionCreate:     events.AppointmentCreated,
		ActionConfirm:    events.AppointmentUpdated,
		ActionReschedule: events.AppointmentUpdated,
		ActionCancel:     events.AppointmentCancelled,
		ActionComplete:   events.AppointmentCompleted,
		ActionNoShow:     events.AppointmentUpdated,
	}
	for a, want := range cases {
		if got := eventType(a); got != want {
			t.Fatalf("%s: expected %s, got %s", a, want, got)
		}
	}
}
