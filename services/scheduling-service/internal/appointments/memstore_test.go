package appointments

import (
	"context"
	"sync"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/events"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

// memStore is a transactional in-memory Store. Transactions work on a copy
// that replaces the shared state on commit; LockProfessional takes a
// per-professional mutex held until the transaction ends, like
// pg_advisory_xact_lock.
type memStore struct {
	mu      sync.Mutex
	appts   map[string]model.Appointment
	events  []events.Event
	idem    map[string]string
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		appts: map[string]model.Appointment{},
		idem:  map[string]string{},
		locks: map[string]*sync.Mutex{},
	}
}

func (m *memStore) Get(_ context.Context, companyID, id string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.CompanyID != companyID {
		return model.Appointment{}, apperr.New(apperr.NotFound, "appointment %s not found", id)
	}
	return a, nil
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{store: m, appts: map[string]model.Appointment{}, idem: map[string]string{}}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// exclusion constraint backstop
	for _, a := range tx.appts {
		if a.Status.Terminal() {
			continue
		}
		for id, other := range m.appts {
			if id == a.ID || other.Status.Terminal() || other.ProfessionalID != a.ProfessionalID {
				continue
			}
			if other.Interval().Overlaps(a.Interval()) {
				return apperr.Conflict(other.StartTime, other.EndTime, "overlapping appointment")
			}
		}
	}
	for id, a := range tx.appts {
		m.appts[id] = a
	}
	for k, v := range tx.idem {
		m.idem[k] = v
	}
	m.events = append(m.events, tx.events...)
	return nil
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func (m *memStore) put(a model.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appts[a.ID] = a
}

type memTx struct {
	store  *memStore
	appts  map[string]model.Appointment
	idem   map[string]string
	events []events.Event
	held   []*sync.Mutex
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
}

func (t *memTx) LockProfessional(_ context.Context, companyID, professionalID string) error {
	key := companyID + "/" + professionalID
	t.store.locksMu.Lock()
	l, ok := t.store.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.store.locks[key] = l
	}
	t.store.locksMu.Unlock()
	l.Lock()
	t.held = append(t.held, l)
	return nil
}

func (t *memTx) GetForUpdate(ctx context.Context, companyID, id string) (model.Appointment, error) {
	if a, ok := t.appts[id]; ok {
		return a, nil
	}
	return t.store.Get(ctx, companyID, id)
}

func (t *memTx) ListBusy(_ context.Context, companyID, professionalID string, from, to time.Time, excludeID string) ([]model.Interval, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	window := model.Interval{Start: from, End: to}
	var out []model.Interval
	for id, a := range t.store.appts {
		if id == excludeID || a.CompanyID != companyID || a.ProfessionalID != professionalID || a.Status.Terminal() {
			continue
		}
		if a.Interval().Overlaps(window) {
			out = append(out, a.Interval())
		}
	}
	return out, nil
}

func (t *memTx) Insert(_ context.Context, a model.Appointment) error {
	t.appts[a.ID] = a
	return nil
}

func (t *memTx) Update(_ context.Context, a model.Appointment) error {
	t.appts[a.ID] = a
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, e events.Event) error {
	t.events = append(t.events, e)
	return nil
}

func (t *memTx) FindIdempotencyKey(_ context.Context, companyID, key string) (string, bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	id, ok := t.store.idem[companyID+"/"+key]
	return id, ok, nil
}

func (t *memTx) SaveIdempotencyKey(_ context.Context, companyID, key, appointmentID string) error {
	t.idem[companyID+"/"+key] = appointmentID
	return nil
}
