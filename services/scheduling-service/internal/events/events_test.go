package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/agendamento/libs/kafkax"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/cache"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func mustEvent(t *testing.T, typ, appt string) Event {
	t.Helper()
	e, err := New(typ, "c1", appt, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), AppointmentPayload{
		Action: "create", Status: "scheduled", ProfessionalID: "p1",
	})
	require.NoError(t, err)
	return e
}

func TestBusFiltersByTypeAndIsolatesFailures(t *testing.T) {
	bus := NewBus(discard)
	var got []string
	bus.Subscribe("all", func(_ context.Context, e Event) error {
		got = append(got, "all:"+e.Type)
		return nil
	})
	bus.Subscribe("cancel-only", func(_ context.Context, e Event) error {
		got = append(got, "cancel:"+e.Type)
		return nil
	}, AppointmentCancelled)
	bus.Subscribe("broken", func(context.Context, Event) error { panic("boom") })
	bus.Subscribe("after", func(_ context.Context, e Event) error {
		got = append(got, "after:"+e.Type)
		return nil
	})

	err := bus.Publish(context.Background(), mustEvent(t, AppointmentCreated, "a1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, []string{"all:" + AppointmentCreated, "after:" + AppointmentCreated}, got)

	got = nil
	_ = bus.Publish(context.Background(), mustEvent(t, AppointmentCancelled, "a1"))
	assert.Contains(t, got, "cancel:"+AppointmentCancelled)
}

// fakeOutbox keeps records queued until a pass publishes or dead-letters
// them, bumping attempts on the rest like the database does.
type fakeOutbox struct {
	records   []Record
	published []int64
	dead      []int64
}

func (f *fakeOutbox) Claim(ctx context.Context, limit int, fn func(context.Context, []Record) Batch) (int, error) {
	batch := append([]Record(nil), f.records...)
	if len(batch) > limit {
		batch = batch[:limit]
	}
	b := fn(ctx, batch)
	done := map[int64]bool{}
	for _, seq := range b.Published {
		done[seq] = true
	}
	for _, l := range b.DeadLettered {
		done[l.Seq] = true
		f.dead = append(f.dead, l.Seq)
	}
	f.published = append(f.published, b.Published...)

	var rest []Record
	for _, r := range f.records {
		if done[r.Seq] {
			continue
		}
		r.Attempts++
		rest = append(rest, r)
	}
	f.records = rest
	return len(b.Published), nil
}

type flakySink struct {
	mu      sync.Mutex
	failOn  string
	written []string
}

func (s *flakySink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == s.failOn {
		return errors.New("broker unavailable")
	}
	s.written = append(s.written, e.ID)
	return nil
}

func TestRelayStopsAtFirstFailure(t *testing.T) {
	e1, e2, e3 := mustEvent(t, AppointmentCreated, "a1"), mustEvent(t, AppointmentUpdated, "a1"), mustEvent(t, AppointmentCreated, "a2")
	src := &fakeOutbox{records: []Record{{Seq: 1, Event: e1}, {Seq: 2, Event: e2}, {Seq: 3, Event: e3}}}
	sink := &flakySink{failOn: e2.ID}

	n, err := NewRelay(src, sink, discard, nil, RelayConfig{}).Drain(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, src.published)
	assert.Equal(t, []string{e1.ID}, sink.written)
	assert.Len(t, src.records, 2)
}

func TestRelayDeadLettersAfterMaxAttempts(t *testing.T) {
	e1, e2 := mustEvent(t, AppointmentCreated, "a1"), mustEvent(t, AppointmentCreated, "a2")
	src := &fakeOutbox{records: []Record{{Seq: 1, Event: e1}, {Seq: 2, Event: e2}}}
	sink := &flakySink{failOn: e1.ID}
	relay := NewRelay(src, sink, discard, nil, RelayConfig{MaxAttempts: 3})

	for i := 0; i < 2; i++ {
		_, err := relay.Drain(context.Background())
		require.Error(t, err)
		assert.Empty(t, sink.written, "later events wait behind the failing one")
	}

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, src.dead)
	assert.Equal(t, []int64{2}, src.published)
	assert.Equal(t, []string{e2.ID}, sink.written)
	assert.Empty(t, src.records)
}

type notifyRecorder struct{ ids []string }

func (n *notifyRecorder) handle(_ context.Context, e Event) error {
	n.ids = append(n.ids, e.AppointmentID)
	return nil
}

func TestRelayKeepsFlowingWhenCacheIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	bus := NewBus(discard)
	rec := &notifyRecorder{}
	bus.Subscribe("notifications", rec.handle, AppointmentCreated)
	bus.Subscribe("cache", InvalidateOnChange(cache.New(rdb, cache.Options{Timeout: 50 * time.Millisecond}, discard, nil), discard))

	src := &fakeOutbox{records: []Record{
		{Seq: 1, Event: mustEvent(t, AppointmentCreated, "a1")},
		{Seq: 2, Event: mustEvent(t, AppointmentCreated, "a2")},
	}}
	relay := NewRelay(src, bus, discard, nil, RelayConfig{})
	for i := 0; i < 3; i++ {
		_, err := relay.Drain(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, []int64{1, 2}, src.published)
	assert.Equal(t, []string{"a1", "a2"}, rec.ids)
}

func TestRelayToBus(t *testing.T) {
	bus := NewBus(discard)
	var seen []string
	bus.Subscribe("rec", func(_ context.Context, e Event) error {
		seen = append(seen, e.ID)
		return nil
	})
	e1 := mustEvent(t, AppointmentCreated, "a1")
	src := &fakeOutbox{records: []Record{{Seq: 7, Event: e1}}}

	n, err := NewRelay(src, bus, discard, nil, RelayConfig{BatchSize: 10}).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{e1.ID}, seen)
}

func TestEncodeMessage(t *testing.T) {
	e := mustEvent(t, AppointmentCancelled, "a9")
	msg, err := encodeMessage(context.Background(), e)
	require.NoError(t, err)

	assert.Equal(t, AppointmentCancelled, msg.Topic)
	assert.Equal(t, "a9", string(msg.Key))
	meta := kafkax.ExtractEventMeta(msg)
	assert.Equal(t, e.ID, meta.EventID)
	assert.Equal(t, "c1", meta.CompanyID)

	var back Event
	require.NoError(t, json.Unmarshal(msg.Value, &back))
	assert.Equal(t, e.ID, back.ID)
	p, err := back.AppointmentPayload()
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ProfessionalID)
}

type memInbox struct {
	seen      map[string]bool
	forgotten []string
}

func (m *memInbox) Record(_ context.Context, consumer string, e Event) (bool, error) {
	key := consumer + "/" + e.ID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memInbox) Forget(_ context.Context, consumer, id string) error {
	delete(m.seen, consumer+"/"+id)
	m.forgotten = append(m.forgotten, id)
	return nil
}

func TestConsumerHandlesEachEventOnce(t *testing.T) {
	inbox := &memInbox{seen: map[string]bool{}}
	var calls int
	c := &Consumer{inbox: inbox, group: "scheduling", maxTries: 3, logger: discard,
		handler: func(context.Context, Event) error { calls++; return nil }}

	msg, err := encodeMessage(context.Background(), mustEvent(t, AppointmentCreated, "a1"))
	require.NoError(t, err)
	c.handle(context.Background(), msg)
	c.handle(context.Background(), msg)
	assert.Equal(t, 1, calls)
}

func TestConsumerForgetsFailedEvents(t *testing.T) {
	inbox := &memInbox{seen: map[string]bool{}}
	c := &Consumer{inbox: inbox, group: "scheduling", maxTries: 3, logger: discard,
		handler: func(context.Context, Event) error { return backoff.Permanent(errors.New("bad template")) }}

	e := mustEvent(t, AppointmentCreated, "a1")
	msg, err := encodeMessage(context.Background(), e)
	require.NoError(t, err)
	c.handle(context.Background(), msg)
	assert.Equal(t, []string{e.ID}, inbox.forgotten)

	c.handle(context.Background(), kafka.Message{Topic: AppointmentCreated, Value: []byte("not json")})
	assert.Len(t, inbox.seen, 0)
}

type countingInvalidator struct {
	calls []string
	err   error
}

func (c *countingInvalidator) InvalidateProfessional(_ context.Context, company, prof string) error {
	c.calls = append(c.calls, company+"/"+prof)
	return c.err
}

func TestInvalidateOnChange(t *testing.T) {
	inv := &countingInvalidator{}
	require.NoError(t, InvalidateOnChange(inv, discard)(context.Background(), mustEvent(t, AppointmentUpdated, "a1")))
	assert.Equal(t, []string{"c1/p1"}, inv.calls)

	inv.err = errors.New("redis: connection refused")
	assert.NoError(t, InvalidateOnChange(inv, discard)(context.Background(), mustEvent(t, AppointmentUpdated, "a1")))
	assert.NoError(t, InvalidateOnChange(inv, discard)(context.Background(), Event{ID: "e", Type: AppointmentUpdated, Payload: []byte("nope")}))
}
