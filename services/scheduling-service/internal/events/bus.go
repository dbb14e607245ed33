package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type Handler func(ctx context.Context, e Event) error

// Sink receives events leaving the outbox: the in-process Bus or Kafka.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

type subscriber struct {
	name    string
	types   map[string]bool
	handler Handler
}

// Bus delivers events to in-process subscribers. A failing subscriber does not
// stop delivery to the others.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers h for the given event types, or for all types when none
// are given.
func (b *Bus) Subscribe(name string, h Handler, types ...string) {
	s := subscriber{name: name, handler: h}
	if len(types) > 0 {
		s.types = make(map[string]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

// Publish runs every matching subscriber and joins their errors.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if s.types != nil && !s.types[e.Type] {
			continue
		}
		if err := safeCall(ctx, s.handler, e); err != nil {
			if b.logger != nil {
				b.logger.ErrorContext(ctx, "event subscriber failed",
					"subscriber", s.name,
					"event_id", e.ID,
					"event_type", e.Type,
					"err", err,
				)
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func safeCall(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, e)
}
