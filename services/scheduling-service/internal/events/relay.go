package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	otelx "github.com/md-rashed-zaman/agendamento/libs/otel"
)

// OutboxSource hands batches of pending outbox records to fn and stores the
// outcome: published, dead-lettered, or one more failed attempt.
type OutboxSource interface {
	Claim(ctx context.Context, limit int, fn func(ctx context.Context, records []Record) Batch) (int, error)
}

// RelayObserver receives per-event outcomes; nil is allowed.
type RelayObserver interface {
	EventRelayed(eventType, outcome string)
}

type RelayConfig struct {
	PollEvery time.Duration
	BatchSize int
	// MaxAttempts is how many failed publishes an event gets before it is
	// dead-lettered.
	MaxAttempts int
}

// Relay moves committed outbox events to a Sink. Delivery is at least once:
// a crash between publishing and marking re-sends the batch.
type Relay struct {
	source      OutboxSource
	sink        Sink
	logger      *slog.Logger
	observer    RelayObserver
	pollEvery   time.Duration
	batchSize   int
	maxAttempts int
}

func NewRelay(source OutboxSource, sink Sink, logger *slog.Logger, observer RelayObserver, cfg RelayConfig) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Relay{
		source:      source,
		sink:        sink,
		logger:      logger,
		observer:    observer,
		pollEvery:   cfg.PollEvery,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := r.Drain(ctx)
				if err != nil {
					r.logger.Error("outbox relay failed", "err", err)
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}

// Drain relays one batch and returns how many events were published. It stops
// at the first failure so events of one appointment keep their order, except
// for an event on its last attempt, which is dead-lettered and skipped.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	var publishErr error
	n, err := r.source.Claim(ctx, r.batchSize, func(ctx context.Context, records []Record) Batch {
		var b Batch
		for _, rec := range records {
			msgCtx := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
			err := r.sink.Publish(msgCtx, rec.Event)
			if err == nil {
				r.observe(rec.Event.Type, "ok")
				b.Published = append(b.Published, rec.Seq)
				continue
			}
			attempts := rec.Attempts + 1
			if attempts >= r.maxAttempts {
				r.observe(rec.Event.Type, "dead_lettered")
				r.logger.Error("event dead-lettered",
					"event_id", rec.Event.ID,
					"event_type", rec.Event.Type,
					"appointment_id", rec.Event.AppointmentID,
					"attempts", attempts,
					"err", err,
				)
				b.DeadLettered = append(b.DeadLettered, DeadLetter{Seq: rec.Seq, Reason: err.Error()})
				continue
			}
			r.observe(rec.Event.Type, "error")
			r.logger.Warn("event publish failed",
				"event_id", rec.Event.ID,
				"event_type", rec.Event.Type,
				"attempts", attempts,
				"err", err,
			)
			b.Err = fmt.Errorf("publish %s %s: %w", rec.Event.Type, rec.Event.ID, err)
			publishErr = b.Err
			return b
		}
		return b
	})
	if err != nil {
		return n, err
	}
	return n, publishErr
}

func (r *Relay) observe(eventType, outcome string) {
	if r.observer != nil {
		r.observer.EventRelayed(eventType, outcome)
	}
}
