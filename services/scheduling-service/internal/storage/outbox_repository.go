package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/agendamento/libs/db"
	otelx "github.com/md-rashed-zaman/agendamento/libs/otel"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/events"
)

type OutboxRepository struct {
	db db.Beginner
}

func NewOutboxRepository(b db.Beginner) *OutboxRepository {
	return &OutboxRepository{db: b}
}

// Insert writes e inside tx together with the caller's trace context.
func (r *OutboxRepository) Insert(ctx context.Context, tx pgx.Tx, e events.Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, event_type, company_id, appointment_id, payload, occurred_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.Type, e.CompanyID, e.AppointmentID, []byte(e.Payload), e.OccurredAt,
		nullString(traceparent), nullString(tracestate))
	return mapErr(err, "outbox event")
}

// Claim locks up to limit pending events in sequence order and hands them to
// fn inside one transaction. Published events are marked, dead-lettered ones
// leave the queue with their reason, and the rest of the batch has its
// attempt counter bumped.
func (r *OutboxRepository) Claim(ctx context.Context, limit int, fn func(ctx context.Context, records []events.Record) events.Batch) (int, error) {
	var n int
	err := db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		records, err := fetchUnpublished(ctx, tx, limit)
		if err != nil || len(records) == 0 {
			return err
		}
		b := fn(ctx, records)
		if err := markPublished(ctx, tx, b.Published); err != nil {
			return err
		}
		if err := markDeadLettered(ctx, tx, b.DeadLettered); err != nil {
			return err
		}
		if failed := pending(records, b); len(failed) > 0 {
			msg := ""
			if b.Err != nil {
				msg = b.Err.Error()
			}
			if _, err := tx.Exec(ctx, `
				UPDATE outbox_events
				SET attempts = attempts + 1, last_error = $2
				WHERE seq = ANY($1)
			`, failed, msg); err != nil {
				return err
			}
		}
		n = len(b.Published)
		return nil
	})
	return n, mapErr(err, "outbox")
}

func fetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]events.Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT seq, id, event_type, company_id, appointment_id, payload, occurred_at,
			COALESCE(traceparent, ''), COALESCE(tracestate, ''), attempts
		FROM outbox_events
		WHERE published_at IS NULL AND dead_lettered_at IS NULL
		ORDER BY seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Record
	for rows.Next() {
		var (
			rec     events.Record
			payload []byte
		)
		if err := rows.Scan(&rec.Seq, &rec.Event.ID, &rec.Event.Type, &rec.Event.CompanyID,
			&rec.Event.AppointmentID, &payload, &rec.Event.OccurredAt,
			&rec.Traceparent, &rec.Tracestate, &rec.Attempts); err != nil {
			return nil, err
		}
		rec.Event.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}

func markPublished(ctx context.Context, tx pgx.Tx, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now(), attempts = attempts + 1, last_error = NULL
		WHERE seq = ANY($1)
	`, seqs)
	return err
}

func markDeadLettered(ctx context.Context, tx pgx.Tx, letters []events.DeadLetter) error {
	for _, l := range letters {
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_events
			SET dead_lettered_at = now(), attempts = attempts + 1, last_error = $2
			WHERE seq = $1
		`, l.Seq, l.Reason); err != nil {
			return err
		}
	}
	return nil
}

// pending lists the claimed records the pass neither published nor
// dead-lettered.
func pending(records []events.Record, b events.Batch) []int64 {
	done := make(map[int64]bool, len(b.Published)+len(b.DeadLettered))
	for _, s := range b.Published {
		done[s] = true
	}
	for _, l := range b.DeadLettered {
		done[l.Seq] = true
	}
	var out []int64
	for _, r := range records {
		if !done[r.Seq] {
			out = append(out, r.Seq)
		}
	}
	return out
}

type InboxRepository struct {
	db db.Querier
}

func NewInboxRepository(q db.Querier) *InboxRepository {
	return &InboxRepository{db: q}
}

// Record marks an event as handled by consumer. It reports false when the
// event had already been recorded.
func (r *InboxRepository) Record(ctx context.Context, consumer string, e events.Event) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer, event_id) DO NOTHING
	`, consumer, e.ID, e.Type)
	if err != nil {
		return false, mapErr(err, "inbox event")
	}
	return tag.RowsAffected() == 1, nil
}

// Forget removes a recorded event so a failed handler can see it again.
func (r *InboxRepository) Forget(ctx context.Context, consumer, eventID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM inbox_events WHERE consumer = $1 AND event_id = $2`, consumer, eventID)
	return mapErr(err, "inbox event")
}
