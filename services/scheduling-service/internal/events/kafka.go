package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/agendamento/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// KafkaSink publishes each event to the topic named after its type, keyed by
// appointment so one appointment's events stay on one partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}}
}

func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	msg, err := encodeMessage(ctx, e)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, msg)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func encodeMessage(ctx context.Context, e Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	meta := kafkax.EventMeta{EventID: e.ID, EventType: e.Type, CompanyID: e.CompanyID}
	return kafka.Message{
		Topic:   e.Type,
		Key:     []byte(e.AppointmentID),
		Value:   value,
		Headers: kafkax.InjectTraceHeaders(ctx, meta.Headers()),
	}, nil
}

// Inbox records handled event ids per consumer group.
type Inbox interface {
	Record(ctx context.Context, consumer string, e Event) (bool, error)
	Forget(ctx context.Context, consumer, eventID string) error
}

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// MaxTries bounds handler attempts per message.
	MaxTries uint
}

// Consumer reads appointment events from Kafka and hands each one, once, to
// the handler. Offsets are committed after handling.
type Consumer struct {
	reader   *kafka.Reader
	inbox    Inbox
	handler  Handler
	group    string
	maxTries uint
	logger   *slog.Logger
}

func NewConsumer(cfg ConsumerConfig, inbox Inbox, handler Handler, logger *slog.Logger) *Consumer {
	if len(cfg.Topics) == 0 {
		cfg.Topics = Types
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{
		reader:   reader,
		inbox:    inbox,
		handler:  handler,
		group:    cfg.GroupID,
		maxTries: cfg.MaxTries,
		logger:   logger,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(time.Second)
			continue
		}
		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// handle never returns an error: a message that cannot be handled is logged
// and skipped so one bad event does not block its partition.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	var e Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		c.logger.Error("invalid event payload", "err", err, "topic", msg.Topic, "event_id", meta.EventID)
		span.RecordError(err)
		return
	}

	fresh, err := c.inbox.Record(ctxSpan, c.group, e)
	if err != nil {
		c.logger.Error("inbox record failed", "err", err, "event_id", e.ID)
		span.RecordError(err)
		return
	}
	if !fresh {
		c.logger.Info("duplicate event ignored", "event_id", e.ID, "event_type", e.Type)
		return
	}

	_, err = backoff.Retry(ctxSpan, func() (struct{}, error) {
		return struct{}{}, c.handler(ctxSpan, e)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		c.logger.Error("event handler failed", "err", err, "event_id", e.ID, "event_type", e.Type)
		span.RecordError(err)
		if ferr := c.inbox.Forget(ctxSpan, c.group, e.ID); ferr != nil {
			c.logger.Error("inbox forget failed", "err", ferr, "event_id", e.ID)
		}
	}
}
