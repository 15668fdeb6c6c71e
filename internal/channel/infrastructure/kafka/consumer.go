package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/stayforge/reservation-system/internal/channel/application"
	inventory "github.com/stayforge/reservation-system/internal/inventory/domain"
	"github.com/stayforge/reservation-system/pkg/idempotency"
	"github.com/stayforge/reservation-system/pkg/tracing"
)

// Consumer feeds ledger events from the inventory topic into the sync
// enqueuer. Delivery is at-least-once; the redis key drops broker
// redeliveries and the enqueuer's conditional insert drops anything
// that slips past it.
type Consumer struct {
	log      *slog.Logger
	reader   *kafka.Reader
	enqueuer *application.Enqueuer
	idem     *idempotency.Store
	tracer   trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, enqueuer *application.Enqueuer, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:      log,
		reader:   r,
		enqueuer: enqueuer,
		idem:     idem,
		tracer:   otel.Tracer("channel-sync-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.log.Info("sync consumer stopping")
				return nil
			}
			return err
		}

		key := c.idem.MessageKey(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "ConsumeEntryEvent")

		var ev inventory.EntryEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Error("entry event unmarshal failed", "err", err)
			span.End()
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		eventType := headerValue(msg.Headers, "event_type")
		if err := c.enqueuer.HandleEntryEvent(msgCtx, eventType, ev, msg.Value); err != nil {
			// Release the dedup key and leave the message uncommitted;
			// the group redelivers and the conditional insert absorbs
			// any partial fan-out.
			c.log.Error("enqueue failed", "event_id", ev.EventID, "err", err)
			_ = c.idem.Forget(ctx, key)
			span.End()
			continue
		}
		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
