package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/stockd/stock-service/internal/stock/application"
	"github.com/stockd/stock-service/internal/stock/domain"
	"github.com/stockd/stock-service/pkg/idempotency"
	"github.com/stockd/stock-service/pkg/tracing"
)

// orderEvent is the slice of the order service's payload this consumer acts
// on. OrderPaid confirms the reservation, OrderCanceled releases it.
type orderEvent struct {
	EventID       string `json:"eventId"`
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId"`
	Reason        string `json:"reason"`
}

// dedup is the slice of the idempotency store the consumer needs.
type dedup interface {
	Key(topic string, partition int, offset int64) string
	EventKey(eventID string) string
	Seen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string) error
}

type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    *application.Service
	idem   dedup
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("stock-consumer"),
	}
}

// Run fetches messages until ctx is cancelled. The offset is committed only
// when handle reports the message as done; a message failed on an infra
// error stays uncommitted and is redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		if c.handle(ctx, msg) {
			_ = c.reader.CommitMessages(ctx, msg)
		}
	}
}

// handle applies one message and reports whether its offset may be
// committed. Poison payloads, duplicates and domain rejections are done;
// transient failures (redis or repository unavailable, conflict retries
// exhausted) are not, so the transition is attempted again.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	var ev orderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.Error("unmarshal failed", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		return true
	}

	key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
	if ev.EventID != "" {
		key = c.idem.EventKey(ev.EventID)
	}
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		c.log.Error("idempotency check failed", "err", err)
		return false
	}
	if seen {
		c.log.Info("duplicate message skipped", "key", key)
		return true
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	eventType := headerValue(msg.Headers, "event_type")
	msgCtx, span := c.tracer.Start(msgCtx, "Consume"+eventType)
	defer span.End()

	switch eventType {
	case "OrderPaid":
		_, err = c.svc.ConfirmReservation(msgCtx, ev.ReservationID, ev.OrderID, "")
	case "OrderCanceled":
		reason := ev.Reason
		if reason == "" {
			reason = "Order canceled"
		}
		_, err = c.svc.ReleaseReservation(msgCtx, ev.ReservationID, reason)
	default:
		c.log.Debug("ignoring event", "type", eventType)
		return true
	}

	switch {
	case err == nil:
		c.log.Info("reservation transition applied", "type", eventType, "reservation_id", ev.ReservationID, "order_id", ev.OrderID)
	case errors.Is(err, domain.ErrInvalidReservationState):
		// The reservation reached a terminal state first (for example the
		// sweeper expired it). Stale information, not a retryable failure.
		c.log.Warn("reservation already terminal", "type", eventType, "reservation_id", ev.ReservationID, "err", err)
	case errors.Is(err, domain.ErrReservationNotFound):
		c.log.Warn("reservation unknown", "type", eventType, "reservation_id", ev.ReservationID)
	default:
		c.log.Error("reservation transition failed", "type", eventType, "reservation_id", ev.ReservationID, "err", err)
		return false
	}

	if err := c.idem.MarkSeen(msgCtx, key); err != nil {
		// Redelivery re-applies a rejected transition harmlessly; losing the
		// marker is preferable to losing the message.
		c.log.Error("idempotency mark failed", "key", key, "err", err)
	}
	return true
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
