package outbox

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestDispatchBuildsMessage(t *testing.T) {
	producer := &fakeProducer{}
	d := NewDispatcher(slog.New(slog.DiscardHandler), producer, "stock.events")

	err := d.Dispatch(context.Background(), Event{
		ID:          7,
		AggregateID: "stock-1",
		Type:        "StockReserved",
		Payload:     []byte(`{"quantity":4}`),
		Headers:     map[string]string{"source": "stock-service"},
		Traceparent: "00-abc-def-01",
	})
	require.NoError(t, err)
	require.Len(t, producer.msgs, 1)

	msg := producer.msgs[0]
	assert.Equal(t, "stock.events", msg.Topic)
	assert.Equal(t, []byte("stock-1"), msg.Key)
	assert.Equal(t, []byte(`{"quantity":4}`), msg.Value)

	assert.Equal(t, "StockReserved", headerValue(msg.Headers, "event_type"))
	assert.Equal(t, "00-abc-def-01", headerValue(msg.Headers, "traceparent"))
	assert.Equal(t, "stock-service", headerValue(msg.Headers, "source"))
}

func TestDispatchOmitsEmptyTraceparent(t *testing.T) {
	producer := &fakeProducer{}
	d := NewDispatcher(slog.New(slog.DiscardHandler), producer, "stock.events")

	require.NoError(t, d.Dispatch(context.Background(), Event{ID: 1, AggregateID: "s", Type: "StockCreated"}))
	require.Len(t, producer.msgs, 1)
	assert.Empty(t, headerValue(producer.msgs[0].Headers, "traceparent"))
}

func TestDispatchPropagatesProducerError(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	d := NewDispatcher(slog.New(slog.DiscardHandler), producer, "stock.events")

	err := d.Dispatch(context.Background(), Event{ID: 1, AggregateID: "s", Type: "StockCreated"})
	assert.Error(t, err)
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
