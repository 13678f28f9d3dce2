package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRetryCeiling = 3

// memStore mirrors the postgres store's relock rules: pending rows and
// failed rows below the retry ceiling are handed out again on the next
// LockBatch.
type memStore struct {
	mu     sync.Mutex
	events map[int64]*Event
	sent   []int64
}

func newMemStore(events ...Event) *memStore {
	s := &memStore{events: make(map[int64]*Event)}
	for i := range events {
		ev := events[i]
		ev.Status = StatusPending
		s.events[ev.ID] = &ev
	}
	return s
}

func (s *memStore) LockBatch(_ context.Context, _ string, batchSize int, _ time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []Event
	for _, ev := range s.events {
		if ev.Status == StatusPending || (ev.Status == StatusFailed && ev.RetryCount < testRetryCeiling) {
			batch = append(batch, *ev)
		}
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
	if len(batch) > batchSize {
		batch = batch[:batchSize]
	}
	for _, ev := range batch {
		s.events[ev.ID].Status = StatusInProgress
	}
	return batch, nil
}

func (s *memStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.events[id].Status = StatusSent
	}
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.events[id]
	ev.Status = StatusFailed
	ev.RetryCount++
	ev.LastError = &errMsg
	return nil
}

func (s *memStore) ExtendLease(_ context.Context, _ string, _ []int64, _ time.Duration) error {
	return nil
}

func (s *memStore) snapshot(id int64) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.events[id]
}

// partialProducer fails messages for one aggregate and accepts the rest.
type partialProducer struct {
	fakeProducer
	failAggregate string
}

func (p *partialProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		if string(m.Key) == p.failAggregate {
			return errors.New("broker rejected message")
		}
	}
	return p.fakeProducer.WriteMessages(ctx, msgs...)
}

// flakyProducer fails the first N writes, then recovers.
type flakyProducer struct {
	fakeProducer
	failures int
}

func (p *flakyProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if p.failures > 0 {
		p.failures--
		return errors.New("broker temporarily unavailable")
	}
	return p.fakeProducer.WriteMessages(ctx, msgs...)
}

func newTestRelay(store Store, producer Producer) *Relay {
	relay := NewRelay(slog.New(slog.DiscardHandler), store, NewDispatcher(slog.New(slog.DiscardHandler), producer, "stock.events"), "test-relay")
	relay.interval = 10 * time.Millisecond
	return relay
}

// A dispatch failure must not drop the event: the store hands it out again
// on a later tick and the recovered broker receives it.
func TestRelayRetriesTransientDispatchFailure(t *testing.T) {
	producer := &flakyProducer{failures: 1}
	store := newMemStore(Event{ID: 1, AggregateID: "stock-1", Type: "StockReserved", Payload: []byte(`{}`)})
	relay := newTestRelay(store, producer)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, relay.Run(ctx))

	assert.Equal(t, []int64{1}, store.sent)
	assert.Len(t, producer.msgs, 1)
	assert.Equal(t, StatusSent, store.snapshot(1).Status)
}

func TestRelayDispatchesPendingAndIsolatesFailures(t *testing.T) {
	producer := &partialProducer{failAggregate: "stock-bad"}
	store := newMemStore(
		Event{ID: 1, AggregateID: "stock-1", Type: "StockReserved", Payload: []byte(`{}`)},
		Event{ID: 2, AggregateID: "stock-bad", Type: "StockReserved", Payload: []byte(`{}`)},
		Event{ID: 3, AggregateID: "stock-2", Type: "StockDecreased", Payload: []byte(`{}`)},
	)
	relay := newTestRelay(store, producer)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, relay.Run(ctx))

	assert.ElementsMatch(t, []int64{1, 3}, store.sent)

	// The permanently failing event was retried up to the ceiling, then left
	// failed instead of blocking the healthy ones.
	bad := store.snapshot(2)
	assert.Equal(t, StatusFailed, bad.Status)
	assert.Equal(t, testRetryCeiling, bad.RetryCount)
	require.NotNil(t, bad.LastError)
}
