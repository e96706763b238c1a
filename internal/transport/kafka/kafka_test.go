package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asquebay/zuvees-sync/internal/lib/logger"
	"github.com/asquebay/zuvees-sync/internal/model"
)

type fakeCreator struct {
	mu       sync.Mutex
	orders   []model.Order
	err      error
	failures int // столько первых вызовов вернут ошибку
	calls    int
}

func (f *fakeCreator) CreateOrder(ctx context.Context, order model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	f.orders = append(f.orders, order)
	return nil
}

// fakeReader отдаёт заранее заготовленные сообщения, затем io.EOF-подобное закрытие через отмену
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	done      chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	close(r.done)
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

const validOrder = `{
	"_id": "665f1c2e9b1d4a0012a3b4c5",
	"user": {"_id": "u1", "email": "customer@zuvees.test", "name": "Customer"},
	"items": [{"product": {"_id": "p1", "name": "Roses"}, "variant": {"color": "red", "size": "M", "price": 25}, "quantity": 2, "price": 50}],
	"totalAmount": 50,
	"status": "pending",
	"shippingAddress": {"street": "1 Main St", "city": "Dubai", "country": "AE"},
	"paymentStatus": "completed"
}`

func TestConsumer_HandleMessage(t *testing.T) {
	creator := &fakeCreator{}
	c := &Consumer{service: creator, log: logger.Discard()}
	ctx := context.Background()

	require.NoError(t, c.handleMessage(ctx, kafka.Message{Value: []byte(validOrder)}))
	require.Len(t, creator.orders, 1)
	assert.Equal(t, "665f1c2e9b1d4a0012a3b4c5", creator.orders[0].ID)

	// мусор и невалидные заказы пропускаются без повтора
	assert.NoError(t, c.handleMessage(ctx, kafka.Message{Value: []byte("not json")}))
	assert.NoError(t, c.handleMessage(ctx, kafka.Message{Value: []byte(`{"_id": "x"}`)}))
	assert.Len(t, creator.orders, 1)

	// ключ сообщения не совпадает с id заказа
	assert.NoError(t, c.handleMessage(ctx, kafka.Message{Key: []byte("other"), Value: []byte(validOrder)}))
	assert.Len(t, creator.orders, 1)

	creator.err = errors.New("connection refused")
	assert.Error(t, c.handleMessage(ctx, kafka.Message{Value: []byte(validOrder)}))
}

func TestDecodeCheckoutOrder(t *testing.T) {
	order, err := decodeCheckoutOrder(kafka.Message{Key: []byte("665f1c2e9b1d4a0012a3b4c5"), Value: []byte(validOrder)})
	require.NoError(t, err)
	assert.Equal(t, "u1", order.User.ID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)

	for name, msg := range map[string]kafka.Message{
		"garbage":      {Value: []byte("not json")},
		"invalid":      {Value: []byte(`{"_id": "x"}`)},
		"key mismatch": {Key: []byte("other"), Value: []byte(validOrder)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeCheckoutOrder(msg)
			assert.ErrorIs(t, err, errUnprocessable)
		})
	}
}

func TestConsumer_RunRetriesStorageFailureOnSameMessage(t *testing.T) {
	creator := &fakeCreator{failures: 2}
	reader := &fakeReader{
		messages: []kafka.Message{
			{Offset: 7, Value: []byte(validOrder)},
		},
		done: make(chan struct{}),
	}
	c := &Consumer{reader: reader, service: creator, log: logger.Discard(), delay: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()

	select {
	case <-reader.done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not get past the failing message")
	}
	cancel()
	<-stopped

	assert.Equal(t, 3, creator.calls, "two failures, then stored")
	assert.Len(t, creator.orders, 1)
	assert.Equal(t, []int64{7}, reader.committed, "committed once, after it was stored")
}

func TestConsumer_RunStopsRetryingOnCancel(t *testing.T) {
	creator := &fakeCreator{err: errors.New("connection refused")}
	reader := &fakeReader{
		messages: []kafka.Message{{Offset: 3, Value: []byte(validOrder)}},
		done:     make(chan struct{}),
	}
	c := &Consumer{reader: reader, service: creator, log: logger.Discard(), delay: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		creator.mu.Lock()
		defer creator.mu.Unlock()
		return creator.calls >= 2
	}, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Empty(t, reader.committed, "failed order is not committed")
}

func TestConsumer_RunCommitsOnlyHandled(t *testing.T) {
	creator := &fakeCreator{}
	reader := &fakeReader{
		messages: []kafka.Message{
			{Offset: 1, Value: []byte(validOrder)},
			{Offset: 2, Value: []byte("not json")},
		},
		done: make(chan struct{}),
	}
	c := &Consumer{reader: reader, service: creator, log: logger.Discard()}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()

	select {
	case <-reader.done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not read all messages")
	}
	cancel()
	<-stopped

	assert.Equal(t, []int64{1, 2}, reader.committed, "skipped messages are committed too")
	assert.Len(t, creator.orders, 1)
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_PublishStatus(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, log: logger.Discard()}

	event := model.StatusEvent{
		EventID:        "3f1c6b0e-8d55-4a5c-9a3e-0c7f7f2b9d11",
		OrderID:        "o1",
		PreviousStatus: model.StatusShipped,
		Status:         model.StatusDelivered,
		RiderID:        "rider-1",
		ActorID:        "rider-1",
		OccurredAt:     time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishStatus(context.Background(), event))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "o1", string(msg.Key))

	var got model.StatusEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, event, got)

	w.err = errors.New("kafka: leader not available")
	assert.Error(t, p.PublishStatus(context.Background(), event))
}
