package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/cart/repository"
	"github.com/fjod/storefront/internal/cart/service"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/kafkautil"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

type recordingClearer struct {
	mu       sync.Mutex
	cleared  []string
	versions []int64
	err      error
}

func (r *recordingClearer) ClearCartIfVersion(_ context.Context, userID string, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.cleared = append(r.cleared, userID)
	r.versions = append(r.versions, version)
	return nil
}

func (r *recordingClearer) users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cleared...)
}

// chanReader serves queued messages and reports io.EOF once closed.
type chanReader struct {
	msgs chan kafka.Message
	once sync.Once
	done chan struct{}
}

func newChanReader(msgs ...kafka.Message) *chanReader {
	r := &chanReader{msgs: make(chan kafka.Message, len(msgs)), done: make(chan struct{})}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *chanReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-r.done:
		return kafka.Message{}, io.EOF
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}

func orderPlacedMessage(t *testing.T, userID string, cartVersion int64) kafka.Message {
	payload, err := json.Marshal(domain.OrderPlaced{
		OrderID:     uuid.New(),
		UserID:      userID,
		CartVersion: cartVersion,
		Currency:    domain.DefaultCurrency,
	})
	require.NoError(t, err)
	return kafka.Message{
		Value:   payload,
		Headers: []kafka.Header{{Key: kafkautil.HeaderEventType, Value: []byte(domain.EventOrderPlaced)}},
	}
}

func TestHandleMessage_ClearsCart(t *testing.T) {
	clearer := &recordingClearer{}
	p := NewPoller(clearer, newChanReader(), nil)

	err := p.handleMessage(context.Background(), orderPlacedMessage(t, "123", 3))
	assert.NilError(t, err)
	assert.DeepEqual(t, clearer.users(), []string{"123"})
	assert.DeepEqual(t, clearer.versions, []int64{3})
}

func TestHandleMessage_IgnoresOtherEventTypes(t *testing.T) {
	clearer := &recordingClearer{}
	p := NewPoller(clearer, newChanReader(), nil)

	m := orderPlacedMessage(t, "123", 1)
	m.Headers = []kafka.Header{{Key: kafkautil.HeaderEventType, Value: []byte("stock.changed")}}

	assert.NilError(t, p.handleMessage(context.Background(), m))
	assert.Check(t, is.Len(clearer.users(), 0))
}

func TestHandleMessage_BadPayload(t *testing.T) {
	p := NewPoller(&recordingClearer{}, newChanReader(), nil)

	err := p.handleMessage(context.Background(), kafka.Message{Value: []byte("{not json")})
	assert.ErrorContains(t, err, "error parsing message")

	err = p.handleMessage(context.Background(), kafka.Message{Value: []byte(`{"order_id":"` + uuid.NewString() + `"}`)})
	assert.ErrorContains(t, err, "missing or invalid user_id")

	err = p.handleMessage(context.Background(), orderPlacedMessage(t, "123", 0))
	assert.ErrorContains(t, err, "missing or invalid cart_version")
}

func TestHandleMessage_ClearFailure(t *testing.T) {
	p := NewPoller(&recordingClearer{err: errors.New("mongo down")}, newChanReader(), nil)

	err := p.handleMessage(context.Background(), orderPlacedMessage(t, "123", 1))
	assert.ErrorContains(t, err, "mongo down")
}

func TestHandleMessage_LateEventKeepsRefilledCart(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	carts := service.NewCartService(repo, nil, nil, nil, nil, time.Second)
	p := NewPoller(carts, newChanReader(), nil)

	bought, err := repo.ReplaceLines(ctx, "123", []domain.CartLine{{ID: "l1", Variant: domain.VariantID{ProductID: 1, Size: "M"}, Quantity: 1}})
	require.NoError(t, err)
	require.NoError(t, carts.ClearCartIfVersion(ctx, "123", bought.Version))
	_, err = repo.ReplaceLines(ctx, "123", []domain.CartLine{{ID: "l2", Variant: domain.VariantID{ProductID: 5, Size: "ONE"}, Quantity: 1}})
	require.NoError(t, err)

	msg := orderPlacedMessage(t, "123", bought.Version)
	assert.NilError(t, p.handleMessage(ctx, msg))
	assert.NilError(t, p.handleMessage(ctx, msg), "redelivery")

	cart, err := repo.GetCart(ctx, "123")
	require.NoError(t, err)
	assert.Assert(t, is.Len(cart.Lines, 1))
	assert.Equal(t, cart.Lines[0].ID, "l2")
}

func TestHandleMessage_ClearsWhenCheckoutDidNot(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	p := NewPoller(service.NewCartService(repo, nil, nil, nil, nil, time.Second), newChanReader(), nil)

	bought, err := repo.ReplaceLines(ctx, "123", []domain.CartLine{{ID: "l1", Variant: domain.VariantID{ProductID: 1, Size: "M"}, Quantity: 1}})
	require.NoError(t, err)

	assert.NilError(t, p.handleMessage(ctx, orderPlacedMessage(t, "123", bought.Version)))

	cart, err := repo.GetCart(ctx, "123")
	require.NoError(t, err)
	assert.Check(t, cart.IsEmpty())
}

func TestRun_ContinuesPastBadMessagesAndStopsOnClose(t *testing.T) {
	clearer := &recordingClearer{}
	reader := newChanReader(
		kafka.Message{Value: []byte("garbage")},
		orderPlacedMessage(t, "a", 1),
		orderPlacedMessage(t, "b", 1),
	)
	p := NewPoller(clearer, reader, nil)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(clearer.users()) == 2
	}, time.Second, 10*time.Millisecond)

	p.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after reader was closed")
	}
	assert.DeepEqual(t, clearer.users(), []string{"a", "b"})
}

func setupKafka(t *testing.T) string {
	ctx := context.Background()

	kafkaContainer, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")
	return brokers[0]
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafka.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestPoller_ClearsCartFromKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("kafka container tests are skipped in short mode")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := setupKafka(t)
	topic := "orders.placed"
	createTopic(t, broker, topic)

	repo := repository.NewMemoryRepository()
	cart, err := repo.ReplaceLines(ctx, "123", []domain.CartLine{{ID: "l1", Variant: domain.VariantID{ProductID: 1, Size: "M"}, Quantity: 1}})
	require.NoError(t, err)

	reader := kafkautil.NewReader(topic, "cart-service-consumer-test", broker)
	p := NewPoller(service.NewCartService(repo, nil, nil, nil, nil, time.Second), reader, nil)
	defer p.Close()

	w := kafkautil.NewWriter(topic, broker)
	require.NoError(t, w.WriteMessages(ctx, orderPlacedMessage(t, "123", cart.Version)))
	require.NoError(t, w.Close())

	go p.Run(ctx)
	require.Eventually(t, func() bool {
		cart, err := repo.GetCart(ctx, "123")
		return err == nil && cart.IsEmpty()
	}, 30*time.Second, 500*time.Millisecond)
}
