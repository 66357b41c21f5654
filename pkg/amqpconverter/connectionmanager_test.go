package amqpconverter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-timebridge/pkg/messagepipeline"
)

// fakeAcknowledger records how a delivery token was settled.
type fakeAcknowledger struct {
	acks  atomic.Int32
	nacks atomic.Int32

	lastRequeue atomic.Bool
}

func (f *fakeAcknowledger) Ack(_ uint64, _ bool) error {
	f.acks.Add(1)
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks.Add(1)
	f.lastRequeue.Store(requeue)
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, _ bool) error {
	return errors.New("reject is not used by the bridge")
}

func newTestManager(t *testing.T) *ConnectionManager {
	t.Helper()
	cm, err := NewConnectionManager(&ConnectionConfig{}, zerolog.Nop())
	require.NoError(t, err)
	return cm
}

func TestNewMessage_WrapsDeliveryToken(t *testing.T) {
	// Arrange
	ackr := &fakeAcknowledger{}
	delivery := amqp.Delivery{
		Acknowledger: ackr,
		DeliveryTag:  7,
		RoutingKey:   "node.1.env",
		Exchange:     "sensor.data",
		Body:         []byte(`{"v":1}`),
	}

	// Act
	msg := newMessage(delivery)

	// Assert
	assert.Equal(t, "7", msg.ID)
	assert.Equal(t, "node.1.env", msg.RoutingKey())
	assert.Equal(t, "sensor.data", msg.Exchange())
	assert.Equal(t, []byte(`{"v":1}`), msg.Payload)

	require.NoError(t, msg.Ack())
	assert.Equal(t, int32(1), ackr.acks.Load())

	require.NoError(t, msg.Nack())
	assert.Equal(t, int32(1), ackr.nacks.Load())
	assert.True(t, ackr.lastRequeue.Load(), "Nack must requeue")
}

func TestNewMessage_CopiesPayload(t *testing.T) {
	body := []byte("original")
	msg := newMessage(amqp.Delivery{Acknowledger: &fakeAcknowledger{}, Body: body})

	body[0] = 'X'

	assert.Equal(t, []byte("original"), msg.Payload)
}

func TestForward_CapturesSubscriptionByValue(t *testing.T) {
	// Arrange: two subscriptions registered in a loop must each keep their
	// own copy; every delivery must surface with its own subscription.
	cm := newTestManager(t)
	subs := []TopicSubscription{
		{Exchange: "one", Measurement: "m1"},
		{Exchange: "two", Measurement: "m2"},
	}
	channels := make([]chan amqp.Delivery, len(subs))
	done := make(chan struct{})
	defer close(done)

	for i, sub := range subs {
		in := make(chan amqp.Delivery, 1)
		channels[i] = in
		go forward(cm, sub, in, done)
	}

	// Act
	channels[0] <- amqp.Delivery{Acknowledger: &fakeAcknowledger{}, Exchange: "one"}
	channels[1] <- amqp.Delivery{Acknowledger: &fakeAcknowledger{}, Exchange: "two"}

	// Assert
	seen := make(map[string]string)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-cm.events:
			seen[ev.msg.Exchange()] = ev.sub.Measurement
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for forwarded delivery")
		}
	}
	assert.Equal(t, map[string]string{"one": "m1", "two": "m2"}, seen)
}

func TestPumpEvents_DeliversSequentiallyAndReturnsOnSlice(t *testing.T) {
	// Arrange
	cm := newTestManager(t)
	for i := 0; i < 3; i++ {
		cm.events <- event{
			msg: messagepipeline.Message{ID: "m", Attributes: map[string]string{}},
			sub: TopicSubscription{},
		}
	}

	var handled int
	handler := func(_ context.Context, _ *messagepipeline.Message, _ TopicSubscription) {
		handled++
	}

	// Act
	start := time.Now()
	err := cm.PumpEvents(context.Background(), 50*time.Millisecond, handler)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, handled)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPumpEvents_ReturnsConnectionLostOnTransportError(t *testing.T) {
	// Arrange
	cm := newTestManager(t)
	closeCh := make(chan *amqp.Error, 1)
	cm.connClose = closeCh
	cm.setState(StateConnected)
	closeCh <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restart"}

	// Act
	err := cm.PumpEvents(context.Background(), time.Second, nil)

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.False(t, cm.IsHealthy())
	assert.Equal(t, StateDisconnected, cm.State())
}

func TestPumpEvents_ObservesCancellation(t *testing.T) {
	cm := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cm.PumpEvents(ctx, time.Minute, nil)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose_IsIdempotentAndTerminal(t *testing.T) {
	cm := newTestManager(t)
	cm.setState(StateConnected)

	cm.Close()
	cm.Close()

	assert.Equal(t, StateShuttingDown, cm.State())

	// A racing state transition after shutdown must not resurrect the manager.
	cm.setState(StateConnected)
	assert.Equal(t, StateShuttingDown, cm.State())
}

func TestConnect_FailsAfterClose(t *testing.T) {
	cm := newTestManager(t)
	cm.Close()

	err := cm.Connect(context.Background())

	require.Error(t, err)
}
