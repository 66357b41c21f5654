package amqpconverter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-timebridge/pkg/messagepipeline"
)

// TopicSubscription is the immutable descriptor of one subscribed topic. One
// instance exists per configured topic for the lifetime of the process.
type TopicSubscription struct {
	// Exchange is the exchange to bind to. Empty means the default exchange,
	// in which case no declaration or binding is performed.
	Exchange string `yaml:"exchange"`
	// ExchangeType is the exchange kind, "topic" unless overridden.
	ExchangeType string `yaml:"exchange_type"`
	// RoutingKey is the binding pattern, in the broker's wildcard syntax.
	RoutingKey string `yaml:"routing_key"`
	// Queue is the queue name. Empty means a server-named, exclusive,
	// non-durable queue.
	Queue string `yaml:"queue_name"`
	// Durable controls durability of the declared exchange and named queue.
	// Omitted means durable; only an explicit false declares non-durable
	// topology.
	Durable *bool `yaml:"durable"`
	// Measurement overrides the measurement name derived from the routing key.
	Measurement string `yaml:"measurement"`
	// Tags are static tags applied to every point from this subscription.
	Tags map[string]string `yaml:"tags"`
	// FieldMapping renames source keys to destination field names.
	FieldMapping map[string]string `yaml:"field_mapping"`
	// Bucket overrides the store's default destination bucket.
	Bucket string `yaml:"influx_bucket"`
}

// ApplyDefaults fills in the subscription attributes that have conventional
// values when unset.
func (s *TopicSubscription) ApplyDefaults() {
	if s.ExchangeType == "" {
		s.ExchangeType = "topic"
	}
	if s.RoutingKey == "" {
		s.RoutingKey = "#"
	}
}

// IsDurable reports the effective durability of this subscription's
// topology.
func (s *TopicSubscription) IsDurable() bool {
	if s.Durable == nil {
		return true
	}
	return *s.Durable
}

// SubscriptionRegistry declares broker topology for a list of subscriptions
// and registers one consumer per queue. Setup is idempotent at the broker
// (re-declaring identical topology is a no-op), so the bridge re-runs it
// after every reconnect.
type SubscriptionRegistry struct {
	subscriptions []TopicSubscription
	logger        zerolog.Logger
}

// NewSubscriptionRegistry creates a registry for the given subscriptions,
// preserving their configuration order.
func NewSubscriptionRegistry(subscriptions []TopicSubscription, logger zerolog.Logger) (*SubscriptionRegistry, error) {
	if len(subscriptions) == 0 {
		return nil, errors.New("at least one topic subscription is required")
	}
	subs := make([]TopicSubscription, len(subscriptions))
	copy(subs, subscriptions)
	for i := range subs {
		subs[i].ApplyDefaults()
	}
	return &SubscriptionRegistry{
		subscriptions: subs,
		logger:        logger.With().Str("component", "SubscriptionRegistry").Logger(),
	}, nil
}

// Setup declares exchanges, queues and bindings in configuration order and
// starts one forwarding consumer per queue on the manager's shared channel.
func (r *SubscriptionRegistry) Setup(ctx context.Context, cm *ConnectionManager) error {
	channel, err := cm.Channel()
	if err != nil {
		return err
	}

	for _, sub := range r.subscriptions {
		if sub.Exchange != "" {
			err = channel.ExchangeDeclare(sub.Exchange, sub.ExchangeType, sub.IsDurable(), false, false, false, nil)
			if err != nil {
				return fmt.Errorf("failed to declare exchange %q: %w", sub.Exchange, err)
			}
		}

		queueName := sub.Queue
		if queueName == "" {
			queue, declErr := channel.QueueDeclare("", false, false, true, false, nil)
			if declErr != nil {
				return fmt.Errorf("failed to declare server-named queue for %q: %w", sub.RoutingKey, declErr)
			}
			queueName = queue.Name
		} else {
			_, err = channel.QueueDeclare(queueName, sub.IsDurable(), false, false, false, nil)
			if err != nil {
				return fmt.Errorf("failed to declare queue %q: %w", queueName, err)
			}
		}

		if sub.Exchange != "" {
			err = channel.QueueBind(queueName, sub.RoutingKey, sub.Exchange, false, nil)
			if err != nil {
				return fmt.Errorf("failed to bind queue %q to exchange %q: %w", queueName, sub.Exchange, err)
			}
		}

		consumerTag := fmt.Sprintf("timebridge-%s", uuid.NewString()[:8])
		deliveries, consumeErr := channel.Consume(queueName, consumerTag, false, false, false, false, nil)
		if consumeErr != nil {
			return fmt.Errorf("failed to register consumer on queue %q: %w", queueName, consumeErr)
		}

		// The subscription is passed by value so each forwarding goroutine
		// owns an independent copy bound at registration time.
		go forward(cm, sub, deliveries, ctx.Done())

		r.logger.Info().
			Str("exchange", sub.Exchange).
			Str("routing_key", sub.RoutingKey).
			Str("queue", queueName).
			Msg("Subscribed to topic.")
	}
	return nil
}

// forward wraps each broker delivery in the canonical Message and hands it to
// the manager's pump. It exits when the broker closes the delivery channel,
// which happens on connection loss and on shutdown.
func forward(cm *ConnectionManager, sub TopicSubscription, deliveries <-chan amqp.Delivery, done <-chan struct{}) {
	for d := range deliveries {
		cm.deliver(event{msg: newMessage(d), sub: sub}, done)
	}
}

// newMessage converts one AMQP delivery into the canonical Message. The
// Ack/Nack closures consume the delivery token exactly once; Nack always
// requeues.
func newMessage(d amqp.Delivery) messagepipeline.Message {
	payloadCopy := make([]byte, len(d.Body))
	copy(payloadCopy, d.Body)

	return messagepipeline.Message{
		ID:          fmt.Sprintf("%d", d.DeliveryTag),
		Payload:     payloadCopy,
		PublishTime: time.Now().UTC(),
		Attributes: map[string]string{
			messagepipeline.AttrRoutingKey: d.RoutingKey,
			messagepipeline.AttrExchange:   d.Exchange,
		},
		Ack: func() error {
			return d.Ack(false)
		},
		Nack: func() error {
			return d.Nack(false, true)
		},
	}
}
