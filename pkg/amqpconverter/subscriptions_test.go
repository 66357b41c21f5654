package amqpconverter_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-timebridge/pkg/amqpconverter"
)

func TestTopicSubscription_ApplyDefaults(t *testing.T) {
	sub := amqpconverter.TopicSubscription{Exchange: "sensor.data"}
	sub.ApplyDefaults()

	assert.Equal(t, "topic", sub.ExchangeType)
	assert.Equal(t, "#", sub.RoutingKey)
}

func TestTopicSubscription_ApplyDefaultsKeepsExplicitValues(t *testing.T) {
	sub := amqpconverter.TopicSubscription{ExchangeType: "fanout", RoutingKey: "a.*"}
	sub.ApplyDefaults()

	assert.Equal(t, "fanout", sub.ExchangeType)
	assert.Equal(t, "a.*", sub.RoutingKey)
}

func TestTopicSubscription_DurableByDefault(t *testing.T) {
	// An omitted durable flag means durable topology, so the bridge's
	// declarations match producers that declare the same exchanges durable.
	sub := amqpconverter.TopicSubscription{Exchange: "alerts"}
	sub.ApplyDefaults()
	assert.True(t, sub.IsDurable())

	nonDurable := false
	sub = amqpconverter.TopicSubscription{Exchange: "alerts", Durable: &nonDurable}
	sub.ApplyDefaults()
	assert.False(t, sub.IsDurable())

	durable := true
	sub = amqpconverter.TopicSubscription{Exchange: "alerts", Durable: &durable}
	assert.True(t, sub.IsDurable())
}

func TestNewSubscriptionRegistry_RequiresSubscriptions(t *testing.T) {
	_, err := amqpconverter.NewSubscriptionRegistry(nil, zerolog.Nop())
	require.Error(t, err)
}

func TestNewSubscriptionRegistry_IsIsolatedFromCallerSlice(t *testing.T) {
	subs := []amqpconverter.TopicSubscription{{Exchange: "sensor.data"}}
	registry, err := amqpconverter.NewSubscriptionRegistry(subs, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, registry)

	// Mutating the caller's slice after construction must not reach the
	// registry's copies.
	subs[0].Exchange = "changed"
}
