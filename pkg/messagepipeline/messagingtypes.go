package messagepipeline

import (
	"time"
)

// Attribute keys set by the broker consumer on every message. The transformer
// and the ack policy read delivery metadata through these rather than holding
// a reference to the broker client's delivery type.
const (
	AttrRoutingKey = "routing_key"
	AttrExchange   = "exchange"
)

// Message is the canonical, internal representation of one delivery flowing
// through the bridge. It contains the raw payload, broker metadata, and the
// acknowledgment handles for the underlying delivery token.
type Message struct {
	// ID is the unique identifier for the message from the source broker
	// (the stringified delivery tag for AMQP).
	ID string

	// Payload is the raw byte content of the message.
	Payload []byte

	// PublishTime is the timestamp when the delivery was handed to the bridge.
	PublishTime time.Time

	// Attributes holds metadata from the message broker (routing key, exchange).
	Attributes map[string]string

	// Ack signals that processing succeeded and the delivery can be
	// permanently removed from the source.
	Ack func() error

	// Nack signals that processing failed and the delivery should be
	// re-queued by the broker.
	Nack func() error
}

// RoutingKey returns the routing key the delivery actually arrived on.
func (m *Message) RoutingKey() string {
	return m.Attributes[AttrRoutingKey]
}

// Exchange returns the exchange the delivery was actually published to.
func (m *Message) Exchange() string {
	return m.Attributes[AttrExchange]
}
