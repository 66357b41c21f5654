package messagepipeline

import (
	"github.com/rs/zerolog"
)

// Outcome classifies the result of handling one delivery. Each failure class
// has its own documented recovery action rather than a single catch-all
// branch, so the ack decision can be audited per class.
type Outcome int

const (
	// OutcomeWritten means the point was written to the store.
	OutcomeWritten Outcome = iota
	// OutcomeTransformFailed means the delivery could not be turned into a
	// point. The message is returned to the queue for redelivery.
	OutcomeTransformFailed
	// OutcomeWriteFailed means the store rejected the write or was
	// unreachable. The message is returned to the queue for redelivery.
	OutcomeWriteFailed
	// OutcomeParseFallbackUsed means the body was not a structured object and
	// the raw_message fallback representation was written. This is not a
	// failure; the delivery is acknowledged like OutcomeWritten.
	OutcomeParseFallbackUsed
)

// String returns the outcome name for log lines.
func (o Outcome) String() string {
	switch o {
	case OutcomeWritten:
		return "written"
	case OutcomeTransformFailed:
		return "transform_failed"
	case OutcomeWriteFailed:
		return "write_failed"
	case OutcomeParseFallbackUsed:
		return "parse_fallback_used"
	default:
		return "unknown"
	}
}

// AckPolicy maps an Outcome to the terminal action on a delivery token:
// acknowledge, or reject with requeue. Each token is consumed exactly once.
//
// Rejected messages are requeued without a redelivery cap or dead-letter
// route, so a permanently malformed message will loop. This matches the
// documented behavior of the bridge; the error log carries the routing key
// and exchange so the loop is observable.
type AckPolicy struct {
	logger zerolog.Logger
}

// NewAckPolicy creates an AckPolicy.
func NewAckPolicy(logger zerolog.Logger) *AckPolicy {
	return &AckPolicy{
		logger: logger.With().Str("component", "AckPolicy").Logger(),
	}
}

// Apply settles the delivery according to the outcome. Errors from the broker
// while settling are logged and returned; the caller treats them as a
// transport-level condition, not as a per-message failure.
func (p *AckPolicy) Apply(msg *Message, outcome Outcome) error {
	switch outcome {
	case OutcomeWritten, OutcomeParseFallbackUsed:
		if err := msg.Ack(); err != nil {
			p.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to acknowledge delivery.")
			return err
		}
		p.logger.Debug().Str("msg_id", msg.ID).Str("outcome", outcome.String()).Msg("Delivery acknowledged.")
		return nil
	default:
		if err := msg.Nack(); err != nil {
			p.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to reject delivery.")
			return err
		}
		p.logger.Debug().
			Str("msg_id", msg.ID).
			Str("outcome", outcome.String()).
			Str("routing_key", msg.RoutingKey()).
			Str("exchange", msg.Exchange()).
			Msg("Delivery rejected and requeued.")
		return nil
	}
}
