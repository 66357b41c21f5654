package messagepipeline_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-timebridge/pkg/messagepipeline"
)

// settledMessage counts terminal actions on a delivery token.
type settledMessage struct {
	msg   *messagepipeline.Message
	acks  int
	nacks int
}

func newSettledMessage() *settledMessage {
	s := &settledMessage{}
	s.msg = &messagepipeline.Message{
		ID: "test-delivery",
		Attributes: map[string]string{
			messagepipeline.AttrRoutingKey: "node.1.env",
			messagepipeline.AttrExchange:   "sensor.data",
		},
	}
	s.msg.Ack = func() error {
		s.acks++
		return nil
	}
	s.msg.Nack = func() error {
		s.nacks++
		return nil
	}
	return s
}

func TestAckPolicy_WrittenAcksExactlyOnce(t *testing.T) {
	policy := messagepipeline.NewAckPolicy(zerolog.Nop())
	s := newSettledMessage()

	err := policy.Apply(s.msg, messagepipeline.OutcomeWritten)

	require.NoError(t, err)
	assert.Equal(t, 1, s.acks)
	assert.Equal(t, 0, s.nacks)
}

func TestAckPolicy_ParseFallbackIsNotAFailure(t *testing.T) {
	policy := messagepipeline.NewAckPolicy(zerolog.Nop())
	s := newSettledMessage()

	err := policy.Apply(s.msg, messagepipeline.OutcomeParseFallbackUsed)

	require.NoError(t, err)
	assert.Equal(t, 1, s.acks)
	assert.Equal(t, 0, s.nacks)
}

func TestAckPolicy_FailuresRejectWithRequeueAndNeverAck(t *testing.T) {
	for _, outcome := range []messagepipeline.Outcome{
		messagepipeline.OutcomeTransformFailed,
		messagepipeline.OutcomeWriteFailed,
	} {
		t.Run(outcome.String(), func(t *testing.T) {
			policy := messagepipeline.NewAckPolicy(zerolog.Nop())
			s := newSettledMessage()

			err := policy.Apply(s.msg, outcome)

			require.NoError(t, err)
			assert.Equal(t, 0, s.acks)
			assert.Equal(t, 1, s.nacks)
		})
	}
}

func TestAckPolicy_SurfacesBrokerErrors(t *testing.T) {
	policy := messagepipeline.NewAckPolicy(zerolog.Nop())
	s := newSettledMessage()
	brokerErr := errors.New("channel closed")
	s.msg.Ack = func() error { return brokerErr }

	err := policy.Apply(s.msg, messagepipeline.OutcomeWritten)

	assert.ErrorIs(t, err, brokerErr)
}
