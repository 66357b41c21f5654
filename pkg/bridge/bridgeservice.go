package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-timebridge/pkg/amqpconverter"
	"github.com/illmade-knight/go-timebridge/pkg/influxstore"
	"github.com/illmade-knight/go-timebridge/pkg/messagepipeline"
)

const (
	// connectRetryDelay is the fixed delay between connection attempts.
	// Retries continue indefinitely until success or cancellation; the
	// bridge prioritizes liveness over fast-fail.
	connectRetryDelay = 5 * time.Second

	// pumpSlice bounds each event-pump call so cancellation is observed
	// within one slice.
	pumpSlice = 1 * time.Second

	// errorPause is the pause after an unexpected pump error; the loop never
	// exits on a single message-level error.
	errorPause = 1 * time.Second
)

// connectionManager is the slice of the AMQP manager the run loop depends
// on, so reconnect behavior can be exercised without a broker.
type connectionManager interface {
	Connect(ctx context.Context) error
	PumpEvents(ctx context.Context, slice time.Duration, handler amqpconverter.MessageHandler) error
	State() amqpconverter.ConnState
	Close()
}

// BridgeService is the top-level cooperative loop: it connects both
// endpoints, declares topology, pumps deliveries through the transformer and
// writer, and settles each delivery through the ack policy.
type BridgeService struct {
	cfg           *Config
	manager       connectionManager
	setupTopology func(ctx context.Context) error
	writer        influxstore.PointWriter
	ackPolicy     *messagepipeline.AckPolicy
	logger        zerolog.Logger
}

// NewBridgeService assembles the bridge from validated configuration and a
// point writer. The writer is injected so tests can substitute the store.
func NewBridgeService(cfg *Config, writer influxstore.PointWriter, logger zerolog.Logger) (*BridgeService, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if writer == nil {
		return nil, errors.New("point writer cannot be nil")
	}

	manager, err := amqpconverter.NewConnectionManager(&cfg.RabbitMQ, logger)
	if err != nil {
		return nil, err
	}
	registry, err := amqpconverter.NewSubscriptionRegistry(cfg.Topics, logger)
	if err != nil {
		return nil, err
	}

	return &BridgeService{
		cfg:     cfg,
		manager: manager,
		setupTopology: func(ctx context.Context) error {
			return registry.Setup(ctx, manager)
		},
		writer:    writer,
		ackPolicy: messagepipeline.NewAckPolicy(logger),
		logger:    logger.With().Str("service", "BridgeService").Logger(),
	}, nil
}

// Run drives the bridge until ctx is cancelled. Both endpoints are closed on
// the way out regardless of how the loop exits.
func (s *BridgeService) Run(ctx context.Context) error {
	defer s.shutdown()

	s.logger.Info().Msg("Starting AMQP to InfluxDB bridge...")
	if !s.connectAndSubscribe(ctx) {
		return nil
	}
	s.logger.Info().Msg("Bridge is running.")

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.manager.PumpEvents(ctx, pumpSlice, s.handleMessage)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return nil
		case errors.Is(err, amqpconverter.ErrConnectionLost):
			s.logger.Error().Err(err).Msg("Lost connection to AMQP broker, attempting to reconnect...")
			if !s.connectAndSubscribe(ctx) {
				return nil
			}
		default:
			s.logger.Error().Err(err).Msg("Unexpected error while pumping events.")
			sleepCtx(ctx, errorPause)
		}
	}
}

// connectAndSubscribe establishes both endpoints and declares topology,
// retrying with a fixed delay until success. Returns false only when the
// context was cancelled.
func (s *BridgeService) connectAndSubscribe(ctx context.Context) bool {
	for ctx.Err() == nil {
		if err := s.manager.Connect(ctx); err != nil {
			s.logger.Error().Err(err).Msgf("Failed to connect to AMQP broker, retrying in %s...", connectRetryDelay)
			sleepCtx(ctx, connectRetryDelay)
			continue
		}

		if err := s.writer.Ping(ctx); err != nil {
			s.logger.Error().Err(err).Msgf("Failed to connect to InfluxDB, retrying in %s...", connectRetryDelay)
			sleepCtx(ctx, connectRetryDelay)
			continue
		}

		// Re-declaring identical topology is a no-op at the broker, so this
		// is safe to run after every reconnect.
		if err := s.setupTopology(ctx); err != nil {
			s.logger.Error().Err(err).Msgf("Failed to set up subscriptions, retrying in %s...", connectRetryDelay)
			sleepCtx(ctx, connectRetryDelay)
			continue
		}
		return true
	}
	return false
}

// handleMessage is the per-delivery pipeline: transform, write, settle. It is
// invoked sequentially by the event pump, one delivery at a time.
func (s *BridgeService) handleMessage(ctx context.Context, msg *messagepipeline.Message, sub amqpconverter.TopicSubscription) {
	point, fallback, err := amqpconverter.BuildPoint(msg, sub)
	if err != nil {
		s.logger.Error().Err(err).
			Str("routing_key", msg.RoutingKey()).
			Str("exchange", msg.Exchange()).
			Msg("Failed to transform message to point.")
		_ = s.ackPolicy.Apply(msg, messagepipeline.OutcomeTransformFailed)
		return
	}

	if err := s.writer.Write(ctx, sub.Bucket, point); err != nil {
		s.logger.Error().Err(err).
			Str("routing_key", msg.RoutingKey()).
			Str("measurement", point.Measurement).
			Msg("Failed to write point to InfluxDB.")
		_ = s.ackPolicy.Apply(msg, messagepipeline.OutcomeWriteFailed)
		return
	}

	outcome := messagepipeline.OutcomeWritten
	if fallback {
		outcome = messagepipeline.OutcomeParseFallbackUsed
	}
	_ = s.ackPolicy.Apply(msg, outcome)
	s.logger.Debug().
		Str("routing_key", msg.RoutingKey()).
		Str("measurement", point.Measurement).
		Msg("Successfully forwarded message to InfluxDB.")
}

// shutdown closes both endpoints. Best-effort; runs even when the loop exits
// via an unexpected error.
func (s *BridgeService) shutdown() {
	s.logger.Info().Msg("Shutting down bridge...")
	s.manager.Close()
	s.writer.Close()
	s.logger.Info().Msg("Bridge shutdown complete.")
}

// sleepCtx pauses for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
