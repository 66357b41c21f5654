package amqpconverter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-timebridge/pkg/messagepipeline"
)

// ErrConnectionLost is returned by PumpEvents when the broker connection
// drops mid-run. The caller reconnects and re-runs topology setup.
var ErrConnectionLost = errors.New("amqp connection lost")

// ErrNotConnected is returned when an operation requires an open channel.
var ErrNotConnected = errors.New("amqp client is not connected")

// ConnState describes the connection lifecycle of the manager.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	// StateShuttingDown is terminal; once Close has run, the manager never
	// transitions back.
	StateShuttingDown
)

// MessageHandler processes one delivery, bound to the subscription whose
// queue it arrived on. Handlers are invoked strictly sequentially by
// PumpEvents; a handler that blocks stalls the pump until it returns.
type MessageHandler func(ctx context.Context, msg *messagepipeline.Message, sub TopicSubscription)

// event pairs a canonical message with the subscription that produced it, so
// the pump can hand both to the handler.
type event struct {
	msg messagepipeline.Message
	sub TopicSubscription
}

// ConnectionManager owns the lifecycle of the broker connection and channel.
// Connect, PumpEvents and Close are called from the single bridge loop;
// per-consumer forwarding goroutines only move deliveries into the internal
// event channel, where the pump serializes them.
type ConnectionManager struct {
	cfg    *ConnectionConfig
	logger zerolog.Logger

	state atomic.Int32

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	// events is shared across reconnects so the pump never loses its source.
	events    chan event
	connClose chan *amqp.Error

	closeOnce sync.Once
}

// NewConnectionManager creates a manager for the given broker configuration.
// It does not connect until Connect is called.
func NewConnectionManager(cfg *ConnectionConfig, logger zerolog.Logger) (*ConnectionManager, error) {
	if cfg == nil {
		return nil, errors.New("connection config cannot be nil")
	}
	cfg.ApplyDefaults()
	return &ConnectionManager{
		cfg:    cfg,
		logger: logger.With().Str("component", "ConnectionManager").Logger(),
		events: make(chan event, 256),
	}, nil
}

// Connect dials the broker and opens the channel all consumers will share.
// Expected connectivity failures are returned as errors, never panics. It is
// safe to call again after a connection loss; any previous connection is
// discarded first.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	if cm.currentState() == StateShuttingDown {
		return errors.New("connection manager is shutting down")
	}
	cm.setState(StateConnecting)
	cm.discardConnection()

	cm.logger.Info().Str("host", cm.cfg.Host).Int("port", cm.cfg.Port).Msg("Connecting to AMQP broker...")
	conn, err := amqp.DialConfig(cm.cfg.BrokerURL(), amqp.Config{
		Vhost:     cm.cfg.VirtualHost,
		Heartbeat: cm.cfg.HeartbeatInterval(),
		Dial:      amqp.DefaultDial(cm.cfg.DialTimeout()),
	})
	if err != nil {
		cm.setState(StateDisconnected)
		return fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		cm.setState(StateDisconnected)
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	cm.mu.Lock()
	cm.conn = conn
	cm.channel = channel
	cm.connClose = conn.NotifyClose(make(chan *amqp.Error, 1))
	cm.mu.Unlock()

	cm.setState(StateConnected)
	cm.logger.Info().Msg("Successfully connected to AMQP broker.")
	return nil
}

// IsHealthy reports whether the broker connection is currently established.
func (cm *ConnectionManager) IsHealthy() bool {
	return cm.currentState() == StateConnected
}

// State returns the current lifecycle state.
func (cm *ConnectionManager) State() ConnState {
	return cm.currentState()
}

// Channel returns the shared AMQP channel for topology declaration.
func (cm *ConnectionManager) Channel() (*amqp.Channel, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.channel == nil {
		return nil, ErrNotConnected
	}
	return cm.channel, nil
}

// PumpEvents delivers available events to the handler, one at a time, for up
// to slice, then returns control so the caller can observe cancellation. It
// returns ErrConnectionLost (wrapped) on transport loss, the context error on
// cancellation, and nil when the slice simply elapsed.
func (cm *ConnectionManager) PumpEvents(ctx context.Context, slice time.Duration, handler MessageHandler) error {
	cm.mu.Lock()
	connClose := cm.connClose
	cm.mu.Unlock()

	timer := time.NewTimer(slice)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case amqpErr, ok := <-connClose:
			cm.setState(StateDisconnected)
			if !ok || amqpErr == nil {
				// Channel closed without a protocol error: local Close.
				return fmt.Errorf("connection closed: %w", ErrConnectionLost)
			}
			return fmt.Errorf("%s: %w", amqpErr.Error(), ErrConnectionLost)
		case ev := <-cm.events:
			handler(ctx, &ev.msg, ev.sub)
		}
	}
}

// Close performs best-effort shutdown of the broker connection. It is
// idempotent and never panics; errors during teardown are logged only.
func (cm *ConnectionManager) Close() {
	cm.closeOnce.Do(func() {
		cm.setState(StateShuttingDown)
		cm.logger.Info().Msg("Closing AMQP connection...")
		cm.discardConnection()
		cm.logger.Info().Msg("AMQP connection closed.")
	})
}

// deliver forwards one event into the pump. Used by the subscription
// registry's forwarding goroutines; drops the event if the manager is
// shutting down and nobody will pump it.
func (cm *ConnectionManager) deliver(ev event, done <-chan struct{}) {
	select {
	case cm.events <- ev:
	case <-done:
		cm.logger.Warn().
			Str("routing_key", ev.msg.RoutingKey()).
			Msg("Shutting down, dropping in-flight delivery; broker will requeue unacked messages.")
	}
}

func (cm *ConnectionManager) discardConnection() {
	cm.mu.Lock()
	conn := cm.conn
	channel := cm.channel
	cm.conn = nil
	cm.channel = nil
	cm.mu.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil {
			cm.logger.Debug().Err(err).Msg("Error closing AMQP channel.")
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			cm.logger.Debug().Err(err).Msg("Error closing AMQP connection.")
		}
	}
}

func (cm *ConnectionManager) currentState() ConnState {
	return ConnState(cm.state.Load())
}

func (cm *ConnectionManager) setState(s ConnState) {
	// ShuttingDown is terminal regardless of any racing transition.
	if cm.currentState() == StateShuttingDown && s != StateShuttingDown {
		return
	}
	cm.state.Store(int32(s))
}
