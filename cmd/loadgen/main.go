// loadgen publishes synthetic sensor, weather and alert messages to the
// bridge's topic exchanges. It is an external producer for exercising the
// subscribe side and shares no logic with the bridge core.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-timebridge/pkg/amqpconverter"
)

const (
	sensorExchange  = "sensor.data"
	weatherExchange = "weather.updates"
	alertExchange   = "alerts"
)

func main() {
	host := flag.String("host", "localhost", "AMQP broker host")
	port := flag.Int("port", 5672, "AMQP broker port")
	username := flag.String("username", "guest", "AMQP username")
	password := flag.String("password", "guest", "AMQP password")
	interval := flag.Duration("interval", 2*time.Second, "delay between published messages")
	count := flag.Int("count", 0, "number of messages to publish (0 = until interrupted)")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := amqpconverter.ConnectionConfig{
		Host:     *host,
		Port:     *port,
		Username: *username,
		Password: *password,
	}
	cfg.ApplyDefaults()

	conn, err := amqp.Dial(cfg.BrokerURL())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to AMQP broker.")
	}
	defer func() { _ = conn.Close() }()

	channel, err := conn.Channel()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open AMQP channel.")
	}

	for _, exchange := range []string{sensorExchange, weatherExchange, alertExchange} {
		if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			logger.Fatal().Err(err).Str("exchange", exchange).Msg("Failed to declare exchange.")
		}
	}
	logger.Info().Str("broker", cfg.BrokerURL()).Msg("Connected, publishing synthetic data.")

	published := 0
	for *count == 0 || published < *count {
		if ctx.Err() != nil {
			break
		}

		// Sensor data is the most frequent, weather and alerts progressively
		// rarer, mirroring a real deployment's mix.
		if published%2 == 0 {
			publish(ctx, channel, logger, sensorExchange, sensorMessage())
		}
		if published%5 == 0 {
			publish(ctx, channel, logger, weatherExchange, weatherMessage())
		}
		if published%10 == 0 {
			publish(ctx, channel, logger, alertExchange, alertMessage())
		}
		published++

		select {
		case <-ctx.Done():
		case <-time.After(*interval):
		}
	}
	logger.Info().Int("published", published).Msg("Load generator finished.")
}

type payload struct {
	routingKey string
	body       map[string]any
}

func publish(ctx context.Context, channel *amqp.Channel, logger zerolog.Logger, exchange string, p payload) {
	body, err := json.Marshal(p.body)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal payload.")
		return
	}
	err = channel.PublishWithContext(ctx, exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    uuid.NewString(),
		Body:         body,
	})
	if err != nil {
		logger.Error().Err(err).Str("routing_key", p.routingKey).Msg("Failed to publish message.")
		return
	}
	logger.Debug().Str("exchange", exchange).Str("routing_key", p.routingKey).Msg("Published message.")
}

func sensorMessage() payload {
	sensorID := fmt.Sprintf("sensor_%03d", rand.Intn(10)+1)
	return payload{
		routingKey: fmt.Sprintf("sensor.%s.measurements", sensorID),
		body: map[string]any{
			"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
			"sensor_id":       sensorID,
			"node_id":         fmt.Sprintf("node_%03d", rand.Intn(5)+1),
			"temperature":     round2(15 + rand.Float64()*20),
			"humidity":        round2(30 + rand.Float64()*60),
			"pressure":        round2(980 + rand.Float64()*40),
			"light_level":     rand.Intn(1001),
			"battery_voltage": round2(3 + rand.Float64()*1.2),
			"signal_strength": -80 + rand.Intn(61),
			"status":          pick("active", "inactive", "warning"),
		},
	}
}

func weatherMessage() payload {
	stationID := fmt.Sprintf("weather_%03d", rand.Intn(3)+1)
	return payload{
		routingKey: fmt.Sprintf("station.%s.measurements", stationID),
		body: map[string]any{
			"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
			"station_id":      stationID,
			"wind_speed":      round2(rand.Float64() * 25),
			"wind_direction":  rand.Intn(360),
			"rainfall":        round2(rand.Float64() * 5),
			"solar_radiation": rand.Intn(1201),
			"uv_index":        rand.Intn(12),
			"visibility":      round2(5 + rand.Float64()*15),
		},
	}
}

func alertMessage() payload {
	alertType := pick("temperature_high", "humidity_low", "battery_low", "connection_lost")
	severity := pick("info", "warning", "critical")
	return payload{
		routingKey: fmt.Sprintf("alert.%s.%s", severity, alertType),
		body: map[string]any{
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
			"alert_id":   fmt.Sprintf("alert_%04d", rand.Intn(9000)+1000),
			"alert_type": alertType,
			"severity":   severity,
			"source":     fmt.Sprintf("sensor_%03d", rand.Intn(10)+1),
			"message":    fmt.Sprintf("Alert triggered: %s", alertType),
			"value":      round2(rand.Float64() * 100),
			"threshold":  round2(50 + rand.Float64()*30),
		},
	}
}

func round2(f float64) float64 {
	return float64(int(f*100)) / 100
}

func pick(options ...string) string {
	return options[rand.Intn(len(options))]
}
