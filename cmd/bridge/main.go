// The bridge daemon subscribes to configured AMQP topics and forwards each
// message to InfluxDB as a tagged, typed point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-timebridge/pkg/bridge"
	"github.com/illmade-knight/go-timebridge/pkg/influxstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the bridge configuration file")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := bridge.LoadConfigFromFile(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration.")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("Invalid log level in configuration.")
	}
	logger = logger.Level(level)

	writer, err := influxstore.NewInfluxPointWriter(&cfg.InfluxDB, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create InfluxDB writer.")
	}

	service, err := bridge.NewBridgeService(cfg, writer, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create bridge service.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Bridge exited with an error.")
	}
}
