package influxstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-timebridge/pkg/messagepipeline"
)

// PointWriter is the interface for writing one point to a time-series store.
// It abstracts the destination, making the bridge loop testable without a
// running server.
type PointWriter interface {
	// Write synchronously writes one point to the named bucket; an empty
	// bucket selects the configured default.
	Write(ctx context.Context, bucket string, point *messagepipeline.Point) error
	// Ping probes store connectivity.
	Ping(ctx context.Context) error
	// Close handles cleanup of the writer's resources.
	Close()
}

// Config holds the connection parameters for the InfluxDB 2.x store.
type Config struct {
	// URL is the base URL of the InfluxDB server.
	URL string `yaml:"url"`
	// Token is the API token used for authentication.
	Token string `yaml:"token"`
	// Org is the InfluxDB organization points are written under.
	Org string `yaml:"org"`
	// Bucket is the default destination bucket. Subscriptions may override
	// it per topic.
	Bucket string `yaml:"bucket"`
	// WriteTimeout bounds each write request, in seconds.
	WriteTimeout int `yaml:"timeout"`
}

// DefaultWriteTimeoutSeconds is used when no write timeout is configured.
const DefaultWriteTimeoutSeconds = 10

// ApplyDefaults fills in unset optional parameters.
func (c *Config) ApplyDefaults() {
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeoutSeconds
	}
}

// WriteTimeoutInterval returns the write timeout as a duration.
func (c *Config) WriteTimeoutInterval() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// Validate reports the first missing required parameter.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("influxdb url is required")
	}
	if c.Token == "" {
		return errors.New("influxdb token is required")
	}
	if c.Org == "" {
		return errors.New("influxdb org is required")
	}
	if c.Bucket == "" {
		return errors.New("influxdb bucket is required")
	}
	return nil
}

// InfluxPointWriter implements PointWriter on the InfluxDB 2.x client using
// its blocking write API, one write per point as the bridge requires.
type InfluxPointWriter struct {
	client        influxdb2.Client
	org           string
	defaultBucket string
	writeTimeout  time.Duration
	logger        zerolog.Logger

	mu      sync.Mutex
	writers map[string]api.WriteAPIBlocking
}

// NewInfluxPointWriter creates a writer for the configured server. The client
// is lazy; use Ping to probe connectivity at startup.
func NewInfluxPointWriter(cfg *Config, logger zerolog.Logger) (*InfluxPointWriter, error) {
	if cfg == nil {
		return nil, errors.New("influx config cannot be nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(cfg.WriteTimeout))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	return &InfluxPointWriter{
		client:        client,
		org:           cfg.Org,
		defaultBucket: cfg.Bucket,
		writeTimeout:  cfg.WriteTimeoutInterval(),
		logger:        logger.With().Str("component", "InfluxPointWriter").Str("org", cfg.Org).Logger(),
		writers:       make(map[string]api.WriteAPIBlocking),
	}, nil
}

// Ping probes the server's readiness endpoint.
func (w *InfluxPointWriter) Ping(ctx context.Context) error {
	ready, err := w.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping InfluxDB: %w", err)
	}
	if !ready {
		return errors.New("InfluxDB server is not ready")
	}
	w.logger.Info().Msg("Successfully connected to InfluxDB.")
	return nil
}

// Write synchronously writes one point to the named bucket, or the default
// bucket when the name is empty.
func (w *InfluxPointWriter) Write(ctx context.Context, bucket string, point *messagepipeline.Point) error {
	if bucket == "" {
		bucket = w.defaultBucket
	}

	writeCtx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()

	if err := w.writeAPI(bucket).WritePoint(writeCtx, toInfluxPoint(point)); err != nil {
		return fmt.Errorf("failed to write point to bucket %q: %w", bucket, err)
	}
	w.logger.Debug().Str("bucket", bucket).Str("measurement", point.Measurement).Msg("Point written.")
	return nil
}

// Close shuts down the underlying HTTP client. Idempotent.
func (w *InfluxPointWriter) Close() {
	w.client.Close()
	w.logger.Info().Msg("InfluxDB client closed.")
}

// writeAPI returns the blocking write API for a bucket, creating and caching
// it on first use.
func (w *InfluxPointWriter) writeAPI(bucket string) api.WriteAPIBlocking {
	w.mu.Lock()
	defer w.mu.Unlock()
	writer, ok := w.writers[bucket]
	if !ok {
		writer = w.client.WriteAPIBlocking(w.org, bucket)
		w.writers[bucket] = writer
	}
	return writer
}

// toInfluxPoint converts the canonical point to the client's wire type.
func toInfluxPoint(point *messagepipeline.Point) *write.Point {
	return write.NewPoint(point.Measurement, point.Tags, point.Fields, point.Time)
}
