package bridge_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-timebridge/pkg/bridge"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
log_level: debug
rabbitmq:
  host: rabbit.example.com
  port: 5673
  username: bridge
  password: secret
influxdb:
  url: http://influx.example.com:8086
  token: my-token
  org: my-org
  bucket: telemetry
  timeout: 5
topics:
  - exchange: sensor.data
    routing_key: "sensor.#"
    queue_name: bridge-sensors
    durable: true
    measurement: env
    tags:
      site: lab
    field_mapping:
      temp: temperature
    influx_bucket: sensors
  - routing_key: "raw.#"
  - exchange: scratch
    routing_key: "scratch.#"
    durable: false
`

func TestLoadConfigFromFile(t *testing.T) {
	// Act
	cfg, err := bridge.LoadConfigFromFile(writeConfigFile(t, validConfig))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "rabbit.example.com", cfg.RabbitMQ.Host)
	assert.Equal(t, 5673, cfg.RabbitMQ.Port)
	assert.Equal(t, "telemetry", cfg.InfluxDB.Bucket)
	assert.Equal(t, 5*time.Second, cfg.InfluxDB.WriteTimeoutInterval())

	require.Len(t, cfg.Topics, 3)
	first := cfg.Topics[0]
	assert.Equal(t, "sensor.data", first.Exchange)
	assert.Equal(t, "topic", first.ExchangeType)
	assert.Equal(t, "bridge-sensors", first.Queue)
	assert.Equal(t, "env", first.Measurement)
	assert.Equal(t, map[string]string{"site": "lab"}, first.Tags)
	assert.Equal(t, map[string]string{"temp": "temperature"}, first.FieldMapping)
	assert.Equal(t, "sensors", first.Bucket)
	assert.True(t, first.IsDurable())

	// An omitted durable flag defaults to durable; only an explicit false
	// declares non-durable topology.
	assert.True(t, cfg.Topics[1].IsDurable())
	assert.False(t, cfg.Topics[2].IsDurable())
}

func TestLoadConfigFromFile_AppliesDefaults(t *testing.T) {
	content := `
influxdb:
  url: http://localhost:8086
  token: t
  org: o
  bucket: b
topics:
  - routing_key: "#"
`
	cfg, err := bridge.LoadConfigFromFile(writeConfigFile(t, content))

	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "localhost", cfg.RabbitMQ.Host)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
	assert.Equal(t, "/", cfg.RabbitMQ.VirtualHost)
	assert.Equal(t, "guest", cfg.RabbitMQ.Username)
	assert.Equal(t, 600*time.Second, cfg.RabbitMQ.HeartbeatInterval())
	assert.Equal(t, 300*time.Second, cfg.RabbitMQ.DialTimeout())
	assert.Equal(t, "topic", cfg.Topics[0].ExchangeType)
}

func TestLoadConfigFromFile_MissingFile(t *testing.T) {
	_, err := bridge.LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadConfigFromFile_MalformedYAML(t *testing.T) {
	_, err := bridge.LoadConfigFromFile(writeConfigFile(t, "topics: ["))
	require.Error(t, err)
}

func TestLoadConfigFromFile_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing influx token",
			content: `
influxdb:
  url: http://localhost:8086
  org: o
  bucket: b
topics:
  - routing_key: "#"
`,
		},
		{
			name: "no topics",
			content: `
influxdb:
  url: http://localhost:8086
  token: t
  org: o
  bucket: b
`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := bridge.LoadConfigFromFile(writeConfigFile(t, tc.content))
			require.Error(t, err)
		})
	}
}
