package bridge

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/illmade-knight/go-timebridge/pkg/amqpconverter"
	"github.com/illmade-knight/go-timebridge/pkg/influxstore"
)

// Config is the full bridge configuration, loaded from a YAML file before
// the core activates. Topic order is preserved; topology is declared in the
// order subscriptions appear here.
type Config struct {
	LogLevel string                            `yaml:"log_level"`
	RabbitMQ amqpconverter.ConnectionConfig    `yaml:"rabbitmq"`
	InfluxDB influxstore.Config                `yaml:"influxdb"`
	Topics   []amqpconverter.TopicSubscription `yaml:"topics"`
}

// LoadConfigFromFile reads, parses and validates the configuration file. Any
// error here is fatal to the process; the core never starts on a missing or
// malformed file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults fills in unset optional values across all sections.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.RabbitMQ.ApplyDefaults()
	c.InfluxDB.ApplyDefaults()
	for i := range c.Topics {
		c.Topics[i].ApplyDefaults()
	}
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if err := c.InfluxDB.Validate(); err != nil {
		return err
	}
	if len(c.Topics) == 0 {
		return errors.New("at least one topic subscription is required")
	}
	return nil
}
