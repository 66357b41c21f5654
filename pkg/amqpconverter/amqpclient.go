package amqpconverter

import (
	"fmt"
	"net/url"
	"time"
)

// ConnectionConfig holds all necessary configuration for the AMQP client.
// It defines connection parameters and the credentials the bridge uses on the
// subscribe side.
type ConnectionConfig struct {
	// Host is the broker hostname or address.
	Host string `yaml:"host"`
	// Port is the broker's AMQP listener port.
	Port int `yaml:"port"`
	// VirtualHost is the AMQP virtual host to connect to.
	VirtualHost string `yaml:"virtual_host"`
	// Username for authenticating with the broker.
	Username string `yaml:"username"`
	// Password for authenticating with the broker.
	Password string `yaml:"password"`
	// Heartbeat is the negotiated AMQP heartbeat interval, in seconds.
	Heartbeat int `yaml:"heartbeat"`
	// BlockedConnectionTimeout bounds how long a dial attempt may take, in
	// seconds, before it is reported as a connectivity failure.
	BlockedConnectionTimeout int `yaml:"blocked_connection_timeout"`
}

// Defaults matching a stock RabbitMQ installation.
const (
	DefaultHost                     = "localhost"
	DefaultPort                     = 5672
	DefaultVirtualHost              = "/"
	DefaultUsername                 = "guest"
	DefaultPassword                 = "guest"
	DefaultHeartbeatSeconds         = 600
	DefaultBlockedConnectionSeconds = 300
)

// ApplyDefaults fills in any unset connection parameters. It is safe to call
// on a zero value.
func (c *ConnectionConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.VirtualHost == "" {
		c.VirtualHost = DefaultVirtualHost
	}
	if c.Username == "" {
		c.Username = DefaultUsername
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.Heartbeat == 0 {
		c.Heartbeat = DefaultHeartbeatSeconds
	}
	if c.BlockedConnectionTimeout == 0 {
		c.BlockedConnectionTimeout = DefaultBlockedConnectionSeconds
	}
}

// HeartbeatInterval returns the heartbeat as a duration.
func (c *ConnectionConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat) * time.Second
}

// DialTimeout returns the blocked-connection timeout as a duration.
func (c *ConnectionConfig) DialTimeout() time.Duration {
	return time.Duration(c.BlockedConnectionTimeout) * time.Second
}

// BrokerURL assembles the amqp:// URL for the configured broker, escaping
// credentials and the virtual host.
func (c *ConnectionConfig) BrokerURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.VirtualHost,
	}
	return u.String()
}
