// Package config resolves the relay's configuration from its three
// positional CLI arguments (bind address, bind port, allowed origin
// host) plus environment variables for every ambient concern the
// wire protocol itself says nothing about.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything the relay needs to start serving.
type Config struct {
	Host              string
	Port              int
	AllowedOriginHost string // empty disables the origin gate

	MetricsRoute string
	LogLevel     string

	Heartbeat time.Duration
	Handshake time.Duration // read deadline applied to a freshly upgraded connection

	MaxMessageSize int64

	ReadHeaderTimeout time.Duration

	// ConnRatePerMin bounds upgrade attempts per source IP per minute
	// (0 disables).
	ConnRatePerMin int
	// MsgRatePerSec/MsgBurst bound inbound frames per connection via a
	// token bucket (0 rate disables).
	MsgRatePerSec float64
	MsgBurst      int
}

// BindAddr returns the "host:port" listen address.
func (c Config) BindAddr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Load resolves configuration from positional CLI args (as described
// in the wire protocol's CLI surface) and environment variables for
// every concern the protocol leaves unspecified. args is the program's
// argument list with the program name already stripped (os.Args[1:]).
func Load(args []string) Config {
	cfg := Config{
		Host:              "0.0.0.0",
		Port:              0,
		AllowedOriginHost: "",

		MetricsRoute: getenv("METRICS_ROUTE", "/metrics"),
		LogLevel:     getenv("LOG_LEVEL", "info"),

		Heartbeat: getenvDur("RELAY_HEARTBEAT", 30*time.Second),
		Handshake: getenvDur("RELAY_HANDSHAKE_TIMEOUT", 10*time.Second),

		MaxMessageSize: int64(getenvInt("RELAY_MAX_MESSAGE_SIZE", 1<<20)),

		ReadHeaderTimeout: getenvDur("READ_HEADER_TIMEOUT", 5*time.Second),

		ConnRatePerMin: getenvInt("RELAY_CONN_RATE_PER_MIN", 120),
		MsgRatePerSec:  getenvFloat("RELAY_MSG_RATE_PER_SEC", 50),
		MsgBurst:       getenvInt("RELAY_MSG_BURST", 100),
	}

	if len(args) > 0 && args[0] != "" {
		cfg.Host = args[0]
	}
	if len(args) > 1 && args[1] != "" {
		if p, err := strconv.Atoi(args[1]); err == nil {
			cfg.Port = p
		}
	}
	if len(args) > 2 {
		cfg.AllowedOriginHost = args[2]
	}

	return cfg
}

// Validate reports whether the resolved configuration is internally
// consistent enough to start the server.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive: %d", c.MaxMessageSize)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
