// Package config loads runtime configuration for the host bridge process
// from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Transport selects how the bridge listens for the extension host.
type Transport string

const (
	TransportUnix Transport = "unix"
	TransportTCP  Transport = "tcp"
	TransportWS   Transport = "websocket"
)

// Config holds runtime configuration for the host bridge.
type Config struct {
	// Listen is a unix socket path, a host:port, or (for websocket
	// transport) a listen address the HTTP upgrade server binds to.
	Listen    string    `env:"VSHOSTBRIDGE_LISTEN" envDefault:":9229"`
	Transport Transport `env:"VSHOSTBRIDGE_TRANSPORT" envDefault:"tcp"`

	// ReconnectGrace is how long a PersistentProtocol holds unacknowledged
	// state after its socket closes, waiting for the extension host to
	// reconnect before giving up and disposing.
	ReconnectGrace time.Duration `env:"VSHOSTBRIDGE_RECONNECT_GRACE" envDefault:"5m"`

	// KeepAliveEnabled toggles the 5s keep-alive ticker on accepted
	// connections.
	KeepAliveEnabled bool `env:"VSHOSTBRIDGE_KEEPALIVE" envDefault:"true"`

	// UnresponsiveThreshold gates PersistentProtocol's timeout diagnostic.
	UnresponsiveThreshold time.Duration `env:"VSHOSTBRIDGE_UNRESPONSIVE_THRESHOLD" envDefault:"20s"`

	// LogLevel is a logr V-level verbosity: 0 is info, higher is more
	// verbose debug output.
	LogLevel int `env:"VSHOSTBRIDGE_LOG_LEVEL" envDefault:"0"`

	// AllowedOrigin restricts the websocket transport's upgrade handler
	// via Origin header match; empty allows any origin.
	AllowedOrigin string `env:"VSHOSTBRIDGE_ALLOWED_ORIGIN" envDefault:""`
}

// Default returns the configuration with all env defaults applied and no
// environment variables read, useful for tests.
func Default() Config {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("config: parsing defaults: %v", err))
	}
	return c
}

// Load reads Config from the process environment.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if c.Transport != TransportUnix && c.Transport != TransportTCP && c.Transport != TransportWS {
		return Config{}, fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	return c, nil
}
