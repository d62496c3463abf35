package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tinybtc/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultWSURL is the Bitfinex public v2 endpoint.
	DefaultWSURL = "wss://api-pub.bitfinex.com/ws/2"
	// DefaultSymbol is the only trading pair the client follows.
	DefaultSymbol = "tBTCUSD"
)

// Config holds every setting of the application.
// LoadConfig applies environment overrides on top of the YAML file.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		WSURL            string `yaml:"ws_url"`
		Symbol           string `yaml:"symbol"`
		ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`
		WriteTimeoutMS   int    `yaml:"write_timeout_ms"`
		QueueSize        int    `yaml:"queue_size"`
	} `yaml:"feed"`

	Chart struct {
		Timeframe string `yaml:"timeframe"`
		Capacity  int    `yaml:"capacity"`
		Keep      string `yaml:"keep"` // "oldest" or "newest"
	} `yaml:"chart"`

	Retry struct {
		GraceMS int `yaml:"grace_ms"`
	} `yaml:"retry"`

	Server struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"server"`

	UI struct {
		UpdateIntervalMS int `yaml:"update_interval_ms"`
	} `yaml:"ui"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "tinybtc"
	cfg.Feed.WSURL = DefaultWSURL
	cfg.Feed.Symbol = DefaultSymbol
	cfg.Feed.ConnectTimeoutMS = 5000
	cfg.Feed.WriteTimeoutMS = 5000
	cfg.Feed.QueueSize = 256
	cfg.Chart.Timeframe = string(domain.DefaultTimeframe)
	cfg.Chart.Capacity = domain.DefaultWindowCapacity
	cfg.Chart.Keep = "oldest"
	cfg.Retry.GraceMS = 2000
	cfg.Server.Addr = "127.0.0.1:8787"
	cfg.UI.UpdateIntervalMS = 1000
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return cfg
}

// LoadConfig reads and parses the YAML file at path. A missing file yields
// the defaults; any other read or parse failure is returned.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &domain.ConfigError{Field: path, Err: err}
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return &domain.ConfigError{Field: "feed.ws_url", Err: fmt.Errorf("invalid WS URL: %q", c.Feed.WSURL)}
	}
	if c.Feed.Symbol == "" {
		return &domain.ConfigError{Field: "feed.symbol", Err: errors.New("symbol is required")}
	}
	if c.Feed.ConnectTimeoutMS <= 0 {
		return &domain.ConfigError{Field: "feed.connect_timeout_ms", Err: errors.New("must be positive")}
	}
	if _, err := domain.ParseTimeframe(c.Chart.Timeframe); err != nil {
		return &domain.ConfigError{Field: "chart.timeframe", Err: err}
	}
	if c.Chart.Capacity <= 0 {
		return &domain.ConfigError{Field: "chart.capacity", Err: errors.New("must be positive")}
	}
	if _, ok := domain.ParseKeepPolicy(c.Chart.Keep); !ok {
		return &domain.ConfigError{Field: "chart.keep", Err: fmt.Errorf("unknown policy %q", c.Chart.Keep)}
	}
	if c.Retry.GraceMS < 0 {
		return &domain.ConfigError{Field: "retry.grace_ms", Err: errors.New("must not be negative")}
	}
	if c.UI.UpdateIntervalMS <= 0 {
		return &domain.ConfigError{Field: "ui.update_interval_ms", Err: errors.New("update interval must be positive")}
	}
	return nil
}

// ConnectTimeout returns the handshake bound for one connect attempt.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Feed.ConnectTimeoutMS) * time.Millisecond
}

// WriteTimeout returns the bound for one outbound write.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Feed.WriteTimeoutMS) * time.Millisecond
}

// RetryGrace returns the pause between disconnect-all and connect-all.
func (c *Config) RetryGrace() time.Duration {
	return time.Duration(c.Retry.GraceMS) * time.Millisecond
}

// UpdateInterval returns the status log cadence.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.UI.UpdateIntervalMS) * time.Millisecond
}

// overrideWithEnv overwrites settings from environment variables when set.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("TINYBTC_WS_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if symbol := os.Getenv("TINYBTC_SYMBOL"); symbol != "" {
		cfg.Feed.Symbol = symbol
	}
	if level := os.Getenv("TINYBTC_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
