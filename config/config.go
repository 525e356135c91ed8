package config

import (
	"errors"
	"strings"
	"time"

	libconfig "parkflow/libs/config"
)

// Config defines the embedded client configuration.
type Config struct {
	Backend struct {
		BaseURL string        `yaml:"baseUrl" env:"PARKFLOW_BACKEND_URL"`
		Timeout time.Duration `yaml:"timeout" env:"PARKFLOW_BACKEND_TIMEOUT"`
	} `yaml:"backend"`
	Stream struct {
		URL            string        `yaml:"url" env:"PARKFLOW_STREAM_URL"`
		ReconnectDelay time.Duration `yaml:"reconnectDelay" env:"PARKFLOW_STREAM_RECONNECT_DELAY"`
		Heartbeat      time.Duration `yaml:"heartbeat" env:"PARKFLOW_STREAM_HEARTBEAT"`
	} `yaml:"stream"`
	Driver struct {
		ID    string `yaml:"id" env:"PARKFLOW_DRIVER_ID"`
		Token string `yaml:"token" env:"PARKFLOW_DRIVER_TOKEN"`
	} `yaml:"driver"`
	Reservation struct {
		ExpiryDelay time.Duration `yaml:"expiryDelay" env:"PARKFLOW_RESERVATION_EXPIRY"`
		Window      time.Duration `yaml:"window" env:"PARKFLOW_RESERVATION_WINDOW"`
	} `yaml:"reservation"`
	Redis struct {
		Addr     string `yaml:"addr" env:"PARKFLOW_REDIS_ADDR"`
		Password string `yaml:"password" env:"PARKFLOW_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"PARKFLOW_REDIS_DB"`
		TTL      int    `yaml:"ttlSeconds" env:"PARKFLOW_REDIS_TTL"`
	} `yaml:"redis"`
}

// Load reads configuration via the shared helper and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := libconfig.Load(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		return nil, errors.New("config: backend base url required")
	}
	if strings.TrimSpace(cfg.Stream.URL) == "" {
		return nil, errors.New("config: stream url required")
	}
	return cfg, nil
}

// ApplyDefaults fills zero values. Exposed so hosts building a Config by
// hand get the same defaults as Load.
func (c *Config) ApplyDefaults() {
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 5 * time.Second
	}
	if c.Stream.ReconnectDelay <= 0 {
		c.Stream.ReconnectDelay = 5 * time.Second
	}
	if c.Stream.Heartbeat <= 0 {
		c.Stream.Heartbeat = 30 * time.Second
	}
	if c.Reservation.ExpiryDelay <= 0 {
		c.Reservation.ExpiryDelay = 10 * time.Minute
	}
	if c.Reservation.Window <= 0 {
		// Placeholder upper bound sent to the backend on create, not an
		// enforced maximum duration.
		c.Reservation.Window = 2 * time.Hour
	}
}

// ActiveSessionTTL returns the redis mirror TTL as a duration.
func (c *Config) ActiveSessionTTL() time.Duration {
	if c.Redis.TTL <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Redis.TTL) * time.Second
}
