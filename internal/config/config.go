package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`

	Store     StoreConfig     `mapstructure:"store"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Inbound   InboundConfig   `mapstructure:"inbound"`
	Summary   SummaryConfig   `mapstructure:"summary"`
	Dev       DevConfig       `mapstructure:"dev"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type SessionConfig struct {
	ReadOnlyAfter   time.Duration `mapstructure:"read_only_after"`
	IdleAfter       time.Duration `mapstructure:"idle_after"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	SpoilerLookback int           `mapstructure:"spoiler_lookback"`
	KickGrace       time.Duration `mapstructure:"kick_grace"`
}

type RateLimitConfig struct {
	Window      time.Duration `mapstructure:"window"`
	MaxMessages int           `mapstructure:"max_messages"`
	BaseBlock   time.Duration `mapstructure:"base_block"`
}

type InboundConfig struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

type SummaryConfig struct {
	Mode      string        `mapstructure:"mode"`
	Endpoint  string        `mapstructure:"endpoint"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	RedisURL  string        `mapstructure:"redis_url"`
}

type DevConfig struct {
	Fixtures bool `mapstructure:"fixtures"`
}

const (
	SummaryInProcess = "inprocess"
	SummaryAsynq     = "asynq"
	SummaryOff       = "off"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "change-me")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("session.read_only_after", "6h")
	v.SetDefault("session.idle_after", "6h")
	v.SetDefault("session.sweep_interval", "5m")
	v.SetDefault("session.history_limit", 500)
	v.SetDefault("session.spoiler_lookback", 500)
	v.SetDefault("session.kick_grace", "750ms")

	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.max_messages", 15)
	v.SetDefault("rate_limit.base_block", "60s")

	v.SetDefault("inbound.rate", 20)
	v.SetDefault("inbound.burst", 40)

	v.SetDefault("summary.mode", SummaryInProcess)
	v.SetDefault("summary.endpoint", "")
	v.SetDefault("summary.api_key", "")
	v.SetDefault("summary.timeout", "30s")
	v.SetDefault("summary.workers", 2)
	v.SetDefault("summary.queue_size", 64)
	v.SetDefault("summary.redis_url", "redis://localhost:6379/0")

	v.SetDefault("dev.fixtures", false)
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults. Every key
// can be overridden from the environment, e.g. TASTING_STORE_DSN.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("tasting")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// a missing file means defaults; a broken one is an error
	if err := v.ReadInConfig(); err != nil && fileExists(fileName) {
		return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
	}
	switch c.Summary.Mode {
	case SummaryInProcess, SummaryAsynq, SummaryOff:
	default:
		return fmt.Errorf("unknown summary.mode %q", c.Summary.Mode)
	}
	if c.RateLimit.MaxMessages <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit needs a positive window and max_messages")
	}
	return nil
}
