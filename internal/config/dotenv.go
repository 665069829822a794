package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`

	NotifyBackend     string `env:"NOTIFY_BACKEND"      envDefault:"postgres"`
	NotifyChannel     string `env:"NOTIFY_CHANNEL"      envDefault:"room_changes"`
	NATSURL           string `env:"NATS_URL"            envDefault:"nats://127.0.0.1:4222"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"rooms"`
	RedisAddr         string `env:"REDIS_ADDR"          envDefault:"127.0.0.1:6379"`
	RedisPrefix       string `env:"REDIS_PREFIX"        envDefault:"rooms:"`

	InvestigationSeconds int `env:"INVESTIGATION_SECONDS" envDefault:"300"`
	DiscussionSeconds    int `env:"DISCUSSION_SECONDS"    envDefault:"300"`
	TickMillis           int `env:"TICK_MILLIS"           envDefault:"1000"`

	DBMaxOpenConns           int `env:"DB_MAX_OPEN_CONNS"            envDefault:"10"`
	DBMaxIdleConns           int `env:"DB_MAX_IDLE_CONNS"            envDefault:"10"`
	DBConnMaxLifetimeSeconds int `env:"DB_CONN_MAX_LIFETIME_SECONDS" envDefault:"300"`
	DBConnMaxIdleTimeSeconds int `env:"DB_CONN_MAX_IDLE_SECONDS"     envDefault:"60"`

	GatewayAddr    string   `env:"GATEWAY_ADDR"    envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// Default returns the envDefault values, ignoring the process environment.
func Default() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load parses the process environment, falling back to envDefault tags.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.NotifyBackend) {
	case "postgres", "nats", "redis", "memory":
	default:
		return fmt.Errorf("unknown NOTIFY_BACKEND %q", c.NotifyBackend)
	}
	if c.InvestigationSeconds <= 0 || c.DiscussionSeconds <= 0 {
		return fmt.Errorf("phase durations must be positive")
	}
	if c.TickMillis <= 0 {
		return fmt.Errorf("TICK_MILLIS must be positive")
	}
	return nil
}

func (c Config) InvestigationDuration() time.Duration {
	return time.Duration(c.InvestigationSeconds) * time.Second
}

func (c Config) DiscussionDuration() time.Duration {
	return time.Duration(c.DiscussionSeconds) * time.Second
}

func (c Config) Tick() time.Duration {
	return time.Duration(c.TickMillis) * time.Millisecond
}
