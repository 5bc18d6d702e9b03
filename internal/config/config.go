package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	devAPIURL = "http://127.0.0.1:8000/api"
	devWSURL  = "ws://127.0.0.1:8000/ws"
)

type Config struct {
	Mode       string `env:"PUBHUNT_MODE" envDefault:"development"`
	APIURL     string `env:"PUBHUNT_API_URL"`
	WSURL      string `env:"PUBHUNT_WS_URL"`
	AuthScheme string `env:"PUBHUNT_AUTH_SCHEME" envDefault:"Token"`

	HTTPTimeout time.Duration `env:"PUBHUNT_HTTP_TIMEOUT" envDefault:"10s"`
	RetryMax    int           `env:"PUBHUNT_RETRY_MAX" envDefault:"3"`
	RetryBase   time.Duration `env:"PUBHUNT_RETRY_BASE" envDefault:"1s"`

	PollInterval         time.Duration `env:"PUBHUNT_POLL_INTERVAL" envDefault:"3s"`
	PollFailureThreshold int           `env:"PUBHUNT_POLL_FAILURE_THRESHOLD" envDefault:"3"`
	FinishGrace          time.Duration `env:"PUBHUNT_FINISH_GRACE" envDefault:"5s"`
	LocationTimeout      time.Duration `env:"PUBHUNT_LOCATION_TIMEOUT" envDefault:"30s"`

	StateDB    string `env:"PUBHUNT_STATE_DB" envDefault:"pubhunt.db"`
	SessionKey string `env:"PUBHUNT_SESSION_KEY"`

	ViewAddr    string   `env:"PUBHUNT_VIEW_ADDR" envDefault:"127.0.0.1:8090"`
	CORSOrigins []string `env:"PUBHUNT_CORS_ORIGINS" envDefault:"*"`
	PublicURL   string   `env:"PUBHUNT_PUBLIC_URL"`

	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
}

// Load reads an optional .env file, then the environment. Unset server URLs
// fall back to the local backend in development mode only.
func Load(dotenv ...string) (*Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() error {
	switch c.Mode {
	case ModeDevelopment:
		if c.APIURL == "" {
			c.APIURL = devAPIURL
		}
		if c.WSURL == "" {
			c.WSURL = devWSURL
		}
	case ModeProduction:
		if c.APIURL == "" || c.WSURL == "" {
			return errors.New("PUBHUNT_API_URL and PUBHUNT_WS_URL are required in production")
		}
	default:
		return fmt.Errorf("unknown PUBHUNT_MODE %q", c.Mode)
	}

	if c.RetryMax < 0 {
		return fmt.Errorf("PUBHUNT_RETRY_MAX must not be negative, got %d", c.RetryMax)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("PUBHUNT_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.PollFailureThreshold < 1 {
		return fmt.Errorf("PUBHUNT_POLL_FAILURE_THRESHOLD must be at least 1, got %d", c.PollFailureThreshold)
	}
	return nil
}
