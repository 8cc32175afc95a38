// Package config loads bnbvote settings from BNBVOTE_* environment
// variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/layer-3/bnbvote/adapters/tokenizer"
	"github.com/layer-3/bnbvote/connection"
)

// Config is the server configuration
type Config struct {
	Addr            string        `env:"BNBVOTE_ADDR"             envDefault:":9000"`
	ShutdownTimeout time.Duration `env:"BNBVOTE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogFormat       string        `env:"BNBVOTE_LOG_FORMAT"       envDefault:"json"`
	LogLevel        string        `env:"BNBVOTE_LOG_LEVEL"        envDefault:"info"`

	// StoreURI selects the card store: redis://, rediss://, sqlite://<path> or memory://
	StoreURI string `env:"BNBVOTE_STORE_URI" envDefault:"sqlite://bnbvote.db"`

	// RedisURL, when set, holds nonces and revoked sessions and carries
	// events between instances. Without it both stay in process.
	RedisURL string `env:"BNBVOTE_REDIS_URL"`

	MinPoolSize            int           `env:"BNBVOTE_STORE_MIN_POOL_SIZE"            envDefault:"10"`
	MaxPoolSize            int           `env:"BNBVOTE_STORE_MAX_POOL_SIZE"            envDefault:"100"`
	ConnectTimeout         time.Duration `env:"BNBVOTE_STORE_CONNECT_TIMEOUT"          envDefault:"30s"`
	SocketTimeout          time.Duration `env:"BNBVOTE_STORE_SOCKET_TIMEOUT"           envDefault:"45s"`
	ServerSelectionTimeout time.Duration `env:"BNBVOTE_STORE_SERVER_SELECTION_TIMEOUT" envDefault:"30s"`
	MinReconnectInterval   time.Duration `env:"BNBVOTE_STORE_MIN_RECONNECT_INTERVAL"   envDefault:"5s"`
	HealthCheckInterval    time.Duration `env:"BNBVOTE_STORE_HEALTH_CHECK_INTERVAL"    envDefault:"15s"`

	QueryTimeout  time.Duration `env:"BNBVOTE_QUERY_TIMEOUT"  envDefault:"5s"`
	CacheTTL      time.Duration `env:"BNBVOTE_CACHE_TTL"      envDefault:"60s"`
	CacheCapacity int           `env:"BNBVOTE_CACHE_CAPACITY" envDefault:"100"`

	JWTSecret     string        `env:"BNBVOTE_JWT_SECRET,required,notEmpty,unset"`
	AppName       string        `env:"BNBVOTE_APP_NAME"          envDefault:"BNBvote"`
	NonceTTL      time.Duration `env:"BNBVOTE_NONCE_TTL"         envDefault:"5m"`
	SessionTTL    time.Duration `env:"BNBVOTE_SESSION_TTL"       envDefault:"168h"`
	NonceCapacity int           `env:"BNBVOTE_NONCE_CAPACITY"    envDefault:"10000"`
}

// Load parses and validates the server configuration
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express
func (c Config) Validate() error {
	if len(c.JWTSecret) < tokenizer.MinSecretLength {
		return fmt.Errorf("BNBVOTE_JWT_SECRET must be at least %d bytes", tokenizer.MinSecretLength)
	}
	if c.MinPoolSize < 0 || c.MaxPoolSize < c.MinPoolSize {
		return fmt.Errorf("invalid store pool bounds %d..%d", c.MinPoolSize, c.MaxPoolSize)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("BNBVOTE_CACHE_CAPACITY must be positive")
	}
	if c.MinReconnectInterval <= 0 {
		return fmt.Errorf("BNBVOTE_STORE_MIN_RECONNECT_INTERVAL must be positive")
	}
	if c.HealthCheckInterval < 0 {
		return fmt.Errorf("BNBVOTE_STORE_HEALTH_CHECK_INTERVAL must not be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// ConnectionOptions returns the store connection settings
func (c Config) ConnectionOptions() connection.Options {
	return connection.Options{
		MinPoolSize:            c.MinPoolSize,
		MaxPoolSize:            c.MaxPoolSize,
		ConnectTimeout:         c.ConnectTimeout,
		SocketTimeout:          c.SocketTimeout,
		ServerSelectionTimeout: c.ServerSelectionTimeout,
		MinReconnectInterval:   c.MinReconnectInterval,
		HealthCheckInterval:    c.HealthCheckInterval,
	}
}

// ClientConfig configures votectl
type ClientConfig struct {
	BaseURL         string        `env:"BNBVOTE_API_URL"          envDefault:"http://localhost:9000"`
	Timeout         time.Duration `env:"BNBVOTE_CLIENT_TIMEOUT"   envDefault:"10s"`
	ReadRetries     int           `env:"BNBVOTE_CLIENT_RETRIES"   envDefault:"3"`
	MutationRetries int           `env:"BNBVOTE_CLIENT_VOTE_RETRIES" envDefault:"1"`
	BaseDelay       time.Duration `env:"BNBVOTE_CLIENT_BACKOFF"   envDefault:"1s"`
	PrivateKey      string        `env:"BNBVOTE_PRIVATE_KEY,unset"`
	Token           string        `env:"BNBVOTE_TOKEN,unset"`
	LogFormat       string        `env:"BNBVOTE_LOG_FORMAT"       envDefault:"text"`
	LogLevel        string        `env:"BNBVOTE_LOG_LEVEL"        envDefault:"warn"`
}

// LoadClient parses the client configuration
func LoadClient() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// NewLogger builds a slog logger writing format ("json" or "text") to w
func NewLogger(format, level string, w io.Writer) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler), nil
}

func parseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}
