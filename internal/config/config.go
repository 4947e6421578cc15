// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"projectdesk.io/internal/auth"
)

const (
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
)

// Auth holds runtime configuration for the auth service.
type Auth struct {
	Env      string `envconfig:"AUTH_ENV" default:"development"`
	GRPCAddr string `envconfig:"AUTH_GRPC_ADDR" default:":50051"`
	HTTPAddr string `envconfig:"AUTH_HTTP_ADDR" default:":8081"`

	JWTSecret       string        `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer       string        `envconfig:"JWT_ISSUER" default:"projectdesk-auth"`
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"1h"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"168h"`
	SessionTTL      time.Duration `envconfig:"SESSION_TTL" default:"1h"`
	BcryptCost      int           `envconfig:"BCRYPT_COST" default:"12"`

	PGDSN          string `envconfig:"PG_DSN"`
	AutoMigrate    bool   `envconfig:"AUTH_AUTO_MIGRATE" default:"false"`
	SessionBackend string `envconfig:"SESSION_BACKEND" default:"postgres"`
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPrefix    string `envconfig:"REDIS_SESSION_PREFIX" default:"session:"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Gateway holds runtime configuration for the HTTP gateway.
type Gateway struct {
	Env             string        `envconfig:"GATEWAY_ENV" default:"development"`
	Addr            string        `envconfig:"GATEWAY_ADDR" default:":8080"`
	AuthServiceAddr string        `envconfig:"AUTH_SERVICE_ADDR" default:"localhost:50051"`
	AuthRPCTimeout  time.Duration `envconfig:"AUTH_RPC_TIMEOUT" default:"10s"`
	ReadTimeout     time.Duration `envconfig:"GATEWAY_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"GATEWAY_WRITE_TIMEOUT" default:"30s"`

	RateLimitBurst  int      `envconfig:"RATE_LIMIT_BURST" default:"20"`
	RateLimitPerSec float64  `envconfig:"RATE_LIMIT_PER_SEC" default:"10"`
	LoginRateLimit  int      `envconfig:"LOGIN_RATE_LIMIT" default:"10"`
	MaxBodyBytes    int64    `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	CORSOrigins     []string `envconfig:"CORS_ORIGINS"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// LoadAuth reads auth service configuration. A .env file in the working
// directory is applied first when present; real environment variables win.
func LoadAuth() (*Auth, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	var cfg Auth
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Auth) validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return auth.ErrMissingSecret
	}
	switch c.SessionBackend {
	case SessionBackendPostgres, SessionBackendRedis:
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.PGDSN == "" && !c.IsDev() {
		return errors.New("PG_DSN must be provided outside dev mode")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}

// IsDev reports whether the service may run on the in-memory store.
func (c *Auth) IsDev() bool {
	if c == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "dev", "development":
		return true
	}
	return false
}

// TokenConfig builds the signing configuration shared by issuer and validator.
func (c *Auth) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Secret:     []byte(c.JWTSecret),
		Issuer:     c.JWTIssuer,
		AccessTTL:  c.AccessTokenTTL,
		RefreshTTL: c.RefreshTokenTTL,
	}
}

// LoadGateway reads gateway configuration.
func LoadGateway() (*Gateway, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	var cfg Gateway
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AuthServiceAddr) == "" {
		return nil, errors.New("AUTH_SERVICE_ADDR must be provided")
	}
	if cfg.AuthRPCTimeout <= 0 {
		return nil, errors.New("AUTH_RPC_TIMEOUT must be positive")
	}
	return &cfg, nil
}

// IsProduction returns true when the gateway runs in production.
func (c *Gateway) IsProduction() bool {
	return c != nil && c.Env == "production"
}

func loadDotEnv() error {
	path := os.Getenv("DOTENV_PATH")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
