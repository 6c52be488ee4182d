package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName           = "WalletLedger"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultBalanceCacheTTL   = 300 * time.Second
	defaultReservationTTL    = 15 * time.Minute
	defaultReconcileInterval = time.Minute
	defaultReconcileBatch    = 100
	defaultGatewayMode       = GatewaySimulated
	defaultGatewayTimeout    = 5 * time.Second
	defaultGatewayFailure    = 0.1
	defaultCurrency          = "XAF"
	defaultMovementRateLimit = 30
	idemTTLSecondsEnvVar     = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar         = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar    = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar   = "SHUTDOWN_TIMEOUT"
)

// Gateway modes accepted by GATEWAY_MODE.
const (
	GatewayStatic    = "static"
	GatewaySimulated = "simulated"
	GatewayStripe    = "stripe"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	BalanceCacheTTL   time.Duration
	ReservationTTL    time.Duration
	ReconcileInterval time.Duration
	ReconcileBatch    int

	GatewayMode        string
	GatewayTimeout     time.Duration
	GatewayFailureRate float64
	StripeSecretKey    string
	DefaultCurrency    string

	// MovementRateLimit caps money movements per account per minute.
	MovementRateLimit int

	DBMaxConns  int32
	AutoMigrate bool
}

// Load reads an optional .env file, then populates a Config from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		ShutdownPeriod:     defaultShutdownDelay,
		IdempotencyTTL:     defaultIdempotencyTTL,
		ReconcileBatch:     defaultReconcileBatch,
		GatewayMode:        strings.ToLower(getEnv("GATEWAY_MODE", defaultGatewayMode)),
		GatewayFailureRate: defaultGatewayFailure,
		StripeSecretKey:    os.Getenv("STRIPE_SECRET_KEY"),
		DefaultCurrency:    strings.ToUpper(getEnv("DEFAULT_CURRENCY", defaultCurrency)),
		MovementRateLimit:  defaultMovementRateLimit,
		AutoMigrate:        true,
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.BalanceCacheTTL, err = duration("BALANCE_CACHE_TTL", defaultBalanceCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.ReservationTTL, err = duration("RESERVATION_TTL", defaultReservationTTL); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = duration("RECONCILE_INTERVAL", defaultReconcileInterval); err != nil {
		return Config{}, err
	}
	if cfg.GatewayTimeout, err = duration("GATEWAY_TIMEOUT", defaultGatewayTimeout); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("RECONCILE_BATCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid RECONCILE_BATCH: %q", v)
		}
		cfg.ReconcileBatch = n
	}

	if v := os.Getenv("MOVEMENT_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MOVEMENT_RATE_LIMIT: %q", v)
		}
		cfg.MovementRateLimit = n
	}

	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid DB_MAX_CONNS: %q", v)
		}
		cfg.DBMaxConns = int32(n)
	}

	if v := os.Getenv("AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AUTO_MIGRATE: %q", v)
		}
		cfg.AutoMigrate = b
	}

	if v := os.Getenv("GATEWAY_FAILURE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate < 0 || rate > 1 {
			return Config{}, fmt.Errorf("invalid GATEWAY_FAILURE_RATE: %q", v)
		}
		cfg.GatewayFailureRate = rate
	}

	switch cfg.GatewayMode {
	case GatewayStatic, GatewaySimulated:
	case GatewayStripe:
		if cfg.StripeSecretKey == "" {
			return Config{}, fmt.Errorf("STRIPE_SECRET_KEY must be set when GATEWAY_MODE=stripe")
		}
	default:
		return Config{}, fmt.Errorf("invalid GATEWAY_MODE: %q", cfg.GatewayMode)
	}

	if cfg.ReservationTTL <= cfg.GatewayTimeout {
		return Config{}, fmt.Errorf("RESERVATION_TTL (%s) must exceed GATEWAY_TIMEOUT (%s)", cfg.ReservationTTL, cfg.GatewayTimeout)
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDevelopment reports whether in-memory fallbacks are allowed.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return duration(durationKey, fallback)
}
