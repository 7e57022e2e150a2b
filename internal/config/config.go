package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "TransitPay"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultAntiPassback   = 15 * time.Second
	defaultWelcomeCredit  = int64(5_000)
	defaultDeviceRate     = 120
	defaultAdminRate      = 20
)

// Config captures the central API server's runtime configuration, loaded
// from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// Admin session settings. The password is configured as a bcrypt hash;
	// plaintext secrets never appear in the environment or in source.
	AdminUsername     string
	AdminPasswordHash string
	AdminTokenSecret  string

	// Fare policy advertised to validators.
	AntiPassback  time.Duration
	WelcomeCredit int64

	// DeviceRatePerMin caps device-facing calls per validator per minute;
	// AdminRatePerMin caps admin calls per credential or address per minute.
	DeviceRatePerMin int
	AdminRatePerMin  int
}

// Load reads the server configuration from the environment. DATABASE_URL and
// REDIS_URL are required outside development; development falls back to the
// in-memory store.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		AdminTokenSecret:  os.Getenv("ADMIN_TOKEN_SECRET"),
		AntiPassback:      defaultAntiPassback,
		WelcomeCredit:     defaultWelcomeCredit,
		DeviceRatePerMin:  defaultDeviceRate,
		AdminRatePerMin:   defaultAdminRate,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AntiPassback, err = secondsEnv("ANTI_PASSBACK_SECONDS", cfg.AntiPassback); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("WELCOME_CREDIT"); v != "" {
		amount, err := strconv.ParseInt(v, 10, 64)
		if err != nil || amount < 0 {
			return Config{}, fmt.Errorf("invalid WELCOME_CREDIT: %q", v)
		}
		cfg.WelcomeCredit = amount
	}
	if v := os.Getenv("DEVICE_RATE_PER_MIN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid DEVICE_RATE_PER_MIN: %q", v)
		}
		cfg.DeviceRatePerMin = n
	}
	if v := os.Getenv("ADMIN_RATE_PER_MIN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid ADMIN_RATE_PER_MIN: %q", v)
		}
		cfg.AdminRatePerMin = n
	}

	if cfg.AdminPasswordHash == "" {
		return Config{}, fmt.Errorf("ADMIN_PASSWORD_HASH must be set")
	}
	if cfg.AdminTokenSecret == "" {
		return Config{}, fmt.Errorf("ADMIN_TOKEN_SECRET must be set")
	}
	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// IsDev reports whether the server runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// DeviceConfig captures the validator daemon's runtime configuration.
type DeviceConfig struct {
	ValidatorID string
	DeviceKey   string
	APIBaseURL  string
	LogLevel    string

	// IssuerKey signs card state; shared with the card issuing flow.
	IssuerKey string

	// QueuePath locates the durable transaction log on the device.
	QueuePath string

	RouteName     string
	FareID        string
	FareAmount    int64
	AntiPassback  time.Duration
	AdminPIN      string
	WelcomeCredit int64

	SyncInterval      time.Duration
	HeartbeatInterval time.Duration
}

// LoadDevice reads the validator daemon configuration from the environment.
func LoadDevice() (DeviceConfig, error) {
	cfg := DeviceConfig{
		ValidatorID:       os.Getenv("VALIDATOR_ID"),
		DeviceKey:         os.Getenv("DEVICE_KEY"),
		APIBaseURL:        os.Getenv("API_BASE_URL"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		IssuerKey:         os.Getenv("ISSUER_KEY"),
		QueuePath:         getEnv("QUEUE_PATH", "validator.db"),
		RouteName:         os.Getenv("ROUTE_NAME"),
		FareID:            getEnv("FARE_ID", "standard"),
		FareAmount:        2_000,
		AntiPassback:      defaultAntiPassback,
		AdminPIN:          os.Getenv("ADMIN_PIN"),
		WelcomeCredit:     defaultWelcomeCredit,
		SyncInterval:      30 * time.Second,
		HeartbeatInterval: 60 * time.Second,
	}

	if v := os.Getenv("FARE_AMOUNT"); v != "" {
		amount, err := strconv.ParseInt(v, 10, 64)
		if err != nil || amount <= 0 {
			return DeviceConfig{}, fmt.Errorf("invalid FARE_AMOUNT: %q", v)
		}
		cfg.FareAmount = amount
	}
	if v := os.Getenv("WELCOME_CREDIT"); v != "" {
		amount, err := strconv.ParseInt(v, 10, 64)
		if err != nil || amount < 0 {
			return DeviceConfig{}, fmt.Errorf("invalid WELCOME_CREDIT: %q", v)
		}
		cfg.WelcomeCredit = amount
	}
	var err error
	if cfg.AntiPassback, err = secondsEnv("ANTI_PASSBACK_SECONDS", cfg.AntiPassback); err != nil {
		return DeviceConfig{}, err
	}
	if cfg.SyncInterval, err = durationEnv("SYNC_INTERVAL", cfg.SyncInterval); err != nil {
		return DeviceConfig{}, err
	}
	if cfg.HeartbeatInterval, err = durationEnv("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval); err != nil {
		return DeviceConfig{}, err
	}

	switch {
	case cfg.ValidatorID == "":
		return DeviceConfig{}, fmt.Errorf("VALIDATOR_ID must be set")
	case cfg.DeviceKey == "":
		return DeviceConfig{}, fmt.Errorf("DEVICE_KEY must be set")
	case cfg.APIBaseURL == "":
		return DeviceConfig{}, fmt.Errorf("API_BASE_URL must be set")
	case cfg.IssuerKey == "":
		return DeviceConfig{}, fmt.Errorf("ISSUER_KEY must be set")
	case cfg.AdminPIN == "":
		return DeviceConfig{}, fmt.Errorf("ADMIN_PIN must be set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads KEY as a Go duration, or KEY_SECONDS as an integer
// second count, preferring the seconds form when both are set.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func secondsEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(seconds) * time.Second, nil
}
