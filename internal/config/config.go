package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	// Optional distributed lock; empty means in-process locking.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	// Fine amounts in minor currency units.
	PerDayFineRate     int64 `yaml:"perDayFineRate"`
	MaxOutstandingFine int64 `yaml:"maxOutstandingFine"`
	LostBookFine       int64 `yaml:"lostBookFine"`
	DamagedBookFine    int64 `yaml:"damagedBookFine"`

	ReservationHoldDays int    `yaml:"reservationHoldDays"`
	PickupDays          int    `yaml:"pickupDays"`
	SweepInterval       string `yaml:"sweepInterval"`

	// Per-actor request cap per minute; 0 disables rate limiting.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("CIRCULATION_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("CIRCULATION_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("CIRCULATION_PER_DAY_FINE_RATE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.PerDayFineRate = n
		}
	}
	if v := os.Getenv("CIRCULATION_MAX_OUTSTANDING_FINE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxOutstandingFine = n
		}
	}
	if v := os.Getenv("CIRCULATION_LOST_BOOK_FINE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.LostBookFine = n
		}
	}
	if v := os.Getenv("CIRCULATION_DAMAGED_BOOK_FINE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DamagedBookFine = n
		}
	}
	if v := os.Getenv("CIRCULATION_RESERVATION_HOLD_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReservationHoldDays = n
		}
	}
	if v := os.Getenv("CIRCULATION_PICKUP_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PickupDays = n
		}
	}
	if v := os.Getenv("CIRCULATION_SWEEP_INTERVAL"); v != "" {
		cfg.SweepInterval = v
	}
	if v := os.Getenv("CIRCULATION_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.PerDayFineRate == 0 {
		cfg.PerDayFineRate = 5000
	}
	if cfg.MaxOutstandingFine == 0 {
		cfg.MaxOutstandingFine = 50000
	}
	if cfg.LostBookFine == 0 {
		cfg.LostBookFine = 200000
	}
	if cfg.DamagedBookFine == 0 {
		cfg.DamagedBookFine = 50000
	}
	if cfg.ReservationHoldDays == 0 {
		cfg.ReservationHoldDays = 7
	}
	if cfg.PickupDays == 0 {
		cfg.PickupDays = 3
	}
	if cfg.SweepInterval == "" {
		cfg.SweepInterval = "5m"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or JWT_SECRET)")
	}
	if cfg.PerDayFineRate < 0 || cfg.MaxOutstandingFine < 0 || cfg.LostBookFine < 0 || cfg.DamagedBookFine < 0 {
		return errors.New("config: fine amounts must be >= 0")
	}
	if cfg.ReservationHoldDays < 0 || cfg.PickupDays < 0 {
		return errors.New("config: reservation windows must be >= 0")
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	if _, err := time.ParseDuration(cfg.SweepInterval); err != nil {
		return fmt.Errorf("config: invalid sweepInterval: %w", err)
	}
	return nil
}

// ParseJWTLeeway parses the optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}
