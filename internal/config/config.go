// Package config loads the planner's settings from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/scheduler"
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Planning  PlanningConfig  `mapstructure:"planning"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig is the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the storage collaborator. With no driver set a DSN
// selects postgres and anything else sqlite.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Path   string `mapstructure:"path"`
}

// AuthConfig holds admin and API key secrets
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	MasterSecret  string        `mapstructure:"master_secret"`
	AdminUsername string        `mapstructure:"admin_username"`
	AdminPassword string        `mapstructure:"admin_password"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	BcryptCost    int           `mapstructure:"bcrypt_cost"`
}

// LogConfig selects the log level and format ("json" or "console")
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PlanningConfig holds the planning core tunables
type PlanningConfig struct {
	Timezone           string             `mapstructure:"timezone"`
	ConfirmationWindow time.Duration      `mapstructure:"confirmation_window"`
	SwapTTL            time.Duration      `mapstructure:"swap_ttl"`
	Workers            int                `mapstructure:"workers"`
	LockAttempts       int                `mapstructure:"lock_attempts"`
	LockBackoffBase    time.Duration      `mapstructure:"lock_backoff_base"`
	LockBackoffCap     time.Duration      `mapstructure:"lock_backoff_cap"`
	ContextDays        int                `mapstructure:"context_days"`
	Caps               map[string]float64 `mapstructure:"caps"`
	Handover           HandoverConfig     `mapstructure:"handover"`
}

// HandoverConfig is the weekly handover window
type HandoverConfig struct {
	Weekday string `mapstructure:"weekday"`
	Start   string `mapstructure:"start"`
	End     string `mapstructure:"end"`
}

// SweepConfig schedules the expiry sweep
type SweepConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// RateLimitConfig is the default per-key request budget
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// MetricsConfig toggles the Prometheus collector and endpoint
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// legacyEnv maps keys to the plain variables the service always read
var legacyEnv = map[string]string{
	"server.port":         "PORT",
	"server.mode":         "GIN_MODE",
	"storage.dsn":         "DATABASE_URL",
	"storage.path":        "DATA_PATH",
	"auth.jwt_secret":     "JWT_SECRET",
	"auth.master_secret":  "API_MASTER_SECRET",
	"auth.admin_username": "ADMIN_USERNAME",
	"auth.admin_password": "ADMIN_PASSWORD",
}

// Load reads configuration. Precedence: environment (PLANNER_*, then the
// legacy variables) over the config file over defaults. An empty path looks
// for config.yaml in ./config and the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, "PLANNER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("storage.driver", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.path", "planner.db")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.master_secret", "")
	v.SetDefault("auth.admin_username", "admin")
	v.SetDefault("auth.admin_password", "admin123")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.bcrypt_cost", 14)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("planning.timezone", "Europe/Amsterdam")
	v.SetDefault("planning.confirmation_window", "72h")
	v.SetDefault("planning.swap_ttl", "48h")
	v.SetDefault("planning.workers", 4)
	v.SetDefault("planning.lock_attempts", 8)
	v.SetDefault("planning.lock_backoff_base", "5ms")
	v.SetDefault("planning.lock_backoff_cap", "200ms")
	v.SetDefault("planning.context_days", 14)
	v.SetDefault("planning.caps", map[string]float64{
		string(models.CategoryWaakdienst): 52,
		string(models.CategoryIncident):   52,
	})
	v.SetDefault("planning.handover.weekday", "wednesday")
	v.SetDefault("planning.handover.start", "08:00")
	v.SetDefault("planning.handover.end", "17:00")

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.schedule", "@every 5m")

	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 20)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "planner")
}

// Release reports whether the server runs in gin release mode
func (c *Config) Release() bool {
	return c.Server.Mode == "" || c.Server.Mode == "release"
}

// StorageDriver resolves the effective storage driver
func (c *Config) StorageDriver() string {
	if c.Storage.Driver != "" {
		return strings.ToLower(c.Storage.Driver)
	}
	if c.Storage.DSN != "" {
		return DriverPostgres
	}
	return DriverSQLite
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.Mode {
	case "", "release", "debug", "test":
	default:
		return fmt.Errorf("config: unknown server.mode %q", c.Server.Mode)
	}

	switch c.StorageDriver() {
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("config: storage.dsn is required for the postgres driver")
		}
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Release() {
		if c.Auth.JWTSecret == "" {
			return errors.New("config: auth.jwt_secret must be set in release mode")
		}
		if c.Auth.MasterSecret == "" {
			return errors.New("config: auth.master_secret must be set in release mode")
		}
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: auth.token_ttl must be positive")
	}

	if _, err := time.LoadLocation(c.Planning.Timezone); err != nil {
		return fmt.Errorf("config: planning.timezone: %w", err)
	}
	if c.Planning.Workers <= 0 {
		return errors.New("config: planning.workers must be positive")
	}
	if c.Planning.LockAttempts <= 0 {
		return errors.New("config: planning.lock_attempts must be positive")
	}
	for cat, limit := range c.Planning.Caps {
		if limit <= 0 || limit > 52 {
			return fmt.Errorf("config: planning.caps.%s must be in (0, 52], got %g", cat, limit)
		}
	}
	if _, err := c.Planning.Handover.weekday(); err != nil {
		return err
	}
	start, err := time.Parse("15:04", c.Planning.Handover.Start)
	if err != nil {
		return fmt.Errorf("config: planning.handover.start: %w", err)
	}
	end, err := time.Parse("15:04", c.Planning.Handover.End)
	if err != nil {
		return fmt.Errorf("config: planning.handover.end: %w", err)
	}
	if !end.After(start) {
		return errors.New("config: planning.handover must end after it starts")
	}

	if c.Sweep.Enabled && c.Sweep.Schedule == "" {
		return errors.New("config: sweep.schedule is required when the sweep is enabled")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("config: ratelimit.rps and ratelimit.burst must be positive")
	}
	return nil
}

func (h HandoverConfig) weekday() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(h.Weekday, d.String()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("config: unknown planning.handover.weekday %q", h.Weekday)
}

// Policy converts the planning section into the core's policy
func (c *Config) Policy() (scheduler.Policy, error) {
	loc, err := time.LoadLocation(c.Planning.Timezone)
	if err != nil {
		return scheduler.Policy{}, fmt.Errorf("config: planning.timezone: %w", err)
	}
	day, err := c.Planning.Handover.weekday()
	if err != nil {
		return scheduler.Policy{}, err
	}
	caps := make(map[models.Category]float64, len(c.Planning.Caps))
	for cat, limit := range c.Planning.Caps {
		caps[models.Category(cat).Normalize()] = limit
	}
	return scheduler.Policy{
		Location:           loc,
		ConfirmationWindow: c.Planning.ConfirmationWindow,
		SwapTTL:            c.Planning.SwapTTL,
		Workers:            c.Planning.Workers,
		LockAttempts:       c.Planning.LockAttempts,
		LockBackoffBase:    c.Planning.LockBackoffBase,
		LockBackoffCap:     c.Planning.LockBackoffCap,
		ContextDays:        c.Planning.ContextDays,
		Caps:               caps,
		Handover: scheduler.Handover{
			Weekday: day,
			Start:   c.Planning.Handover.Start,
			End:     c.Planning.Handover.End,
		},
	}, nil
}

// LoadDotEnv loads the first .env file found in the working directory or
// its parents and returns its path, or "" when there is none
func LoadDotEnv() string {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return p
		}
	}
	return ""
}
