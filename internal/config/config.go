package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:",squash"`
	Database  DatabaseConfig  `mapstructure:",squash"`
	Redis     RedisConfig     `mapstructure:",squash"`
	Scheduler SchedulerConfig `mapstructure:",squash"`
	Logging   LoggingConfig   `mapstructure:",squash"`
	Business  BusinessConfig  `mapstructure:",squash"`
	Auth      AuthConfig      `mapstructure:",squash"`
	Tracing   TracingConfig   `mapstructure:",squash"`
	Health    HealthConfig    `mapstructure:",squash"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"SERVER_PORT"`
	Host           string        `mapstructure:"SERVER_HOST"`
	Env            string        `mapstructure:"ENV"`
	ReadTimeout    time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"DATABASE_URL"`
	Host            string        `mapstructure:"DATABASE_HOST"`
	Port            string        `mapstructure:"DATABASE_PORT"`
	Name            string        `mapstructure:"DATABASE_NAME"`
	User            string        `mapstructure:"DATABASE_USER"`
	Password        string        `mapstructure:"DATABASE_PASSWORD"`
	SSLMode         string        `mapstructure:"DATABASE_SSLMODE"`
	MaxOpenConns    int           `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
	ConnectRetries  int           `mapstructure:"DATABASE_CONNECT_RETRIES"`
	RetryDelay      time.Duration `mapstructure:"DATABASE_RETRY_DELAY"`
	MigrateOnStart  bool          `mapstructure:"DATABASE_MIGRATE_ON_START"`
}

type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

type SchedulerConfig struct {
	TickSpec    string        `mapstructure:"SCHEDULER_TICK_SPEC"`
	Timezone    string        `mapstructure:"SCHEDULER_TIMEZONE"`
	TickURL     string        `mapstructure:"SCHEDULER_TICK_URL"`
	TickSecret  string        `mapstructure:"TICK_SECRET"`
	TickTimeout time.Duration `mapstructure:"TICK_TIMEOUT"`
	TickLockTTL time.Duration `mapstructure:"TICK_LOCK_TTL"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type BusinessConfig struct {
	ScheduleMonths       int `mapstructure:"SCHEDULE_MONTHS"`
	FirstDueBusinessDays int `mapstructure:"FIRST_DUE_BUSINESS_DAYS"`
}

type AuthConfig struct {
	AdminJWTSecret     string  `mapstructure:"ADMIN_JWT_SECRET"`
	RegistrationPerMin float64 `mapstructure:"REGISTRATION_RATE_PER_MINUTE"`
	RegistrationBurst  int     `mapstructure:"REGISTRATION_BURST"`
	PasswordMinLength  int     `mapstructure:"PASSWORD_MIN_LENGTH"`
}

type TracingConfig struct {
	Endpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

type HealthConfig struct {
	Timeout time.Duration `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

var defaults = map[string]any{
	"SERVER_PORT":                  "8080",
	"SERVER_HOST":                  "0.0.0.0",
	"ENV":                          "development",
	"SERVER_READ_TIMEOUT":          "15s",
	"SERVER_WRITE_TIMEOUT":         "30s",
	"REQUEST_TIMEOUT":              "10s",
	"DATABASE_HOST":                "localhost",
	"DATABASE_PORT":                "5432",
	"DATABASE_NAME":                "dues",
	"DATABASE_USER":                "postgres",
	"DATABASE_SSLMODE":             "disable",
	"DATABASE_MAX_OPEN_CONNS":      10,
	"DATABASE_MAX_IDLE_CONNS":      5,
	"DATABASE_CONN_MAX_LIFETIME":   "30m",
	"DATABASE_CONNECT_RETRIES":     8,
	"DATABASE_RETRY_DELAY":         "3s",
	"DATABASE_MIGRATE_ON_START":    true,
	"REDIS_HOST":                   "localhost",
	"REDIS_PORT":                   "6379",
	"REDIS_DB":                     0,
	"SCHEDULER_TICK_SPEC":          "0 0 0 1 * *",
	"SCHEDULER_TIMEZONE":           "America/Sao_Paulo",
	"SCHEDULER_TICK_URL":           "http://localhost:8080/api/v1/tick",
	"TICK_TIMEOUT":                 "5m",
	"TICK_LOCK_TTL":                "10m",
	"LOG_LEVEL":                    "info",
	"LOG_FORMAT":                   "json",
	"SCHEDULE_MONTHS":              12,
	"FIRST_DUE_BUSINESS_DAYS":      3,
	"REGISTRATION_RATE_PER_MINUTE": 5,
	"REGISTRATION_BURST":           5,
	"PASSWORD_MIN_LENGTH":          8,
	"OTEL_SERVICE_NAME":            "dues-engine",
	"HEALTH_CHECK_TIMEOUT":         "5s",
}

// keys without a default still have to be bound so Unmarshal sees them
var boundOnly = []string{
	"DATABASE_URL",
	"DATABASE_PASSWORD",
	"REDIS_PASSWORD",
	"TICK_SECRET",
	"ADMIN_JWT_SECRET",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
}

// Load reads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	// Don't fail if .env file doesn't exist; real environment wins over the file
	_ = godotenv.Load(".env")
	_ = godotenv.Load("deployments/.env")

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range boundOnly {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("DATABASE_URL or DATABASE_HOST is required")
	}

	if c.Business.ScheduleMonths <= 0 {
		return fmt.Errorf("SCHEDULE_MONTHS must be greater than 0")
	}

	if c.Business.FirstDueBusinessDays < 0 {
		return fmt.Errorf("FIRST_DUE_BUSINESS_DAYS must not be negative")
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid IANA zone: %w", err)
	}

	if c.Scheduler.TickTimeout <= 0 {
		return fmt.Errorf("TICK_TIMEOUT must be a positive duration")
	}

	// a lock that expires mid-run lets a second tick start
	if c.Scheduler.TickLockTTL < c.Scheduler.TickTimeout {
		return fmt.Errorf("TICK_LOCK_TTL (%s) must not be shorter than TICK_TIMEOUT (%s)",
			c.Scheduler.TickLockTTL, c.Scheduler.TickTimeout)
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be a positive duration")
	}

	if c.IsProduction() {
		if len(c.Scheduler.TickSecret) < 16 {
			return fmt.Errorf("TICK_SECRET must be at least 16 characters in production")
		}
		if len(c.Auth.AdminJWTSecret) < 32 {
			return fmt.Errorf("ADMIN_JWT_SECRET must be at least 32 characters in production")
		}
	}

	return nil
}

// DSN returns the Postgres connection string
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// Location returns the civil-date timezone used for activation dates and the tick
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
