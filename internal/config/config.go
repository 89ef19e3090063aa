// Package config loads service configuration from an optional YAML file,
// an optional .env file, and environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Notification sinks.
const (
	SinkLog   = "log"
	SinkEmail = "email"
	SinkRedis = "redis"
	SinkKafka = "kafka"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Registration RegistrationConfig `yaml:"registration"`
	Notify       NotifyConfig       `yaml:"notify"`
	Jobs         JobsConfig         `yaml:"jobs"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigin   string        `yaml:"allowed_origin"`
}

// DatabaseConfig selects and configures the store backend
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "memory", "postgres" or "sqlite"
	URL      string `yaml:"url"`    // postgres URL; overrides the discrete fields
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`

	SQLitePath     string        `yaml:"sqlite_path"`
	TxTimeout      time.Duration `yaml:"tx_timeout"`
	MigrateOnStart bool          `yaml:"migrate_on_start"`
}

// DSN returns the postgres connection URL. golang-migrate only accepts the
// URL form, so the key/value form is never produced.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + strconv.Itoa(d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// AuthConfig contains bearer token settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// RegistrationConfig contains registration rules
type RegistrationConfig struct {
	CancellationWindow time.Duration `yaml:"cancellation_window"`
}

// NotifyConfig contains notification delivery settings
type NotifyConfig struct {
	Sink       string         `yaml:"sink"`
	Workers    int            `yaml:"workers"`
	QueueSize  int            `yaml:"queue_size"`
	MaxRetries int            `yaml:"max_retries"`
	RetryDelay time.Duration  `yaml:"retry_delay"`
	Locale     string         `yaml:"locale"`
	Redis      RedisConfig    `yaml:"redis"`
	Kafka      KafkaConfig    `yaml:"kafka"`
	SendGrid   SendGridConfig `yaml:"sendgrid"`
}

// RedisConfig points the redis sink at a list
type RedisConfig struct {
	URL  string `yaml:"url"`
	List string `yaml:"list"`
}

// KafkaConfig points the kafka sink at a topic
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// SendGridConfig contains email provider settings
type SendGridConfig struct {
	APIKey    string `yaml:"api_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// JobsConfig contains scheduled job settings
type JobsConfig struct {
	ReconcileSchedule string `yaml:"reconcile_schedule"` // cron expression with seconds; empty disables
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns the local-development configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigin:   "*",
		},
		Database: DatabaseConfig{
			Driver:     DriverMemory,
			Host:       "localhost",
			Port:       5432,
			User:       "postgres",
			Password:   "postgres",
			Name:       "clubregistration",
			SSLMode:    "disable",
			SQLitePath: "clubregistration.db",
			TxTimeout:  750 * time.Millisecond,
		},
		Auth: AuthConfig{
			Issuer: "club-registration",
		},
		Registration: RegistrationConfig{
			CancellationWindow: 24 * time.Hour,
		},
		Notify: NotifyConfig{
			Sink:       SinkLog,
			Workers:    2,
			QueueSize:  256,
			MaxRetries: 3,
			RetryDelay: 500 * time.Millisecond,
			Locale:     "en",
			Redis:      RedisConfig{URL: "redis://localhost:6379/0", List: "notifications"},
			Kafka:      KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "registration-events"},
			SendGrid:   SendGridConfig{FromEmail: "no-reply@example.com", FromName: "Reading Clubs"},
		},
		Jobs: JobsConfig{
			ReconcileSchedule: "0 */15 * * * *",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. configPath may be empty, in which case only
// defaults and the environment are used.
func Load(configPath string) (*Config, error) {
	// .env is optional when variables are supplied by the environment.
	_ = godotenv.Load()

	cfg := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.overrideWithEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() error {
	str := map[string]*string{
		"PORT":               &c.Server.Port,
		"ALLOWED_ORIGIN":     &c.Server.AllowedOrigin,
		"DB_DRIVER":          &c.Database.Driver,
		"DATABASE_URL":       &c.Database.URL,
		"DB_HOST":            &c.Database.Host,
		"DB_USER":            &c.Database.User,
		"DB_PASSWORD":        &c.Database.Password,
		"DB_NAME":            &c.Database.Name,
		"DB_SSLMODE":         &c.Database.SSLMode,
		"SQLITE_PATH":        &c.Database.SQLitePath,
		"JWT_SECRET":         &c.Auth.JWTSecret,
		"NOTIFY_SINK":        &c.Notify.Sink,
		"NOTIFY_LOCALE":      &c.Notify.Locale,
		"REDIS_URL":          &c.Notify.Redis.URL,
		"KAFKA_TOPIC":        &c.Notify.Kafka.Topic,
		"SENDGRID_API_KEY":   &c.Notify.SendGrid.APIKey,
		"SENDGRID_FROM":      &c.Notify.SendGrid.FromEmail,
		"RECONCILE_SCHEDULE": &c.Jobs.ReconcileSchedule,
		"LOG_LEVEL":          &c.Log.Level,
		"LOG_FORMAT":         &c.Log.Format,
	}
	for key, dst := range str {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			*dst = val
		}
	}

	if val := os.Getenv("DB_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("DB_PORT: %w", err)
		}
		c.Database.Port = port
	}
	if val := os.Getenv("DB_MIGRATE"); val != "" {
		on, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("DB_MIGRATE: %w", err)
		}
		c.Database.MigrateOnStart = on
	}
	if val := os.Getenv("DB_TX_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("DB_TX_TIMEOUT: %w", err)
		}
		c.Database.TxTimeout = d
	}
	if val := os.Getenv("CANCELLATION_WINDOW"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("CANCELLATION_WINDOW: %w", err)
		}
		c.Registration.CancellationWindow = d
	}
	if val := os.Getenv("KAFKA_BROKERS"); val != "" {
		c.Notify.Kafka.Brokers = strings.Split(val, ",")
	}
	return nil
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if u, err := url.Parse(c.Database.DSN()); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("database url %q is not a valid postgres url", c.Database.URL))
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("database.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Database.TxTimeout <= 0 {
		errs = append(errs, errors.New("database.tx_timeout must be positive"))
	}

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Registration.CancellationWindow < 0 {
		errs = append(errs, errors.New("registration.cancellation_window cannot be negative"))
	}

	switch c.Notify.Sink {
	case SinkLog:
	case SinkEmail:
		// Without an api key rendered emails are only logged.
		if c.Notify.SendGrid.APIKey != "" && c.Notify.SendGrid.FromEmail == "" {
			errs = append(errs, errors.New("notify.sendgrid.from_email is required when an api key is set"))
		}
	case SinkRedis:
		if c.Notify.Redis.URL == "" || c.Notify.Redis.List == "" {
			errs = append(errs, errors.New("notify.redis.url and notify.redis.list are required for the redis sink"))
		}
	case SinkKafka:
		if len(c.Notify.Kafka.Brokers) == 0 || c.Notify.Kafka.Topic == "" {
			errs = append(errs, errors.New("notify.kafka.brokers and notify.kafka.topic are required for the kafka sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notification sink %q", c.Notify.Sink))
	}
	if c.Notify.Workers < 1 {
		errs = append(errs, errors.New("notify.workers must be at least 1"))
	}
	if c.Notify.QueueSize < 1 {
		errs = append(errs, errors.New("notify.queue_size must be at least 1"))
	}
	if c.Notify.MaxRetries < 0 {
		errs = append(errs, errors.New("notify.max_retries cannot be negative"))
	}

	return errors.Join(errs...)
}
