package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Storage    StorageConfig
	Database   DatabaseConfig
	SQLite     SQLiteConfig
	MSSQL      MSSQLConfig
	KurrentDB  KurrentDBConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Simulation SimulationConfig
}

type ServerConfig struct {
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"development"`
}

// LogConfig controls the zerolog base logger.
type LogConfig struct {
	Level   string `env:"LOG_LEVEL" envDefault:"info"`
	Service string `env:"LOG_SERVICE" envDefault:"ehr-simulator"`
}

// StorageConfig selects the backend for users, scenarios, sessions, action
// logs and summaries: "sqlite", "postgres" or "memory".
type StorageConfig struct {
	Driver string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"simulator"`
	Password string `env:"DB_PASSWORD" envDefault:"simulator"`
	Database string `env:"DB_NAME" envDefault:"simulator"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns int32  `env:"DB_MIN_CONNS" envDefault:"1"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

type SQLiteConfig struct {
	Path        string        `env:"SQLITE_PATH" envDefault:"simulator.db"`
	BusyTimeout time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"5s"`
}

// MSSQLConfig points at an institution's SQL Server scenario catalog. When
// enabled, scenarios are resolved from there instead of the storage backend.
type MSSQLConfig struct {
	Enabled       bool   `env:"MSSQL_ENABLED" envDefault:"false"`
	Host          string `env:"MSSQL_HOST" envDefault:"localhost"`
	Port          int    `env:"MSSQL_PORT" envDefault:"1433"`
	Database      string `env:"MSSQL_DATABASE" envDefault:"training"`
	User          string `env:"MSSQL_USER"`
	Password      string `env:"MSSQL_PASSWORD"`
	Encrypt       bool   `env:"MSSQL_ENCRYPT" envDefault:"false"`
	ScenarioTable string `env:"MSSQL_SCENARIO_TABLE" envDefault:"dbo.TrainingScenarios"`
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	Enabled bool `env:"KURRENTDB_ENABLED" envDefault:"false"`
	// Host is the KurrentDB server hostname
	Host string `env:"KURRENTDB_HOST" envDefault:"localhost"`
	// Port is the gRPC/HTTP port (default 2113)
	Port int `env:"KURRENTDB_PORT" envDefault:"2113"`
	// Insecure disables TLS (for development)
	Insecure bool   `env:"KURRENTDB_INSECURE" envDefault:"true"`
	Username string `env:"KURRENTDB_USERNAME"`
	Password string `env:"KURRENTDB_PASSWORD"`
}

type AuthConfig struct {
	// Required rejects API calls without a bearer token. Off in development.
	Required  bool   `env:"AUTH_REQUIRED" envDefault:"false"`
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-change-in-prod"`
	Issuer    string `env:"JWT_ISSUER" envDefault:"ehr-simulator"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `env:"RATE_LIMIT_RPS" envDefault:"20"`
	Burst             int `env:"RATE_LIMIT_BURST" envDefault:"40"`
}

// SimulationConfig tunes the session engine.
type SimulationConfig struct {
	DefaultTickInterval time.Duration `env:"SIM_DEFAULT_TICK_INTERVAL" envDefault:"5s"`
	// EndedRetention is how long ended sessions stay in memory. Zero keeps
	// them for the life of the process.
	EndedRetention  time.Duration `env:"SIM_ENDED_RETENTION" envDefault:"0s"`
	JanitorInterval time.Duration `env:"SIM_JANITOR_INTERVAL" envDefault:"1m"`
	Timezone        string        `env:"SIM_TIMEZONE" envDefault:"UTC"`
}

// Location resolves Timezone, falling back to UTC.
func (s SimulationConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.Storage.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.Storage.Driver)
	}
	return cfg, nil
}
