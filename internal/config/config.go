package config

import (
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the diagnostics HTTP listener settings (metrics and
// health probes).
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"                env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// NATSConfig holds event forwarding settings. An empty URL disables
// forwarding; events then stay in-process.
type NATSConfig struct {
	URL           string `yaml:"url"            env:"NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX" env-default:"recodehub"`
}

// Enabled reports whether events should be mirrored to NATS.
func (c NATSConfig) Enabled() bool { return c.URL != "" }

// TasksConfig holds the async task substrate settings.
type TasksConfig struct {
	Workers         int           `yaml:"workers"          env:"TASKS_WORKERS"          env-default:"4"`
	QueueSize       int           `yaml:"queue_size"       env:"TASKS_QUEUE_SIZE"       env-default:"64"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"TASKS_SHUTDOWN_TIMEOUT" env-default:"30s"`
}

// NotifyConfig holds notification aggregation settings.
type NotifyConfig struct {
	// Window is the aggregation bucket: equal recode outcomes within one
	// window fold into a single notification.
	Window time.Duration `yaml:"window" env:"NOTIFY_WINDOW" env-default:"1h"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}
