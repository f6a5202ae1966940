package types

type ConfigManager interface {
	GetConfig() *Config
}

type Config struct {
	Name      string           `yaml:"name" json:"name" validate:"required"`
	Logger    *LoggerConfig    `yaml:"logger" json:"logger"`
	Store     *StoreConfig     `yaml:"store" json:"store"`
	Signature *SignatureConfig `yaml:"signature" json:"signature"`
	Interval  *IntervalConfig  `yaml:"interval" json:"interval"`
	Events    *EventsConfig    `yaml:"events" json:"events"`
	Metrics   *MetricsConfig   `yaml:"metrics" json:"metrics"`
	Health    *HealthConfig    `yaml:"health" json:"health"`
	Server    *ServerConfig    `yaml:"server" json:"server"`
}

type LoggerConfig struct {
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type StoreConfig struct {
	Type string `yaml:"type" json:"type" validate:"required"`
	// ClearOnStart drops every entry when the store starts.
	ClearOnStart bool `yaml:"clear_on_start" json:"clear_on_start"`
	// CleanupInterval drives the background sweep of expired entries.
	// Empty disables the sweep.
	CleanupInterval string      `yaml:"cleanup_interval" json:"cleanup_interval"`
	Config          interface{} `yaml:"config" json:"config"`
}

type SignatureConfig struct {
	Algorithm string `yaml:"algorithm" json:"algorithm" validate:"required"`
}

type IntervalConfig struct {
	// Default is either a Go duration string ("30m") or a cron
	// expression ("0 8 * * *"), tried in that order.
	Default string `yaml:"default" json:"default"`
	// Timezone applies to cron-style expressions.
	Timezone string `yaml:"timezone" json:"timezone"`
}

type EventsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type"`
	Config  interface{} `yaml:"config" json:"config"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{} `yaml:"config" json:"config"`
}

type HealthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ServerConfig configures the debug listener exposing /health, /metrics and
// /stats. It is an observability surface, not a cache protocol.
type ServerConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}
