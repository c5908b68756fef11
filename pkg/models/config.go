package models

import "time"

// Config is the top-level application configuration loaded from YAML.
type Config struct {
	Warehouse Warehouse `yaml:"warehouse"`
	Reporting Reporting `yaml:"reporting"`
	Jobs      Jobs      `yaml:"jobs"`
	Logging   Logging   `yaml:"logging"`
}

// Warehouse holds PostgreSQL warehouse connection settings.
type Warehouse struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Schema       string        `yaml:"schema"` // source schema, becomes search_path
	SSLMode      string        `yaml:"ssl_mode"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
}

// Reporting holds settings for the destination reporting schema.
type Reporting struct {
	Schema    string `yaml:"schema"`     // destination schema for KPI tables
	BatchSize int    `yaml:"batch_size"` // rows per insert batch
}

// Jobs holds defaults shared by the KPI jobs.
type Jobs struct {
	MonthsBack int           `yaml:"months_back"` // trailing months for historical extracts
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Logging holds logger settings.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	File   string `yaml:"file"`
}

// ApplyDefaults fills zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Warehouse.Port == 0 {
		c.Warehouse.Port = 5432
	}
	if c.Warehouse.Schema == "" {
		c.Warehouse.Schema = "gammadata"
	}
	if c.Warehouse.SSLMode == "" {
		c.Warehouse.SSLMode = "require"
	}
	if c.Warehouse.Timeout == 0 {
		c.Warehouse.Timeout = 30 * time.Second
	}
	if c.Warehouse.MaxOpenConns == 0 {
		c.Warehouse.MaxOpenConns = 10
	}
	if c.Warehouse.MaxIdleConns == 0 {
		c.Warehouse.MaxIdleConns = 5
	}
	if c.Reporting.Schema == "" {
		c.Reporting.Schema = "analysis"
	}
	if c.Reporting.BatchSize == 0 {
		c.Reporting.BatchSize = 10000
	}
	if c.Jobs.MonthsBack == 0 {
		c.Jobs.MonthsBack = 11
	}
	if c.Jobs.MaxRetries == 0 {
		c.Jobs.MaxRetries = 3
	}
	if c.Jobs.Timeout == 0 {
		c.Jobs.Timeout = 30 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}
