package models

import (
	"time"
)

// Config is the root of labhub.yaml
type Config struct {
	Source     Source     `yaml:"source" mapstructure:"source"`
	Warehouse  Warehouse  `yaml:"warehouse" mapstructure:"warehouse"`
	Enrichment Enrichment `yaml:"enrichment" mapstructure:"enrichment"`
	Pipeline   Pipeline   `yaml:"pipeline" mapstructure:"pipeline"`
	Quarantine Quarantine `yaml:"quarantine" mapstructure:"quarantine"`
	Metrics    Metrics    `yaml:"metrics" mapstructure:"metrics"`
	History    History    `yaml:"history" mapstructure:"history"`
	Logging    Logging    `yaml:"logging" mapstructure:"logging"`
}

// Source describes the operational database the pipeline extracts from
type Source struct {
	Driver         string            `yaml:"driver" mapstructure:"driver"` // "sqlserver" or "postgres"
	DSN            string            `yaml:"dsn,omitempty" mapstructure:"dsn"`
	Host           string            `yaml:"host" mapstructure:"host"`
	Port           int               `yaml:"port" mapstructure:"port"`
	Database       string            `yaml:"database" mapstructure:"database"`
	Username       string            `yaml:"username" mapstructure:"username"`
	Password       string            `yaml:"password" mapstructure:"password"` // plain, env:NAME, keyring:NAME or ENC[...]
	Encrypt        string            `yaml:"encrypt,omitempty" mapstructure:"encrypt"`
	ConnectTimeout string            `yaml:"connect_timeout,omitempty" mapstructure:"connect_timeout"`
	Params         map[string]string `yaml:"params,omitempty" mapstructure:"params"`
}

// Warehouse describes the dimensional store
type Warehouse struct {
	Driver         string `yaml:"driver" mapstructure:"driver"` // "duckdb", "postgres" or "snowflake"
	DSN            string `yaml:"dsn,omitempty" mapstructure:"dsn"`
	Path           string `yaml:"path,omitempty" mapstructure:"path"` // DuckDB database file
	Host           string `yaml:"host,omitempty" mapstructure:"host"`
	Port           int    `yaml:"port,omitempty" mapstructure:"port"`
	Database       string `yaml:"database,omitempty" mapstructure:"database"`
	Username       string `yaml:"username,omitempty" mapstructure:"username"`
	Password       string `yaml:"password,omitempty" mapstructure:"password"`
	Account        string `yaml:"account,omitempty" mapstructure:"account"`     // Snowflake
	Role           string `yaml:"role,omitempty" mapstructure:"role"`           // Snowflake
	Warehouse      string `yaml:"warehouse,omitempty" mapstructure:"warehouse"` // Snowflake compute warehouse
	Schema         string `yaml:"schema" mapstructure:"schema"`
	LockKey        string `yaml:"lock_key" mapstructure:"lock_key"`
	LockTTL        string `yaml:"lock_ttl" mapstructure:"lock_ttl"`
	ConnectTimeout string `yaml:"connect_timeout,omitempty" mapstructure:"connect_timeout"`
}

// Enrichment points at the optional product description file
type Enrichment struct {
	DescriptionsFile string `yaml:"descriptions_file" mapstructure:"descriptions_file"`
}

// Pipeline holds run behaviour
type Pipeline struct {
	BatchSize        int           `yaml:"batch_size" mapstructure:"batch_size"`
	DefaultDateStart string        `yaml:"default_date_start" mapstructure:"default_date_start"`
	DefaultDateEnd   string        `yaml:"default_date_end" mapstructure:"default_date_end"`
	RefreshViews     bool          `yaml:"refresh_views" mapstructure:"refresh_views"`
	Inspect          bool          `yaml:"inspect" mapstructure:"inspect"`
	Timeout          string        `yaml:"timeout" mapstructure:"timeout"`
	Checks           []CheckConfig `yaml:"checks,omitempty" mapstructure:"checks"`
}

// CheckConfig declares an additional data quality check
type CheckConfig struct {
	Name           string `yaml:"name" mapstructure:"name"`
	Scope          string `yaml:"scope" mapstructure:"scope"` // "dimensions" or "facts"
	Query          string `yaml:"query" mapstructure:"query"`
	ExpectPositive bool   `yaml:"expect_positive" mapstructure:"expect_positive"`
	Critical       bool   `yaml:"critical" mapstructure:"critical"`
}

// Quarantine controls where failed fact batches are archived
type Quarantine struct {
	ArchiveDir string   `yaml:"archive_dir" mapstructure:"archive_dir"`
	S3         S3Config `yaml:"s3" mapstructure:"s3"`
}

// S3Config configures the optional archive upload
type S3Config struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
	Region    string `yaml:"region" mapstructure:"region"`
	Endpoint  string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	PathStyle bool   `yaml:"path_style" mapstructure:"path_style"`
}

// Metrics configures prometheus output
type Metrics struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
	Listen   string `yaml:"listen" mapstructure:"listen"`
}

// History configures the local run ledger
type History struct {
	Path    string `yaml:"path" mapstructure:"path"`
	MaxRuns int    `yaml:"max_runs" mapstructure:"max_runs"`
}

// Logging configures the structured logger
type Logging struct {
	Level   string `yaml:"level" mapstructure:"level"`
	Format  string `yaml:"format" mapstructure:"format"` // "json" or "console"
	Service string `yaml:"service" mapstructure:"service"`
}

// LockTTLDuration parses LockTTL, falling back to def when unset or invalid.
func (w Warehouse) LockTTLDuration(def time.Duration) time.Duration {
	return parseDuration(w.LockTTL, def)
}

// ConnectTimeoutDuration parses ConnectTimeout.
func (w Warehouse) ConnectTimeoutDuration(def time.Duration) time.Duration {
	return parseDuration(w.ConnectTimeout, def)
}

// ConnectTimeoutDuration parses ConnectTimeout.
func (s Source) ConnectTimeoutDuration(def time.Duration) time.Duration {
	return parseDuration(s.ConnectTimeout, def)
}

// TimeoutDuration parses the per-run timeout. Zero means no timeout.
func (p Pipeline) TimeoutDuration() time.Duration {
	return parseDuration(p.Timeout, 0)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
