package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"labhub/internal/common"
	"labhub/pkg/models"

	"gopkg.in/yaml.v3"
)

// TestHelper provides common test utilities
type TestHelper struct {
	t *testing.T
}

// NewTestHelper creates a new test helper
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// WriteFile writes content to a file in the given directory
func (h *TestHelper) WriteFile(dir, filename, content string) string {
	h.t.Helper()
	path := filepath.Join(dir, filename)

	if err := os.MkdirAll(filepath.Dir(path), common.DirPermissionNormal); err != nil {
		h.t.Fatalf("Failed to create directories: %v", err)
	}

	if err := os.WriteFile(path, []byte(content), common.FilePermissionSecure); err != nil {
		h.t.Fatalf("Failed to write file %s: %v", path, err)
	}

	return path
}

// WriteConfig saves cfg as labhub.yaml in a fresh temp directory
func (h *TestHelper) WriteConfig(cfg *models.Config) string {
	h.t.Helper()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		h.t.Fatalf("Failed to marshal config: %v", err)
	}
	return h.WriteFile(h.t.TempDir(), "labhub.yaml", string(data))
}

// ConfigBuilder provides a fluent interface for building test configurations.
// Build returns a configuration that passes validation.
type ConfigBuilder struct {
	config *models.Config
}

// NewConfigBuilder starts from a SQL Server source and a DuckDB warehouse
func NewConfigBuilder() *ConfigBuilder {
	cfg := &models.Config{}
	cfg.Source = models.Source{Driver: "sqlserver", Host: "localhost", Port: 1433, Database: "LabInventory", Username: "etl"}
	cfg.Warehouse = models.Warehouse{Driver: "duckdb", Path: "labhub.duckdb", Schema: "dw", LockKey: "labhub-refresh", LockTTL: "6h"}
	cfg.Pipeline = models.Pipeline{BatchSize: 1000, DefaultDateStart: "2025-01-01", DefaultDateEnd: "2025-01-31", RefreshViews: true}
	cfg.History.MaxRuns = 50
	cfg.Logging = models.Logging{Level: "error", Format: "console", Service: "labhub-test"}
	return &ConfigBuilder{config: cfg}
}

// WithSource sets the operational source
func (b *ConfigBuilder) WithSource(driver, host, database, username, password string) *ConfigBuilder {
	b.config.Source.Driver = driver
	b.config.Source.Host = host
	b.config.Source.Database = database
	b.config.Source.Username = username
	b.config.Source.Password = password
	if driver == "postgres" {
		b.config.Source.Port = 5432
	}
	return b
}

// WithDuckDB points the warehouse at a DuckDB file
func (b *ConfigBuilder) WithDuckDB(path, schema string) *ConfigBuilder {
	b.config.Warehouse.Driver = "duckdb"
	b.config.Warehouse.Path = path
	b.config.Warehouse.Schema = schema
	return b
}

// WithWarehousePassword sets the warehouse credential
func (b *ConfigBuilder) WithWarehousePassword(password string) *ConfigBuilder {
	b.config.Warehouse.Password = password
	return b
}

// WithHistory enables the run ledger
func (b *ConfigBuilder) WithHistory(path string) *ConfigBuilder {
	b.config.History.Path = path
	return b
}

// WithArchive enables quarantine archives
func (b *ConfigBuilder) WithArchive(dir string) *ConfigBuilder {
	b.config.Quarantine.ArchiveDir = dir
	return b
}

// WithCheck adds a configured data quality check
func (b *ConfigBuilder) WithCheck(check models.CheckConfig) *ConfigBuilder {
	b.config.Pipeline.Checks = append(b.config.Pipeline.Checks, check)
	return b
}

// Build returns the constructed configuration
func (b *ConfigBuilder) Build() *models.Config {
	return b.config
}
