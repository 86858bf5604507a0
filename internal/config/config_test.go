package config

import (
	"os"
	"path/filepath"
	"testing"

	"labhub/internal/security"
	apperrors "labhub/pkg/errors"
	"labhub/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
source:
  driver: sqlserver
  host: lab-sql01
  database: LabInventory
  username: etl_reader
  password: env:LABHUB_TEST_SOURCE_PASSWORD
warehouse:
  driver: duckdb
  path: /tmp/labhub-test.duckdb
pipeline:
  batch_size: 250
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(ConfigEnv, "")
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".labhub"), GetConfigPath())
	assert.Equal(t, filepath.Join(home, ".labhub", "labhub.yaml"), GetConfigFile())
}

func TestLoadFileWithDefaults(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lab-sql01", cfg.Source.Host)
	assert.Equal(t, 1433, cfg.Source.Port)
	assert.Equal(t, "dw", cfg.Warehouse.Schema)
	assert.Equal(t, "labhub-refresh", cfg.Warehouse.LockKey)
	assert.Equal(t, 250, cfg.Pipeline.BatchSize)
	assert.Equal(t, "2025-01-01", cfg.Pipeline.DefaultDateStart)
	assert.Equal(t, "2026-01-30", cfg.Pipeline.DefaultDateEnd)
	assert.True(t, cfg.Pipeline.RefreshViews)
	assert.NoError(t, Validate(cfg))
}

func TestLoadEnvironmentOverride(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("LABHUB_WAREHOUSE_PATH", "/data/override.duckdb")
	t.Setenv("LABHUB_PIPELINE_BATCH_SIZE", "42")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/override.duckdb", cfg.Warehouse.Path)
	assert.Equal(t, 42, cfg.Pipeline.BatchSize)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConfigNotFound, apperrors.GetErrorCode(err))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "sqlserver", cfg.Source.Driver)
	assert.Equal(t, "duckdb", cfg.Warehouse.Driver)
	assert.Equal(t, 1000, cfg.Pipeline.BatchSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Config)
		field  string
	}{
		{"bad source driver", func(c *models.Config) { c.Source.Driver = "oracle" }, "source.driver"},
		{"bad warehouse driver", func(c *models.Config) { c.Warehouse.Driver = "mysql" }, "warehouse.driver"},
		{"bad schema", func(c *models.Config) { c.Warehouse.Schema = "dw; DROP TABLE x" }, "warehouse.schema"},
		{"zero batch", func(c *models.Config) { c.Pipeline.BatchSize = 0 }, "pipeline.batch_size"},
		{"bad date", func(c *models.Config) { c.Pipeline.DefaultDateStart = "01/01/2025" }, "pipeline.default_date_start"},
		{"reversed range", func(c *models.Config) { c.Pipeline.DefaultDateEnd = "2024-12-31" }, "pipeline.default_date_end"},
		{"check scope", func(c *models.Config) {
			c.Pipeline.Checks = []models.CheckConfig{{Name: "x", Query: "SELECT 0", Scope: "views"}}
		}, "pipeline.checks[0].scope"},
		{"s3 without bucket", func(c *models.Config) { c.Quarantine.S3.Enabled = true }, "quarantine.s3.bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Source.Database = "LabInventory"
			require.NoError(t, Validate(cfg))

			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Context["field"])
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "labhub.yaml")

	cfg := Default()
	cfg.Source.Database = "LabInventory"
	cfg.Source.Password = "keyring:source"
	cfg.Enrichment.DescriptionsFile = "descriptions.csv"

	assert.False(t, Exists(path))
	require.NoError(t, Save(cfg, path))
	assert.True(t, Exists(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "LabInventory", loaded.Source.Database)
	assert.Equal(t, "keyring:source", loaded.Source.Password)
	assert.Equal(t, "descriptions.csv", loaded.Enrichment.DescriptionsFile)
}

func TestSecrets(t *testing.T) {
	cm := security.NewCredentialManagerWithPassphrase("config-test")

	cfg := Default()
	cfg.Source.Password = "plain-source"
	cfg.Warehouse.Password = "env:LABHUB_TEST_WAREHOUSE_PASSWORD"

	require.NoError(t, EncryptConfigPasswords(cfg, cm))
	assert.True(t, security.IsEncrypted(cfg.Source.Password))
	assert.Equal(t, "env:LABHUB_TEST_WAREHOUSE_PASSWORD", cfg.Warehouse.Password)

	redacted := Redact(cfg)
	assert.Equal(t, "********", redacted.Source.Password)
	assert.Equal(t, "env:LABHUB_TEST_WAREHOUSE_PASSWORD", redacted.Warehouse.Password)
	assert.True(t, security.IsEncrypted(cfg.Source.Password), "Redact must not modify its input")

	t.Setenv("LABHUB_TEST_WAREHOUSE_PASSWORD", "plain-warehouse")
	require.NoError(t, ResolveSecrets(cfg, cm))
	assert.Equal(t, "plain-source", cfg.Source.Password)
	assert.Equal(t, "plain-warehouse", cfg.Warehouse.Password)
}

func TestLoadSecure(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("LABHUB_TEST_SOURCE_PASSWORD", "reader-pass")

	cfg, err := LoadSecure(path, security.NewCredentialManagerWithPassphrase("x"))
	require.NoError(t, err)
	assert.Equal(t, "reader-pass", cfg.Source.Password)
}
