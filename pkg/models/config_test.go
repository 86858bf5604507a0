package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshal(t *testing.T) {
	raw := `
source:
  driver: sqlserver
  host: lab-sql01
  port: 1433
  database: LabInventory
  username: etl_reader
  password: env:LAB_SQL_PASSWORD
warehouse:
  driver: duckdb
  path: warehouse.duckdb
  schema: dw
  lock_key: labhub-refresh
  lock_ttl: 2h
pipeline:
  batch_size: 500
  default_date_start: "2025-01-01"
  default_date_end: "2026-01-30"
  refresh_views: true
  checks:
    - name: Unknown Event Types
      scope: facts
      query: SELECT COUNT(*) FROM dw.Fact_Inventory_Transactions WHERE EventType IS NULL
      critical: false
quarantine:
  archive_dir: /var/lib/labhub/quarantine
  s3:
    enabled: true
    bucket: lab-quarantine
    region: eu-west-1
`

	var config Config
	err := yaml.Unmarshal([]byte(raw), &config)
	assert.NoError(t, err)

	assert.Equal(t, "sqlserver", config.Source.Driver)
	assert.Equal(t, 1433, config.Source.Port)
	assert.Equal(t, "env:LAB_SQL_PASSWORD", config.Source.Password)
	assert.Equal(t, "dw", config.Warehouse.Schema)
	assert.Equal(t, 500, config.Pipeline.BatchSize)
	assert.True(t, config.Pipeline.RefreshViews)
	assert.Len(t, config.Pipeline.Checks, 1)
	assert.Equal(t, "facts", config.Pipeline.Checks[0].Scope)
	assert.True(t, config.Quarantine.S3.Enabled)
	assert.Equal(t, "lab-quarantine", config.Quarantine.S3.Bucket)
}

func TestDurationHelpers(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{"empty uses default", "", time.Hour, time.Hour},
		{"valid value", "90m", time.Hour, 90 * time.Minute},
		{"invalid uses default", "soon", time.Hour, time.Hour},
		{"negative uses default", "-5m", time.Hour, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Warehouse{LockTTL: tt.value}
			assert.Equal(t, tt.expected, w.LockTTLDuration(tt.def))
		})
	}

	assert.Equal(t, time.Duration(0), Pipeline{}.TimeoutDuration())
	assert.Equal(t, 30*time.Second, Source{ConnectTimeout: "30s"}.ConnectTimeoutDuration(time.Second))
}
