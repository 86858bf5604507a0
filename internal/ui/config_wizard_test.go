package ui

import (
	"testing"

	"labhub/pkg/models"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() *models.Config {
	cfg := &models.Config{}
	cfg.Source.Driver = "sqlserver"
	cfg.Source.Port = 1433
	cfg.Warehouse.Driver = "duckdb"
	cfg.Warehouse.Path = "labhub.duckdb"
	cfg.Warehouse.Schema = "dw"
	cfg.Pipeline.BatchSize = 1000
	cfg.Pipeline.RefreshViews = true
	return cfg
}

func TestNewConfigWizard(t *testing.T) {
	w := NewConfigWizard()
	assert.Equal(t, 1, w.currentStep)
	assert.Equal(t, 5, w.totalSteps)
}

func TestApplySourceAnswers(t *testing.T) {
	cfg := baseConfig()
	applySourceAnswers(cfg, sourceAnswers{
		Driver: "postgres", Host: " db.lab.local ", Port: "1433", Database: "inventory", Username: "etl", Password: "env:SRC_PW",
	})

	assert.Equal(t, "postgres", cfg.Source.Driver)
	assert.Equal(t, "db.lab.local", cfg.Source.Host)
	assert.Equal(t, 5432, cfg.Source.Port)
	assert.Equal(t, "env:SRC_PW", cfg.Source.Password)

	cfg.Source.Password = "keep"
	applySourceAnswers(cfg, sourceAnswers{Driver: "sqlserver", Port: "1533"})
	assert.Equal(t, 1533, cfg.Source.Port)
	assert.Equal(t, "keep", cfg.Source.Password)
}

func TestApplyWarehouseAnswers(t *testing.T) {
	cfg := baseConfig()
	applyWarehouseAnswers(cfg, warehouseAnswers{Driver: "snowflake", Account: "xy123", Database: "LAB", Warehouse: "WH", Username: "etl", Schema: "analytics"})
	assert.Equal(t, "snowflake", cfg.Warehouse.Driver)
	assert.Equal(t, "xy123", cfg.Warehouse.Account)
	assert.Equal(t, "analytics", cfg.Warehouse.Schema)

	applyWarehouseAnswers(cfg, warehouseAnswers{Driver: "postgres", Host: "pg", Database: "lab", Schema: "dw"})
	assert.Equal(t, 5432, cfg.Warehouse.Port)
	assert.Equal(t, "pg", cfg.Warehouse.Host)
}

func TestApplyPipelineAnswers(t *testing.T) {
	cfg := baseConfig()
	applyPipelineAnswers(cfg, pipelineAnswers{DescriptionsFile: " descriptions.csv ", BatchSize: "abc", RefreshViews: false, ArchiveDir: "/var/lib/labhub"})

	assert.Equal(t, "descriptions.csv", cfg.Enrichment.DescriptionsFile)
	assert.Equal(t, 1000, cfg.Pipeline.BatchSize)
	assert.False(t, cfg.Pipeline.RefreshViews)
	assert.Equal(t, "/var/lib/labhub", cfg.Quarantine.ArchiveDir)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validatePort("1433"))
	assert.Error(t, validatePort("70000"))
	assert.Error(t, validatePort("x"))
	assert.NoError(t, validatePositive("5"))
	assert.Error(t, validatePositive("0"))
}

func TestWizardCancelledByInterrupt(t *testing.T) {
	capture(t, false)
	w := NewConfigWizard()
	w.ask = func([]*survey.Question, interface{}) error { return terminal.InterruptErr }

	_, err := w.Run(baseConfig())
	assert.ErrorIs(t, err, ErrWizardCancelled)
}

func TestWizardKeepsBaseWhenDeclined(t *testing.T) {
	buf := capture(t, false)
	w := NewConfigWizard()
	w.ask = func([]*survey.Question, interface{}) error { return nil }
	w.askOne = func(p survey.Prompt, response interface{}) error {
		switch r := response.(type) {
		case *string:
			*r = "duckdb"
		case *bool:
			*r = false
		}
		return nil
	}

	base := baseConfig()
	_, err := w.Run(base)
	assert.ErrorIs(t, err, ErrWizardCancelled)
	assert.Equal(t, "sqlserver", base.Source.Driver)
	assert.Contains(t, buf.String(), "[Step 5/5] Review Configuration")
}

func TestWizardSaves(t *testing.T) {
	capture(t, false)
	w := NewConfigWizard()
	w.ask = func([]*survey.Question, interface{}) error { return nil }
	w.askOne = func(p survey.Prompt, response interface{}) error {
		switch r := response.(type) {
		case *string:
			*r = "duckdb"
		case *bool:
			*r = true
		}
		return nil
	}

	cfg, err := w.Run(baseConfig())
	require.NoError(t, err)
	assert.Equal(t, "duckdb", cfg.Warehouse.Driver)
}

func TestSummary(t *testing.T) {
	capture(t, false)
	cfg := baseConfig()
	cfg.Source.Host = "sql01"
	cfg.Source.Database = "LabInventory"
	cfg.Source.Password = "secret"

	s := Summary(cfg)
	assert.Contains(t, s, "sql01:1433/LabInventory")
	assert.Contains(t, s, "labhub.duckdb")
	assert.Contains(t, s, "(none)")
	assert.NotContains(t, s, "secret")
}
