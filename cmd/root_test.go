package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"labhub/internal/config"
	"labhub/internal/database"
	"labhub/internal/history"
	"labhub/internal/observability"
	"labhub/internal/pipeline"
	"labhub/internal/security"
	"labhub/internal/testutil"
	"labhub/internal/warehouse"
	apperrors "labhub/pkg/errors"
	"labhub/pkg/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	b := new(bytes.Buffer)
	rootCmd.SetOut(b)
	rootCmd.SetErr(b)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		rootFlags.config = ""
	})
	err := rootCmd.Execute()
	return b.String(), err
}

func TestRootCommandHelp(t *testing.T) {
	output, err := execute(t, "--help")
	require.NoError(t, err)

	assert.Contains(t, output, "labhub")
	assert.Contains(t, output, "Available Commands:")
	for _, name := range []string{"run", "schedule", "init", "dq", "views", "health", "quarantine", "history", "config", "version"} {
		assert.Contains(t, output, name)
	}
}

func TestSubcommands(t *testing.T) {
	paths := [][]string{
		{"views", "refresh"}, {"views", "list"}, {"views", "show"},
		{"quarantine", "list"}, {"quarantine", "show"}, {"quarantine", "export"}, {"quarantine", "purge"}, {"quarantine", "verify"},
		{"history", "list"}, {"history", "show"},
		{"config", "init"}, {"config", "show"}, {"config", "encrypt-password"},
	}
	for _, path := range paths {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			found, _, err := rootCmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], found.Name())
		})
	}
}

func TestInvalidCommand(t *testing.T) {
	_, err := execute(t, "invalid-command")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestVersion(t *testing.T) {
	output, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, output, "LabHub version dev")
}

func TestDQRejectsUnknownScope(t *testing.T) {
	t.Cleanup(func() { dqFlags.scope = "all" })
	_, err := execute(t, "dq", "--scope", "everything")
	assert.Error(t, err)
}

func TestConfigShowMasksPasswords(t *testing.T) {
	cfg := testutil.NewConfigBuilder().
		WithSource("sqlserver", "sql01", "LabInventory", "etl", "hunter2").
		WithWarehousePassword("env:WH_PASSWORD").
		Build()
	path := testutil.NewTestHelper(t).WriteConfig(cfg)

	output, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, output, "host: sql01")
	assert.Contains(t, output, "********")
	assert.Contains(t, output, "env:WH_PASSWORD")
	assert.NotContains(t, output, "hunter2")
}

func TestConfigShowKeepsArchiveAndChecks(t *testing.T) {
	cfg := testutil.NewConfigBuilder().
		WithArchive("quarantine-archive").
		WithCheck(models.CheckConfig{Name: "Zero Quantity Events", Scope: "facts", Query: "SELECT 0"}).
		Build()
	path := testutil.NewTestHelper(t).WriteConfig(cfg)

	output, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, output, "archive_dir: quarantine-archive")
	assert.Contains(t, output, "name: Zero Quantity Events")
}

func TestHistoryList(t *testing.T) {
	dir := t.TempDir()
	ledger := filepath.Join(dir, "history.db")

	store, err := history.Open(ledger, 10, observability.NewNopLogger())
	require.NoError(t, err)
	started := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(context.Background(), history.RunRecord{
		ID: "2f1c9a7e-run", StartedAt: started, FinishedAt: started.Add(3 * time.Second),
		Outcome: "quarantined", FinalState: "Quarantined", Quarantined: 4, BatchID: "batch-1",
	}))
	require.NoError(t, store.Close())

	cfg := testutil.NewConfigBuilder().WithHistory(ledger).Build()
	path := testutil.NewTestHelper(t).WriteConfig(cfg)

	output, err := execute(t, "--config", path, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, output, "2f1c9a7e")
	assert.Contains(t, output, "quarantined")
	assert.Contains(t, output, "3.0s")
}

func TestSaveConfigEncryptsPasswords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labhub.yaml")
	cm := security.NewCredentialManagerWithPassphrase("test-passphrase")

	cfg := config.Default()
	cfg.Source.Password = "hunter2"
	cfg.Warehouse.Password = "keyring:warehouse"
	require.NoError(t, saveConfig(cfg, path, cm))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.Contains(t, string(data), "keyring:warehouse")

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, security.IsEncrypted(loaded.Source.Password))
	plain, err := cm.Decrypt(loaded.Source.Password)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestRunStatus(t *testing.T) {
	assert.NoError(t, runStatus(&pipeline.RunReport{Outcome: pipeline.OutcomeSuccess}, nil))

	err := runStatus(&pipeline.RunReport{Outcome: pipeline.OutcomeQuarantined}, nil)
	var coded *exitCodeError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, exitBlocked, coded.code)

	failure := errors.New("boom")
	assert.Equal(t, failure, runStatus(&pipeline.RunReport{Outcome: pipeline.OutcomeFailed}, failure))
}

func TestHandleError(t *testing.T) {
	assert.Equal(t, exitBlocked, handleError(&exitCodeError{code: exitBlocked}))
	assert.Equal(t, exitError, handleError(apperrors.New(apperrors.ErrCodeLockHeld, "warehouse lock is held")))
}

func TestLastRunStatus(t *testing.T) {
	last := &lastRun{}
	status, _ := last.status()
	assert.Equal(t, observability.HealthStatusUp, status)

	last.set(&pipeline.RunReport{Outcome: pipeline.OutcomeAborted}, nil)
	status, msg := last.status()
	assert.Equal(t, observability.HealthStatusDegraded, status)
	assert.Equal(t, "last run aborted", msg)

	last.set(&pipeline.RunReport{Outcome: pipeline.OutcomeFailed}, errors.New("source unreachable"))
	status, msg = last.status()
	assert.Equal(t, observability.HealthStatusDown, status)
	assert.Equal(t, "source unreachable", msg)
}

func TestScheduledRefreshRereadsDescriptions(t *testing.T) {
	descriptions := filepath.Join(t.TempDir(), "descriptions.csv")
	require.NoError(t, os.WriteFile(descriptions, []byte("ProductID,Description\n1,Ethanol 70%\n"), 0600))

	cfg := testutil.NewConfigBuilder().Build()
	cfg.Enrichment.DescriptionsFile = descriptions

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	env := &pipeline.Environment{
		Config:    cfg,
		Source:    database.NewServiceWithDB(database.Target{Endpoint: "source"}, db, nil),
		Warehouse: database.NewServiceWithDB(database.Target{Endpoint: "warehouse"}, db, nil),
		Dialect:   warehouse.DuckDB,
		Metrics:   observability.NewPipelineMetrics(),
		Logger:    observability.NewNopLogger(),
	}
	_, err = env.Orchestrator(runOptions(env))
	require.NoError(t, err)

	// the file is edited while the scheduler is running
	require.NoError(t, os.WriteFile(descriptions, []byte("Name,Notes\nx,y\n"), 0600))

	last := &lastRun{}
	report, err := scheduledRefresh(context.Background(), env, last)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFileCorrupted))

	status, msg := last.status()
	assert.Equal(t, observability.HealthStatusDown, status)
	assert.Contains(t, msg, "malformed description file")
}

func TestBuildHealthChecks(t *testing.T) {
	cfg := testutil.NewConfigBuilder().
		WithDuckDB(filepath.Join(t.TempDir(), "labhub.duckdb"), "dw").
		Build()

	health, closeAll, err := buildHealthChecks(cfg, observability.NewNopLogger())
	require.NoError(t, err)
	assert.NotNil(t, health)
	closeAll()

	cfg.Warehouse.Driver = "oracle"
	_, _, err = buildHealthChecks(cfg, observability.NewNopLogger())
	assert.Error(t, err)
}

func TestFlagNamesAcceptUnderscores(t *testing.T) {
	assert.Equal(t, "metrics-file", string(normalizeFlagName(nil, "metrics_file")))

	flag := runCmd.Flags().Lookup("no_views")
	require.NotNil(t, flag)
	assert.Equal(t, "no-views", flag.Name)
}
