package cmd

import (
	"context"
	"fmt"
	"time"

	"labhub/internal/database"
	"labhub/internal/observability"
	"labhub/internal/warehouse"
	"labhub/pkg/models"

	"github.com/spf13/cobra"
)

var healthFlags struct {
	timeout time.Duration
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the source, the warehouse and the warehouse schema",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().DurationVar(&healthFlags.timeout, "timeout", 30*time.Second, "Time allowed for all checks")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	health, closeAll, err := buildHealthChecks(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	report := health.CheckHealth(cmd.Context())
	fmt.Fprint(cmd.OutOrStdout(), newVisualizer().Health(report))
	fmt.Fprintf(cmd.OutOrStdout(), "\nOverall: %s\n", report.Status)

	if report.Status == observability.HealthStatusDown {
		return &exitCodeError{code: exitError}
	}
	return nil
}

// buildHealthChecks registers one check per component. Connections are
// opened lazily by the checks so one unreachable database does not hide
// the state of the other.
func buildHealthChecks(cfg *models.Config, logger *observability.Logger) (*observability.HealthManager, func(), error) {
	dialect, err := warehouse.DialectFor(cfg.Warehouse.Driver)
	if err != nil {
		return nil, nil, err
	}
	srcTarget, err := database.SourceTarget(cfg.Source)
	if err != nil {
		return nil, nil, err
	}
	whTarget, err := database.WarehouseTarget(cfg.Warehouse)
	if err != nil {
		return nil, nil, err
	}

	src := database.NewService(srcTarget, logger)
	wh := database.NewService(whTarget, logger)
	schema := warehouse.NewSchema(dialect, cfg.Warehouse.Schema, logger)

	connectAndPing := func(svc *database.Service) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			if err := svc.Connect(ctx); err != nil {
				return err
			}
			return svc.Ping(ctx)
		}
	}

	health := observability.NewHealthManager(healthFlags.timeout, logger)
	health.RegisterCheck(observability.NewFuncHealthCheck("source", connectAndPing(src)))
	health.RegisterCheck(observability.NewFuncHealthCheck("warehouse", connectAndPing(wh)))
	health.RegisterCheck(observability.NewFuncHealthCheck("schema", func(ctx context.Context) error {
		if err := wh.Connect(ctx); err != nil {
			return err
		}
		return schema.Verify(ctx, wh.DB())
	}))

	closeAll := func() {
		_ = src.Close()
		_ = wh.Close()
	}
	return health, closeAll, nil
}
