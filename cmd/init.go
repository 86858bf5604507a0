package cmd

import (
	"fmt"

	"labhub/internal/pipeline"
	"labhub/internal/ui"

	"github.com/spf13/cobra"
)

var initFlags struct {
	reset bool
	force bool
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the warehouse schema",
	Long: `Create the warehouse schema: the dimension and fact tables, their key
sequences, the quarantine table and the run lock table. Existing objects are
kept. With --reset the schema is dropped first, deleting all warehouse data.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initFlags.reset, "reset", false, "Drop the schema and all warehouse data first")
	initCmd.Flags().BoolVarP(&initFlags.force, "force", "f", false, "Do not ask for confirmation")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	u := newUI()
	ctx := cmd.Context()

	if initFlags.reset && !initFlags.force {
		confirmed, err := ui.Confirm(
			fmt.Sprintf("Drop schema %s and delete all warehouse data?", cfg.Warehouse.Schema), false)
		if err != nil {
			return err
		}
		if !confirmed {
			u.Info("Initialization cancelled")
			return nil
		}
	}

	env, err := pipeline.Open(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	db := env.Warehouse.DB()
	u.StartProgress(fmt.Sprintf("Creating schema %s", cfg.Warehouse.Schema))
	if err := env.Schema.Init(ctx, db, initFlags.reset); err != nil {
		u.StopProgress(false, "Schema creation failed")
		return err
	}
	if err := env.Quarantine.Ensure(ctx, db); err != nil {
		u.StopProgress(false, "Schema creation failed")
		return err
	}
	if err := env.Schema.Verify(ctx, db); err != nil {
		u.StopProgress(false, "Schema verification failed")
		return err
	}
	u.StopProgress(true, fmt.Sprintf("Schema %s ready", cfg.Warehouse.Schema))

	if cfg.Pipeline.RefreshViews {
		n, err := env.Views.Refresh(ctx, db)
		if err != nil {
			return err
		}
		u.VerbosePrintf("Created %d reporting views\n", n)
	}

	u.Success("Warehouse initialized. Run 'labhub run' to load it.")
	return nil
}
