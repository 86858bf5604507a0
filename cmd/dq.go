package cmd

import (
	"fmt"

	"labhub/internal/pipeline"
	"labhub/internal/quality"

	"github.com/spf13/cobra"
)

var dqFlags struct {
	scope  string
	format string
	json   bool
}

var dqCmd = &cobra.Command{
	Use:     "dq",
	Aliases: []string{"audit"},
	Short:   "Run the data quality checks against the warehouse",
	Long: `Run the data quality checks against the warehouse without loading anything.
The command exits with status 2 when a critical check fails.`,
	Args: cobra.NoArgs,
	RunE: runDQ,
}

func init() {
	dqCmd.Flags().StringVar(&dqFlags.scope, "scope", string(quality.ScopeAll), "Checks to run: dimensions, facts or all")
	dqCmd.Flags().StringVar(&dqFlags.format, "format", "table", "Output format: table, text, json or markdown")
	dqCmd.Flags().BoolVar(&dqFlags.json, "json", false, "Shorthand for --format json")

	rootCmd.AddCommand(dqCmd)
}

func runDQ(cmd *cobra.Command, args []string) error {
	scope, err := quality.ParseScope(dqFlags.scope)
	if err != nil {
		return err
	}
	format := dqFlags.format
	if dqFlags.json {
		format = string(quality.FormatJSON)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()

	env, err := pipeline.Open(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	gate, err := env.Gate()
	if err != nil {
		return err
	}
	report, err := gate.Run(ctx, env.Warehouse.DB(), scope)
	if err != nil {
		return err
	}

	var rendered string
	if format == "table" {
		rendered = newVisualizer().QualityReport(report)
	} else {
		rendered, err = quality.Render(report, quality.Format(format))
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), rendered)

	if !report.Passed {
		return &exitCodeError{code: exitBlocked}
	}
	return nil
}
