package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"labhub/internal/history"
	"labhub/internal/ui"

	"github.com/spf13/cobra"
)

var historyFlags struct {
	limit int
	json  bool
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past warehouse refreshes",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE: withHistory(func(cmd *cobra.Command, store *history.Store, args []string) error {
		runs, err := store.List(cmd.Context(), historyFlags.limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			newUI().Info("No runs recorded yet")
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), newVisualizer().Runs(runs))
		return nil
	}),
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE: withHistory(func(cmd *cobra.Command, store *history.Store, args []string) error {
		run, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if historyFlags.json {
			data := []byte(run.Report)
			if len(data) == 0 {
				if data, err = json.Marshal(run); err != nil {
					return err
				}
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, data, "", "  "); err != nil {
				return err
			}
			fmt.Fprintln(out, buf.String())
			return nil
		}

		ui.PrintSection("Run " + run.ID)
		ui.PrintKeyValue("Started", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
		ui.PrintKeyValue("Duration", ui.FormatDuration(run.Duration()))
		ui.PrintKeyValue("Outcome", run.Outcome)
		ui.PrintKeyValue("Final state", run.FinalState)
		ui.PrintKeyValue("Committed", fmt.Sprintf("%t", run.Committed))
		ui.PrintKeyValue("Facts inserted", fmt.Sprintf("%d", run.RowsInserted))
		if run.BatchID != "" {
			ui.PrintKeyValue("Quarantine batch", run.BatchID)
			ui.PrintKeyValue("Quarantined rows", fmt.Sprintf("%d", run.Quarantined))
		}
		if run.Error != "" {
			ui.PrintKeyValue("Error", run.Error)
		}
		return nil
	}),
}

func init() {
	historyListCmd.Flags().IntVarP(&historyFlags.limit, "limit", "n", 20, "Maximum runs to list")
	historyShowCmd.Flags().BoolVar(&historyFlags.json, "json", false, "Print the full run report as JSON")

	historyCmd.AddCommand(historyListCmd, historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func withHistory(fn func(cmd *cobra.Command, store *history.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.History.Path == "" {
			return fmt.Errorf("history.path is not configured")
		}
		store, err := history.Open(cfg.History.Path, cfg.History.MaxRuns, newLogger(cfg))
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(cmd, store, args)
	}
}
