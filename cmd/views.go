package cmd

import (
	"fmt"

	"labhub/internal/pipeline"

	"github.com/spf13/cobra"
)

var viewsFlags struct {
	limit int
	sql   bool
}

var viewsCmd = &cobra.Command{
	Use:   "views",
	Short: "Manage the reporting views",
}

var viewsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Create or replace every reporting view",
	Args:  cobra.NoArgs,
	RunE: withWarehouse(func(cmd *cobra.Command, env *pipeline.Environment, args []string) error {
		u := newUI()
		u.StartProgress("Refreshing views")
		n, err := env.Views.Refresh(cmd.Context(), env.Warehouse.DB())
		if err != nil {
			u.StopProgress(false, fmt.Sprintf("Refreshed %d views before failing", n))
			return err
		}
		u.StopProgress(true, fmt.Sprintf("Refreshed %d views", n))
		return nil
	}),
}

var viewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the reporting views",
	Args:  cobra.NoArgs,
	RunE: withWarehouse(func(cmd *cobra.Command, env *pipeline.Environment, args []string) error {
		out := cmd.OutOrStdout()
		for _, v := range env.Views.List() {
			fmt.Fprintf(out, "%-36s %s\n", v.Name, v.Description)
			if viewsFlags.sql {
				stmt, err := env.Views.Render(v)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\n\n", stmt)
			}
		}
		return nil
	}),
}

var viewsShowCmd = &cobra.Command{
	Use:   "show <view>",
	Short: "Print rows of a reporting view",
	Args:  cobra.ExactArgs(1),
	RunE: withWarehouse(func(cmd *cobra.Command, env *pipeline.Environment, args []string) error {
		rs, err := env.Views.Query(cmd.Context(), env.Warehouse.DB(), args[0], viewsFlags.limit)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), newVisualizer().ResultSet(rs))
		return nil
	}),
}

func init() {
	viewsListCmd.Flags().BoolVar(&viewsFlags.sql, "sql", false, "Print the rendered view definitions")
	viewsShowCmd.Flags().IntVarP(&viewsFlags.limit, "limit", "n", 20, "Maximum rows to print")

	viewsCmd.AddCommand(viewsRefreshCmd, viewsListCmd, viewsShowCmd)
	rootCmd.AddCommand(viewsCmd)
}
