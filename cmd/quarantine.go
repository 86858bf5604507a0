package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"labhub/internal/archive"
	"labhub/internal/common"
	"labhub/internal/pipeline"
	"labhub/internal/ui"
	"labhub/internal/warehouse"

	"github.com/spf13/cobra"
)

var quarantineFlags struct {
	limit   int
	output  string
	archive bool
	force   bool
}

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Inspect fact batches rejected by the quality gate",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantined batches, newest first",
	Args:  cobra.NoArgs,
	RunE: withWarehouse(func(cmd *cobra.Command, env *pipeline.Environment, args []string) error {
		batches, err := env.Quarantine.ListBatches(cmd.Context(), quarantineFlags.limit)
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			newUI().Info("No quarantined batches")
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), newVisualizer().Batches(batches))
		return nil
	}),
}

var quarantineShowCmd = &cobra.Command{
	Use:   "show <batch>",
	Short: "Print the rows of a quarantined batch",
	Args:  cobra.ExactArgs(1),
	RunE: withWarehouse(func(cmd *cobra.Command, env *pipeline.Environment, args []string) error {
		rows, err := env.Quarantine.Rows(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), newVisualizer().FactRows(rows))
		return nil
	}),
}

var quarantineExportCmd = &cobra.Command{
	Use:   "export <batch>",
	Short: "Export a quarantined batch as JSON or as a checksummed archive",
	Args:  cobra.ExactArgs(1),
	RunE: withWarehouse(func(cmd *cobra.Command, env *pipeline.Environment, args []string) error {
		ctx := cmd.Context()
		batch, err := loadBatch(cmd, env, args[0])
		if err != nil {
			return err
		}

		if quarantineFlags.archive {
			if env.Archiver == nil {
				return fmt.Errorf("quarantine.archive_dir is not configured")
			}
			meta, err := env.Archiver.Archive(ctx, batch, nil)
			if err != nil {
				return err
			}
			u := newUI()
			u.Success(fmt.Sprintf("Archived %d rows to %s", meta.Rows, meta.Path))
			if meta.Location != "" {
				u.Info(fmt.Sprintf("Uploaded to %s", meta.Location))
			}
			return nil
		}

		var w io.Writer = cmd.OutOrStdout()
		if quarantineFlags.output != "" && quarantineFlags.output != "-" {
			path, err := common.CleanPath(quarantineFlags.output)
			if err != nil {
				return err
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, common.FilePermissionSecure) // #nosec G304 - path is cleaned
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(batch.Rows)
	}),
}

var quarantinePurgeCmd = &cobra.Command{
	Use:   "purge <batch>",
	Short: "Delete a quarantined batch",
	Args:  cobra.ExactArgs(1),
	RunE: withWarehouse(func(cmd *cobra.Command, env *pipeline.Environment, args []string) error {
		if !quarantineFlags.force {
			confirmed, err := ui.Confirm(fmt.Sprintf("Delete quarantine batch %s?", args[0]), false)
			if err != nil {
				return err
			}
			if !confirmed {
				return nil
			}
		}
		n, err := env.Quarantine.Purge(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		newUI().Success(fmt.Sprintf("Purged %d rows of batch %s", n, args[0]))
		return nil
	}),
}

var quarantineVerifyCmd = &cobra.Command{
	Use:   "verify [archive...]",
	Short: "Verify the checksums of quarantine archives",
	Long: `Verify the checksums of quarantine archives. Without arguments every
archive in quarantine.archive_dir is checked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := args
		if len(paths) == 0 {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Quarantine.ArchiveDir == "" {
				return fmt.Errorf("quarantine.archive_dir is not configured")
			}
			a, err := archive.NewArchiver(cfg.Quarantine.ArchiveDir, nil, newLogger(cfg))
			if err != nil {
				return err
			}
			if paths, err = a.List(); err != nil {
				return err
			}
		}

		u := newUI()
		failed := 0
		for _, path := range paths {
			contents, err := archive.Read(path)
			if err != nil {
				failed++
				u.Error(err)
				continue
			}
			u.Success(fmt.Sprintf("%s: batch %s, %d rows", path, contents.Metadata.BatchID, contents.Metadata.Rows))
		}
		if failed > 0 {
			return &exitCodeError{code: exitError, err: fmt.Errorf("%d of %d archives failed verification", failed, len(paths))}
		}
		return nil
	},
}

func init() {
	quarantineListCmd.Flags().IntVarP(&quarantineFlags.limit, "limit", "n", 20, "Maximum batches to list")
	quarantineExportCmd.Flags().StringVarP(&quarantineFlags.output, "output", "o", "-", "File to write the JSON rows to")
	quarantineExportCmd.Flags().BoolVar(&quarantineFlags.archive, "archive", false, "Write a tar.gz archive to quarantine.archive_dir instead")
	quarantinePurgeCmd.Flags().BoolVarP(&quarantineFlags.force, "force", "f", false, "Do not ask for confirmation")

	quarantineCmd.AddCommand(quarantineListCmd, quarantineShowCmd, quarantineExportCmd, quarantinePurgeCmd, quarantineVerifyCmd)
	rootCmd.AddCommand(quarantineCmd)
}

// loadBatch reads a stored batch with the metadata of its summary
func loadBatch(cmd *cobra.Command, env *pipeline.Environment, id string) (warehouse.Batch, error) {
	ctx := cmd.Context()
	rows, err := env.Quarantine.Rows(ctx, id)
	if err != nil {
		return warehouse.Batch{}, err
	}
	batch := warehouse.Batch{ID: id, Rows: rows}

	summaries, err := env.Quarantine.ListBatches(ctx, 1000)
	if err != nil {
		return warehouse.Batch{}, err
	}
	for _, s := range summaries {
		if s.ID != id {
			continue
		}
		batch.RunID = s.RunID
		batch.QuarantinedAt = s.QuarantinedAt
		if s.FailedChecks != "" {
			batch.FailedChecks = strings.Split(s.FailedChecks, "; ")
		}
		break
	}
	return batch, nil
}

// withWarehouse opens the warehouse for a subcommand and closes it after
func withWarehouse(fn func(cmd *cobra.Command, env *pipeline.Environment, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		env, err := pipeline.Open(cmd.Context(), cfg, false, newLogger(cfg))
		if err != nil {
			return err
		}
		defer env.Close()
		return fn(cmd, env, args)
	}
}
