package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"labhub/internal/config"
	"labhub/internal/observability"
	"labhub/internal/security"
	"labhub/internal/ui"
	"labhub/pkg/models"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Exit statuses
const (
	exitError   = 1
	exitBlocked = 2
)

var (
	rootFlags struct {
		config  string
		verbose bool
		quiet   bool
		color   bool
	}

	rootCmd = &cobra.Command{
		Use:   "labhub",
		Short: "Refresh the laboratory inventory warehouse",
		Long: `LabHub - Copies the operational laboratory inventory database into a
star-schema warehouse, validates it with data quality checks and refreshes
the reporting views built on top of it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// exitCodeError carries a non-default exit status through cobra
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

// Execute runs the root command and exits with the matching status
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(handleError(err))
	}
}

func handleError(err error) int {
	var coded *exitCodeError
	if errors.As(err, &coded) {
		if coded.err != nil {
			ui.ShowError(coded.err)
		}
		return coded.code
	}
	ui.ShowError(err)
	return exitError
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.config, "config", "c", "", "Path to config file (default: ./labhub.yaml or ~/.labhub/labhub.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Show detailed output")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.quiet, "quiet", "q", false, "Only print errors")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.color, "color", true, "Colorize tables when writing to a terminal")
	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)
}

// normalizeFlagName accepts --metrics_file for --metrics-file
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// loadConfig loads, validates and resolves the configuration
func loadConfig() (*models.Config, error) {
	return config.LoadSecure(rootFlags.config, security.NewCredentialManager())
}

func newLogger(cfg *models.Config) *observability.Logger {
	level := cfg.Logging.Level
	if rootFlags.verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LoggerConfig{
		Level:   level,
		Format:  cfg.Logging.Format,
		Service: cfg.Logging.Service,
		Version: Version,
	})
}

func newUI() *ui.UI {
	return ui.NewUI(rootFlags.verbose, rootFlags.quiet)
}

func newVisualizer() *ui.Visualizer {
	return ui.NewVisualizer(rootFlags.color)
}
