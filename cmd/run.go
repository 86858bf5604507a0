package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"labhub/internal/observability"
	"labhub/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	runFlags struct {
		noViews     bool
		inspect     bool
		metricsFile string
	}

	scheduleFlags struct {
		interval time.Duration
		listen   string
	}
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one warehouse refresh",
	Long: `Run one warehouse refresh: load the dimensions, validate them, load new
facts, validate the whole warehouse and commit. Rejected fact batches are
moved to quarantine and the run exits with status 2.`,
	Args: cobra.NoArgs,
	RunE: runRefresh,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Refresh the warehouse on an interval",
	Long: `Refresh the warehouse repeatedly until interrupted. Prometheus metrics are
served on /metrics and component health on /healthz when --listen is set.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.noViews, "no-views", false, "Skip the reporting view refresh")
	runCmd.Flags().BoolVar(&runFlags.inspect, "inspect", false, "Print table counts and top products after the run")
	runCmd.Flags().StringVar(&runFlags.metricsFile, "metrics-file", "", "Write prometheus metrics to this textfile")

	scheduleCmd.Flags().DurationVar(&scheduleFlags.interval, "interval", time.Hour, "Time between refreshes")
	scheduleCmd.Flags().StringVar(&scheduleFlags.listen, "listen", "", "Address for /metrics and /healthz (default: metrics.listen)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runOptions(env *pipeline.Environment) pipeline.Options {
	return pipeline.Options{
		RefreshViews:    env.Config.Pipeline.RefreshViews && !runFlags.noViews,
		Inspect:         env.Config.Pipeline.Inspect || runFlags.inspect,
		MetricsTextfile: runFlags.metricsFile,
	}
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	u := newUI()
	ctx := cmd.Context()

	env, err := pipeline.Open(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	orch, err := env.Orchestrator(runOptions(env))
	if err != nil {
		return err
	}

	u.StartProgress("Refreshing warehouse")
	report, err := orch.Run(ctx)
	u.StopProgress(err == nil && !report.Blocked(), fmt.Sprintf("Refresh %s", report.Outcome))
	u.ShowRunReport(report, newVisualizer())

	return runStatus(report, err)
}

// runStatus maps a finished run to the command result
func runStatus(report *pipeline.RunReport, err error) error {
	if err != nil {
		return err
	}
	if report.Blocked() {
		return &exitCodeError{code: exitBlocked}
	}
	return nil
}

// lastRun is shared between the scheduler loop and the health endpoint
type lastRun struct {
	mu     sync.RWMutex
	report *pipeline.RunReport
	err    error
}

func (l *lastRun) set(r *pipeline.RunReport, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.report, l.err = r, err
}

func (l *lastRun) status() (observability.HealthStatus, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch {
	case l.err != nil:
		return observability.HealthStatusDown, l.err.Error()
	case l.report == nil:
		return observability.HealthStatusUp, "no run yet"
	case l.report.Blocked():
		return observability.HealthStatusDegraded, fmt.Sprintf("last run %s", l.report.Outcome)
	default:
		return observability.HealthStatusUp, fmt.Sprintf("last run %s at %s", l.report.Outcome,
			l.report.FinishedAt.Format(time.RFC3339))
	}
}

func runSchedule(cmd *cobra.Command, args []string) error {
	if scheduleFlags.interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	u := newUI()
	ctx := cmd.Context()

	env, err := pipeline.Open(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	// fail fast on configuration the first tick would reject
	if _, err := env.Orchestrator(runOptions(env)); err != nil {
		return err
	}

	last := &lastRun{}
	listen := scheduleFlags.listen
	if listen == "" {
		listen = cfg.Metrics.Listen
	}
	if listen != "" {
		srv := newStatusServer(listen, env, last, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Status server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		u.Info(fmt.Sprintf("Serving /metrics and /healthz on %s", listen))
	}

	u.Info(fmt.Sprintf("Refreshing every %s, press Ctrl+C to stop", scheduleFlags.interval))
	vis := newVisualizer()
	refresh := func() {
		report, err := scheduledRefresh(ctx, env, last)
		if err != nil {
			// a failed run does not stop the schedule
			u.Error(err)
		}
		if report != nil {
			u.ShowRunReport(report, vis)
		}
	}

	refresh()
	ticker := time.NewTicker(scheduleFlags.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			u.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			refresh()
		}
	}
}

// scheduledRefresh builds a fresh orchestrator so each tick rereads the
// description file, then runs it and records the result in last
func scheduledRefresh(ctx context.Context, env *pipeline.Environment, last *lastRun) (*pipeline.RunReport, error) {
	orch, err := env.Orchestrator(runOptions(env))
	if err != nil {
		last.set(nil, err)
		return nil, err
	}
	report, err := orch.Run(ctx)
	last.set(report, err)
	return report, err
}

func newStatusServer(addr string, env *pipeline.Environment, last *lastRun, logger *observability.Logger) *http.Server {
	health := observability.NewHealthManager(10*time.Second, logger)
	health.RegisterCheck(observability.NewFuncHealthCheck("warehouse", env.Warehouse.Ping))
	if env.Source != nil {
		health.RegisterCheck(observability.NewFuncHealthCheck("source", env.Source.Ping))
	}
	health.RegisterCheck(observability.NewStatusHealthCheck("last_run", last.status))

	mux := http.NewServeMux()
	mux.Handle("/metrics", env.Metrics.Handler())
	mux.HandleFunc("/healthz", health.HealthHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
