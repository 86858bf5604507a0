package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"labhub/internal/archive"
	"labhub/internal/database"
	"labhub/internal/etl"
	"labhub/internal/history"
	"labhub/internal/observability"
	"labhub/internal/quality"
	"labhub/internal/warehouse"
	apperrors "labhub/pkg/errors"

	"github.com/google/uuid"
)

// Locker takes the warehouse run lock
type Locker interface {
	Acquire(ctx context.Context) (warehouse.Lease, error)
}

// FactStep loads facts inside the run transaction and exposes the rows it
// inserted until the transaction ends
type FactStep interface {
	Run(ctx context.Context, tx database.Executor) (etl.FactLoadResult, error)
	NewRows(ctx context.Context, tx database.Queryer) ([]warehouse.FactRow, error)
	Cleanup(ctx context.Context, tx database.Execer) error
}

// Gate runs the data quality checks for a scope
type Gate interface {
	Run(ctx context.Context, q database.Queryer, scope quality.Scope) (*quality.Report, error)
}

// QuarantineWriter stores a failed fact batch in its own transaction
type QuarantineWriter interface {
	Write(ctx context.Context, batch warehouse.Batch) error
}

// Archiver keeps an offline copy of a quarantined batch
type Archiver interface {
	Archive(ctx context.Context, batch warehouse.Batch, report *quality.Report) (*archive.Metadata, error)
}

// ViewRefresher recomputes the derived views
type ViewRefresher interface {
	Refresh(ctx context.Context, e database.Execer) (int, error)
}

// Recorder appends runs to the ledger
type Recorder interface {
	Record(ctx context.Context, r history.RunRecord) error
}

// Deps wires the orchestrator. Archiver, History and Metrics are optional.
type Deps struct {
	DB         *sql.DB
	Schema     string
	Locker     Locker
	Dimensions []etl.DimensionLoader
	Facts      FactStep
	Gate       Gate
	Quarantine QuarantineWriter
	Archiver   Archiver
	Views      ViewRefresher
	History    Recorder
	Metrics    *observability.PipelineMetrics
	Logger     *observability.Logger
}

// Options control optional steps of a run
type Options struct {
	RefreshViews    bool
	Inspect         bool
	Timeout         time.Duration
	MetricsTextfile string
}

// Orchestrator runs one warehouse refresh: dimensions, gate, facts, gate,
// then commit or quarantine. All dimension and fact mutation happens in a
// single transaction.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *observability.Logger
	now    func() time.Time
	newID  func() string
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logger.WithField("component", "pipeline"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Run executes one refresh. The report is always returned. A gate failure
// is reported through the outcome with a nil error; the error is reserved
// for lock contention and store failures.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	report := newRunReport(o.newID(), o.now())
	logger := o.logger.WithField("run_id", report.RunID)

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	lease, err := o.deps.Locker.Acquire(ctx)
	if err != nil {
		report.Outcome = OutcomeSkipped
		if !apperrors.HasCode(err, apperrors.ErrCodeLockHeld) {
			report.Outcome = OutcomeFailed
		}
		return o.finish(ctx, report, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			logger.WithError(err).Warn("Failed to release warehouse run lock")
		}
	}()

	logger.Info("Warehouse refresh started")
	report.enter(StateStart)

	err = o.run(ctx, report, logger)
	if err != nil && report.Outcome == "" {
		report.Outcome = OutcomeFailed
	}
	return o.finish(ctx, report, err)
}

func (o *Orchestrator) run(ctx context.Context, report *RunReport, logger *observability.Logger) error {
	tx, err := o.deps.DB.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSQLTransaction, "failed to begin run transaction")
	}
	finished := false
	defer func() {
		if !finished {
			rollback(tx, logger)
		}
	}()

	for _, loader := range o.deps.Dimensions {
		res, err := loader.Run(ctx, tx)
		report.Dimensions[loader.Table()] = res
		if err != nil {
			return fmt.Errorf("load %s: %w", loader.Table(), err)
		}
	}
	report.enter(StateDimensionsLoaded)

	dimGate, err := o.deps.Gate.Run(ctx, tx, quality.ScopeDimensions)
	if err != nil {
		return err
	}
	report.DimensionGate = dimGate
	if !dimGate.Passed {
		finished = true
		if err := rollback(tx, logger); err != nil {
			return err
		}
		report.enter(StateAborted)
		report.Outcome = OutcomeAborted
		logger.WarnWithFields("Dimension quality gate failed, run aborted", map[string]interface{}{
			"failed_checks": dimGate.FailedNames(),
		})
		return nil
	}
	report.enter(StateDimensionsValidated)

	facts, err := o.deps.Facts.Run(ctx, tx)
	report.Facts = facts
	if err != nil {
		return fmt.Errorf("load %s: %w", warehouse.TableFact, err)
	}
	report.enter(StateFactsLoaded)

	// a check that errors can leave tx unusable, so the candidate
	// quarantine rows are read before the gate runs
	var newRows []warehouse.FactRow
	if facts.Staged > 0 {
		if newRows, err = o.deps.Facts.NewRows(ctx, tx); err != nil {
			return err
		}
	}

	fullGate, err := o.deps.Gate.Run(ctx, tx, quality.ScopeAll)
	if err != nil {
		return err
	}
	report.FullGate = fullGate
	if !fullGate.Passed {
		finished = true
		return o.quarantine(ctx, tx, report, newRows, logger)
	}
	report.enter(StateFactsValidated)

	if facts.Staged > 0 {
		if err := o.deps.Facts.Cleanup(ctx, tx); err != nil {
			return err
		}
	}
	finished = true
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSQLTransaction, "failed to commit run transaction")
	}
	report.Committed = true
	logger.InfoWithFields("Run transaction committed", map[string]interface{}{
		"facts_inserted": facts.Inserted,
	})

	if o.opts.RefreshViews && o.deps.Views != nil {
		n, err := o.deps.Views.Refresh(ctx, o.deps.DB)
		report.ViewsRefreshed = n
		if err != nil {
			// data is committed, the run is still reported as failed
			return err
		}
		report.enter(StateViewsRefreshed)
	}

	if o.opts.Inspect {
		inspection, err := warehouse.Inspect(ctx, o.deps.DB, o.deps.Schema)
		if err != nil {
			logger.WithError(err).Warn("Warehouse inspection failed")
		} else {
			report.Inspection = inspection
		}
	}

	report.enter(StateDone)
	report.Outcome = OutcomeSuccess
	return nil
}

// quarantine rolls back, then stores rows (read from tx before the gate)
// in a separate transaction so the rollback cannot take them along
func (o *Orchestrator) quarantine(ctx context.Context, tx *sql.Tx, report *RunReport, rows []warehouse.FactRow, logger *observability.Logger) error {
	if err := rollback(tx, logger); err != nil {
		return err
	}
	report.enter(StateQuarantined)
	report.Outcome = OutcomeQuarantined

	batch := warehouse.Batch{
		ID:            o.newID(),
		RunID:         report.RunID,
		QuarantinedAt: o.now(),
		FailedChecks:  report.FullGate.FailedNames(),
		Rows:          rows,
	}
	logger.WarnWithFields("Full quality gate failed, run rolled back", map[string]interface{}{
		"failed_checks": batch.FailedChecks,
		"rows":          len(rows),
	})

	if len(rows) == 0 {
		logger.Warn("No new fact rows to quarantine")
		return nil
	}

	if err := o.deps.Quarantine.Write(ctx, batch); err != nil {
		return err
	}
	report.QuarantineID = batch.ID
	report.Quarantined = len(rows)

	if o.deps.Archiver != nil {
		meta, err := o.deps.Archiver.Archive(ctx, batch, report.FullGate)
		if meta != nil {
			report.ArchivePath = meta.Path
		}
		if err != nil {
			logger.WithError(err).Warn("Failed to archive quarantine batch")
		}
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, report *RunReport, err error) (*RunReport, error) {
	report.FinishedAt = o.now()
	if err != nil {
		report.Error = err.Error()
	}

	fields := map[string]interface{}{
		"run_id":      report.RunID,
		"outcome":     report.Outcome,
		"state":       report.FinalState(),
		"committed":   report.Committed,
		"duration_ms": report.Duration().Milliseconds(),
	}
	switch {
	case err != nil:
		o.logger.WithError(err).ErrorWithFields("Warehouse refresh failed", fields)
	case report.Blocked():
		o.logger.WarnWithFields("Warehouse refresh blocked by quality gate", fields)
	default:
		o.logger.InfoWithFields("Warehouse refresh finished", fields)
	}

	if m := o.deps.Metrics; m != nil {
		m.ObserveRun(string(report.Outcome), report.Duration(), report.Committed)
		if report.Committed {
			for table, res := range report.Dimensions {
				m.AddRows(table, res.Inserted, res.Updated)
			}
			m.AddRows(warehouse.TableFact, report.Facts.Inserted, 0)
		}
		m.AddQuarantined(report.Quarantined)
		if o.opts.MetricsTextfile != "" {
			if werr := m.WriteTextfile(o.opts.MetricsTextfile); werr != nil {
				o.logger.WithError(werr).Warn("Failed to write metrics textfile")
			}
		}
	}

	if o.deps.History != nil {
		recordCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			recordCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if herr := o.deps.History.Record(recordCtx, report.Record()); herr != nil {
			o.logger.WithError(herr).Warn("Failed to record run history")
		}
	}

	return report, err
}

// rollback ends tx, ignoring a transaction that is already closed
func rollback(tx *sql.Tx, logger *observability.Logger) error {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.WithError(err).Error("Rollback failed")
		return apperrors.Wrap(err, apperrors.ErrCodeRollbackFailed, "failed to roll back run transaction")
	}
	return nil
}
