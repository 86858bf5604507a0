package pipeline

import (
	"context"
	"time"

	"labhub/internal/archive"
	"labhub/internal/database"
	"labhub/internal/etl"
	"labhub/internal/history"
	"labhub/internal/observability"
	"labhub/internal/quality"
	"labhub/internal/source"
	"labhub/internal/warehouse"
	apperrors "labhub/pkg/errors"
	"labhub/pkg/models"
)

const (
	dateLayout     = "2006-01-02"
	defaultLockTTL = 6 * time.Hour
)

// Environment is a connected set of services built from configuration.
// Close releases everything it opened.
type Environment struct {
	Config     *models.Config
	Source     *database.Service
	Warehouse  *database.Service
	Dialect    warehouse.Dialect
	Schema     *warehouse.Schema
	Views      *warehouse.ViewManager
	Quarantine *warehouse.QuarantineStore
	Archiver   *archive.Archiver
	History    *history.Store
	Metrics    *observability.PipelineMetrics
	Logger     *observability.Logger
}

// Open connects the warehouse and, when withSource is set, the operational
// source. The history ledger is opened when configured.
func Open(ctx context.Context, cfg *models.Config, withSource bool, logger *observability.Logger) (*Environment, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	env := &Environment{
		Config:  cfg,
		Metrics: observability.NewPipelineMetrics(),
		Logger:  logger,
	}

	dialect, err := warehouse.DialectFor(cfg.Warehouse.Driver)
	if err != nil {
		return nil, err
	}
	env.Dialect = dialect
	env.Schema = warehouse.NewSchema(dialect, cfg.Warehouse.Schema, logger)
	env.Views = warehouse.NewViewManager(dialect, cfg.Warehouse.Schema, logger)

	whTarget, err := database.WarehouseTarget(cfg.Warehouse)
	if err != nil {
		return nil, err
	}
	env.Warehouse = database.NewService(whTarget, logger)
	if err := env.Warehouse.Connect(ctx); err != nil {
		return nil, err
	}
	env.Quarantine = warehouse.NewQuarantineStore(env.Warehouse.DB(), dialect, cfg.Warehouse.Schema,
		cfg.Pipeline.BatchSize, logger)

	if withSource {
		srcTarget, err := database.SourceTarget(cfg.Source)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Source = database.NewService(srcTarget, logger)
		if err := env.Source.Connect(ctx); err != nil {
			env.Close()
			return nil, err
		}
	}

	if cfg.Quarantine.ArchiveDir != "" {
		var uploader archive.Uploader
		if cfg.Quarantine.S3.Enabled {
			degrade := apperrors.NewGracefulDegradation(func(w *apperrors.AppError) {
				logger.WithError(w).Warn("Quarantine archives stay local")
			})
			// archives still land in ArchiveDir when S3 is unreachable
			err := degrade.WithFallback(
				func() error {
					s3u, err := archive.NewS3Uploader(ctx, cfg.Quarantine.S3)
					if err != nil {
						return err
					}
					uploader = s3u
					return nil
				},
				func() error { return nil },
				"S3 uploader unavailable",
			)
			if err != nil {
				env.Close()
				return nil, err
			}
		}
		env.Archiver, err = archive.NewArchiver(cfg.Quarantine.ArchiveDir, uploader, logger)
		if err != nil {
			env.Close()
			return nil, err
		}
	}

	if cfg.History.Path != "" {
		env.History, err = history.Open(cfg.History.Path, cfg.History.MaxRuns, logger)
		if err != nil {
			// runs proceed without a ledger
			logger.WithError(err).Warn("Run history unavailable")
			env.History = nil
		}
	}

	return env, nil
}

// Close closes every open handle
func (e *Environment) Close() error {
	var first error
	if e.History != nil {
		if err := e.History.Close(); err != nil && first == nil {
			first = err
		}
	}
	if e.Source != nil {
		if err := e.Source.Close(); err != nil && first == nil {
			first = err
		}
	}
	if e.Warehouse != nil {
		if err := e.Warehouse.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Gate builds the quality gate with the configured extra checks
func (e *Environment) Gate() (*quality.Gate, error) {
	extra, err := quality.ChecksFromConfig(e.Config.Pipeline.Checks)
	if err != nil {
		return nil, err
	}
	gate := quality.NewGate(e.Config.Warehouse.Schema, extra, e.Metrics, e.Logger)
	if e.Dialect.Savepoints() {
		gate.WithSavepoints()
	}
	return gate, nil
}

// Orchestrator assembles a refresh orchestrator. Open must have been
// called with withSource.
func (e *Environment) Orchestrator(opts Options) (*Orchestrator, error) {
	if e.Source == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidState, "source connection is not open")
	}
	cfg := e.Config

	extractor, err := source.NewExtractor(e.Source.DB(), cfg.Source.Driver, e.Logger)
	if err != nil {
		return nil, err
	}

	descriptions, err := etl.LoadDescriptions(cfg.Enrichment.DescriptionsFile, e.Logger)
	if err != nil {
		return nil, err
	}

	start, end, err := defaultDateRange(cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	gate, err := e.Gate()
	if err != nil {
		return nil, err
	}

	upserter := warehouse.NewUpserter(e.Dialect, cfg.Warehouse.Schema, cfg.Pipeline.BatchSize, e.Logger)
	locker := warehouse.NewLocker(e.Warehouse.DB(), e.Dialect, cfg.Warehouse.Schema, cfg.Warehouse.LockKey,
		cfg.Warehouse.LockTTLDuration(defaultLockTTL), e.Logger)

	deps := Deps{
		DB:     e.Warehouse.DB(),
		Schema: cfg.Warehouse.Schema,
		Locker: locker,
		Dimensions: []etl.DimensionLoader{
			etl.NewDateLoader(extractor, upserter, start, end, e.Logger),
			etl.NewProductLoader(extractor, upserter, descriptions, e.Logger),
			etl.NewUserLoader(extractor, upserter, e.Logger),
			etl.NewLocationLoader(extractor, upserter, e.Logger),
		},
		Facts:      etl.NewFactLoader(extractor, upserter, e.Logger),
		Gate:       gate,
		Quarantine: e.Quarantine,
		Views:      e.Views,
		Metrics:    e.Metrics,
		Logger:     e.Logger,
	}
	// typed nils must not reach the interface fields
	if e.Archiver != nil {
		deps.Archiver = e.Archiver
	}
	if e.History != nil {
		deps.History = e.History
	}

	if opts.Timeout == 0 {
		opts.Timeout = cfg.Pipeline.TimeoutDuration()
	}
	if opts.MetricsTextfile == "" {
		opts.MetricsTextfile = cfg.Metrics.Textfile
	}
	return NewOrchestrator(deps, opts), nil
}

func defaultDateRange(p models.Pipeline) (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, p.DefaultDateStart)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.ConfigError("default_date_start must be YYYY-MM-DD", "pipeline.default_date_start")
	}
	end, err := time.Parse(dateLayout, p.DefaultDateEnd)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.ConfigError("default_date_end must be YYYY-MM-DD", "pipeline.default_date_end")
	}
	return start, end, nil
}
