package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"labhub/internal/common"
	"labhub/internal/observability"
	apperrors "labhub/pkg/errors"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultMaxRuns is the retention used when none is configured
const DefaultMaxRuns = 200

// timeLayout keeps stored timestamps fixed-width so they sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// RunRecord is one pipeline run in the ledger
type RunRecord struct {
	ID           string          `json:"id"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Outcome      string          `json:"outcome"`
	FinalState   string          `json:"final_state"`
	Committed    bool            `json:"committed"`
	RowsInserted int64           `json:"rows_inserted"`
	Quarantined  int             `json:"quarantined"`
	BatchID      string          `json:"batch_id,omitempty"`
	Error        string          `json:"error,omitempty"`
	Report       json.RawMessage `json:"report,omitempty"`
}

// Duration is the wall time of the run
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store keeps the run ledger in a local SQLite file
type Store struct {
	db      *sql.DB
	maxRuns int
	logger  *observability.Logger
}

const createRunsTable = `CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	outcome TEXT NOT NULL,
	final_state TEXT NOT NULL,
	committed INTEGER NOT NULL,
	rows_inserted INTEGER NOT NULL,
	quarantined INTEGER NOT NULL,
	batch_id TEXT,
	error TEXT,
	report BLOB
)`

// Open opens or creates the ledger at path. maxRuns <= 0 uses DefaultMaxRuns.
func Open(path string, maxRuns int, logger *observability.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}

	cleaned, err := common.CleanPath(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid history path")
	}
	if _, err := common.EnsureDir(filepath.Dir(cleaned), common.DirPermissionSecure); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFileOperation, "failed to create history directory")
	}

	db, err := sql.Open("sqlite", cleaned)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFileOperation, "failed to open history database").
			WithContext("path", cleaned)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createRunsTable); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFileOperation, "failed to create runs table").
			WithContext("path", cleaned)
	}

	return &Store{db: db, maxRuns: maxRuns, logger: logger.WithField("component", "history")}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run and prunes the oldest runs beyond the retention
func (s *Store) Record(ctx context.Context, r RunRecord) error {
	var report interface{}
	if len(r.Report) > 0 {
		report = []byte(r.Report)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(id, started_at, finished_at, outcome, final_state, committed, rows_inserted, quarantined, batch_id, error, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.StartedAt.UTC().Format(timeLayout),
		r.FinishedAt.UTC().Format(timeLayout),
		r.Outcome,
		r.FinalState,
		r.Committed,
		r.RowsInserted,
		r.Quarantined,
		r.BatchID,
		r.Error,
		report,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeFileOperation, "failed to record run").
			WithContext("run_id", r.ID)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)`, s.maxRuns)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeFileOperation, "failed to prune run history")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debugf("Pruned %d runs from history", n)
	}
	return nil
}

// List returns the most recent runs first, without their reports
func (s *Store) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, started_at, finished_at, outcome, final_state, committed,
		rows_inserted, quarantined, batch_id, error, NULL
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFileOperation, "failed to list runs")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFileOperation, "failed to list runs")
	}
	return out, nil
}

// Get returns one run with its report
func (s *Store) Get(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, started_at, finished_at, outcome, final_state, committed,
		rows_inserted, quarantined, batch_id, error, report
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrCodeNotFound, "run not found").WithContext("run_id", id)
		}
		return nil, err
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var (
		r                   RunRecord
		started, finished   string
		batchID, errMessage sql.NullString
		report              []byte
	)
	if err := sc.Scan(&r.ID, &started, &finished, &r.Outcome, &r.FinalState, &r.Committed,
		&r.RowsInserted, &r.Quarantined, &batchID, &errMessage, &report); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, apperrors.Wrap(err, apperrors.ErrCodeResultParsing, "failed to read run record")
	}
	r.StartedAt, _ = time.Parse(timeLayout, started)
	r.FinishedAt, _ = time.Parse(timeLayout, finished)
	r.BatchID = batchID.String
	r.Error = errMessage.String
	if len(report) > 0 {
		r.Report = json.RawMessage(report)
	}
	return r, nil
}
