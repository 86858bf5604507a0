package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"labhub/internal/database"
	"labhub/internal/observability"
	apperrors "labhub/pkg/errors"
)

// Batch is a set of fact rows that failed the quality gate
type Batch struct {
	ID            string
	RunID         string
	QuarantinedAt time.Time
	FailedChecks  []string
	Rows          []FactRow
}

// BatchSummary describes a stored batch without its rows
type BatchSummary struct {
	ID            string    `json:"id"`
	RunID         string    `json:"run_id"`
	QuarantinedAt time.Time `json:"quarantined_at"`
	FailedChecks  string    `json:"failed_checks"`
	Rows          int64     `json:"rows"`
}

const failedChecksSeparator = "; "

// QuarantineStore keeps rejected fact batches. Every write runs in its own
// transaction so a batch survives the rollback of the run that produced it.
type QuarantineStore struct {
	db        *sql.DB
	dialect   Dialect
	schema    string
	batchSize int
	logger    *observability.Logger
}

// NewQuarantineStore creates a store in schema
func NewQuarantineStore(db *sql.DB, dialect Dialect, schema string, batchSize int, logger *observability.Logger) *QuarantineStore {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &QuarantineStore{
		db:        db,
		dialect:   dialect,
		schema:    schema,
		batchSize: batchSize,
		logger:    logger.WithField("component", "quarantine"),
	}
}

func (s *QuarantineStore) table() string {
	return Qualify(s.schema, TableQuarantine)
}

// Ensure creates the quarantine table if it does not exist
func (s *QuarantineStore) Ensure(ctx context.Context, e database.Execer) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s,
    QuarantineBatchID VARCHAR NOT NULL,
    RunID VARCHAR,
    QuarantinedAt TIMESTAMP,
    FailedChecks VARCHAR
)`, s.table(), factColumns)
	if _, err := e.ExecContext(ctx, stmt); err != nil {
		return apperrors.WarehouseError("create quarantine table", stmt, err)
	}
	return nil
}

// Write stores batch in a transaction of its own
func (s *QuarantineStore) Write(ctx context.Context, batch Batch) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeQuarantineFailed, "failed to begin quarantine transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.Ensure(ctx, tx); err != nil {
		return err
	}

	columns := append(append([]Column{}, FactColumns...),
		Column{Name: "QuarantineBatchID", Type: "VARCHAR"},
		Column{Name: "RunID", Type: "VARCHAR"},
		Column{Name: "QuarantinedAt", Type: "TIMESTAMP"},
		Column{Name: "FailedChecks", Type: "VARCHAR"},
	)
	failed := strings.Join(batch.FailedChecks, failedChecksSeparator)
	at := batch.QuarantinedAt.UTC()

	perStatement := s.batchSize
	if limit := maxBindParams / len(columns); perStatement > limit {
		perStatement = limit
	}

	for offset := 0; offset < len(batch.Rows); offset += perStatement {
		end := offset + perStatement
		if end > len(batch.Rows) {
			end = len(batch.Rows)
		}
		if err = s.insert(ctx, tx, columns, batch.Rows[offset:end], batch.ID, batch.RunID, at, failed); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeQuarantineFailed, "failed to commit quarantine batch").
			WithContext("batch", batch.ID)
	}

	s.logger.WarnWithFields("Fact batch quarantined", map[string]interface{}{
		"batch":         batch.ID,
		"run_id":        batch.RunID,
		"rows":          len(batch.Rows),
		"failed_checks": failed,
	})
	return nil
}

func (s *QuarantineStore) insert(ctx context.Context, tx *sql.Tx, columns []Column, rows []FactRow, batchID, runID string, at time.Time, failed string) error {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", s.table(), strings.Join(names, ", "))
	args := make([]interface{}, 0, len(rows)*len(columns))
	n := 1
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, c := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.dialect.Bind(n, c.Type))
			n++
		}
		b.WriteString(")")
		args = append(args, r.Values()...)
		args = append(args, batchID, runID, at, failed)
	}

	stmt := b.String()
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		appErr := apperrors.WarehouseError("write quarantine", stmt, err).WithContext("batch", batchID)
		appErr.Code = apperrors.ErrCodeQuarantineFailed
		return appErr
	}
	return nil
}

// ListBatches returns the most recent batches first
func (s *QuarantineStore) ListBatches(ctx context.Context, limit int) ([]BatchSummary, error) {
	if err := s.Ensure(ctx, s.db); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`SELECT QuarantineBatchID, MAX(RunID), MAX(QuarantinedAt), MAX(FailedChecks), COUNT(*)
FROM %s
GROUP BY QuarantineBatchID
ORDER BY MAX(QuarantinedAt) DESC
LIMIT %d`, s.table(), limit)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.WarehouseError("list quarantine", query, err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var b BatchSummary
		var runID, failed sql.NullString
		var at sql.NullTime
		if err := rows.Scan(&b.ID, &runID, &at, &failed, &b.Rows); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeResultParsing, "failed to read quarantine batch")
		}
		b.RunID = runID.String
		b.FailedChecks = failed.String
		b.QuarantinedAt = at.Time
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WarehouseError("list quarantine", query, err)
	}
	return out, nil
}

// Rows returns the rows of one batch
func (s *QuarantineStore) Rows(ctx context.Context, batchID string) ([]FactRow, error) {
	if err := s.Ensure(ctx, s.db); err != nil {
		return nil, err
	}
	rows, err := ReadFacts(ctx, s.db, s.dialect, s.table(),
		"QuarantineBatchID = "+s.dialect.Bind(1, "VARCHAR"), batchID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, fmt.Sprintf("quarantine batch %q not found", batchID)).
			WithContext("batch", batchID).
			WithSuggestions("Run 'labhub quarantine list' to see stored batches")
	}
	return rows, nil
}

// Purge deletes one batch and returns the number of rows removed
func (s *QuarantineStore) Purge(ctx context.Context, batchID string) (int64, error) {
	if err := s.Ensure(ctx, s.db); err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE QuarantineBatchID = %s", s.table(), s.dialect.Bind(1, "VARCHAR"))
	res, err := s.db.ExecContext(ctx, stmt, batchID)
	if err != nil {
		return 0, apperrors.WarehouseError("purge quarantine", stmt, err).WithContext("batch", batchID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, apperrors.New(apperrors.ErrCodeNotFound, fmt.Sprintf("quarantine batch %q not found", batchID)).
			WithContext("batch", batchID)
	}
	s.logger.InfoWithFields("Quarantine batch purged", map[string]interface{}{"batch": batchID, "rows": n})
	return n, nil
}
