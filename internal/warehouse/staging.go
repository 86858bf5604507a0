package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labhub/internal/database"
	"labhub/internal/observability"
	apperrors "labhub/pkg/errors"
)

// maxBindParams keeps a single multi-row insert under every driver's limit
const maxBindParams = 30000

// Column is a named, typed column of a staging relation
type Column struct {
	Name string
	Type string
}

// DimensionSpec describes a dimension table for the upsert. The surrogate
// key is not listed: it is assigned by the table default on insert and
// never touched afterwards.
type DimensionSpec struct {
	Table      string
	NaturalKey Column
	Attributes []Column
}

// Columns returns the natural key followed by the attributes
func (s DimensionSpec) Columns() []Column {
	return append([]Column{s.NaturalKey}, s.Attributes...)
}

// StagingTable is the name of the temporary relation used for s
func (s DimensionSpec) StagingTable() string {
	return "stg_" + strings.ToLower(s.Table)
}

// UpsertResult reports what one dimension upsert changed
type UpsertResult struct {
	Staged   int64 `json:"staged"`
	Updated  int64 `json:"updated"`
	Inserted int64 `json:"inserted"`
}

// Upserter stages candidate rows in a temporary relation and reconciles
// them with the target table in two statements: update-where-changed and
// insert-where-absent. It never commits.
type Upserter struct {
	dialect   Dialect
	schema    string
	batchSize int
	logger    *observability.Logger
}

// NewUpserter creates an upserter for tables in schema
func NewUpserter(dialect Dialect, schema string, batchSize int, logger *observability.Logger) *Upserter {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Upserter{
		dialect:   dialect,
		schema:    schema,
		batchSize: batchSize,
		logger:    logger.WithField("component", "upsert"),
	}
}

// Dialect returns the dialect the upserter renders SQL for
func (u *Upserter) Dialect() Dialect {
	return u.dialect
}

// Schema returns the warehouse schema name
func (u *Upserter) Schema() string {
	return u.schema
}

// Upsert reconciles rows with spec.Table. Each row holds the natural key
// followed by the attributes in spec order. Rows sharing a natural key are
// collapsed, the last one winning.
func (u *Upserter) Upsert(ctx context.Context, tx database.Executor, spec DimensionSpec, rows [][]interface{}) (UpsertResult, error) {
	start := time.Now()
	rows = dedupeByKey(rows)
	result := UpsertResult{Staged: int64(len(rows))}

	staging := spec.StagingTable()
	if err := u.Stage(ctx, tx, staging, spec.Columns(), rows); err != nil {
		return result, err
	}

	updated, err := u.exec(ctx, tx, "update "+spec.Table, u.updateSQL(spec, staging))
	if err != nil {
		return result, err
	}
	result.Updated = updated

	inserted, err := u.exec(ctx, tx, "insert "+spec.Table, u.insertSQL(spec, staging))
	if err != nil {
		return result, err
	}
	result.Inserted = inserted

	if err := u.Drop(ctx, tx, staging); err != nil {
		return result, err
	}

	u.logger.InfoWithFields("Dimension upserted", map[string]interface{}{
		"table":       spec.Table,
		"staged":      result.Staged,
		"updated":     result.Updated,
		"inserted":    result.Inserted,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result, nil
}

// Stage (re)creates a temporary relation and bulk-inserts rows into it
func (u *Upserter) Stage(ctx context.Context, tx database.Execer, table string, columns []Column, rows [][]interface{}) error {
	if err := u.Drop(ctx, tx, table); err != nil {
		return err
	}

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = c.Name + " " + c.Type
	}
	create := fmt.Sprintf("%s %s (%s)", u.dialect.CreateTemp(), table, strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return apperrors.WarehouseError("create staging", create, err).
			WithContext("table", table)
	}

	perStatement := u.batchSize
	if limit := maxBindParams / len(columns); perStatement > limit {
		perStatement = limit
	}

	for offset := 0; offset < len(rows); offset += perStatement {
		end := offset + perStatement
		if end > len(rows) {
			end = len(rows)
		}
		if err := u.insertBatch(ctx, tx, table, columns, rows[offset:end]); err != nil {
			return err
		}
	}
	return nil
}

// Drop removes a staging relation if it exists
func (u *Upserter) Drop(ctx context.Context, tx database.Execer, table string) error {
	stmt := "DROP TABLE IF EXISTS " + table
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return apperrors.WarehouseError("drop staging", stmt, err).
			WithContext("table", table)
	}
	return nil
}

func (u *Upserter) insertBatch(ctx context.Context, tx database.Execer, table string, columns []Column, rows [][]interface{}) error {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(names, ", "))

	args := make([]interface{}, 0, len(rows)*len(columns))
	n := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return apperrors.New(apperrors.ErrCodeStagingFailed,
				fmt.Sprintf("row has %d values, staging table %s has %d columns", len(row), table, len(columns)))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, c := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(u.dialect.Bind(n, c.Type))
			n++
		}
		b.WriteString(")")
		args = append(args, row...)
	}

	stmt := b.String()
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		appErr := apperrors.WarehouseError("stage rows", stmt, err).
			WithContext("table", table).
			WithContext("rows", len(rows))
		appErr.Code = apperrors.ErrCodeStagingFailed
		return appErr
	}
	return nil
}

func (u *Upserter) updateSQL(spec DimensionSpec, staging string) string {
	sets := make([]string, len(spec.Attributes))
	diffs := make([]string, len(spec.Attributes))
	for i, a := range spec.Attributes {
		sets[i] = fmt.Sprintf("%s = s.%s", a.Name, a.Name)
		diffs[i] = fmt.Sprintf("d.%s IS DISTINCT FROM s.%s", a.Name, a.Name)
	}
	return fmt.Sprintf("UPDATE %s AS d SET %s FROM %s AS s WHERE d.%s = s.%s AND (%s)",
		Qualify(u.schema, spec.Table),
		strings.Join(sets, ", "),
		staging,
		spec.NaturalKey.Name, spec.NaturalKey.Name,
		strings.Join(diffs, " OR "))
}

func (u *Upserter) insertSQL(spec DimensionSpec, staging string) string {
	cols := spec.Columns()
	names := make([]string, len(cols))
	selects := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
		selects[i] = "s." + c.Name
	}
	target := Qualify(u.schema, spec.Table)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s AS s WHERE NOT EXISTS (SELECT 1 FROM %s AS d WHERE d.%s = s.%s)",
		target,
		strings.Join(names, ", "),
		strings.Join(selects, ", "),
		staging,
		target,
		spec.NaturalKey.Name, spec.NaturalKey.Name)
}

func (u *Upserter) exec(ctx context.Context, tx database.Execer, operation, stmt string) (int64, error) {
	res, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		return 0, apperrors.WarehouseError(operation, stmt, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeWarehouseExec, "driver did not report affected rows").
			WithContext("operation", operation)
	}
	return n, nil
}

func dedupeByKey(rows [][]interface{}) [][]interface{} {
	index := make(map[string]int, len(rows))
	out := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		key := fmt.Sprint(row[0])
		if i, ok := index[key]; ok {
			out[i] = row
			continue
		}
		index[key] = len(out)
		out = append(out, row)
	}
	return out
}
