package etl

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"labhub/internal/database"
	"labhub/internal/observability"
	"labhub/internal/source"
	"labhub/internal/warehouse"
	apperrors "labhub/pkg/errors"
)

// Staging relations of the fact load. Both live until the run
// transaction ends.
const (
	StageFactEvents = "stg_fact_events"
	StageFactNew    = "stg_fact_new"
)

var factEventColumns = []warehouse.Column{
	{Name: "TransactionID", Type: "BIGINT"},
	{Name: "ProductID", Type: "BIGINT"},
	{Name: "LocationID", Type: "BIGINT"},
	{Name: "UserID", Type: "BIGINT"},
	{Name: "DateKey", Type: "INTEGER"},
	{Name: "OldQuantity", Type: "DECIMAL(18,4)"},
	{Name: "NewQuantity", Type: "DECIMAL(18,4)"},
	{Name: "EventType", Type: "VARCHAR"},
	{Name: "CurrentStockSnapshot", Type: "DECIMAL(18,4)"},
}

// FactLoadResult reports one fact load
type FactLoadResult struct {
	Extracted int   `json:"extracted"`
	Staged    int   `json:"staged"`
	New       int64 `json:"new"`
	Inserted  int64 `json:"inserted"`
	Before    int64 `json:"before"`
	After     int64 `json:"after"`
}

// FactLoader appends new inventory transactions to the fact table. Events
// whose product, location, user or date has no dimension row are dropped,
// and transactions already present are skipped.
type FactLoader struct {
	src      Source
	upserter *warehouse.Upserter
	logger   *observability.Logger
}

// NewFactLoader creates the fact loader
func NewFactLoader(src Source, upserter *warehouse.Upserter, logger *observability.Logger) *FactLoader {
	return &FactLoader{src: src, upserter: upserter, logger: loaderLogger(logger, warehouse.TableFact)}
}

func (l *FactLoader) Table() string { return warehouse.TableFact }

// Extract reads every stock event from the source
func (l *FactLoader) Extract(ctx context.Context) ([]source.Event, error) {
	return l.src.Events(ctx)
}

// Load stages events and inserts the resolvable new ones. An empty batch
// issues no SQL.
func (l *FactLoader) Load(ctx context.Context, tx database.Executor, events []source.Event) (FactLoadResult, error) {
	result := FactLoadResult{Extracted: len(events)}
	if len(events) == 0 {
		l.logger.Info("No source events, fact load skipped")
		return result, nil
	}
	start := time.Now()

	if err := l.upserter.Stage(ctx, tx, StageFactEvents, factEventColumns, eventValues(events)); err != nil {
		return result, err
	}
	result.Staged = len(events)

	if err := l.upserter.Drop(ctx, tx, StageFactNew); err != nil {
		return result, err
	}
	resolve := l.resolveSQL()
	if _, err := tx.ExecContext(ctx, resolve); err != nil {
		return result, apperrors.WarehouseError("resolve fact keys", resolve, err)
	}

	n, err := warehouse.CountRows(ctx, tx, StageFactNew)
	if err != nil {
		return result, err
	}
	result.New = n

	fact := warehouse.Qualify(l.upserter.Schema(), warehouse.TableFact)
	if result.Before, err = warehouse.CountRows(ctx, tx, fact); err != nil {
		return result, err
	}

	cols := strings.Join(warehouse.FactColumnNames, ", ")
	insert := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", fact, cols, cols, StageFactNew)
	if _, err := tx.ExecContext(ctx, insert); err != nil {
		return result, apperrors.WarehouseError("insert facts", insert, err)
	}

	if result.After, err = warehouse.CountRows(ctx, tx, fact); err != nil {
		return result, err
	}
	result.Inserted = result.After - result.Before

	l.logger.InfoWithFields("Facts loaded", map[string]interface{}{
		"extracted":   result.Extracted,
		"new":         result.New,
		"inserted":    result.Inserted,
		"skipped":     int64(result.Extracted) - result.New,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result, nil
}

// Run extracts and loads in one step
func (l *FactLoader) Run(ctx context.Context, tx database.Executor) (FactLoadResult, error) {
	events, err := l.Extract(ctx)
	if err != nil {
		return FactLoadResult{}, err
	}
	return l.Load(ctx, tx, events)
}

// NewRows returns the rows inserted by the last Load in tx
func (l *FactLoader) NewRows(ctx context.Context, tx database.Queryer) ([]warehouse.FactRow, error) {
	return warehouse.ReadFacts(ctx, tx, l.upserter.Dialect(), StageFactNew, "")
}

// Cleanup drops both staging relations
func (l *FactLoader) Cleanup(ctx context.Context, tx database.Execer) error {
	if err := l.upserter.Drop(ctx, tx, StageFactNew); err != nil {
		return err
	}
	return l.upserter.Drop(ctx, tx, StageFactEvents)
}

func (l *FactLoader) resolveSQL() string {
	schema := l.upserter.Schema()
	return fmt.Sprintf(`%s %s AS
SELECT e.TransactionID AS TransactionID,
    e.DateKey AS DateKey,
    p.ProductKey AS ProductKey,
    loc.LocationKey AS LocationKey,
    u.UserKey AS UserKey,
    CAST(e.NewQuantity - e.OldQuantity AS DECIMAL(18,4)) AS QuantityDelta,
    CAST(e.NewQuantity AS DECIMAL(18,4)) AS AbsoluteQuantity,
    e.CurrentStockSnapshot AS CurrentStockSnapshot,
    e.EventType AS EventType
FROM %s AS e
JOIN %s AS p ON p.ProductID = e.ProductID
JOIN %s AS loc ON loc.LocationID = e.LocationID
JOIN %s AS u ON u.UserID = e.UserID
JOIN %s AS d ON d.DateKey = e.DateKey
WHERE NOT EXISTS (SELECT 1 FROM %s AS f WHERE f.TransactionID = e.TransactionID)`,
		l.upserter.Dialect().CreateTemp(), StageFactNew,
		StageFactEvents,
		warehouse.Qualify(schema, warehouse.TableProduct),
		warehouse.Qualify(schema, warehouse.TableLocation),
		warehouse.Qualify(schema, warehouse.TableUser),
		warehouse.Qualify(schema, warehouse.TableDate),
		warehouse.Qualify(schema, warehouse.TableFact))
}

func eventValues(events []source.Event) [][]interface{} {
	out := make([][]interface{}, len(events))
	for i, e := range events {
		out[i] = []interface{}{
			e.TransactionID,
			e.ProductID,
			e.LocationID,
			e.UserID,
			sql.NullInt64{Int64: DateKey(e.EventDate), Valid: !e.EventDate.IsZero()},
			e.OldQuantity,
			e.NewQuantity,
			e.EventType,
			e.CurrentStockSnapshot,
		}
	}
	return out
}

