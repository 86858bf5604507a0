package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"labhub/internal/database"
	apperrors "labhub/pkg/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "?", DuckDB.Placeholder(3))
	assert.Equal(t, "$3", Postgres.Placeholder(3))
	assert.Equal(t, "CAST($2 AS BIGINT)", Postgres.Bind(2, "BIGINT"))
	assert.Equal(t, "CAST(? AS VARCHAR)", Snowflake.Bind(1, "VARCHAR"))

	assert.Equal(t, "nextval('dw.seq_dim_user')", DuckDB.NextVal("dw.seq_dim_user"))
	assert.Equal(t, "dw.seq_dim_user.NEXTVAL", Snowflake.NextVal("dw.seq_dim_user"))

	assert.Equal(t, "CAST(strftime(x, '%Y%m%d') AS INTEGER)", DuckDB.DateKey("x"))
	assert.Equal(t, "CAST(to_char(x, 'YYYYMMDD') AS INTEGER)", Postgres.DateKey("x"))

	assert.Contains(t, DuckDB.DateKeyAgo(30, "days"), "CURRENT_DATE - INTERVAL '30 days'")
	assert.Contains(t, Postgres.DateKeyAgo(6, "month"), "CURRENT_DATE - INTERVAL '6 months'")
	assert.Contains(t, Snowflake.DateKeyAgo(12, "month"), "DATEADD(month, -12, CURRENT_DATE)")

	assert.Equal(t, "CREATE TEMPORARY TABLE", Snowflake.CreateTemp())
	assert.Equal(t, "CREATE TEMP TABLE", DuckDB.CreateTemp())

	_, err := DialectFor("mysql")
	assert.Equal(t, apperrors.ErrCodeUnsupportedDriver, apperrors.GetErrorCode(err))
}

func TestSchemaDDL(t *testing.T) {
	duck, err := NewSchema(DuckDB, "dw", nil).DDL()
	require.NoError(t, err)
	assert.Contains(t, duck, "CREATE SCHEMA IF NOT EXISTS dw")
	assert.Contains(t, duck, "ProductKey INTEGER DEFAULT nextval('dw.seq_dim_product') PRIMARY KEY")
	assert.Contains(t, duck, "CREATE TABLE IF NOT EXISTS dw.Quarantine_Inventory_Transactions")
	assert.NotContains(t, duck, "REFERENCES")

	sf, err := NewSchema(Snowflake, "analytics", nil).DDL()
	require.NoError(t, err)
	assert.Contains(t, sf, "DEFAULT analytics.seq_dim_location.NEXTVAL")
	assert.NotContains(t, sf, "nextval(")
}

func TestSchemaInit(t *testing.T) {
	db, mock := newMock(t)
	s := NewSchema(DuckDB, "dw", nil)

	ddl, err := s.DDL()
	require.NoError(t, err)

	mock.ExpectExec("DROP SCHEMA IF EXISTS dw CASCADE").WillReturnResult(sqlmock.NewResult(0, 0))
	for range database.SplitStatements(ddl) {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, s.Init(context.Background(), db, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaVerify(t *testing.T) {
	db, mock := newMock(t)
	s := NewSchema(Postgres, "dw", nil)

	all := sqlmock.NewRows([]string{"table_name"})
	for _, name := range CoreTables {
		all.AddRow(strings.ToLower(name))
	}
	mock.ExpectQuery("FROM information_schema.tables").WithArgs("dw").WillReturnRows(all)
	mock.ExpectQuery("FROM information_schema.tables").WithArgs("dw").WillReturnRows(
		sqlmock.NewRows([]string{"table_name"}).AddRow("DIM_PRODUCT").AddRow("DIM_USER"),
	)

	require.NoError(t, s.Verify(context.Background(), db))

	err := s.Verify(context.Background(), db)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSchemaMismatch, apperrors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "Fact_Inventory_Transactions")
	assert.NotContains(t, err.Error(), "Dim_Product,")
	assert.NoError(t, mock.ExpectationsWereMet())
}

var productSpec = DimensionSpec{
	Table:      "Dim_Product",
	NaturalKey: Column{Name: "ProductID", Type: "BIGINT"},
	Attributes: []Column{
		{Name: "ProductName", Type: "VARCHAR"},
		{Name: "CategoryName", Type: "VARCHAR"},
	},
}

func TestUpsert(t *testing.T) {
	db, mock := newMock(t)
	u := NewUpserter(DuckDB, "dw", 1000, nil)

	rows := [][]interface{}{
		{int64(1), "Tips", "Consumables"},
		{int64(2), "Ethanol", "Solvents"},
		{int64(1), "Pipette Tips", "Consumables"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE IF EXISTS stg_dim_product").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TEMP TABLE stg_dim_product (ProductID BIGINT, ProductName VARCHAR, CategoryName VARCHAR)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stg_dim_product (ProductID, ProductName, CategoryName) VALUES (CAST(? AS BIGINT), CAST(? AS VARCHAR), CAST(? AS VARCHAR)), (")).
		WithArgs(int64(1), "Pipette Tips", "Consumables", int64(2), "Ethanol", "Solvents").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE dw.Dim_Product AS d SET ProductName = s.ProductName, CategoryName = s.CategoryName FROM stg_dim_product AS s WHERE d.ProductID = s.ProductID AND (d.ProductName IS DISTINCT FROM s.ProductName OR d.CategoryName IS DISTINCT FROM s.CategoryName)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dw.Dim_Product (ProductID, ProductName, CategoryName) SELECT s.ProductID, s.ProductName, s.CategoryName FROM stg_dim_product AS s WHERE NOT EXISTS (SELECT 1 FROM dw.Dim_Product AS d WHERE d.ProductID = s.ProductID)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DROP TABLE IF EXISTS stg_dim_product").WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := db.Begin()
	require.NoError(t, err)

	result, err := u.Upsert(context.Background(), tx, productSpec, rows)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Staged: 2, Updated: 1, Inserted: 1}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUnchangedReportsZeroUpdates(t *testing.T) {
	db, mock := newMock(t)
	u := NewUpserter(Postgres, "dw", 1, nil)

	mock.ExpectExec("DROP TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	// batch size 1: one insert per row, numbered placeholders restart per statement
	mock.ExpectExec(regexp.QuoteMeta("VALUES (CAST($1 AS BIGINT), CAST($2 AS VARCHAR), CAST($3 AS VARCHAR))")).
		WithArgs(int64(1), "Tips", "Consumables").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("VALUES (CAST($1 AS BIGINT), CAST($2 AS VARCHAR), CAST($3 AS VARCHAR))")).
		WithArgs(int64(2), "Ethanol", "Solvents").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE dw.Dim_Product").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO dw.Dim_Product").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE").WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := u.Upsert(context.Background(), db, productSpec, [][]interface{}{
		{int64(1), "Tips", "Consumables"},
		{int64(2), "Ethanol", "Solvents"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Updated)
	assert.Equal(t, int64(0), result.Inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertStagingFailure(t *testing.T) {
	db, mock := newMock(t)
	u := NewUpserter(DuckDB, "dw", 100, nil)

	mock.ExpectExec("DROP TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO stg_dim_product").WillReturnError(fmt.Errorf("Conversion Error: Could not convert string 'x' to INT64"))

	_, err := u.Upsert(context.Background(), db, productSpec, [][]interface{}{{"x", "a", "b"}})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeStagingFailed, apperrors.GetErrorCode(err))
}

func TestViewsRenderPerDialect(t *testing.T) {
	for _, d := range []Dialect{DuckDB, Postgres, Snowflake} {
		m := NewViewManager(d, "dw", nil)
		require.Len(t, m.List(), 14)

		for _, v := range m.List() {
			stmt, err := m.Render(v)
			require.NoError(t, err, "%s/%s", d.Name, v.Name)
			assert.True(t, strings.HasPrefix(stmt, "CREATE OR REPLACE VIEW dw."+v.Name+" AS"))
			assert.NotContains(t, stmt, "{{")
			assert.NotContains(t, stmt, "ANY_VALUE")

			switch d.Name {
			case "duckdb":
				assert.NotContains(t, stmt, "to_char")
				assert.NotContains(t, stmt, "DATEADD")
			case "postgres":
				assert.NotContains(t, stmt, "strftime")
				assert.NotContains(t, stmt, "DATEADD")
			case "snowflake":
				assert.NotContains(t, stmt, "strftime")
				assert.NotContains(t, stmt, "INTERVAL")
			}
		}
	}
}

func TestViewsRefresh(t *testing.T) {
	db, mock := newMock(t)
	m := NewViewManager(DuckDB, "dw", nil)

	for _, v := range m.List() {
		mock.ExpectExec(regexp.QuoteMeta("CREATE OR REPLACE VIEW dw." + v.Name + " AS")).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	n, err := m.Refresh(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViewsRefreshStopsOnFailure(t *testing.T) {
	db, mock := newMock(t)
	m := NewViewManager(DuckDB, "dw", nil)

	mock.ExpectExec("v_inventory_metrics_base").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("v_current_inventory").WillReturnError(fmt.Errorf("Binder Error"))

	n, err := m.Refresh(context.Background(), db)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViewsQuery(t *testing.T) {
	db, mock := newMock(t)
	m := NewViewManager(DuckDB, "dw", nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM dw.v_current_inventory LIMIT 5")).WillReturnRows(
		sqlmock.NewRows([]string{"ProductName", "StockOnHand", "RoomNumber"}).
			AddRow("Ethanol", []byte("12.5000"), nil),
	)

	rs, err := m.Query(context.Background(), db, "v_current_inventory", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"ProductName", "StockOnHand", "RoomNumber"}, rs.Columns)
	assert.Equal(t, [][]string{{"Ethanol", "12.5000", "NULL"}}, rs.Rows)

	_, err = m.Query(context.Background(), db, "dw.Dim_Product; DROP TABLE x", 5)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowLock(t *testing.T) {
	db, mock := newMock(t)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	l := NewLocker(db, DuckDB, "dw", "labhub-refresh", time.Hour, nil)
	l.now = func() time.Time { return fixed }

	mock.ExpectExec("DELETE FROM dw.Etl_Run_Lock WHERE LockName").
		WithArgs("labhub-refresh", fixed.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO dw.Etl_Run_Lock").
		WithArgs("labhub-refresh", l.Owner(), fixed, "labhub-refresh").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM dw.Etl_Run_Lock WHERE LockName = .* AND Owner").
		WithArgs("labhub-refresh", l.Owner()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	lease, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowLockHeld(t *testing.T) {
	db, mock := newMock(t)
	l := NewLocker(db, Snowflake, "dw", "labhub-refresh", time.Hour, nil)

	mock.ExpectExec("DELETE FROM dw.Etl_Run_Lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO dw.Etl_Run_Lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT Owner FROM dw.Etl_Run_Lock").
		WillReturnRows(sqlmock.NewRows([]string{"Owner"}).AddRow("etl-host/42/abcd1234"))

	_, err := l.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeLockHeld, apperrors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "etl-host/42/abcd1234")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLock(t *testing.T) {
	db, mock := newMock(t)
	l := NewLocker(db, Postgres, "dw", "labhub-refresh", time.Hour, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock(hashtext($1))")).
		WithArgs("labhub-refresh").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_advisory_unlock(hashtext($1))")).
		WithArgs("labhub-refresh").
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	lease, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))

	mock.ExpectQuery("pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))
	_, err = l.Acquire(context.Background())
	assert.Equal(t, apperrors.ErrCodeLockHeld, apperrors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func sampleFactRow(id int64, abs string) FactRow {
	return FactRow{
		TransactionID:    id,
		DateKey:          sql.NullInt64{Int64: 20250601, Valid: true},
		ProductKey:       sql.NullInt64{Int64: 1, Valid: true},
		LocationKey:      sql.NullInt64{Int64: 2, Valid: true},
		UserKey:          sql.NullInt64{Int64: 3, Valid: true},
		QuantityDelta:    decimal.NewNullDecimal(decimal.RequireFromString("-2")),
		AbsoluteQuantity: decimal.NewNullDecimal(decimal.RequireFromString(abs)),
		EventType:        sql.NullString{String: "Usage", Valid: true},
	}
}

func TestQuarantineWrite(t *testing.T) {
	db, mock := newMock(t)
	store := NewQuarantineStore(db, DuckDB, "dw", 1000, nil)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS dw.Quarantine_Inventory_Transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO dw.Quarantine_Inventory_Transactions").
		WithArgs(
			int64(500), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"batch-1", "run-1", at, "Negative Stock (Absolute); Orphaned Users",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Write(context.Background(), Batch{
		ID:            "batch-1",
		RunID:         "run-1",
		QuarantinedAt: at,
		FailedChecks:  []string{"Negative Stock (Absolute)", "Orphaned Users"},
		Rows:          []FactRow{sampleFactRow(500, "-3")},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuarantineWriteRollsBackOnFailure(t *testing.T) {
	db, mock := newMock(t)
	store := NewQuarantineStore(db, DuckDB, "dw", 1000, nil)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO dw.Quarantine_Inventory_Transactions").WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err := store.Write(context.Background(), Batch{ID: "b", Rows: []FactRow{sampleFactRow(1, "1")}})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeQuarantineFailed, apperrors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuarantineListRowsPurge(t *testing.T) {
	db, mock := newMock(t)
	store := NewQuarantineStore(db, DuckDB, "dw", 1000, nil)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("GROUP BY QuarantineBatchID").WillReturnRows(
		sqlmock.NewRows([]string{"id", "run", "at", "failed", "rows"}).
			AddRow("batch-1", "run-1", at, "Orphaned Users", 4),
	)

	batches, err := store.ListBatches(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, BatchSummary{ID: "batch-1", RunID: "run-1", QuarantinedAt: at, FailedChecks: "Orphaned Users", Rows: 4}, batches[0])

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("CAST(QuantityDelta AS VARCHAR)")).
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows(FactColumnNames).
			AddRow(500, 20250601, 1, 2, 3, "-2.0000", "-3.0000", nil, "Usage"))

	rows, err := store.Rows(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].AbsoluteQuantity.Decimal.Equal(decimal.NewFromInt(-3)))
	assert.False(t, rows[0].CurrentStockSnapshot.Valid)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM dw.Quarantine_Inventory_Transactions").
		WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = store.Purge(context.Background(), "missing")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFactRowJSON(t *testing.T) {
	row := sampleFactRow(7, "4.5")
	data, err := row.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"TransactionID":7`)
	assert.Contains(t, string(data), `"CurrentStockSnapshot":null`)
	assert.Contains(t, string(data), `"EventType":"Usage"`)
}

func TestInspect(t *testing.T) {
	db, mock := newMock(t)

	for i, table := range []string{"Dim_Product", "Dim_User", "Dim_Location", "Dim_Date", "Fact_Inventory_Transactions"} {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM dw." + table)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(10 * (i + 1))))
	}
	mock.ExpectQuery("IS NULL").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery("LIMIT 5").WillReturnRows(
		sqlmock.NewRows([]string{"ProductName", "TransactionCount"}).
			AddRow("Ethanol", int64(30)).
			AddRow("Pipette Tips", int64(20)),
	)

	ins, err := Inspect(context.Background(), db, "dw")
	require.NoError(t, err)
	require.Len(t, ins.Tables, 5)
	assert.Equal(t, int64(50), ins.Tables[4].Rows)
	assert.Equal(t, int64(0), ins.NullKeys)
	assert.Equal(t, []ProductActivity{{"Ethanol", 30}, {"Pipette Tips", 20}}, ins.TopProducts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
