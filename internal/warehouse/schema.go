package warehouse

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"labhub/internal/database"
	"labhub/internal/observability"
	apperrors "labhub/pkg/errors"
)

// Warehouse table names
const (
	TableProduct    = "Dim_Product"
	TableUser       = "Dim_User"
	TableLocation   = "Dim_Location"
	TableDate       = "Dim_Date"
	TableFact       = "Fact_Inventory_Transactions"
	TableQuarantine = "Quarantine_Inventory_Transactions"
	TableRunLock    = "Etl_Run_Lock"
)

// CoreTables must exist before a run can start
var CoreTables = []string{TableProduct, TableUser, TableLocation, TableDate, TableFact, TableRunLock}

// factColumns is shared by the fact table and its quarantine copy
const factColumns = `
    TransactionID BIGINT NOT NULL,
    DateKey INTEGER,
    ProductKey INTEGER,
    LocationKey INTEGER,
    UserKey INTEGER,
    QuantityDelta DECIMAL(18,4),
    AbsoluteQuantity DECIMAL(18,4),
    CurrentStockSnapshot DECIMAL(18,4),
    EventType VARCHAR`

// Facts carry no unique or foreign key constraints: the loader enforces
// both and the quality gate verifies them, so a bad batch is quarantined
// instead of failing on a constraint error.
var schemaTemplate = template.Must(template.New("schema").Funcs(template.FuncMap{
	"factColumns": func() string { return factColumns },
}).Parse(`
CREATE SCHEMA IF NOT EXISTS {{.Schema}};

CREATE SEQUENCE IF NOT EXISTS {{.Schema}}.seq_dim_product START 1;
CREATE SEQUENCE IF NOT EXISTS {{.Schema}}.seq_dim_user START 1;
CREATE SEQUENCE IF NOT EXISTS {{.Schema}}.seq_dim_location START 1;

CREATE TABLE IF NOT EXISTS {{.Schema}}.Dim_Product (
    ProductKey INTEGER DEFAULT {{call .NextVal "seq_dim_product"}} PRIMARY KEY,
    ProductID INTEGER NOT NULL UNIQUE,
    ProductName VARCHAR,
    CategoryName VARCHAR,
    UnitOfMeasure VARCHAR,
    Description VARCHAR
);

CREATE TABLE IF NOT EXISTS {{.Schema}}.Dim_User (
    UserKey INTEGER DEFAULT {{call .NextVal "seq_dim_user"}} PRIMARY KEY,
    UserID INTEGER NOT NULL UNIQUE,
    UserName VARCHAR,
    UserRole VARCHAR,
    DepartmentName VARCHAR
);

CREATE TABLE IF NOT EXISTS {{.Schema}}.Dim_Location (
    LocationKey INTEGER DEFAULT {{call .NextVal "seq_dim_location"}} PRIMARY KEY,
    LocationID INTEGER NOT NULL UNIQUE,
    SiteName VARCHAR,
    Building VARCHAR,
    RoomNumber VARCHAR,
    StorageType VARCHAR
);

CREATE TABLE IF NOT EXISTS {{.Schema}}.Dim_Date (
    DateKey INTEGER PRIMARY KEY,
    FullDate DATE NOT NULL,
    Day INTEGER,
    Month INTEGER,
    MonthName VARCHAR,
    Quarter INTEGER,
    Year INTEGER,
    DayOfWeek VARCHAR
);

CREATE TABLE IF NOT EXISTS {{.Schema}}.Fact_Inventory_Transactions ({{factColumns}}
);

CREATE TABLE IF NOT EXISTS {{.Schema}}.Quarantine_Inventory_Transactions ({{factColumns}},
    QuarantineBatchID VARCHAR NOT NULL,
    RunID VARCHAR,
    QuarantinedAt TIMESTAMP,
    FailedChecks VARCHAR
);

CREATE TABLE IF NOT EXISTS {{.Schema}}.Etl_Run_Lock (
    LockName VARCHAR PRIMARY KEY,
    Owner VARCHAR,
    AcquiredAt TIMESTAMP
);
`))

// Schema creates, resets and verifies the warehouse tables
type Schema struct {
	dialect Dialect
	name    string
	logger  *observability.Logger
}

// NewSchema creates a schema manager for the named warehouse schema
func NewSchema(dialect Dialect, name string, logger *observability.Logger) *Schema {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Schema{dialect: dialect, name: name, logger: logger.WithField("component", "schema")}
}

// DDL renders the creation script for this dialect
func (s *Schema) DDL() (string, error) {
	var buf bytes.Buffer
	data := struct {
		Schema  string
		NextVal func(string) string
	}{
		Schema: s.name,
		NextVal: func(seq string) string {
			return s.dialect.NextVal(Qualify(s.name, seq))
		},
	}
	if err := schemaTemplate.Execute(&buf, data); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to render schema DDL")
	}
	return buf.String(), nil
}

// Init creates every object that does not exist yet. With reset, the whole
// schema is dropped first, which deletes all warehouse data.
func (s *Schema) Init(ctx context.Context, e database.Execer, reset bool) error {
	if reset {
		s.logger.Warnf("Dropping schema %s", s.name)
		stmt := fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", s.name)
		if _, err := e.ExecContext(ctx, stmt); err != nil {
			return apperrors.WarehouseError("reset", stmt, err)
		}
	}

	ddl, err := s.DDL()
	if err != nil {
		return err
	}
	if err := database.ExecScript(ctx, e, ddl); err != nil {
		return err
	}

	s.logger.Infof("Warehouse schema %s initialized", s.name)
	return nil
}

// Tables lists the tables of the schema, lower-cased
func (s *Schema) Tables(ctx context.Context, q database.Queryer) ([]string, error) {
	query := "SELECT table_name FROM information_schema.tables WHERE lower(table_schema) = lower(" +
		s.dialect.Placeholder(1) + ")"

	rows, err := q.QueryContext(ctx, query, s.name)
	if err != nil {
		return nil, apperrors.WarehouseError("list tables", query, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeResultParsing, "failed to read table name")
		}
		tables = append(tables, strings.ToLower(name))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WarehouseError("list tables", query, err)
	}
	sort.Strings(tables)
	return tables, nil
}

// Verify fails when any core table is missing
func (s *Schema) Verify(ctx context.Context, q database.Queryer) error {
	tables, err := s.Tables(ctx, q)
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[t] = true
	}

	var missing []string
	for _, t := range CoreTables {
		if !present[strings.ToLower(t)] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return apperrors.New(apperrors.ErrCodeSchemaMismatch,
			fmt.Sprintf("warehouse schema %s is missing tables: %s", s.name, strings.Join(missing, ", "))).
			WithContext("schema", s.name).
			WithSuggestions("Run 'labhub init' to create the warehouse schema")
	}
	return nil
}
