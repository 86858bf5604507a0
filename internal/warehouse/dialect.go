package warehouse

import (
	"fmt"
	"strings"

	apperrors "labhub/pkg/errors"
)

// Dialect captures the SQL differences between the supported warehouses.
// Everything else is written in the common subset (IS DISTINCT FROM,
// UPDATE ... FROM, CREATE OR REPLACE VIEW, window functions).
type Dialect struct {
	Name string
}

var (
	DuckDB    = Dialect{Name: "duckdb"}
	Postgres  = Dialect{Name: "postgres"}
	Snowflake = Dialect{Name: "snowflake"}
)

// DialectFor returns the dialect of a configured warehouse driver
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "duckdb":
		return DuckDB, nil
	case "postgres":
		return Postgres, nil
	case "snowflake":
		return Snowflake, nil
	default:
		return Dialect{}, apperrors.New(apperrors.ErrCodeUnsupportedDriver,
			fmt.Sprintf("unsupported warehouse driver %q", driver)).
			WithContext("field", "warehouse.driver")
	}
}

// Placeholder returns the n-th (1-based) bind parameter marker
func (d Dialect) Placeholder(n int) string {
	if d.Name == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Bind returns a typed bind parameter. Explicit casts keep staging inserts
// independent of how each driver infers parameter types.
func (d Dialect) Bind(n int, sqlType string) string {
	return fmt.Sprintf("CAST(%s AS %s)", d.Placeholder(n), sqlType)
}

// CreateTemp is the statement prefix for a session-local staging table
func (d Dialect) CreateTemp() string {
	if d.Name == "snowflake" {
		return "CREATE TEMPORARY TABLE"
	}
	return "CREATE TEMP TABLE"
}

// Savepoints reports whether a failed statement can be rolled back inside a
// transaction without aborting it
func (d Dialect) Savepoints() bool {
	return d.Name == "postgres"
}

// NextVal returns the expression drawing the next value from seq
func (d Dialect) NextVal(seq string) string {
	if d.Name == "snowflake" {
		return seq + ".NEXTVAL"
	}
	return fmt.Sprintf("nextval('%s')", seq)
}

// DateKey converts a date expression to its YYYYMMDD integer key
func (d Dialect) DateKey(expr string) string {
	if d.Name == "duckdb" {
		return fmt.Sprintf("CAST(strftime(%s, '%%Y%%m%%d') AS INTEGER)", expr)
	}
	return fmt.Sprintf("CAST(to_char(%s, 'YYYYMMDD') AS INTEGER)", expr)
}

// KeyToDate converts a YYYYMMDD integer key expression back to a DATE
func (d Dialect) KeyToDate(expr string) string {
	if d.Name == "duckdb" {
		return fmt.Sprintf("CAST(strptime(CAST(%s AS VARCHAR), '%%Y%%m%%d') AS DATE)", expr)
	}
	return fmt.Sprintf("to_date(CAST(%s AS VARCHAR), 'YYYYMMDD')", expr)
}

// DateKeyAgo returns the date key of CURRENT_DATE minus n units, where unit
// is "day" or "month".
func (d Dialect) DateKeyAgo(n int, unit string) string {
	unit = strings.ToLower(strings.TrimSuffix(unit, "s"))
	var expr string
	if d.Name == "snowflake" {
		expr = fmt.Sprintf("DATEADD(%s, -%d, CURRENT_DATE)", unit, n)
	} else {
		expr = fmt.Sprintf("CURRENT_DATE - INTERVAL '%d %ss'", n, unit)
	}
	return d.DateKey(expr)
}

// Text renders a column as VARCHAR. DECIMAL columns are read back this way
// because drivers disagree on their Go representation.
func (d Dialect) Text(expr string) string {
	return fmt.Sprintf("CAST(%s AS VARCHAR)", expr)
}

// Qualify prefixes name with schema
func Qualify(schema, name string) string {
	return schema + "." + name
}
