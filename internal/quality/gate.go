package quality

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"labhub/internal/database"
	"labhub/internal/observability"
	"labhub/internal/warehouse"
	apperrors "labhub/pkg/errors"
	"labhub/pkg/models"
)

const (
	reportTitle    = "LabHub Warehouse Audit"
	checkSavepoint = "labhub_check"
)

// Gate runs aggregate checks against the warehouse and reports. It only
// reads: queries are SELECT statements supplied by DefaultChecks or the
// operator's configuration.
type Gate struct {
	schema     string
	extra      []Check
	metrics    *observability.PipelineMetrics
	logger     *observability.Logger
	now        func() time.Time
	savepoints bool
}

// NewGate creates a gate for the warehouse schema. metrics may be nil.
func NewGate(schema string, extra []Check, metrics *observability.PipelineMetrics, logger *observability.Logger) *Gate {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Gate{
		schema:  schema,
		extra:   extra,
		metrics: metrics,
		logger:  logger.WithField("component", "quality"),
		now:     time.Now,
	}
}

// WithSavepoints runs each check under a savepoint when the gate is given a
// transaction, so one failing query does not poison the checks after it
func (g *Gate) WithSavepoints() *Gate {
	g.savepoints = true
	return g
}

// ChecksFromConfig converts configured checks
func ChecksFromConfig(cfgs []models.CheckConfig) ([]Check, error) {
	checks := make([]Check, 0, len(cfgs))
	for i, c := range cfgs {
		if c.Name == "" || c.Query == "" {
			return nil, apperrors.ConfigError("check needs a name and a query", fmt.Sprintf("pipeline.checks[%d]", i))
		}
		scope := Scope(c.Scope)
		if scope != ScopeDimensions && scope != ScopeFacts {
			return nil, apperrors.ConfigError(
				fmt.Sprintf("check %q has scope %q, want dimensions or facts", c.Name, c.Scope),
				fmt.Sprintf("pipeline.checks[%d].scope", i))
		}
		expect := ExpectZero
		if c.ExpectPositive {
			expect = ExpectPositive
		}
		checks = append(checks, Check{Name: c.Name, Scope: scope, Query: c.Query, Expect: expect, Critical: c.Critical})
	}
	return checks, nil
}

// DefaultChecks returns the built-in checks for schema. today fixes the
// freshness and future-date keys.
func DefaultChecks(schema string, today time.Time) []Check {
	q := func(table string) string { return warehouse.Qualify(schema, table) }
	fact := q(warehouse.TableFact)
	todayKey := strconv.Itoa(today.Year()*10000 + int(today.Month())*100 + today.Day())

	checks := make([]Check, 0, 16)
	for _, table := range []string{warehouse.TableProduct, warehouse.TableUser, warehouse.TableLocation, warehouse.TableDate} {
		checks = append(checks, Check{
			Name:     table + " Not Empty",
			Scope:    ScopeDimensions,
			Query:    "SELECT COUNT(*) FROM " + q(table),
			Expect:   ExpectPositive,
			Critical: true,
		})
	}
	checks = append(checks, Check{
		Name:   "Missing Product Descriptions",
		Scope:  ScopeDimensions,
		Query:  fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE Description IS NULL OR length(trim(Description)) < 5", q(warehouse.TableProduct)),
		Expect: ExpectZero,
	})

	checks = append(checks, Check{
		Name:     "Negative Stock (Absolute)",
		Scope:    ScopeFacts,
		Query:    fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE AbsoluteQuantity < 0", fact),
		Expect:   ExpectZero,
		Critical: true,
	})
	for _, o := range []struct{ name, table, key string }{
		{"Orphaned Products", warehouse.TableProduct, "ProductKey"},
		{"Orphaned Locations", warehouse.TableLocation, "LocationKey"},
		{"Orphaned Users", warehouse.TableUser, "UserKey"},
		{"Orphaned Dates", warehouse.TableDate, "DateKey"},
	} {
		checks = append(checks, Check{
			Name:  o.name,
			Scope: ScopeFacts,
			Query: fmt.Sprintf("SELECT COUNT(*) FROM %s AS f LEFT JOIN %s AS d ON f.%s = d.%s WHERE d.%s IS NULL",
				fact, q(o.table), o.key, o.key, o.key),
			Expect:   ExpectZero,
			Critical: true,
		})
	}
	checks = append(checks,
		Check{
			Name:     "Duplicate Transaction IDs",
			Scope:    ScopeFacts,
			Query:    fmt.Sprintf("SELECT COUNT(TransactionID) - COUNT(DISTINCT TransactionID) FROM %s", fact),
			Expect:   ExpectZero,
			Critical: true,
		},
		Check{
			Name:     "Future Dated Transactions",
			Scope:    ScopeFacts,
			Query:    fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE DateKey > %s", fact, todayKey),
			Expect:   ExpectZero,
			Critical: true,
		},
		Check{
			Name:   "Data is from Today",
			Scope:  ScopeFacts,
			Query:  fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE DateKey = %s", fact, todayKey),
			Expect: ExpectPositive,
		},
	)
	return checks
}

// Checks returns the checks a run at scope executes, defaults first
func (g *Gate) Checks(scope Scope) []Check {
	all := append(DefaultChecks(g.schema, g.now()), g.extra...)
	var selected []Check
	for _, c := range all {
		if scope.includes(c.Scope) {
			selected = append(selected, c)
		}
	}
	return selected
}

// Run executes every check in scope. Check failures and query errors are
// recorded in the report; the returned error is reserved for an invalid
// scope.
func (g *Gate) Run(ctx context.Context, q database.Queryer, scope Scope) (*Report, error) {
	if _, err := ParseScope(string(scope)); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid quality gate scope")
	}

	report := &Report{
		Title:     reportTitle,
		Timestamp: g.now(),
		Scope:     scope,
		Passed:    true,
	}

	for _, check := range g.Checks(scope) {
		res := g.runCheck(ctx, q, check)
		if res.Status == StatusFail || res.Status == StatusError {
			report.Passed = false
		}
		if g.metrics != nil {
			g.metrics.ObserveCheck(string(scope), string(res.Status))
		}
		report.Results = append(report.Results, res)
	}

	fields := map[string]interface{}{
		"scope":    scope,
		"checks":   len(report.Results),
		"failures": len(report.Failures()),
		"warnings": len(report.Warnings()),
	}
	if report.Passed {
		g.logger.InfoWithFields("Quality gate passed", fields)
	} else {
		g.logger.WarnWithFields("Quality gate failed", fields)
	}
	return report, nil
}

func (g *Gate) runCheck(ctx context.Context, q database.Queryer, check Check) Result {
	start := time.Now()
	res := Result{Name: check.Name, Scope: check.Scope, Critical: check.Critical}

	raw, err := g.query(ctx, q, check.Query)
	if err == nil {
		var v float64
		v, err = toFloat(raw)
		if err == nil {
			res.Value = &v
		}
	}
	res.Duration = time.Since(start)

	switch {
	case err != nil:
		res.Status = StatusError
		res.Error = err.Error()
		g.logger.WithError(err).WarnWithFields("Quality check errored", map[string]interface{}{"check": check.Name})
	case check.Expect.met(*res.Value):
		res.Status = StatusPass
	case check.Critical:
		res.Status = StatusFail
	default:
		res.Status = StatusWarn
	}
	return res
}

func (g *Gate) query(ctx context.Context, q database.Queryer, query string) (interface{}, error) {
	var raw interface{}
	tx, ok := q.(*sql.Tx)
	if !g.savepoints || !ok {
		err := q.QueryRowContext(ctx, query).Scan(&raw)
		return raw, err
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+checkSavepoint); err != nil {
		return nil, err
	}
	err := tx.QueryRowContext(ctx, query).Scan(&raw)
	end := "RELEASE SAVEPOINT " + checkSavepoint
	if err != nil {
		end = "ROLLBACK TO SAVEPOINT " + checkSavepoint
	}
	if _, endErr := tx.ExecContext(ctx, end); endErr != nil && err == nil {
		err = endErr
	}
	return raw, err
}

// toFloat normalises the aggregate types drivers return. DuckDB hands back
// HUGEINT as *big.Int and some drivers return numerics as text.
func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, nil
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	case string:
		return strconv.ParseFloat(n, 64)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("check returned non-numeric value of type %T", v)
}
