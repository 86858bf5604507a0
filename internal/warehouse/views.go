package warehouse

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"text/template"
	"time"

	"labhub/internal/database"
	"labhub/internal/observability"
	apperrors "labhub/pkg/errors"
)

// View is one derived read model over the star schema
type View struct {
	Name        string
	Description string
	body        string
}

// Views are listed in dependency order
var viewDefinitions = []View{
	{
		Name:        "v_inventory_metrics_base",
		Description: "Consumption and replenishment per product, location, user and day",
		body: `
SELECT
    ProductKey,
    LocationKey,
    UserKey,
    DateKey,
    ABS(SUM(CASE WHEN QuantityDelta < 0 THEN QuantityDelta ELSE 0 END)) AS TotalQuantityConsumed,
    COUNT(CASE WHEN QuantityDelta < 0 THEN 1 END) AS TransactionCount,
    COUNT(CASE WHEN QuantityDelta > 0 THEN 1 END) AS ReplenishmentCount,
    SUM(QuantityDelta) AS NetStockChange
FROM {{.S}}.Fact_Inventory_Transactions
GROUP BY ProductKey, LocationKey, UserKey, DateKey`,
	},
	{
		Name:        "v_current_inventory",
		Description: "Stock on hand by product and location",
		body: `
SELECT
    p.ProductName,
    p.CategoryName,
    l.SiteName,
    l.Building,
    l.RoomNumber,
    SUM(f.QuantityDelta) AS StockOnHand,
    p.UnitOfMeasure
FROM {{.S}}.Fact_Inventory_Transactions f
JOIN {{.S}}.Dim_Product p ON f.ProductKey = p.ProductKey
JOIN {{.S}}.Dim_Location l ON f.LocationKey = l.LocationKey
GROUP BY p.ProductName, p.CategoryName, l.SiteName, l.Building, l.RoomNumber, p.UnitOfMeasure
HAVING SUM(f.QuantityDelta) > 0`,
	},
	{
		Name:        "v_kpi_stock_risk",
		Description: "Products whose stock is below 20% of their historical peak",
		body: `
WITH ProductMax AS (
    SELECT ProductKey, MAX(AbsoluteQuantity) * 0.20 AS LowStockThreshold
    FROM {{.S}}.Fact_Inventory_Transactions
    GROUP BY ProductKey
),
CurrentStock AS (
    SELECT ProductKey, SUM(QuantityDelta) AS StockOnHand
    FROM {{.S}}.Fact_Inventory_Transactions
    GROUP BY ProductKey
)
SELECT COUNT(*) AS LowStockCount
FROM CurrentStock c
JOIN ProductMax m ON c.ProductKey = m.ProductKey
WHERE c.StockOnHand < m.LowStockThreshold AND c.StockOnHand > 0`,
	},
	{
		Name:        "v_monthly_usage",
		Description: "Quantity consumed per month and category",
		body: `
SELECT
    d.Year,
    d.Month,
    d.MonthName,
    p.CategoryName,
    SUM(b.TotalQuantityConsumed) AS TotalQuantityConsumed
FROM {{.S}}.v_inventory_metrics_base b
JOIN {{.S}}.Dim_Date d ON b.DateKey = d.DateKey
JOIN {{.S}}.Dim_Product p ON b.ProductKey = p.ProductKey
GROUP BY d.Year, d.Month, d.MonthName, p.CategoryName
ORDER BY d.Year DESC, d.Month DESC`,
	},
	{
		Name:        "v_kpi_monthly_events",
		Description: "Event count per month with the previous month for comparison",
		body: `
SELECT
    d.Year,
    d.Month,
    COUNT(*) AS EventCount,
    LAG(COUNT(*)) OVER (ORDER BY d.Year, d.Month) AS PreviousMonthCount
FROM {{.S}}.Fact_Inventory_Transactions f
JOIN {{.S}}.Dim_Date d ON f.DateKey = d.DateKey
GROUP BY d.Year, d.Month
ORDER BY d.Year DESC, d.Month DESC`,
	},
	{
		Name:        "v_kpi_zero_usage",
		Description: "Products with no consumption in the current month",
		body: `
SELECT COUNT(DISTINCT p.ProductKey) AS ZeroUsageCount
FROM {{.S}}.Dim_Product p
LEFT JOIN {{.S}}.Fact_Inventory_Transactions f
    ON p.ProductKey = f.ProductKey
    AND f.QuantityDelta < 0
    AND f.DateKey >= (
        SELECT MIN(DateKey) FROM {{.S}}.Dim_Date
        WHERE Year = EXTRACT(YEAR FROM CURRENT_DATE) AND Month = EXTRACT(MONTH FROM CURRENT_DATE)
    )
WHERE f.TransactionID IS NULL`,
	},
	{
		Name:        "v_recent_activity",
		Description: "Latest transactions with user, product and site",
		body: `
SELECT
    d.FullDate,
    u.UserName,
    p.ProductName,
    f.EventType,
    f.QuantityDelta,
    l.SiteName
FROM {{.S}}.Fact_Inventory_Transactions f
JOIN {{.S}}.Dim_Date d ON f.DateKey = d.DateKey
JOIN {{.S}}.Dim_User u ON f.UserKey = u.UserKey
JOIN {{.S}}.Dim_Product p ON f.ProductKey = p.ProductKey
JOIN {{.S}}.Dim_Location l ON f.LocationKey = l.LocationKey
ORDER BY d.FullDate DESC`,
	},
	{
		Name:        "v_consumption_summary",
		Description: "Total consumption and transaction count per product",
		body: `
SELECT
    p.ProductName,
    p.CategoryName,
    p.UnitOfMeasure,
    SUM(b.TotalQuantityConsumed) AS TotalQuantityConsumed,
    SUM(b.TransactionCount) AS TransactionCount
FROM {{.S}}.v_inventory_metrics_base b
JOIN {{.S}}.Dim_Product p ON b.ProductKey = p.ProductKey
GROUP BY p.ProductName, p.CategoryName, p.UnitOfMeasure
ORDER BY TotalQuantityConsumed DESC`,
	},
	{
		Name:        "v_location_hotspots",
		Description: "Usage, current stock and share of lab and campus usage per room",
		body: `
WITH LatestProductStock AS (
    SELECT
        LocationKey,
        ProductKey,
        AbsoluteQuantity,
        ROW_NUMBER() OVER (PARTITION BY LocationKey, ProductKey ORDER BY DateKey DESC, TransactionID DESC) AS LatestRank
    FROM {{.S}}.Fact_Inventory_Transactions
),
LatestDate AS (
    SELECT LocationKey, MAX(DateKey) AS LastDateKey
    FROM {{.S}}.Fact_Inventory_Transactions
    GROUP BY LocationKey
),
RoomStockBalance AS (
    SELECT LocationKey, SUM(AbsoluteQuantity) AS TrueCurrentStock
    FROM LatestProductStock
    WHERE LatestRank = 1
    GROUP BY LocationKey
),
LabGlobalUsage AS (
    SELECT SUM(ABS(QuantityDelta)) AS GlobalTotal
    FROM {{.S}}.Fact_Inventory_Transactions
    WHERE QuantityDelta < 0
),
CampusUsage AS (
    SELECT l.SiteName, SUM(ABS(f.QuantityDelta)) AS CampusTotal
    FROM {{.S}}.Fact_Inventory_Transactions f
    JOIN {{.S}}.Dim_Location l ON f.LocationKey = l.LocationKey
    WHERE f.QuantityDelta < 0
    GROUP BY l.SiteName
)
SELECT
    l.SiteName || ' › ' || l.Building AS LocationPath,
    l.RoomNumber,
    SUM(CASE WHEN f.QuantityDelta < 0 THEN ABS(f.QuantityDelta) ELSE 0 END) AS TotalUsage,
    MAX(r.TrueCurrentStock) AS CurrentLocalStock,
    MAX({{keyToDate "ld.LastDateKey"}}) AS LastUpdated,
    ROUND(SUM(CASE WHEN f.QuantityDelta < 0 THEN ABS(f.QuantityDelta) ELSE 0 END) * 100.0
        / NULLIF((SELECT GlobalTotal FROM LabGlobalUsage), 0), 2) AS PercentOfLabUsage,
    ROUND(SUM(CASE WHEN f.QuantityDelta < 0 THEN ABS(f.QuantityDelta) ELSE 0 END) * 100.0
        / NULLIF(MAX(c.CampusTotal), 0), 2) AS PercentOfCampusUsage
FROM {{.S}}.Fact_Inventory_Transactions f
JOIN {{.S}}.Dim_Location l ON f.LocationKey = l.LocationKey
LEFT JOIN RoomStockBalance r ON l.LocationKey = r.LocationKey
LEFT JOIN LatestDate ld ON l.LocationKey = ld.LocationKey
LEFT JOIN CampusUsage c ON l.SiteName = c.SiteName
GROUP BY l.RoomNumber, l.SiteName || ' › ' || l.Building
ORDER BY TotalUsage DESC`,
	},
	{
		Name:        "v_product_performance_global",
		Description: "Usage over 30 days, 6 and 12 months with global stock per product",
		body: `
WITH LatestGlobalProductStock AS (
    SELECT
        ProductKey,
        LocationKey,
        AbsoluteQuantity,
        ROW_NUMBER() OVER (PARTITION BY ProductKey, LocationKey ORDER BY DateKey DESC, TransactionID DESC) AS LatestRank
    FROM {{.S}}.Fact_Inventory_Transactions
),
GlobalStockLevels AS (
    SELECT ProductKey, SUM(AbsoluteQuantity) AS TotalGlobalStock
    FROM LatestGlobalProductStock
    WHERE LatestRank = 1
    GROUP BY ProductKey
)
SELECT
    p.ProductID,
    p.ProductName,
    p.CategoryName,
    p.UnitOfMeasure,
    p.Description,
    SUM(CASE WHEN f.QuantityDelta < 0 AND f.DateKey >= {{keyAgo 30 "day"}} THEN ABS(f.QuantityDelta) ELSE 0 END) AS Usage30d,
    SUM(CASE WHEN f.QuantityDelta < 0 AND f.DateKey >= {{keyAgo 6 "month"}} THEN ABS(f.QuantityDelta) ELSE 0 END) AS Usage6m,
    SUM(CASE WHEN f.QuantityDelta < 0 AND f.DateKey >= {{keyAgo 12 "month"}} THEN ABS(f.QuantityDelta) ELSE 0 END) AS Usage12m,
    MAX(g.TotalGlobalStock) AS GlobalStockBalance
FROM {{.S}}.Dim_Product p
JOIN {{.S}}.Fact_Inventory_Transactions f ON p.ProductKey = f.ProductKey
LEFT JOIN GlobalStockLevels g ON p.ProductKey = g.ProductKey
GROUP BY p.ProductID, p.ProductName, p.CategoryName, p.UnitOfMeasure, p.Description
ORDER BY Usage30d DESC`,
	},
	{
		Name:        "v_product_location_matrix",
		Description: "Consumption and local stock per product and building",
		body: `
SELECT
    p.ProductName,
    p.CategoryName,
    l.SiteName,
    l.Building,
    ABS(SUM(CASE WHEN f.QuantityDelta < 0 THEN f.QuantityDelta ELSE 0 END)) AS QuantityConsumed,
    SUM(f.QuantityDelta) AS CurrentLocalStock
FROM {{.S}}.Fact_Inventory_Transactions f
JOIN {{.S}}.Dim_Product p ON f.ProductKey = p.ProductKey
JOIN {{.S}}.Dim_Location l ON f.LocationKey = l.LocationKey
GROUP BY p.ProductName, p.CategoryName, l.SiteName, l.Building`,
	},
	{
		Name:        "v_product_distribution_detailed",
		Description: "Latest stock, yearly local usage and low-stock buffer per product and room",
		body: `
WITH ProductThresholds AS (
    SELECT ProductKey, MAX(AbsoluteQuantity) * 0.20 AS LowThreshold
    FROM {{.S}}.Fact_Inventory_Transactions
    GROUP BY ProductKey
),
LocalUsage AS (
    SELECT
        ProductKey,
        LocationKey,
        SUM(CASE WHEN QuantityDelta < 0 AND DateKey >= {{keyAgo 30 "day"}} THEN ABS(QuantityDelta) ELSE 0 END) AS LocalUsage1M,
        SUM(CASE WHEN QuantityDelta < 0 AND DateKey >= {{keyAgo 6 "month"}} THEN ABS(QuantityDelta) ELSE 0 END) AS LocalUsage6M,
        SUM(CASE WHEN QuantityDelta < 0 AND DateKey >= {{keyAgo 12 "month"}} THEN ABS(QuantityDelta) ELSE 0 END) AS LocalUsage1Y
    FROM {{.S}}.Fact_Inventory_Transactions
    GROUP BY ProductKey, LocationKey
),
LatestState AS (
    SELECT
        ProductKey,
        LocationKey,
        AbsoluteQuantity,
        ROW_NUMBER() OVER (PARTITION BY ProductKey, LocationKey ORDER BY DateKey DESC, TransactionID DESC) AS LatestRank
    FROM {{.S}}.Fact_Inventory_Transactions
)
SELECT
    p.ProductName,
    p.CategoryName,
    l.SiteName || ' › ' || l.Building AS LocationPath,
    l.RoomNumber,
    MAX(s.AbsoluteQuantity) AS CurrentStock,
    MAX(u.LocalUsage1Y) AS LocalUsage1Y,
    CEIL(MAX(t.LowThreshold)) AS Threshold,
    MAX(s.AbsoluteQuantity) - CEIL(MAX(t.LowThreshold)) AS StockBuffer
FROM {{.S}}.Fact_Inventory_Transactions f
JOIN {{.S}}.Dim_Product p ON f.ProductKey = p.ProductKey
JOIN {{.S}}.Dim_Location l ON f.LocationKey = l.LocationKey
JOIN LatestState s ON f.ProductKey = s.ProductKey AND f.LocationKey = s.LocationKey AND s.LatestRank = 1
LEFT JOIN LocalUsage u ON f.ProductKey = u.ProductKey AND f.LocationKey = u.LocationKey
LEFT JOIN ProductThresholds t ON f.ProductKey = t.ProductKey
GROUP BY p.ProductName, p.CategoryName, l.SiteName || ' › ' || l.Building, l.RoomNumber`,
	},
	{
		Name:        "v_user_product_consumption",
		Description: "Consumption and action count per user and product",
		body: `
SELECT
    u.UserName,
    u.UserRole,
    p.ProductName,
    p.CategoryName,
    ABS(SUM(CASE WHEN f.QuantityDelta < 0 THEN f.QuantityDelta ELSE 0 END)) AS TotalQuantityConsumed,
    COUNT(f.TransactionID) AS TotalActions
FROM {{.S}}.Fact_Inventory_Transactions f
JOIN {{.S}}.Dim_User u ON f.UserKey = u.UserKey
JOIN {{.S}}.Dim_Product p ON f.ProductKey = p.ProductKey
GROUP BY u.UserName, u.UserRole, p.ProductName, p.CategoryName
ORDER BY TotalQuantityConsumed DESC`,
	},
	{
		Name:        "v_movement_log",
		Description: "Audit trail of every stock movement",
		body: `
SELECT
    d.FullDate,
    p.ProductName,
    l.SiteName,
    l.Building,
    u.UserName,
    f.EventType,
    f.QuantityDelta,
    f.AbsoluteQuantity AS NewQuantity,
    f.CurrentStockSnapshot
FROM {{.S}}.Fact_Inventory_Transactions f
JOIN {{.S}}.Dim_Date d ON f.DateKey = d.DateKey
JOIN {{.S}}.Dim_Product p ON f.ProductKey = p.ProductKey
JOIN {{.S}}.Dim_Location l ON f.LocationKey = l.LocationKey
JOIN {{.S}}.Dim_User u ON f.UserKey = u.UserKey
ORDER BY d.FullDate DESC`,
	},
}

// ViewManager renders and maintains the derived views
type ViewManager struct {
	dialect Dialect
	schema  string
	logger  *observability.Logger
}

// NewViewManager creates a view manager for schema
func NewViewManager(dialect Dialect, schema string, logger *observability.Logger) *ViewManager {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &ViewManager{dialect: dialect, schema: schema, logger: logger.WithField("component", "views")}
}

// List returns the view definitions in dependency order
func (m *ViewManager) List() []View {
	out := make([]View, len(viewDefinitions))
	copy(out, viewDefinitions)
	return out
}

// Lookup returns the named view
func (m *ViewManager) Lookup(name string) (View, bool) {
	for _, v := range viewDefinitions {
		if v.Name == name {
			return v, true
		}
	}
	return View{}, false
}

// Render returns the CREATE OR REPLACE statement for v
func (m *ViewManager) Render(v View) (string, error) {
	funcs := template.FuncMap{
		"keyAgo":    m.dialect.DateKeyAgo,
		"keyToDate": m.dialect.KeyToDate,
	}
	tmpl, err := template.New(v.Name).Funcs(funcs).Parse(v.body)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "invalid view template").
			WithContext("view", v.Name)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "CREATE OR REPLACE VIEW %s AS", Qualify(m.schema, v.Name))
	if err := tmpl.Execute(&buf, struct{ S string }{S: m.schema}); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to render view").
			WithContext("view", v.Name)
	}
	return buf.String(), nil
}

// Refresh creates or replaces every view. It stops at the first failure.
func (m *ViewManager) Refresh(ctx context.Context, e database.Execer) (int, error) {
	start := time.Now()
	for i, v := range viewDefinitions {
		stmt, err := m.Render(v)
		if err != nil {
			return i, err
		}
		if _, err := e.ExecContext(ctx, stmt); err != nil {
			return i, apperrors.WarehouseError("refresh view", stmt, err).
				WithContext("view", v.Name)
		}
		m.logger.Debugf("View %s refreshed", v.Name)
	}

	m.logger.InfoWithFields("Views refreshed", map[string]interface{}{
		"views":       len(viewDefinitions),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return len(viewDefinitions), nil
}

// ResultSet is a tabular query result with values rendered for display
type ResultSet struct {
	Columns []string
	Rows    [][]string
}

// Query reads up to limit rows from the named view
func (m *ViewManager) Query(ctx context.Context, q database.Queryer, name string, limit int) (*ResultSet, error) {
	if _, ok := m.Lookup(name); !ok {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, fmt.Sprintf("unknown view %q", name)).
			WithSuggestions("Run 'labhub views list' to see the available views")
	}
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", Qualify(m.schema, name), limit)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.WarehouseError("query view", query, err).WithContext("view", name)
	}
	defer rows.Close()

	return readResultSet(rows)
}

func readResultSet(rows *sql.Rows) (*ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeResultParsing, "failed to read columns")
	}

	rs := &ResultSet{Columns: columns}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeResultParsing, "failed to read row")
		}

		row := make([]string, len(values))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeResultParsing, "failed to iterate rows")
	}
	return rs, nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
