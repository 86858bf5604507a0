package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"labhub/internal/database"
	apperrors "labhub/pkg/errors"

	"github.com/shopspring/decimal"
)

// FactRow is one row of Fact_Inventory_Transactions
type FactRow struct {
	TransactionID        int64
	DateKey              sql.NullInt64
	ProductKey           sql.NullInt64
	LocationKey          sql.NullInt64
	UserKey              sql.NullInt64
	QuantityDelta        decimal.NullDecimal
	AbsoluteQuantity     decimal.NullDecimal
	CurrentStockSnapshot decimal.NullDecimal
	EventType            sql.NullString
}

// MarshalJSON writes the row with the warehouse column names and plain
// nulls
func (r FactRow) MarshalJSON() ([]byte, error) {
	nullInt := func(v sql.NullInt64) interface{} {
		if !v.Valid {
			return nil
		}
		return v.Int64
	}
	var eventType interface{}
	if r.EventType.Valid {
		eventType = r.EventType.String
	}
	return json.Marshal(map[string]interface{}{
		"TransactionID":        r.TransactionID,
		"DateKey":              nullInt(r.DateKey),
		"ProductKey":           nullInt(r.ProductKey),
		"LocationKey":          nullInt(r.LocationKey),
		"UserKey":              nullInt(r.UserKey),
		"QuantityDelta":        r.QuantityDelta,
		"AbsoluteQuantity":     r.AbsoluteQuantity,
		"CurrentStockSnapshot": r.CurrentStockSnapshot,
		"EventType":            eventType,
	})
}

// FactColumnNames lists the fact columns in table order
var FactColumnNames = []string{
	"TransactionID", "DateKey", "ProductKey", "LocationKey", "UserKey",
	"QuantityDelta", "AbsoluteQuantity", "CurrentStockSnapshot", "EventType",
}

// FactColumns types the fact columns for staging
var FactColumns = []Column{
	{Name: "TransactionID", Type: "BIGINT"},
	{Name: "DateKey", Type: "INTEGER"},
	{Name: "ProductKey", Type: "INTEGER"},
	{Name: "LocationKey", Type: "INTEGER"},
	{Name: "UserKey", Type: "INTEGER"},
	{Name: "QuantityDelta", Type: "DECIMAL(18,4)"},
	{Name: "AbsoluteQuantity", Type: "DECIMAL(18,4)"},
	{Name: "CurrentStockSnapshot", Type: "DECIMAL(18,4)"},
	{Name: "EventType", Type: "VARCHAR"},
}

// Values returns r in FactColumns order
func (r FactRow) Values() []interface{} {
	return []interface{}{
		r.TransactionID, r.DateKey, r.ProductKey, r.LocationKey, r.UserKey,
		r.QuantityDelta, r.AbsoluteQuantity, r.CurrentStockSnapshot, r.EventType,
	}
}

// factSelectList reads decimals as text so every driver scans them into
// decimal.NullDecimal the same way
func factSelectList(d Dialect, alias string) string {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	cols := make([]string, len(FactColumnNames))
	for i, name := range FactColumnNames {
		col := prefix + name
		if strings.Contains(name, "Quantity") || name == "CurrentStockSnapshot" {
			col = d.Text(col)
		}
		cols[i] = col
	}
	return strings.Join(cols, ", ")
}

// ReadFacts reads every row of relation, a fact table or a relation with
// the same columns, ordered by TransactionID. where and args filter rows.
func ReadFacts(ctx context.Context, q database.Queryer, d Dialect, relation, where string, args ...interface{}) ([]FactRow, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", factSelectList(d, ""), relation)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY TransactionID"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.WarehouseError("read facts", query, err).WithContext("relation", relation)
	}
	defer rows.Close()

	var out []FactRow
	for rows.Next() {
		var r FactRow
		if err := rows.Scan(
			&r.TransactionID, &r.DateKey, &r.ProductKey, &r.LocationKey, &r.UserKey,
			&r.QuantityDelta, &r.AbsoluteQuantity, &r.CurrentStockSnapshot, &r.EventType,
		); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeResultParsing, "failed to read fact row").
				WithContext("relation", relation)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WarehouseError("read facts", query, err).WithContext("relation", relation)
	}
	return out, nil
}

// CountRows returns COUNT(*) of relation
func CountRows(ctx context.Context, q database.Queryer, relation string) (int64, error) {
	query := "SELECT COUNT(*) FROM " + relation
	var n int64
	if err := q.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, apperrors.WarehouseError("count rows", query, err).WithContext("relation", relation)
	}
	return n, nil
}
