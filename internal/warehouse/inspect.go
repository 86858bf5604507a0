package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	"labhub/internal/database"
	apperrors "labhub/pkg/errors"
)

// TableCount is the row count of one warehouse table
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// ProductActivity is a product with its transaction count
type ProductActivity struct {
	ProductName  string `json:"product_name"`
	Transactions int64  `json:"transactions"`
}

// Inspection summarises the shape of the warehouse after a run
type Inspection struct {
	Tables      []TableCount      `json:"tables"`
	NullKeys    int64             `json:"null_keys"`
	TopProducts []ProductActivity `json:"top_products"`
}

// Inspect collects row counts, fact rows with a missing dimension key and
// the five most active products
func Inspect(ctx context.Context, q database.Queryer, schema string) (*Inspection, error) {
	ins := &Inspection{}

	for _, t := range []string{TableProduct, TableUser, TableLocation, TableDate, TableFact} {
		n, err := CountRows(ctx, q, Qualify(schema, t))
		if err != nil {
			return nil, err
		}
		ins.Tables = append(ins.Tables, TableCount{Table: t, Rows: n})
	}

	fact := Qualify(schema, TableFact)
	nullKeys := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE ProductKey IS NULL OR UserKey IS NULL OR LocationKey IS NULL OR DateKey IS NULL", fact)
	if err := q.QueryRowContext(ctx, nullKeys).Scan(&ins.NullKeys); err != nil {
		return nil, apperrors.WarehouseError("inspect", nullKeys, err)
	}

	top := fmt.Sprintf(`SELECT p.ProductName, COUNT(*) AS TransactionCount
FROM %s f
JOIN %s p ON f.ProductKey = p.ProductKey
GROUP BY p.ProductName
ORDER BY 2 DESC, 1
LIMIT 5`, fact, Qualify(schema, TableProduct))

	rows, err := q.QueryContext(ctx, top)
	if err != nil {
		return nil, apperrors.WarehouseError("inspect", top, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name sql.NullString
		var a ProductActivity
		if err := rows.Scan(&name, &a.Transactions); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeResultParsing, "failed to read product activity")
		}
		a.ProductName = name.String
		ins.TopProducts = append(ins.TopProducts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WarehouseError("inspect", top, err)
	}

	return ins, nil
}
