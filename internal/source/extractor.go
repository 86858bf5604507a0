package source

import (
	"context"
	"database/sql"
	"time"

	"labhub/internal/database"
	"labhub/internal/observability"
	apperrors "labhub/pkg/errors"

	"github.com/shopspring/decimal"
)

// Product is one row of the product extraction
type Product struct {
	ProductID     int64
	ProductName   sql.NullString
	CategoryName  sql.NullString
	UnitOfMeasure sql.NullString
}

// User is one row of the user extraction. UserName is FirstName + ' ' + LastName.
type User struct {
	UserID         int64
	UserName       sql.NullString
	UserRole       sql.NullString
	DepartmentName sql.NullString
}

// Location is one row of the location extraction
type Location struct {
	LocationID  int64
	SiteName    sql.NullString
	Building    sql.NullString
	RoomNumber  sql.NullString
	StorageType sql.NullString
}

// DateRange holds the event date bounds. Both are invalid when the event
// table is empty.
type DateRange struct {
	Min sql.NullTime
	Max sql.NullTime
}

// Event is one stock event joined to its inventory item. ProductID and
// CurrentStockSnapshot are NULL when the item no longer exists.
type Event struct {
	TransactionID        int64
	ProductID            sql.NullInt64
	LocationID           sql.NullInt64
	UserID               sql.NullInt64
	EventDate            time.Time
	OldQuantity          decimal.NullDecimal
	NewQuantity          decimal.NullDecimal
	EventType            sql.NullString
	CurrentStockSnapshot decimal.NullDecimal
}

// Extractor reads the operational source. It never writes.
type Extractor struct {
	db      database.Queryer
	queries QuerySet
	logger  *observability.Logger
}

// NewExtractor creates an extractor for the given source flavour
func NewExtractor(db database.Queryer, flavor string, logger *observability.Logger) (*Extractor, error) {
	queries, err := QueriesFor(flavor)
	if err != nil {
		return nil, err
	}
	return NewExtractorWithQueries(db, queries, logger), nil
}

// NewExtractorWithQueries creates an extractor with explicit statements
func NewExtractorWithQueries(db database.Queryer, queries QuerySet, logger *observability.Logger) *Extractor {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Extractor{
		db:      db,
		queries: queries,
		logger:  logger.WithField("component", "source"),
	}
}

// Products extracts every product with its category and unit
func (e *Extractor) Products(ctx context.Context) ([]Product, error) {
	var out []Product
	err := e.query(ctx, "products", e.queries.Products, func(rows *sql.Rows) error {
		var p Product
		if err := rows.Scan(&p.ProductID, &p.ProductName, &p.CategoryName, &p.UnitOfMeasure); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// Users extracts every user with role and department
func (e *Extractor) Users(ctx context.Context) ([]User, error) {
	var out []User
	err := e.query(ctx, "users", e.queries.Users, func(rows *sql.Rows) error {
		var u User
		if err := rows.Scan(&u.UserID, &u.UserName, &u.UserRole, &u.DepartmentName); err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	return out, err
}

// Locations extracts every storage location
func (e *Extractor) Locations(ctx context.Context) ([]Location, error) {
	var out []Location
	err := e.query(ctx, "locations", e.queries.Locations, func(rows *sql.Rows) error {
		var l Location
		if err := rows.Scan(&l.LocationID, &l.SiteName, &l.Building, &l.RoomNumber, &l.StorageType); err != nil {
			return err
		}
		out = append(out, l)
		return nil
	})
	return out, err
}

// DateRange returns the earliest and latest event dates
func (e *Extractor) DateRange(ctx context.Context) (DateRange, error) {
	var r DateRange
	if err := e.db.QueryRowContext(ctx, e.queries.DateRange).Scan(&r.Min, &r.Max); err != nil {
		return DateRange{}, apperrors.SourceQueryError("date range", e.queries.DateRange, err)
	}
	return r, nil
}

// Events extracts every stock event
func (e *Extractor) Events(ctx context.Context) ([]Event, error) {
	var out []Event
	err := e.query(ctx, "stock events", e.queries.Events, func(rows *sql.Rows) error {
		var ev Event
		if err := rows.Scan(
			&ev.TransactionID,
			&ev.ProductID,
			&ev.LocationID,
			&ev.UserID,
			&ev.EventDate,
			&ev.OldQuantity,
			&ev.NewQuantity,
			&ev.EventType,
			&ev.CurrentStockSnapshot,
		); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

func (e *Extractor) query(ctx context.Context, entity, query string, scan func(*sql.Rows) error) error {
	start := time.Now()

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return apperrors.SourceQueryError(entity, query, err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		if err := scan(rows); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeResultParsing, "failed to read "+entity+" row").
				WithContext("entity", entity).
				WithContext("row", count+1)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return apperrors.SourceQueryError(entity, query, err)
	}

	e.logger.InfoWithFields("Extracted "+entity, map[string]interface{}{
		"rows":        count,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}
