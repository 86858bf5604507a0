package etl

import (
	"context"
	"time"

	"labhub/internal/database"
	"labhub/internal/observability"
	"labhub/internal/source"
	"labhub/internal/warehouse"
)

// DimensionLoader extracts, transforms and upserts one dimension inside
// the caller's transaction. Loaders never commit or roll back.
type DimensionLoader interface {
	Table() string
	Run(ctx context.Context, tx database.Executor) (warehouse.UpsertResult, error)
}

// ProductLoader maintains Dim_Product
type ProductLoader struct {
	src          Source
	upserter     *warehouse.Upserter
	descriptions *DescriptionLookup
	logger       *observability.Logger
}

// NewProductLoader creates the product loader. descriptions may be nil.
func NewProductLoader(src Source, upserter *warehouse.Upserter, descriptions *DescriptionLookup, logger *observability.Logger) *ProductLoader {
	return &ProductLoader{src: src, upserter: upserter, descriptions: descriptions, logger: loaderLogger(logger, warehouse.TableProduct)}
}

func (l *ProductLoader) Table() string { return warehouse.TableProduct }

func (l *ProductLoader) Extract(ctx context.Context) ([]source.Product, error) {
	return l.src.Products(ctx)
}

// Transform trims names and merges descriptions by ProductID
func (l *ProductLoader) Transform(raw []source.Product) []ProductRow {
	rows := make([]ProductRow, len(raw))
	for i, p := range raw {
		rows[i] = ProductRow{
			ProductID:     p.ProductID,
			ProductName:   trimmed(p.ProductName),
			CategoryName:  p.CategoryName,
			UnitOfMeasure: p.UnitOfMeasure,
			Description:   l.descriptions.Lookup(p.ProductID),
		}
	}
	return rows
}

func (l *ProductLoader) Upsert(ctx context.Context, tx database.Executor, rows []ProductRow) (warehouse.UpsertResult, error) {
	return l.upserter.Upsert(ctx, tx, ProductSpec, toValues(rows))
}

func (l *ProductLoader) Run(ctx context.Context, tx database.Executor) (warehouse.UpsertResult, error) {
	start := time.Now()
	raw, err := l.Extract(ctx)
	if err != nil {
		return warehouse.UpsertResult{}, err
	}
	rows := l.Transform(raw)
	described := 0
	for _, r := range rows {
		if r.Description.Valid {
			described++
		}
	}
	res, err := l.Upsert(ctx, tx, rows)
	if err != nil {
		return res, err
	}
	logLoaded(l.logger, len(raw), res, start, map[string]interface{}{"described": described})
	return res, nil
}

// UserLoader maintains Dim_User
type UserLoader struct {
	src      Source
	upserter *warehouse.Upserter
	logger   *observability.Logger
}

// NewUserLoader creates the user loader
func NewUserLoader(src Source, upserter *warehouse.Upserter, logger *observability.Logger) *UserLoader {
	return &UserLoader{src: src, upserter: upserter, logger: loaderLogger(logger, warehouse.TableUser)}
}

func (l *UserLoader) Table() string { return warehouse.TableUser }

func (l *UserLoader) Extract(ctx context.Context) ([]source.User, error) {
	return l.src.Users(ctx)
}

// Transform trims the composed user name
func (l *UserLoader) Transform(raw []source.User) []UserRow {
	rows := make([]UserRow, len(raw))
	for i, u := range raw {
		rows[i] = UserRow{
			UserID:         u.UserID,
			UserName:       trimmed(u.UserName),
			UserRole:       u.UserRole,
			DepartmentName: u.DepartmentName,
		}
	}
	return rows
}

func (l *UserLoader) Upsert(ctx context.Context, tx database.Executor, rows []UserRow) (warehouse.UpsertResult, error) {
	return l.upserter.Upsert(ctx, tx, UserSpec, toValues(rows))
}

func (l *UserLoader) Run(ctx context.Context, tx database.Executor) (warehouse.UpsertResult, error) {
	start := time.Now()
	raw, err := l.Extract(ctx)
	if err != nil {
		return warehouse.UpsertResult{}, err
	}
	res, err := l.Upsert(ctx, tx, l.Transform(raw))
	if err != nil {
		return res, err
	}
	logLoaded(l.logger, len(raw), res, start, nil)
	return res, nil
}

// LocationLoader maintains Dim_Location
type LocationLoader struct {
	src      Source
	upserter *warehouse.Upserter
	logger   *observability.Logger
}

// NewLocationLoader creates the location loader
func NewLocationLoader(src Source, upserter *warehouse.Upserter, logger *observability.Logger) *LocationLoader {
	return &LocationLoader{src: src, upserter: upserter, logger: loaderLogger(logger, warehouse.TableLocation)}
}

func (l *LocationLoader) Table() string { return warehouse.TableLocation }

func (l *LocationLoader) Extract(ctx context.Context) ([]source.Location, error) {
	return l.src.Locations(ctx)
}

// Transform title-cases site and building names
func (l *LocationLoader) Transform(raw []source.Location) []LocationRow {
	rows := make([]LocationRow, len(raw))
	for i, loc := range raw {
		rows[i] = LocationRow{
			LocationID:  loc.LocationID,
			SiteName:    titled(loc.SiteName),
			Building:    titled(loc.Building),
			RoomNumber:  loc.RoomNumber,
			StorageType: loc.StorageType,
		}
	}
	return rows
}

func (l *LocationLoader) Upsert(ctx context.Context, tx database.Executor, rows []LocationRow) (warehouse.UpsertResult, error) {
	return l.upserter.Upsert(ctx, tx, LocationSpec, toValues(rows))
}

func (l *LocationLoader) Run(ctx context.Context, tx database.Executor) (warehouse.UpsertResult, error) {
	start := time.Now()
	raw, err := l.Extract(ctx)
	if err != nil {
		return warehouse.UpsertResult{}, err
	}
	res, err := l.Upsert(ctx, tx, l.Transform(raw))
	if err != nil {
		return res, err
	}
	logLoaded(l.logger, len(raw), res, start, nil)
	return res, nil
}

func logLoaded(logger *observability.Logger, extracted int, res warehouse.UpsertResult, start time.Time, extra map[string]interface{}) {
	fields := map[string]interface{}{
		"extracted":   extracted,
		"staged":      res.Staged,
		"updated":     res.Updated,
		"inserted":    res.Inserted,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	logger.InfoWithFields("Dimension loaded", fields)
}

func loaderLogger(logger *observability.Logger, table string) *observability.Logger {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return logger.WithField("table", table)
}
