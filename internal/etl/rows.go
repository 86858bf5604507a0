package etl

import (
	"context"
	"database/sql"
	"time"

	"labhub/internal/source"
	"labhub/internal/warehouse"
)

// Source is the read side of the operational database
type Source interface {
	Products(ctx context.Context) ([]source.Product, error)
	Users(ctx context.Context) ([]source.User, error)
	Locations(ctx context.Context) ([]source.Location, error)
	DateRange(ctx context.Context) (source.DateRange, error)
	Events(ctx context.Context) ([]source.Event, error)
}

// ProductRow is a candidate Dim_Product row
type ProductRow struct {
	ProductID     int64
	ProductName   sql.NullString
	CategoryName  sql.NullString
	UnitOfMeasure sql.NullString
	Description   sql.NullString
}

// UserRow is a candidate Dim_User row
type UserRow struct {
	UserID         int64
	UserName       sql.NullString
	UserRole       sql.NullString
	DepartmentName sql.NullString
}

// LocationRow is a candidate Dim_Location row
type LocationRow struct {
	LocationID  int64
	SiteName    sql.NullString
	Building    sql.NullString
	RoomNumber  sql.NullString
	StorageType sql.NullString
}

// DateRow is one generated Dim_Date row
type DateRow struct {
	DateKey   int64
	FullDate  time.Time
	Day       int
	Month     int
	MonthName string
	Quarter   int
	Year      int
	DayOfWeek string
}

var (
	ProductSpec = warehouse.DimensionSpec{
		Table:      warehouse.TableProduct,
		NaturalKey: warehouse.Column{Name: "ProductID", Type: "INTEGER"},
		Attributes: []warehouse.Column{
			{Name: "ProductName", Type: "VARCHAR"},
			{Name: "CategoryName", Type: "VARCHAR"},
			{Name: "UnitOfMeasure", Type: "VARCHAR"},
			{Name: "Description", Type: "VARCHAR"},
		},
	}

	UserSpec = warehouse.DimensionSpec{
		Table:      warehouse.TableUser,
		NaturalKey: warehouse.Column{Name: "UserID", Type: "INTEGER"},
		Attributes: []warehouse.Column{
			{Name: "UserName", Type: "VARCHAR"},
			{Name: "UserRole", Type: "VARCHAR"},
			{Name: "DepartmentName", Type: "VARCHAR"},
		},
	}

	LocationSpec = warehouse.DimensionSpec{
		Table:      warehouse.TableLocation,
		NaturalKey: warehouse.Column{Name: "LocationID", Type: "INTEGER"},
		Attributes: []warehouse.Column{
			{Name: "SiteName", Type: "VARCHAR"},
			{Name: "Building", Type: "VARCHAR"},
			{Name: "RoomNumber", Type: "VARCHAR"},
			{Name: "StorageType", Type: "VARCHAR"},
		},
	}

	DateSpec = warehouse.DimensionSpec{
		Table:      warehouse.TableDate,
		NaturalKey: warehouse.Column{Name: "DateKey", Type: "INTEGER"},
		Attributes: []warehouse.Column{
			{Name: "FullDate", Type: "DATE"},
			{Name: "Day", Type: "INTEGER"},
			{Name: "Month", Type: "INTEGER"},
			{Name: "MonthName", Type: "VARCHAR"},
			{Name: "Quarter", Type: "INTEGER"},
			{Name: "Year", Type: "INTEGER"},
			{Name: "DayOfWeek", Type: "VARCHAR"},
		},
	}
)

// Values returns r in ProductSpec column order
func (r ProductRow) Values() []interface{} {
	return []interface{}{r.ProductID, r.ProductName, r.CategoryName, r.UnitOfMeasure, r.Description}
}

// Values returns r in UserSpec column order
func (r UserRow) Values() []interface{} {
	return []interface{}{r.UserID, r.UserName, r.UserRole, r.DepartmentName}
}

// Values returns r in LocationSpec column order
func (r LocationRow) Values() []interface{} {
	return []interface{}{r.LocationID, r.SiteName, r.Building, r.RoomNumber, r.StorageType}
}

// Values returns r in DateSpec column order. FullDate is bound as an ISO
// date string, which every warehouse casts to DATE without a time zone.
func (r DateRow) Values() []interface{} {
	return []interface{}{
		r.DateKey, r.FullDate.Format("2006-01-02"), r.Day, r.Month, r.MonthName, r.Quarter, r.Year, r.DayOfWeek,
	}
}

func toValues[T interface{ Values() []interface{} }](rows []T) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, r := range rows {
		out[i] = r.Values()
	}
	return out
}
