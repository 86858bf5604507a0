package source

import (
	"fmt"

	apperrors "labhub/pkg/errors"
)

// QuerySet holds the extraction statements for one source flavour
type QuerySet struct {
	Products  string
	Users     string
	Locations string
	DateRange string
	Events    string
}

var sqlServerQueries = QuerySet{
	Products: `
SELECT
    Product.ProductID,
    Product.ProductName,
    ProductCategory.CategoryName,
    UnitOfMeasure.UnitName AS UnitOfMeasure
FROM core.Product
JOIN core.ProductCategory ON Product.ProductCategoryID = ProductCategory.CategoryID
JOIN core.UnitOfMeasure ON Product.UnitID = UnitOfMeasure.UnitID`,

	Users: `
SELECT
    [User].UserID,
    [User].FirstName + ' ' + [User].LastName AS UserName,
    UserRole.UserRoleName AS UserRole,
    Department.DepartmentName
FROM core.[User]
JOIN core.UserRole ON [User].UserRoleID = UserRole.UserRoleID
JOIN core.Department ON [User].DepartmentID = Department.DepartmentID`,

	Locations: `
SELECT
    Location.LocationID,
    Location.SiteName,
    Location.Building,
    Location.RoomNumber,
    Location.StorageType
FROM inventory.Location`,

	DateRange: `
SELECT
    MIN(EventDate) AS MinDate,
    MAX(EventDate) AS MaxDate
FROM inventory.StockEvent`,

	Events: `
SELECT
    StockEvent.StockEventID AS TransactionID,
    InventoryItem.ProductID,
    StockEvent.LocationID,
    StockEvent.[UserID],
    StockEvent.EventDate,
    StockEvent.OldQuantity,
    StockEvent.NewQuantity,
    StockEvent.EventType,
    InventoryItem.Quantity AS CurrentStockSnapshot
FROM inventory.StockEvent
LEFT JOIN inventory.InventoryItem ON StockEvent.InventoryItemID = InventoryItem.InventoryItemID`,
}

// The Postgres flavour assumes the same schemas created with unquoted
// identifiers, so names fold to lower case.
var postgresQueries = QuerySet{
	Products: `
SELECT
    p.ProductID,
    p.ProductName,
    c.CategoryName,
    u.UnitName AS UnitOfMeasure
FROM core.Product p
JOIN core.ProductCategory c ON p.ProductCategoryID = c.CategoryID
JOIN core.UnitOfMeasure u ON p.UnitID = u.UnitID`,

	Users: `
SELECT
    u.UserID,
    u.FirstName || ' ' || u.LastName AS UserName,
    r.UserRoleName AS UserRole,
    d.DepartmentName
FROM core."user" u
JOIN core.UserRole r ON u.UserRoleID = r.UserRoleID
JOIN core.Department d ON u.DepartmentID = d.DepartmentID`,

	Locations: `
SELECT
    l.LocationID,
    l.SiteName,
    l.Building,
    l.RoomNumber,
    l.StorageType
FROM inventory.Location l`,

	DateRange: `
SELECT
    MIN(EventDate) AS MinDate,
    MAX(EventDate) AS MaxDate
FROM inventory.StockEvent`,

	Events: `
SELECT
    e.StockEventID AS TransactionID,
    i.ProductID,
    e.LocationID,
    e.UserID,
    e.EventDate,
    e.OldQuantity,
    e.NewQuantity,
    e.EventType,
    i.Quantity AS CurrentStockSnapshot
FROM inventory.StockEvent e
LEFT JOIN inventory.InventoryItem i ON e.InventoryItemID = i.InventoryItemID`,
}

// QueriesFor returns the statements for the configured source driver
func QueriesFor(flavor string) (QuerySet, error) {
	switch flavor {
	case "sqlserver":
		return sqlServerQueries, nil
	case "postgres":
		return postgresQueries, nil
	default:
		return QuerySet{}, apperrors.New(apperrors.ErrCodeUnsupportedDriver,
			fmt.Sprintf("no extraction queries for source driver %q", flavor)).
			WithContext("field", "source.driver")
	}
}
