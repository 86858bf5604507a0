package source

import (
	"context"
	"fmt"
	"testing"
	"time"

	apperrors "labhub/pkg/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockExtractor(t *testing.T, flavor string) (*Extractor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e, err := NewExtractor(db, flavor, nil)
	require.NoError(t, err)
	return e, mock
}

func TestProducts(t *testing.T) {
	e, mock := newMockExtractor(t, "sqlserver")

	mock.ExpectQuery("FROM core.Product").WillReturnRows(
		sqlmock.NewRows([]string{"ProductID", "ProductName", "CategoryName", "UnitOfMeasure"}).
			AddRow(1, "  Pipette Tips ", "Consumables", "Box").
			AddRow(2, "Ethanol", nil, "Litre"),
	)

	products, err := e.Products(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, int64(1), products[0].ProductID)
	assert.Equal(t, "  Pipette Tips ", products[0].ProductName.String)
	assert.False(t, products[1].CategoryName.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsersAndLocations(t *testing.T) {
	e, mock := newMockExtractor(t, "sqlserver")

	mock.ExpectQuery(`FROM core.\[User\]`).WillReturnRows(
		sqlmock.NewRows([]string{"UserID", "UserName", "UserRole", "DepartmentName"}).
			AddRow(7, "Ada Lovelace", "Technician", "Chemistry"),
	)
	mock.ExpectQuery("FROM inventory.Location").WillReturnRows(
		sqlmock.NewRows([]string{"LocationID", "SiteName", "Building", "RoomNumber", "StorageType"}).
			AddRow(3, "north campus", "b1", "101", "Freezer"),
	)

	users, err := e.Users(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Ada Lovelace", users[0].UserName.String)

	locations, err := e.Locations(context.Background())
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, "north campus", locations[0].SiteName.String)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDateRange(t *testing.T) {
	e, mock := newMockExtractor(t, "postgres")

	first := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	last := time.Date(2025, 3, 9, 17, 30, 0, 0, time.UTC)
	mock.ExpectQuery("MIN\\(EventDate\\)").WillReturnRows(
		sqlmock.NewRows([]string{"MinDate", "MaxDate"}).AddRow(first, last),
	)
	mock.ExpectQuery("MIN\\(EventDate\\)").WillReturnRows(
		sqlmock.NewRows([]string{"MinDate", "MaxDate"}).AddRow(nil, nil),
	)

	r, err := e.DateRange(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Min.Valid)
	assert.Equal(t, last, r.Max.Time)

	empty, err := e.DateRange(context.Background())
	require.NoError(t, err)
	assert.False(t, empty.Min.Valid)
	assert.False(t, empty.Max.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEvents(t *testing.T) {
	e, mock := newMockExtractor(t, "sqlserver")

	when := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("LEFT JOIN inventory.InventoryItem").WillReturnRows(
		sqlmock.NewRows([]string{
			"TransactionID", "ProductID", "LocationID", "UserID", "EventDate",
			"OldQuantity", "NewQuantity", "EventType", "CurrentStockSnapshot",
		}).
			AddRow(100, 1, 3, 7, when, "10.0000", "8.5000", "Usage", "8.5000").
			AddRow(101, nil, 3, 7, when, "5", "6", "Restock", nil),
	)

	events, err := e.Events(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, int64(100), events[0].TransactionID)
	assert.True(t, events[0].NewQuantity.Decimal.Equal(decimal.RequireFromString("8.5")))
	assert.True(t, events[0].CurrentStockSnapshot.Valid)
	assert.False(t, events[1].ProductID.Valid)
	assert.False(t, events[1].CurrentStockSnapshot.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryErrorIsWrapped(t *testing.T) {
	e, mock := newMockExtractor(t, "sqlserver")

	mock.ExpectQuery("FROM core.Product").WillReturnError(fmt.Errorf("Invalid object name 'core.Product'"))

	_, err := e.Products(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSourceQuery, apperrors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanErrorIsWrapped(t *testing.T) {
	e, mock := newMockExtractor(t, "sqlserver")

	mock.ExpectQuery("FROM core.Product").WillReturnRows(
		sqlmock.NewRows([]string{"ProductID", "ProductName", "CategoryName", "UnitOfMeasure"}).
			AddRow("not-a-number", "x", "y", "z"),
	)

	_, err := e.Products(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeResultParsing, apperrors.GetErrorCode(err))
}

func TestQueriesFor(t *testing.T) {
	pg, err := QueriesFor("postgres")
	require.NoError(t, err)
	assert.Contains(t, pg.Users, "||")
	assert.NotContains(t, pg.Users, "[User]")

	ss, err := QueriesFor("sqlserver")
	require.NoError(t, err)
	assert.Contains(t, ss.Users, "[User].FirstName + ' ' + [User].LastName")

	_, err = QueriesFor("oracle")
	assert.Equal(t, apperrors.ErrCodeUnsupportedDriver, apperrors.GetErrorCode(err))
}
