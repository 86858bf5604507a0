package database

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	apperrors "labhub/pkg/errors"
	"labhub/pkg/models"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/snowflakedb/gosnowflake"
)

// database/sql driver names registered by the imports above
const (
	DriverSQLServer = "sqlserver"
	DriverPgx       = "pgx"
	DriverDuckDB    = "duckdb"
	DriverSnowflake = "snowflake"
)

// Target is everything needed to open one endpoint
type Target struct {
	Endpoint   string // "source" or "warehouse"
	Flavor     string // configured driver: sqlserver, postgres, duckdb, snowflake
	DriverName string // database/sql driver name
	DSN        string
	Timeout    time.Duration
}

// SourceTarget builds the connection target for the operational source
func SourceTarget(cfg models.Source) (Target, error) {
	t := Target{
		Endpoint: "source",
		Flavor:   cfg.Driver,
		Timeout:  cfg.ConnectTimeoutDuration(30 * time.Second),
	}

	switch cfg.Driver {
	case "sqlserver":
		t.DriverName = DriverSQLServer
		t.DSN = cfg.DSN
		if t.DSN == "" {
			t.DSN = sqlServerURL(cfg)
		}
	case "postgres":
		t.DriverName = DriverPgx
		t.DSN = cfg.DSN
		if t.DSN == "" {
			t.DSN = postgresURL(cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, cfg.Params)
		}
	default:
		return Target{}, apperrors.New(apperrors.ErrCodeUnsupportedDriver,
			fmt.Sprintf("unsupported source driver %q", cfg.Driver)).
			WithContext("field", "source.driver")
	}

	return t, nil
}

// WarehouseTarget builds the connection target for the warehouse
func WarehouseTarget(cfg models.Warehouse) (Target, error) {
	t := Target{
		Endpoint: "warehouse",
		Flavor:   cfg.Driver,
		Timeout:  cfg.ConnectTimeoutDuration(30 * time.Second),
	}

	switch cfg.Driver {
	case "duckdb":
		t.DriverName = DriverDuckDB
		t.DSN = cfg.DSN
		if t.DSN == "" {
			t.DSN = cfg.Path
		}
	case "postgres":
		t.DriverName = DriverPgx
		t.DSN = cfg.DSN
		if t.DSN == "" {
			t.DSN = postgresURL(cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, nil)
		}
	case "snowflake":
		t.DriverName = DriverSnowflake
		t.DSN = cfg.DSN
		if t.DSN == "" {
			dsn, err := gosnowflake.DSN(&gosnowflake.Config{
				Account:   cfg.Account,
				User:      cfg.Username,
				Password:  cfg.Password,
				Database:  cfg.Database,
				Schema:    cfg.Schema,
				Warehouse: cfg.Warehouse,
				Role:      cfg.Role,
			})
			if err != nil {
				return Target{}, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid snowflake settings").
					WithContext("account", cfg.Account)
			}
			t.DSN = dsn
		}
	default:
		return Target{}, apperrors.New(apperrors.ErrCodeUnsupportedDriver,
			fmt.Sprintf("unsupported warehouse driver %q", cfg.Driver)).
			WithContext("field", "warehouse.driver")
	}

	return t, nil
}

func sqlServerURL(cfg models.Source) string {
	port := cfg.Port
	if port == 0 {
		port = 1433
	}

	query := url.Values{}
	query.Add("database", cfg.Database)
	if cfg.Encrypt != "" {
		query.Add("encrypt", cfg.Encrypt)
	}
	addParams(query, cfg.Params)

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func postgresURL(host string, port int, database, user, password string, params map[string]string) string {
	if port == 0 {
		port = 5432
	}

	query := url.Values{}
	addParams(query, params)

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func addParams(query url.Values, params map[string]string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query.Set(k, params[k])
	}
}

// Redact masks the password in URL-style DSNs for logging
func Redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
