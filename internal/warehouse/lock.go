package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"labhub/internal/observability"
	apperrors "labhub/pkg/errors"

	"github.com/google/uuid"
)

// Lease is a held run lock
type Lease interface {
	Release(ctx context.Context) error
}

// Locker provides mutual exclusion between pipeline runs against one
// warehouse. Postgres uses a session advisory lock on a dedicated
// connection; the other engines use a row in Etl_Run_Lock.
type Locker struct {
	db      *sql.DB
	dialect Dialect
	schema  string
	key     string
	ttl     time.Duration
	owner   string
	logger  *observability.Logger
	now     func() time.Time
}

// NewLocker creates a locker for key. A table lock older than ttl is
// considered abandoned and is broken by the next acquirer.
func NewLocker(db *sql.DB, dialect Dialect, schema, key string, ttl time.Duration, logger *observability.Logger) *Locker {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	host, _ := os.Hostname()
	return &Locker{
		db:      db,
		dialect: dialect,
		schema:  schema,
		key:     key,
		ttl:     ttl,
		owner:   fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.NewString()[:8]),
		logger:  logger.WithFields(map[string]interface{}{"component": "lock", "lock": key}),
		now:     time.Now,
	}
}

// Owner identifies this process in the lock table
func (l *Locker) Owner() string {
	return l.owner
}

// Acquire takes the lock or fails with ErrCodeLockHeld without waiting
func (l *Locker) Acquire(ctx context.Context) (Lease, error) {
	if l.dialect.Name == "postgres" {
		return l.acquireAdvisory(ctx)
	}
	return l.acquireRow(ctx)
}

func lockHeldError(key, holder string) *apperrors.AppError {
	msg := fmt.Sprintf("another run holds the warehouse lock %q", key)
	if holder != "" {
		msg += " (owner " + holder + ")"
	}
	return apperrors.New(apperrors.ErrCodeLockHeld, msg).
		WithContext("lock", key).
		WithSeverity(apperrors.SeverityWarning).
		WithSuggestions("Wait for the running refresh to finish", "Check 'labhub history list' for the active run")
}

type advisoryLease struct {
	conn *sql.Conn
	key  string
}

func (l *Locker) acquireAdvisory(ctx context.Context) (Lease, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, apperrors.ConnectionError("warehouse", "failed to reserve a connection for the run lock", err)
	}

	var ok bool
	query := "SELECT pg_try_advisory_lock(hashtext($1))"
	if err := conn.QueryRowContext(ctx, query, l.key).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, apperrors.WarehouseError("acquire lock", query, err)
	}
	if !ok {
		_ = conn.Close()
		return nil, lockHeldError(l.key, "")
	}

	l.logger.Debug("Advisory lock acquired")
	return &advisoryLease{conn: conn, key: l.key}, nil
}

func (a *advisoryLease) Release(ctx context.Context) error {
	defer a.conn.Close()
	query := "SELECT pg_advisory_unlock(hashtext($1))"
	var released bool
	if err := a.conn.QueryRowContext(ctx, query, a.key).Scan(&released); err != nil {
		return apperrors.WarehouseError("release lock", query, err)
	}
	return nil
}

type rowLease struct {
	l *Locker
}

func (l *Locker) acquireRow(ctx context.Context) (Lease, error) {
	table := Qualify(l.schema, TableRunLock)
	now := l.now().UTC()

	if l.ttl > 0 {
		stale := fmt.Sprintf("DELETE FROM %s WHERE LockName = %s AND AcquiredAt < %s",
			table, l.dialect.Bind(1, "VARCHAR"), l.dialect.Bind(2, "TIMESTAMP"))
		res, err := l.db.ExecContext(ctx, stale, l.key, now.Add(-l.ttl))
		if err != nil {
			return nil, apperrors.WarehouseError("break stale lock", stale, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			l.logger.WarnWithFields("Broke stale run lock", map[string]interface{}{"ttl": l.ttl.String()})
		}
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (LockName, Owner, AcquiredAt) SELECT %s, %s, %s WHERE NOT EXISTS (SELECT 1 FROM %s WHERE LockName = %s)",
		table,
		l.dialect.Bind(1, "VARCHAR"), l.dialect.Bind(2, "VARCHAR"), l.dialect.Bind(3, "TIMESTAMP"),
		table, l.dialect.Bind(4, "VARCHAR"))
	res, err := l.db.ExecContext(ctx, insert, l.key, l.owner, now, l.key)
	if err != nil {
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "duplicate") || strings.Contains(lower, "unique") || strings.Contains(lower, "constraint") {
			return nil, lockHeldError(l.key, l.holder(ctx))
		}
		return nil, apperrors.WarehouseError("acquire lock", insert, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, lockHeldError(l.key, l.holder(ctx))
	}

	l.logger.Debug("Run lock acquired")
	return &rowLease{l: l}, nil
}

func (l *Locker) holder(ctx context.Context) string {
	query := fmt.Sprintf("SELECT Owner FROM %s WHERE LockName = %s",
		Qualify(l.schema, TableRunLock), l.dialect.Bind(1, "VARCHAR"))
	var owner sql.NullString
	if err := l.db.QueryRowContext(ctx, query, l.key).Scan(&owner); err != nil {
		return ""
	}
	return owner.String
}

func (r *rowLease) Release(ctx context.Context) error {
	l := r.l
	stmt := fmt.Sprintf("DELETE FROM %s WHERE LockName = %s AND Owner = %s",
		Qualify(l.schema, TableRunLock), l.dialect.Bind(1, "VARCHAR"), l.dialect.Bind(2, "VARCHAR"))
	if _, err := l.db.ExecContext(ctx, stmt, l.key, l.owner); err != nil {
		return apperrors.WarehouseError("release lock", stmt, err)
	}
	l.logger.Debug("Run lock released")
	return nil
}
