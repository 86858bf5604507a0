package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"labhub/internal/observability"
	"labhub/pkg/errors"
)

// Execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Executor is what loaders need from the run transaction
type Executor interface {
	Execer
	Queryer
}

// Service owns one database handle (source or warehouse)
type Service struct {
	db             *sql.DB
	target         Target
	connected      bool
	logger         *observability.Logger
	retry          *errors.RetryConfig
	circuitBreaker *errors.CircuitBreaker
	open           func(driverName, dsn string) (*sql.DB, error)
}

// NewService creates a service for target. Nothing is opened until Connect.
func NewService(target Target, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger = logger.WithField("endpoint", target.Endpoint)

	retry := errors.DefaultRetryConfig()
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.WithError(err).WarnWithFields("Connection attempt failed, retrying", map[string]interface{}{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		})
	}

	return &Service{
		target:         target,
		logger:         logger,
		retry:          retry,
		circuitBreaker: errors.NewCircuitBreaker(target.Endpoint, 5, 30*time.Second),
		open:           sql.Open,
	}
}

// NewServiceWithDB wraps an already open handle
func NewServiceWithDB(target Target, db *sql.DB, logger *observability.Logger) *Service {
	s := NewService(target, logger)
	s.db = db
	s.connected = true
	return s
}

// Connect opens the handle and pings it, retrying transient failures
func (s *Service) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}

	return s.circuitBreaker.Execute(ctx, func() error {
		return errors.Retry(ctx, s.retry, func(ctx context.Context) error {
			db, err := s.open(s.target.DriverName, s.target.DSN)
			if err != nil {
				return errors.ConnectionError(s.target.Endpoint,
					fmt.Sprintf("Failed to open %s connection", s.target.Flavor), err).
					WithContext("driver", s.target.DriverName)
			}

			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(30 * time.Minute)

			connCtx, cancel := s.getContext(ctx)
			defer cancel()

			if err := db.PingContext(connCtx); err != nil {
				_ = db.Close()

				lower := strings.ToLower(err.Error())
				if strings.Contains(lower, "authentication") || strings.Contains(lower, "login failed") ||
					strings.Contains(lower, "password") {
					return errors.Wrap(err, errors.ErrCodeAuthenticationFailed, "Authentication failed").
						WithContext("endpoint", s.target.Endpoint).
						WithSuggestions(
							"Verify the username and password",
							"Check that the credential reference resolves (env:, keyring:, ENC[...])",
						)
				}

				return errors.ConnectionError(s.target.Endpoint,
					fmt.Sprintf("Failed to connect to %s", s.target.Flavor), err).
					WithContext("dsn", Redact(s.target.DSN)).
					AsRecoverable()
			}

			s.db = db
			s.connected = true
			s.logger.Debugf("Connected to %s", s.target.Flavor)
			return nil
		})
	})
}

// Close closes the database connection
func (s *Service) Close() error {
	if !s.connected {
		return nil
	}
	s.connected = false
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close %s connection: %w", s.target.Endpoint, err)
	}
	return nil
}

// Ping checks the connection is alive
func (s *Service) Ping(ctx context.Context) error {
	if !s.connected {
		return errors.New(errors.ErrCodeConnectionFailed, "Not connected to database").
			WithSuggestions("Call Connect() before using the service")
	}
	ctx, cancel := s.getContext(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// DB returns the underlying database handle
func (s *Service) DB() *sql.DB {
	return s.db
}

// Target returns the connection target
func (s *Service) Target() Target {
	return s.target
}

// ExecScript runs every statement of script in order on e
func ExecScript(ctx context.Context, e Execer, script string) error {
	statements := SplitStatements(script)
	for i, stmt := range statements {
		if _, err := e.ExecContext(ctx, stmt); err != nil {
			sqlErr := errors.WarehouseError("script", stmt, err).
				WithContext("statement_index", i+1).
				WithContext("total_statements", len(statements))

			errStr := strings.ToLower(err.Error())
			if strings.Contains(errStr, "does not exist") || strings.Contains(errStr, "not found") {
				sqlErr.Code = errors.ErrCodeSQLObjectNotFound
				sqlErr.WithSuggestions(
					"Run 'labhub init' to create the warehouse schema",
					"Verify the configured warehouse schema name",
				)
			}
			return sqlErr
		}
	}
	return nil
}

// SplitStatements splits a script on semicolons outside quotes and line
// comments. Blank statements are dropped.
func SplitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	inComment := false
	stringChar := rune(0)

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" && !isOnlyComments(stmt) {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		char := runes[i]

		switch {
		case inComment:
			if char == '\n' {
				inComment = false
			}
		case inString:
			if char == stringChar {
				// doubled quote is an escaped quote
				if i+1 < len(runes) && runes[i+1] == stringChar {
					current.WriteRune(char)
					i++
				} else {
					inString = false
				}
			}
		case char == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inComment = true
		case char == '\'' || char == '"':
			inString = true
			stringChar = char
		case char == ';':
			flush()
			continue
		}
		current.WriteRune(char)
	}
	flush()

	return statements
}

func isOnlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

func (s *Service) getContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.target.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
