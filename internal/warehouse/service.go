package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"farmkpi/internal/observability"
	"farmkpi/pkg/errors"
	"farmkpi/pkg/models"
)

// Service provides access to the PostgreSQL warehouse
type Service struct {
	db             *sql.DB
	config         models.Warehouse
	connected      bool
	logger         *observability.Logger
	circuitBreaker *errors.CircuitBreaker
}

// NewService creates a new warehouse service
func NewService(config models.Warehouse, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Service{
		config:         config,
		logger:         logger,
		circuitBreaker: errors.NewCircuitBreaker("warehouse", 5, 30*time.Second),
	}
}

// Connect establishes a connection to the warehouse
func (s *Service) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}

	return s.circuitBreaker.Execute(ctx, func() error {
		return errors.RetryWithBackoff(ctx, func(ctx context.Context) error {
			db, err := sql.Open("pgx", s.dsn())
			if err != nil {
				return errors.ConnectionError("Failed to open warehouse connection", err).
					WithContext("host", s.config.Host).
					WithContext("database", s.config.Database)
			}

			db.SetMaxOpenConns(s.config.MaxOpenConns)
			db.SetMaxIdleConns(s.config.MaxIdleConns)
			db.SetConnMaxLifetime(10 * time.Minute)

			pingCtx, cancel := s.getContext(ctx)
			defer cancel()

			if err := db.PingContext(pingCtx); err != nil {
				db.Close()

				if strings.Contains(err.Error(), "password authentication") {
					return errors.New(errors.ErrCodeAuthenticationFailed, "Authentication failed").
						WithContext("user", s.config.Username).
						WithSuggestions(
							"Verify your username and password",
							"Check pg_hba.conf rules for your host",
						)
				}

				return errors.ConnectionError("Failed to connect to warehouse", err).
					WithContext("host", s.config.Host).
					AsRecoverable()
			}

			s.db = db
			s.connected = true
			s.logger.InfoWithFields("connected to warehouse", map[string]interface{}{
				"host":     s.config.Host,
				"database": s.config.Database,
			})
			return nil
		})
	})
}

// Reconnect drops the current connection and connects again. Used by the
// loader when a batch fails with an operational error.
func (s *Service) Reconnect(ctx context.Context) error {
	if s.connected {
		_ = s.db.Close()
		s.connected = false
	}
	return s.Connect(ctx)
}

// Close closes the database connection
func (s *Service) Close() error {
	if !s.connected {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	s.connected = false
	return nil
}

// Ping verifies the connection is alive
func (s *Service) Ping(ctx context.Context) error {
	if !s.connected {
		return fmt.Errorf("not connected to warehouse")
	}

	pingCtx, cancel := s.getContext(ctx)
	defer cancel()

	return s.db.PingContext(pingCtx)
}

// Query executes a parameterized query and returns its rows
func (s *Service) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if !s.connected {
		return nil, fmt.Errorf("not connected to warehouse")
	}

	// No timeout wrapper here: cancelling the context would close the
	// rows before the caller gets to scan them.
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.SQLError("Query failed", query, err)
	}
	return rows, nil
}

// QueryRow executes a parameterized query expected to return one row
func (s *Service) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Exec executes a parameterized statement
func (s *Service) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if !s.connected {
		return nil, fmt.Errorf("not connected to warehouse")
	}

	execCtx, cancel := s.getContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(execCtx, query, args...)
	if err != nil {
		return nil, errors.SQLError("Statement failed", query, err)
	}
	return res, nil
}

// BeginTx starts a new transaction
func (s *Service) BeginTx(ctx context.Context) (*sql.Tx, error) {
	if !s.connected {
		return nil, fmt.Errorf("not connected to warehouse")
	}

	return s.db.BeginTx(ctx, nil)
}

// DB returns the underlying database handle
func (s *Service) DB() *sql.DB {
	return s.db
}

// SetDB swaps in an established database handle and marks the service
// connected. For callers that manage their own pool.
func (s *Service) SetDB(db *sql.DB) {
	s.db = db
	s.connected = true
}

func (s *Service) getContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Service) dsn() string {
	q := url.Values{}
	q.Set("sslmode", s.config.SSLMode)
	if s.config.Schema != "" {
		q.Set("search_path", s.config.Schema)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.config.Username, s.config.Password),
		Host:     fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Path:     "/" + s.config.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// ValidateConfig validates the warehouse configuration
func ValidateConfig(config models.Warehouse) error {
	if config.Host == "" {
		return fmt.Errorf("host is required")
	}
	if config.Database == "" {
		return fmt.Errorf("database is required")
	}
	if config.Username == "" {
		return fmt.Errorf("username is required")
	}
	if config.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}
