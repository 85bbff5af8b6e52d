// Package db provides PostgreSQL persistence for portscope.
// It handles connection setup, embedded schema migrations and storage of
// frozen scan sessions with their port results.
package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/logging"
)

// sanitizeDBError converts raw database errors into safe, sanitized errors
// that don't expose internal SQL details or credentials to API clients.
// The original error is preserved in the Cause field for internal debugging.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}

	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.WrapDatabaseError(errors.CodeNotFound, "Resource not found", err).
			WithOperation(operation)
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		var code errors.ErrorCode
		var msg string
		switch pqErr.Code {
		case "23505": // unique_violation
			code, msg = errors.CodeConflict, "Resource already exists"
		case "23503": // foreign_key_violation
			code, msg = errors.CodeValidation, "Referenced resource does not exist"
		case "23502", "23514": // not_null_violation, check_violation
			code, msg = errors.CodeValidation, "Data validation failed"
		case "57014": // query_canceled
			code, msg = errors.CodeCanceled, "Database operation was canceled"
		case "57P01", "08000", "08003", "08006":
			code, msg = errors.CodeDatabaseConnection, "Database connection error"
		default:
			code, msg = errors.CodeDatabaseQuery, fmt.Sprintf("Database operation failed: %s", operation)
		}
		return errors.WrapDatabaseError(code, msg, err).WithOperation(operation)
	}

	return errors.WrapDatabaseError(errors.CodeDatabaseQuery,
		fmt.Sprintf("Database operation failed: %s", operation), err).WithOperation(operation)
}

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
)

// DB wraps sqlx.DB with additional functionality.
type DB struct {
	*sqlx.DB
}

// Config holds database configuration.
type Config struct {
	Host            string        `yaml:"host" json:"host" mapstructure:"host"`
	Port            int           `yaml:"port" json:"port" mapstructure:"port" validate:"min=1,max=65535"`
	Database        string        `yaml:"database" json:"database" mapstructure:"database"`
	Username        string        `yaml:"username" json:"username" mapstructure:"username"`
	Password        string        `yaml:"password" json:"-" mapstructure:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode" mapstructure:"ssl_mode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" mapstructure:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" mapstructure:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration.
// Database name, username, and password must be explicitly configured.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// DSN renders the lib/pq key=value connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode,
	)
}

// Connect establishes a connection to PostgreSQL.
// Returns sanitized errors that don't leak credentials or DSN details.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", config.DSN())
	if err != nil {
		return nil, errors.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection,
			"Failed to verify database connection", err)
	}

	logging.InfoDatabase("Connected to database",
		"host", config.Host, "port", config.Port, "database", config.Database)
	return &DB{DB: db}, nil
}

// Wrap adapts an existing sqlx handle, used with sqlmock in tests.
func Wrap(db *sqlx.DB) *DB {
	return &DB{DB: db}
}

// Ping checks the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return sanitizeDBError("ping", err)
	}
	return nil
}
