// Package sqlcommon holds the configuration and shared query implementation
// used by the SQL-backed datastores.
package sqlcommon

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/foodios/appview/pkg/logger"
)

// Config defines the configuration parameters for setting up and managing a
// sql connection.
type Config struct {
	Logger logger.Logger

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	ExportMetrics bool
}

// DatastoreOption defines a function type used for configuring a Config.
type DatastoreOption func(*Config)

// WithLogger returns a DatastoreOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) DatastoreOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// WithMaxOpenConns returns a DatastoreOption that sets the maximum number of
// open connections in the Config.
func WithMaxOpenConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxOpenConns = c
	}
}

// WithMaxIdleConns returns a DatastoreOption that sets the maximum number of
// idle connections in the Config.
func WithMaxIdleConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxIdleConns = c
	}
}

// WithConnMaxIdleTime returns a DatastoreOption that sets the maximum idle
// time for a connection in the Config.
func WithConnMaxIdleTime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxIdleTime = d
	}
}

// WithConnMaxLifetime returns a DatastoreOption that sets the maximum lifetime
// for a connection in the Config.
func WithConnMaxLifetime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxLifetime = d
	}
}

// WithMetrics returns a DatastoreOption that enables the export of metrics.
func WithMetrics() DatastoreOption {
	return func(cfg *Config) {
		cfg.ExportMetrics = true
	}
}

// NewConfig creates a new Config with defaults and applies any provided
// DatastoreOption modifications.
func NewConfig(opts ...DatastoreOption) *Config {
	cfg := &Config{}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}

	return cfg
}

// ErrorHandlerFn translates driver-level errors into storage errors.
type ErrorHandlerFn func(err error, args ...interface{}) error

// RetryFn wraps a statement execution, giving engines with lock contention
// (sqlite busy errors) a place to retry.
type RetryFn func(fn func() error) error

// DBInfo encapsulates DB information for use in common functions.
type DBInfo struct {
	db          *sql.DB
	stbl        sq.StatementBuilderType
	handleError ErrorHandlerFn
	retry       RetryFn
	engine      string
}

// NewDBInfo constructs a [DBInfo] object.
func NewDBInfo(db *sql.DB, stbl sq.StatementBuilderType, handleError ErrorHandlerFn, engine string) *DBInfo {
	return &DBInfo{
		db:          db,
		stbl:        stbl,
		handleError: handleError,
		retry:       func(fn func() error) error { return fn() },
		engine:      engine,
	}
}

// SetRetry installs an engine-specific statement retry wrapper.
func (d *DBInfo) SetRetry(fn RetryFn) {
	d.retry = fn
}

func (d *DBInfo) DB() *sql.DB                      { return d.db }
func (d *DBInfo) Builder() sq.StatementBuilderType { return d.stbl }
func (d *DBInfo) Engine() string                   { return d.engine }

// HandleError applies the engine's error translation.
func (d *DBInfo) HandleError(err error, args ...interface{}) error {
	return d.handleError(err, args...)
}

// Retry runs fn under the engine's retry policy.
func (d *DBInfo) Retry(fn func() error) error {
	return d.retry(fn)
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (d *DBInfo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var txn *sql.Tx
	err := d.retry(func() error {
		var err error
		txn, err = d.db.BeginTx(ctx, nil)
		return err
	})
	if err != nil {
		return d.handleError(err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	if err := fn(txn); err != nil {
		return err
	}

	return d.retry(txn.Commit)
}
