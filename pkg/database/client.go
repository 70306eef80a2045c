package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the pgx stdlib driver under the name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
)

// Column describes a single output column of a query or table
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// RowFunc receives one streamed row. Returning an error aborts the stream.
type RowFunc func(columns []string, values []any) error

// ClientInterface defines the methods for interacting with PostgreSQL
type ClientInterface interface {
	// Start opens the pool and verifies connectivity
	Start(ctx context.Context) error
	// Stop closes the pool
	Stop() error
	// Query executes a query and returns all rows as generic maps
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	// QueryRow executes a query expected to return at most one row
	QueryRow(ctx context.Context, query string, args ...any) (map[string]any, error)
	// Execute runs a statement without returning rows
	Execute(ctx context.Context, query string, args ...any) error
	// Columns probes the output shape of a query without reading data
	Columns(ctx context.Context, query string) ([]Column, error)
	// Explain asks the planner to parse and plan the query
	Explain(ctx context.Context, query string) error
	// Stream runs a query and feeds rows to fn one at a time
	Stream(ctx context.Context, query string, fn RowFunc) (int64, error)
}

type client struct {
	log          logrus.FieldLogger
	db           *sql.DB
	cfg          *Config
	queryTimeout time.Duration
	debug        bool
}

// NewClient creates a PostgreSQL client from the given config
func NewClient(logger logrus.FieldLogger, cfg *Config) (ClientInterface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &client{
		log:          logger.WithField("component", "database"),
		cfg:          cfg,
		queryTimeout: cfg.QueryTimeout,
		debug:        cfg.Debug,
	}, nil
}

// NewClientFromDB wraps an already-open *sql.DB. Used by tests to inject a
// mock connection.
func NewClientFromDB(logger logrus.FieldLogger, cfg *Config, db *sql.DB) ClientInterface {
	timeout := cfg.QueryTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &client{
		log:          logger.WithField("component", "database"),
		cfg:          cfg,
		db:           db,
		queryTimeout: timeout,
		debug:        cfg.Debug,
	}
}

var _ ClientInterface = (*client)(nil)

func (c *client) Start(ctx context.Context) error {
	db, err := sql.Open("pgx", c.cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(c.cfg.MaxOpenConns)
	db.SetMaxIdleConns(c.cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	c.db = db

	c.log.WithFields(logrus.Fields{
		"host":     c.cfg.Host,
		"database": c.cfg.Database,
	}).Info("Connected to PostgreSQL")

	return nil
}

func (c *client) Stop() error {
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}

	c.log.Info("Closed PostgreSQL client")

	return nil
}

func (c *client) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	queryCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	c.logQuery(query)

	rows, err := c.db.QueryContext(queryCtx, query, args...)
	if err != nil {
		return nil, NewDataAccessError("query", err)
	}
	defer c.closeRows(rows)

	results, err := scanAll(rows)
	if err != nil {
		return nil, NewDataAccessError("scan", err)
	}

	return results, nil
}

func (c *client) QueryRow(ctx context.Context, query string, args ...any) (map[string]any, error) {
	results, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, nil
	}

	return results[0], nil
}

func (c *client) Execute(ctx context.Context, query string, args ...any) error {
	execCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	c.logQuery(query)

	if _, err := c.db.ExecContext(execCtx, query, args...); err != nil {
		return NewDataAccessError("execute", err)
	}

	return nil
}

func (c *client) Columns(ctx context.Context, query string) ([]Column, error) {
	probe := fmt.Sprintf("SELECT * FROM (%s) AS _shape_probe LIMIT 0", query)

	probeCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(probeCtx, probe)
	if err != nil {
		return nil, NewDataAccessError("column probe", err)
	}
	defer c.closeRows(rows)

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, NewDataAccessError("column probe", err)
	}

	columns := make([]Column, 0, len(types))
	for _, t := range types {
		nullable, _ := t.Nullable()
		columns = append(columns, Column{
			Name:     t.Name(),
			DataType: t.DatabaseTypeName(),
			Nullable: nullable,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, NewDataAccessError("column probe", err)
	}

	return columns, nil
}

func (c *client) Explain(ctx context.Context, query string) error {
	return c.Execute(ctx, "EXPLAIN "+query)
}

func (c *client) Stream(ctx context.Context, query string, fn RowFunc) (int64, error) {
	// No timeout here: exports of large datasets run as long as the
	// caller's context allows.
	c.logQuery(query)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return 0, NewDataAccessError("stream", err)
	}
	defer c.closeRows(rows)

	columns, err := rows.Columns()
	if err != nil {
		return 0, NewDataAccessError("stream", err)
	}

	var count int64

	values := make([]any, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return count, NewDataAccessError("stream", err)
		}

		if err := fn(columns, values); err != nil {
			return count, err
		}

		count++
	}

	if err := rows.Err(); err != nil {
		return count, NewDataAccessError("stream", err)
	}

	return count, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.queryTimeout)
}

func (c *client) logQuery(query string) {
	if !c.debug {
		return
	}

	logQuery := query
	if len(logQuery) > 1000 {
		logQuery = logQuery[:1000] + "... (truncated)"
	}

	c.log.WithField("query", logQuery).Debug("Executing query")
}

func (c *client) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		c.log.WithError(err).Debug("Failed to close rows")
	}
}

// scanAll reads every row into a map keyed by column name. Byte slices are
// converted to strings so results serialize cleanly as JSON.
func scanAll(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any

	for rows.Next() {
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}

		if err := rows.Scan(scanArgs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, name := range columns {
			if b, ok := values[i].([]byte); ok {
				row[name] = string(b)
			} else {
				row[name] = values[i]
			}
		}

		results = append(results, row)
	}

	return results, rows.Err()
}
