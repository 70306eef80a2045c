// Package schema inspects database table shapes ahead of SQL generation so
// missing tables and columns surface as structured errors instead of
// failures deep inside generated queries.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/granaryml/granary/pkg/database"
	"github.com/granaryml/granary/pkg/sqlutil"
)

// MismatchError reports a table or column that the pipeline expected but the
// database does not have. The API layer maps it to 422 responses.
type MismatchError struct {
	Schema string
	Table  string
	Column string
}

func (e *MismatchError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("column %s does not exist on %s.%s", e.Column, e.Schema, e.Table)
	}

	return fmt.Sprintf("table %s.%s does not exist", e.Schema, e.Table)
}

// Inspector answers questions about live table shapes
type Inspector interface {
	// TableExists reports whether the table is present
	TableExists(ctx context.Context, schemaName, table string) (bool, error)
	// Columns returns the column shapes of a table
	Columns(ctx context.Context, schemaName, table string) ([]database.Column, error)
	// RequireColumns fails with a MismatchError when the table or any of
	// the named columns is absent
	RequireColumns(ctx context.Context, schemaName, table string, columns ...string) ([]database.Column, error)
}

type inspector struct {
	log logrus.FieldLogger
	db  database.ClientInterface
}

// NewInspector creates an Inspector over the given client
func NewInspector(logger logrus.FieldLogger, db database.ClientInterface) Inspector {
	return &inspector{
		log: logger.WithField("component", "schema"),
		db:  db,
	}
}

var _ Inspector = (*inspector)(nil)

func (i *inspector) TableExists(ctx context.Context, schemaName, table string) (bool, error) {
	row, err := i.db.QueryRow(ctx,
		`SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`,
		schemaName, table)
	if err != nil {
		return false, err
	}

	return row != nil, nil
}

func (i *inspector) Columns(ctx context.Context, schemaName, table string) ([]database.Column, error) {
	rows, err := i.db.Query(ctx,
		`SELECT column_name, data_type, is_nullable
		 FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`,
		schemaName, table)
	if err != nil {
		return nil, err
	}

	columns := make([]database.Column, 0, len(rows))
	for _, row := range rows {
		columns = append(columns, database.Column{
			Name:     asString(row["column_name"]),
			DataType: asString(row["data_type"]),
			Nullable: strings.EqualFold(asString(row["is_nullable"]), "YES"),
		})
	}

	return columns, nil
}

func (i *inspector) RequireColumns(ctx context.Context, schemaName, table string, required ...string) ([]database.Column, error) {
	if err := sqlutil.ValidateIdentifier(table); err != nil {
		return nil, err
	}

	columns, err := i.Columns(ctx, schemaName, table)
	if err != nil {
		return nil, err
	}

	if len(columns) == 0 {
		return nil, &MismatchError{Schema: schemaName, Table: table}
	}

	present := make(map[string]bool, len(columns))
	for _, col := range columns {
		present[col.Name] = true
	}

	for _, name := range required {
		if !present[name] {
			return nil, &MismatchError{Schema: schemaName, Table: table, Column: name}
		}
	}

	return columns, nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", v)
}
