// Package chsink implements the ClickHouse sink adapter: connection,
// catalog introspection, query execution, and table emptiness/truncate
// checks driven by the steady-state engine and schema reconciler.
package chsink

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"

	"github.com/clockpipe/clockpipe/internal/cdc"
	"github.com/clockpipe/clockpipe/internal/pipeerr"
)

// Adapter wraps a ClickHouse native-protocol connection.
type Adapter struct {
	conn   clickhouse.Conn
	logger zerolog.Logger
}

// Options carries the connection parameters for the sink database.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// Connect opens a native ClickHouse connection.
func Connect(ctx context.Context, opts Options, logger zerolog.Logger) (*Adapter, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.DbConnect, err)
	}
	return &Adapter{conn: conn, logger: logger.With().Str("component", "chsink").Logger()}, nil
}

func (a *Adapter) Close() error { return a.conn.Close() }

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.conn.Ping(ctx); err != nil {
		return pipeerr.Wrap(pipeerr.DbPing, err)
	}
	return nil
}

// ListColumns returns the destination's current column set for
// database.table, ordered by position, with primary-key membership
// sourced from system.columns.is_in_primary_key.
func (a *Adapter) ListColumns(ctx context.Context, database, table string) ([]cdc.SinkColumn, error) {
	rows, err := a.conn.Query(ctx, `
		SELECT
			position AS column_index,
			name AS column_name,
			type AS data_type,
			is_in_primary_key AS is_primary_key
		FROM system.columns
		WHERE table = ? AND database = ?
		ORDER BY position`, table, database)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ListTableColumns, err)
	}
	defer rows.Close()

	var cols []cdc.SinkColumn
	for rows.Next() {
		var c cdc.SinkColumn
		var ordinal uint64
		if err := rows.Scan(&ordinal, &c.Name, &c.DataType, &c.PrimaryKey); err != nil {
			return nil, pipeerr.Wrap(pipeerr.ListTableColumns, err)
		}
		c.Ordinal = int(ordinal)
		cols = append(cols, c)
	}
	return cols, pipeerr.Wrap(pipeerr.ListTableColumns, rows.Err())
}

// ExecuteQuery runs a DDL/DML statement with no result set.
func (a *Adapter) ExecuteQuery(ctx context.Context, query string) error {
	if err := a.conn.Exec(ctx, query); err != nil {
		return pipeerr.Wrap(pipeerr.DbQuery, err)
	}
	return nil
}

// TableIsNotEmpty reports whether database.table has at least one row.
func (a *Adapter) TableIsNotEmpty(ctx context.Context, database, table string) (bool, error) {
	query := fmt.Sprintf("SELECT exists(SELECT 1 FROM %s.%s) AS exists", database, table)
	var exists bool
	if err := a.conn.QueryRow(ctx, query).Scan(&exists); err != nil {
		return false, pipeerr.Wrap(pipeerr.TableNotFound, err)
	}
	return exists, nil
}

// TruncateTable empties database.table before a resnapshot.
func (a *Adapter) TruncateTable(ctx context.Context, database, table string) error {
	return a.ExecuteQuery(ctx, fmt.Sprintf("TRUNCATE TABLE %s.%s", database, table))
}

// TableExists reports whether database.table is present in system.tables,
// used by the schema reconciler to decide CREATE vs diff-and-ADD COLUMN.
func (a *Adapter) TableExists(ctx context.Context, database, table string) (bool, error) {
	var count uint64
	err := a.conn.QueryRow(ctx, `
		SELECT count() FROM system.tables WHERE database = ? AND name = ?`, database, table).Scan(&count)
	if err != nil {
		return false, pipeerr.Wrap(pipeerr.DbQuery, err)
	}
	return count > 0, nil
}
