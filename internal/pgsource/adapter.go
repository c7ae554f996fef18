// Package pgsource implements the PostgreSQL source adapter: publication
// and replication-slot setup, SQL-RPC based WAL peek/advance, column
// listing, and table COPY streaming. All WAL access goes through
// SQL-callable functions; no streaming-replication-protocol connection is
// ever opened.
package pgsource

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clockpipe/clockpipe/internal/cdc"
	"github.com/clockpipe/clockpipe/internal/pipeerr"
)

// Adapter wraps a pooled connection to the source PostgreSQL database.
type Adapter struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Connect opens a pool capped at 5 connections, per the concurrency model.
func Connect(ctx context.Context, dsn string, logger zerolog.Logger) (*Adapter, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.DbConnect, err)
	}
	cfg.MaxConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.DbConnect, err)
	}
	return &Adapter{pool: pool, logger: logger.With().Str("component", "pgsource").Logger()}, nil
}

func (a *Adapter) Close() { a.pool.Close() }

func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, "SELECT 1"); err != nil {
		return pipeerr.Wrap(pipeerr.DbPing, err)
	}
	return nil
}

// ColumnsByTable returns the source column descriptors for schema.table, in
// ordinal order, with primary-key membership sourced from
// information_schema.
func (a *Adapter) ColumnsByTable(ctx context.Context, schema, table string) ([]cdc.SourceColumn, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT
			c.ordinal_position,
			c.column_name,
			c.udt_name,
			c.is_nullable = 'YES' AS nullable,
			EXISTS(
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND kcu.column_name = c.column_name
			) AS is_primary_key,
			coalesce(pgd.description, '') AS comment
		FROM information_schema.columns c
		LEFT JOIN pg_catalog.pg_description pgd
			ON pgd.objsubid = c.ordinal_position
			AND pgd.objoid = (SELECT oid FROM pg_catalog.pg_class WHERE relname = c.table_name)
		WHERE c.table_name = $1 AND c.table_schema = $2
		ORDER BY c.ordinal_position ASC`, table, schema)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ListTableColumns, err)
	}
	defer rows.Close()

	var cols []cdc.SourceColumn
	for rows.Next() {
		var c cdc.SourceColumn
		if err := rows.Scan(&c.Ordinal, &c.Name, &c.NativeType, &c.Nullable, &c.PrimaryKey, &c.Comment); err != nil {
			return nil, pipeerr.Wrap(pipeerr.ListTableColumns, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeerr.Wrap(pipeerr.ListTableColumns, err)
	}
	return cols, nil
}

// RelationID resolves the catalog OID for schema.table.
func (a *Adapter) RelationID(ctx context.Context, schema, table string) (uint32, error) {
	var oid uint32
	err := a.pool.QueryRow(ctx, `
		SELECT c.oid
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relname = $1 AND n.nspname = $2`, table, schema).Scan(&oid)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, pipeerr.Wrapf(pipeerr.GetTableName, "no relation found for %s.%s", schema, table)
		}
		return 0, pipeerr.Wrap(pipeerr.GetTableName, err)
	}
	return oid, nil
}

// FindPublication reports whether a publication with this name exists.
func (a *Adapter) FindPublication(ctx context.Context, name string) (bool, error) {
	var found string
	err := a.pool.QueryRow(ctx, "SELECT pubname FROM pg_publication WHERE pubname = $1", name).Scan(&found)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, pipeerr.Wrap(pipeerr.PublicationFind, err)
	}
	return true, nil
}

// PublicationTables returns the qualified tables already in a publication.
func (a *Adapter) PublicationTables(ctx context.Context, name string) ([]string, error) {
	rows, err := a.pool.Query(ctx, "SELECT schemaname, tablename FROM pg_publication_tables WHERE pubname = $1", name)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.PublicationFind, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var schema, table string
		if err := rows.Scan(&schema, &table); err != nil {
			return nil, pipeerr.Wrap(pipeerr.PublicationFind, err)
		}
		tables = append(tables, schema+"."+table)
	}
	return tables, rows.Err()
}

// CreatePublication issues CREATE PUBLICATION ... FOR TABLE ...
func (a *Adapter) CreatePublication(ctx context.Context, name string, qualifiedTables []string) error {
	query := fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s", name, strings.Join(qualifiedTables, ", "))
	if _, err := a.pool.Exec(ctx, query); err != nil {
		return pipeerr.Wrap(pipeerr.PublicationCreate, err)
	}
	return nil
}

// AddTableToPublication issues ALTER PUBLICATION ... ADD TABLE ...
func (a *Adapter) AddTableToPublication(ctx context.Context, name string, qualifiedTables []string) error {
	query := fmt.Sprintf("ALTER PUBLICATION %s ADD TABLE %s", name, strings.Join(qualifiedTables, ", "))
	if _, err := a.pool.Exec(ctx, query); err != nil {
		return pipeerr.Wrap(pipeerr.PublicationAdd, err)
	}
	return nil
}

// CreateReplicationSlot creates a logical replication slot using the
// pgoutput decoder (its bytes are consumed only via the peek RPC below).
func (a *Adapter) CreateReplicationSlot(ctx context.Context, name string) error {
	if _, err := a.pool.Exec(ctx, "SELECT pg_create_logical_replication_slot($1, 'pgoutput')", name); err != nil {
		return pipeerr.Wrap(pipeerr.ReplicationCreate, err)
	}
	return nil
}

// FindReplicationSlot reports whether a slot with this name exists.
func (a *Adapter) FindReplicationSlot(ctx context.Context, name string) (bool, error) {
	var found string
	err := a.pool.QueryRow(ctx, "SELECT slot_name FROM pg_replication_slots WHERE slot_name = $1", name).Scan(&found)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, pipeerr.Wrap(pipeerr.ReplicationNotFound, err)
	}
	return true, nil
}

// PeekedChange is one row returned by a non-consuming WAL peek.
type PeekedChange struct {
	LSN  pglogrepl.LSN
	XID  string
	Data []byte
}

// PeekChanges pulls up to limit pending changes from the slot without
// consuming them. Argument order, taken from the reference implementation's
// SQL call (see DESIGN.md Open Question 1): (slot_name, upto_lsn=NULL,
// upto_nchanges=limit, options...).
func (a *Adapter) PeekChanges(ctx context.Context, slotName, publicationName string, limit int) ([]PeekedChange, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT lsn::text, xid::text, data
		FROM pg_logical_slot_peek_binary_changes($1, NULL, $2, 'proto_version', '1', 'publication_names', $3)`,
		slotName, limit, publicationName)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.PeekChanges, err)
	}
	defer rows.Close()

	var changes []PeekedChange
	for rows.Next() {
		var lsnText, xid string
		var data []byte
		if err := rows.Scan(&lsnText, &xid, &data); err != nil {
			return nil, pipeerr.Wrap(pipeerr.PeekChanges, err)
		}
		lsn, err := pglogrepl.ParseLSN(lsnText)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.PeekChanges, err)
		}
		changes = append(changes, PeekedChange{LSN: lsn, XID: xid, Data: data})
	}
	return changes, rows.Err()
}

// AdvanceReplicationSlot moves the slot's confirmed position forward to
// lsn. Only safe to call once every write derived from changes up to lsn
// has succeeded.
func (a *Adapter) AdvanceReplicationSlot(ctx context.Context, slotName string, lsn pglogrepl.LSN) error {
	if _, err := a.pool.Exec(ctx, "SELECT pg_replication_slot_advance($1, $2)", slotName, lsn.String()); err != nil {
		return pipeerr.Wrap(pipeerr.ReplicationSlotAdvance, err)
	}
	return nil
}

// Row is one COPY-TO-STDOUT row, parsed from Postgres TEXT format.
type Row struct {
	Cells []cdc.Cell
}

// CopyTableToStdout streams schema.table via COPY ... TO STDOUT and parses
// the TEXT-format output into rows, splitting on tab (columns) and
// newline (rows), treating a literal `\N` field as Null.
func (a *Adapter) CopyTableToStdout(ctx context.Context, schema, table string, onRow func(Row) error) error {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return pipeerr.Wrap(pipeerr.CopyTable, err)
	}
	defer conn.Release()

	query := fmt.Sprintf("COPY (SELECT * FROM %s.%s) TO STDOUT", schema, table)
	var buf strings.Builder
	_, err = conn.Conn().PgConn().CopyTo(ctx, copyWriter{&buf}, query)
	if err != nil {
		return pipeerr.Wrap(pipeerr.CopyTable, err)
	}

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		cells := make([]cdc.Cell, len(fields))
		for i, f := range fields {
			if f == `\N` {
				cells[i] = cdc.NullCell()
			} else {
				cells[i] = cdc.TextCell(f)
			}
		}
		if err := onRow(Row{Cells: cells}); err != nil {
			return err
		}
	}
	return nil
}

// copyWriter adapts a strings.Builder to io.Writer for pgconn's CopyTo.
type copyWriter struct{ b *strings.Builder }

func (w copyWriter) Write(p []byte) (int, error) { return w.b.Write(p) }
