// Package schema reconciles each bound table's destination ClickHouse
// structure against its source, creating the table on first sight and
// adding newly observed source columns on later runs.
package schema

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/clockpipe/clockpipe/internal/cdc"
	"github.com/clockpipe/clockpipe/internal/chsink"
	"github.com/clockpipe/clockpipe/internal/chtype"
)

// Reconciler drives destination DDL from a table's source column list.
type Reconciler struct {
	sink   *chsink.Adapter
	opts   chtype.TableOptions
	logger zerolog.Logger
}

// NewReconciler creates a schema Reconciler.
func NewReconciler(sink *chsink.Adapter, opts chtype.TableOptions, logger zerolog.Logger) *Reconciler {
	return &Reconciler{sink: sink, opts: opts, logger: logger.With().Str("component", "schema").Logger()}
}

// Reconcile ensures binding.DestTable exists in database with one column
// per binding.SourceColumns, creating it if absent or adding any source
// column the destination is missing, then refreshes binding.SinkColumns
// from the destination's current catalog.
func (r *Reconciler) Reconcile(ctx context.Context, database string, binding *cdc.TableBinding) error {
	exists, err := r.sink.TableExists(ctx, database, binding.DestTable)
	if err != nil {
		return fmt.Errorf("check table existence for %s: %w", binding.DestTable, err)
	}

	if !exists {
		ddl := chtype.CreateTable(database, binding.DestTable, binding.SourceColumns, r.opts, "")
		r.logger.Info().Str("table", binding.DestTable).Str("statement", truncate(ddl, 200)).Msg("creating destination table")
		if err := r.sink.ExecuteQuery(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", binding.DestTable, err)
		}
	} else {
		sinkCols, err := r.sink.ListColumns(ctx, database, binding.DestTable)
		if err != nil {
			return fmt.Errorf("list destination columns for %s: %w", binding.DestTable, err)
		}
		existing := make(map[string]bool, len(sinkCols))
		for _, c := range sinkCols {
			existing[c.Name] = true
		}
		for _, col := range binding.SourceColumns {
			if existing[col.Name] {
				continue
			}
			ddl := chtype.AddColumn(database, binding.DestTable, col)
			r.logger.Info().Str("table", binding.DestTable).Str("column", col.Name).Str("statement", ddl).Msg("adding destination column")
			if err := r.sink.ExecuteQuery(ctx, ddl); err != nil {
				return fmt.Errorf("add column %s.%s: %w", binding.DestTable, col.Name, err)
			}
		}
	}

	sinkCols, err := r.sink.ListColumns(ctx, database, binding.DestTable)
	if err != nil {
		return fmt.Errorf("re-list destination columns for %s: %w", binding.DestTable, err)
	}
	binding.SinkColumns = sinkCols
	return nil
}

// ReconcileMongo ensures binding.DestTable exists, creating it with only an
// _id column if absent (a collection has no fixed schema to read ahead of
// time), then adds any column observed in docs that the destination is
// still missing, refreshing binding.SinkColumns afterward. known is an
// in-memory set of column names already confirmed present, mutated in
// place so repeated calls for the same binding skip the round trip once a
// column has been seen.
func (r *Reconciler) ReconcileMongo(ctx context.Context, database string, binding *cdc.TableBinding, docs []bson.M, known map[string]bool) error {
	exists, err := r.sink.TableExists(ctx, database, binding.DestTable)
	if err != nil {
		return fmt.Errorf("check table existence for %s: %w", binding.DestTable, err)
	}

	if !exists {
		ddl := chtype.CreateTableMongo(database, binding.DestTable, []chtype.MongoColumn{
			{Name: "_id", Kind: chtype.BSONObjectID, PrimaryKey: true},
		}, r.opts, "")
		r.logger.Info().Str("table", binding.DestTable).Str("statement", truncate(ddl, 200)).Msg("creating destination table")
		if err := r.sink.ExecuteQuery(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", binding.DestTable, err)
		}
		known["_id"] = true
	}

	added := false
	for _, doc := range docs {
		for name, value := range doc {
			if known[name] {
				continue
			}
			ddl := chtype.AddColumnMongo(database, binding.DestTable, chtype.MongoColumn{Name: name, Kind: chtype.ClassifyBSON(value)})
			r.logger.Info().Str("table", binding.DestTable).Str("column", name).Str("statement", ddl).Msg("adding destination column")
			if err := r.sink.ExecuteQuery(ctx, ddl); err != nil {
				return fmt.Errorf("add column %s.%s: %w", binding.DestTable, name, err)
			}
			known[name] = true
			added = true
		}
	}

	if added || !exists || binding.SinkColumns == nil {
		sinkCols, err := r.sink.ListColumns(ctx, database, binding.DestTable)
		if err != nil {
			return fmt.Errorf("list destination columns for %s: %w", binding.DestTable, err)
		}
		binding.SinkColumns = sinkCols
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
