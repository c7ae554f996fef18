// Package replay runs the steady-state engine: peek a batch of pending
// changes from the source, parse and group them by destination table,
// write batched ClickHouse statements, and advance the source cursor once
// every write in the batch has succeeded.
package replay

import (
	"context"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/rs/zerolog"

	"github.com/clockpipe/clockpipe/internal/cdc"
	"github.com/clockpipe/clockpipe/internal/chsink"
	"github.com/clockpipe/clockpipe/internal/chtype"
	"github.com/clockpipe/clockpipe/internal/mongosource"
	"github.com/clockpipe/clockpipe/internal/pgoutput"
	"github.com/clockpipe/clockpipe/internal/pgsource"
	"github.com/clockpipe/clockpipe/internal/schema"

	"go.mongodb.org/mongo-driver/bson"
)

// SleepConfig carries every timing knob the steady-state loop consults,
// sourced from the pipe's configuration.
type SleepConfig struct {
	PeekChangesLimit   int
	PeekTimeoutMillis  int64
	WhenPeekFailed     time.Duration
	WhenPeekEmpty      time.Duration
	WhenWriteFailed    time.Duration
	AfterSyncIteration time.Duration
	AfterSyncWrite     time.Duration
}

// batchPlan is the GROUP step's output: writes partitioned by destination
// table, ready for the WRITE step.
type batchPlan struct {
	insertsUpdates map[string][]chtype.InsertRow
	deletes        map[string][]chtype.DeleteRow
	truncates      map[string]bool
}

func newBatchPlan() *batchPlan {
	return &batchPlan{
		insertsUpdates: make(map[string][]chtype.InsertRow),
		deletes:        make(map[string][]chtype.DeleteRow),
		truncates:      make(map[string]bool),
	}
}

func (p *batchPlan) empty() bool {
	return len(p.insertsUpdates) == 0 && len(p.deletes) == 0 && len(p.truncates) == 0
}

// write executes WRITE order: truncates, then batched inserts, then
// batched deletes, sleeping afterSyncWrite between statements.
func write(ctx context.Context, sink *chsink.Adapter, database string, plan *batchPlan, bindings *Bindings, afterSyncWrite time.Duration) error {
	for table := range plan.truncates {
		if err := sink.ExecuteQuery(ctx, chtype.Truncate(database, table)); err != nil {
			return err
		}
		sleepCtx(ctx, afterSyncWrite)
	}

	for table, rows := range plan.insertsUpdates {
		binding, ok := bindings.ByName(table)
		if !ok {
			continue
		}
		query := chtype.Insert(database, table, binding.SinkColumns, binding.MaskColumns, rows)
		if query == "" {
			continue
		}
		if err := sink.ExecuteQuery(ctx, query); err != nil {
			return err
		}
		sleepCtx(ctx, afterSyncWrite)
	}

	for table, rows := range plan.deletes {
		binding, ok := bindings.ByName(table)
		if !ok {
			continue
		}
		query := chtype.Delete(database, table, binding.PrimaryKeyColumns(), rows)
		if query == "" {
			continue
		}
		if err := sink.ExecuteQuery(ctx, query); err != nil {
			return err
		}
		sleepCtx(ctx, afterSyncWrite)
	}

	return nil
}

// sleepCtx sleeps for d or returns early if ctx is cancelled. Reports
// whether the sleep completed normally (false means the caller should
// stop).
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func namedCellMap(cells []cdc.NamedCell) map[string]cdc.Cell {
	out := make(map[string]cdc.Cell, len(cells))
	for _, nc := range cells {
		out[nc.Name] = nc.Cell
	}
	return out
}

func zip(columns []cdc.SourceColumn, cells []cdc.Cell) []cdc.NamedCell {
	out := make([]cdc.NamedCell, 0, len(cells))
	for i, cell := range cells {
		if i >= len(columns) {
			break
		}
		out = append(out, cdc.NamedCell{Name: columns[i].Name, Cell: cell})
	}
	return out
}

func sourcePrimaryKeyColumns(b *cdc.TableBinding) []cdc.SourceColumn {
	var pk []cdc.SourceColumn
	for _, c := range b.SourceColumns {
		if c.PrimaryKey {
			pk = append(pk, c)
		}
	}
	return pk
}

// --- Postgres engine -------------------------------------------------

// PostgresEngine drives the steady-state loop against a Postgres source.
type PostgresEngine struct {
	source          *pgsource.Adapter
	sink            *chsink.Adapter
	bindings        *Bindings
	database        string
	slotName        string
	publicationName string
	cfg             SleepConfig
	logger          zerolog.Logger
	OnAdvanced      func(lsn pglogrepl.LSN)
}

// NewPostgresEngine creates a PostgresEngine.
func NewPostgresEngine(source *pgsource.Adapter, sink *chsink.Adapter, bindings *Bindings, database, slotName, publicationName string, cfg SleepConfig, logger zerolog.Logger) *PostgresEngine {
	return &PostgresEngine{
		source: source, sink: sink, bindings: bindings, database: database,
		slotName: slotName, publicationName: publicationName, cfg: cfg,
		logger: logger.With().Str("component", "replay").Logger(),
	}
}

// Run executes the PEEK→PARSE→GROUP→WRITE→ADVANCE loop until ctx is
// cancelled. It never terminates on its own for transient failures.
func (e *PostgresEngine) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		hadChanges, failedPhase, err := e.iterate(ctx)
		if err != nil {
			e.logger.Error().Err(err).Str("phase", failedPhase).Msg("iteration failed, retrying")
			sleep := e.cfg.WhenWriteFailed
			if failedPhase == "peek" {
				sleep = e.cfg.WhenPeekFailed
			}
			if !sleepCtx(ctx, sleep) {
				return ctx.Err()
			}
			continue
		}
		if !hadChanges {
			if !sleepCtx(ctx, e.cfg.WhenPeekEmpty) {
				return ctx.Err()
			}
			continue
		}
		if !sleepCtx(ctx, e.cfg.AfterSyncIteration) {
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (e *PostgresEngine) iterate(ctx context.Context) (hadChanges bool, failedPhase string, err error) {
	peeked, err := e.source.PeekChanges(ctx, e.slotName, e.publicationName, e.cfg.PeekChangesLimit)
	if err != nil {
		return false, "peek", err
	}
	if len(peeked) == 0 {
		return false, "", nil
	}

	plan := newBatchPlan()

	for _, change := range peeked {
		record, err := pgoutput.Parse(change.Data)
		if err != nil {
			return true, "parse", err
		}
		if !record.Surfaced() {
			continue
		}

		binding, ok := e.bindings.ByRelationID(record.RelationID)
		if !ok {
			e.logger.Warn().Uint32("relation_id", record.RelationID).Msg("change for unknown relation, skipping")
			continue
		}

		switch record.Tag {
		case pgoutput.TagInsert, pgoutput.TagUpdate:
			values := namedCellMap(zip(binding.SourceColumns, record.NewTuple))
			plan.insertsUpdates[binding.DestTable] = append(plan.insertsUpdates[binding.DestTable], chtype.InsertRow{Values: values})
		case pgoutput.TagDelete:
			old := namedCellMap(zip(binding.SourceColumns, record.OldTuple))
			keys := make(map[string]cdc.Cell)
			for _, c := range sourcePrimaryKeyColumns(binding) {
				if cell, ok := old[c.Name]; ok && !cell.IsNull() {
					keys[c.Name] = cell
				}
			}
			if len(keys) == 0 {
				e.logger.Warn().Str("table", binding.DestTable).Msg("delete without primary-key cells (REPLICA IDENTITY not set?), skipping row")
				continue
			}
			plan.deletes[binding.DestTable] = append(plan.deletes[binding.DestTable], chtype.DeleteRow{Keys: keys})
		case pgoutput.TagTruncate:
			plan.truncates[binding.DestTable] = true
		}
	}

	if plan.empty() {
		lastLSN := peeked[len(peeked)-1].LSN
		if err := e.source.AdvanceReplicationSlot(ctx, e.slotName, lastLSN); err != nil {
			return true, "write", err
		}
		return true, "", nil
	}

	if err := write(ctx, e.sink, e.database, plan, e.bindings, e.cfg.AfterSyncWrite); err != nil {
		return true, "write", err
	}

	lastLSN := peeked[len(peeked)-1].LSN
	if err := e.source.AdvanceReplicationSlot(ctx, e.slotName, lastLSN); err != nil {
		return true, "write", err
	}
	if e.OnAdvanced != nil {
		e.OnAdvanced(lastLSN)
	}
	return true, "", nil
}

// --- Mongo engine ------------------------------------------------------

// MongoEngine drives the steady-state loop against a Mongo source.
type MongoEngine struct {
	source         *mongosource.Adapter
	sink           *chsink.Adapter
	bindings       *Bindings
	reconciler     *schema.Reconciler
	database       string
	sourceDatabase string
	cfg            SleepConfig
	logger         zerolog.Logger
	OnAdvanced     func()

	knownColumns map[string]map[string]bool // destination table -> column set
}

// NewMongoEngine creates a MongoEngine. reconciler evolves each bound
// table's destination columns as previously unseen document fields show up
// in the change stream, since a collection has no fixed schema.
func NewMongoEngine(source *mongosource.Adapter, sink *chsink.Adapter, bindings *Bindings, reconciler *schema.Reconciler, database, sourceDatabase string, cfg SleepConfig, logger zerolog.Logger) *MongoEngine {
	return &MongoEngine{
		source: source, sink: sink, bindings: bindings, reconciler: reconciler, database: database,
		sourceDatabase: sourceDatabase, cfg: cfg,
		logger:       logger.With().Str("component", "replay").Logger(),
		knownColumns: make(map[string]map[string]bool),
	}
}

// Run executes the PEEK→PARSE→GROUP→WRITE→ADVANCE loop until ctx is
// cancelled.
func (e *MongoEngine) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		hadChanges, failedPhase, err := e.iterate(ctx)
		if err != nil {
			e.logger.Error().Err(err).Str("phase", failedPhase).Msg("iteration failed, retrying")
			sleep := e.cfg.WhenWriteFailed
			if failedPhase == "peek" {
				sleep = e.cfg.WhenPeekFailed
			}
			if !sleepCtx(ctx, sleep) {
				return ctx.Err()
			}
			continue
		}
		if !hadChanges {
			if !sleepCtx(ctx, e.cfg.WhenPeekEmpty) {
				return ctx.Err()
			}
			continue
		}
		if !sleepCtx(ctx, e.cfg.AfterSyncIteration) {
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (e *MongoEngine) iterate(ctx context.Context) (hadChanges bool, failedPhase string, err error) {
	result, err := e.source.PeekChanges(ctx, e.sourceDatabase, int64(e.cfg.PeekChangesLimit), e.cfg.PeekTimeoutMillis)
	if err != nil {
		return false, "peek", err
	}
	if len(result.Changes) == 0 {
		return false, "", nil
	}

	plan := newBatchPlan()

	bySource := make(map[string]*cdc.TableBinding)
	for _, b := range e.bindings.All() {
		bySource[b.SourceName] = b
	}

	for _, change := range result.Changes {
		binding, ok := bySource[change.Collection]
		if !ok {
			continue
		}

		switch change.OperationType {
		case "insert", "update", "replace":
			if err := e.ensureColumns(ctx, binding, change.FullDocument); err != nil {
				return true, "write", err
			}
			values := make(map[string]cdc.Cell, len(change.FullDocument))
			for name, v := range change.FullDocument {
				values[name] = cdc.NativeCell(v)
			}
			plan.insertsUpdates[binding.DestTable] = append(plan.insertsUpdates[binding.DestTable], chtype.InsertRow{Values: values})
		case "delete":
			keys := make(map[string]cdc.Cell, len(change.DocumentKey))
			for name, v := range change.DocumentKey {
				keys[name] = cdc.NativeCell(v)
			}
			plan.deletes[binding.DestTable] = append(plan.deletes[binding.DestTable], chtype.DeleteRow{Keys: keys})
		case "drop":
			plan.truncates[binding.DestTable] = true
		}
	}

	if !plan.empty() {
		if err := write(ctx, e.sink, e.database, plan, e.bindings, e.cfg.AfterSyncWrite); err != nil {
			return true, "write", err
		}
	}

	if err := e.source.StoreResumeToken(result.ResumeToken); err != nil {
		return true, "write", err
	}
	if e.OnAdvanced != nil {
		e.OnAdvanced()
	}
	return true, "", nil
}

// ensureColumns adds any field of doc not yet seen on binding's destination
// table, caching the confirmed set so later documents with the same shape
// skip the catalog round trip.
func (e *MongoEngine) ensureColumns(ctx context.Context, binding *cdc.TableBinding, doc bson.M) error {
	known, ok := e.knownColumns[binding.DestTable]
	if !ok {
		known = make(map[string]bool, len(binding.SinkColumns))
		for _, c := range binding.SinkColumns {
			known[c.Name] = true
		}
		e.knownColumns[binding.DestTable] = known
	}
	for name := range doc {
		if !known[name] {
			return e.reconciler.ReconcileMongo(ctx, e.database, binding, []bson.M{doc}, known)
		}
	}
	return nil
}
