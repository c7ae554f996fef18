// Package pipeline orchestrates one clockpipe run end to end: ping both
// endpoints, initialize the destination schema and source replication
// hooks, bulk-copy every table not already populated, then hand off to the
// steady-state engine.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/clockpipe/clockpipe/internal/cdc"
	"github.com/clockpipe/clockpipe/internal/chsink"
	"github.com/clockpipe/clockpipe/internal/chtype"
	"github.com/clockpipe/clockpipe/internal/config"
	"github.com/clockpipe/clockpipe/internal/metrics"
	"github.com/clockpipe/clockpipe/internal/mongosource"
	"github.com/clockpipe/clockpipe/internal/pgsource"
	"github.com/clockpipe/clockpipe/internal/pipeerr"
	"github.com/clockpipe/clockpipe/internal/replay"
	"github.com/clockpipe/clockpipe/internal/schema"
	"github.com/clockpipe/clockpipe/internal/snapshot"
)

// Progress reports the current state of the pipe.
type Progress struct {
	Phase        string
	AppliedLSN   pglogrepl.LSN
	TablesTotal  int
	TablesCopied int
	StartedAt    time.Time
}

// Pipe orchestrates one clockpipe run: ping → initialize → first_sync →
// sync_loop, wiring whichever source adapter cfg.SourceType selects against
// the ClickHouse sink.
type Pipe struct {
	cfg    *config.Config
	logger zerolog.Logger

	pgSource    *pgsource.Adapter
	mongoSource *mongosource.Adapter
	sink        *chsink.Adapter

	bindings   *replay.Bindings
	reconciler *schema.Reconciler
	copier     *snapshot.Copier

	Metrics   *metrics.Collector
	persister *metrics.StatePersister

	mu       sync.Mutex
	progress Progress

	cancel context.CancelFunc
}

// New creates a Pipe from cfg.
func New(cfg *config.Config, logger zerolog.Logger) *Pipe {
	return &Pipe{
		cfg:      cfg,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		progress: Progress{Phase: "idle"},
		Metrics:  metrics.NewCollector(logger),
		bindings: replay.NewBindings(),
	}
}

// SetLogger replaces the pipe's logger. Use this to redirect log output
// into the TUI's metrics collector instead of stderr.
func (p *Pipe) SetLogger(logger zerolog.Logger) {
	p.logger = logger.With().Str("component", "pipeline").Logger()
}

// Config returns the pipe's configuration, for API exposure.
func (p *Pipe) Config() *config.Config {
	return p.cfg
}

func (p *Pipe) startPersister() {
	persister, err := metrics.NewStatePersister(p.Metrics, p.logger)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to create state persister, status file disabled")
		return
	}
	p.persister = persister
	p.persister.Start()
}

// connect dials the configured source and the ClickHouse sink, pinging
// each in turn. A failed ping aborts the run.
func (p *Pipe) connect(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch p.cfg.SourceType {
	case config.SourcePostgres:
		src, err := pgsource.Connect(connectCtx, p.cfg.Postgres.DSN, p.logger)
		if err != nil {
			return fmt.Errorf("connect to postgres source: %w", err)
		}
		if err := src.Ping(connectCtx); err != nil {
			return fmt.Errorf("ping postgres source: %w", err)
		}
		p.pgSource = src
	case config.SourceMongoDB:
		src, err := mongosource.Connect(connectCtx, p.cfg.Mongo.URI, p.cfg.ResumeTokenPath, int32(p.cfg.CopyBatchSize), p.logger)
		if err != nil {
			return fmt.Errorf("connect to mongodb source: %w", err)
		}
		if err := src.Ping(connectCtx); err != nil {
			return fmt.Errorf("ping mongodb source: %w", err)
		}
		p.mongoSource = src
	default:
		return fmt.Errorf("unknown source_type %q", p.cfg.SourceType)
	}

	sink, err := chsink.Connect(connectCtx, chsink.Options{
		Addr:     p.cfg.Sink.Addr,
		Database: p.cfg.Sink.Database,
		Username: p.cfg.Sink.Username,
		Password: p.cfg.Sink.Password,
	}, p.logger)
	if err != nil {
		return fmt.Errorf("connect to clickhouse sink: %w", err)
	}
	if err := sink.Ping(connectCtx); err != nil {
		return fmt.Errorf("ping clickhouse sink: %w", err)
	}
	p.sink = sink

	p.logger.Info().Msg("source and destination connections are healthy")
	return nil
}

// Run executes the full ping → initialize → first_sync → sync_loop
// lifecycle. sync_loop runs until ctx is cancelled.
func (p *Pipe) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.setPhase("starting")

	if err := p.connect(runCtx); err != nil {
		return err
	}

	p.reconciler = schema.NewReconciler(p.sink, chtype.TableOptions{
		IndexGranularity:          p.cfg.IndexGranularity,
		MinAgeToForceMergeSeconds: p.cfg.MinAgeToForceMergeSeconds,
		StoragePolicy:             p.cfg.StoragePolicy,
	}, p.logger)

	p.startPersister()

	if err := p.initialize(runCtx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	p.setPhase("copying")
	if err := p.firstSync(runCtx); err != nil {
		return fmt.Errorf("first sync: %w", err)
	}

	p.setPhase("streaming")
	return p.syncLoop(runCtx)
}

// initialize wires the destination schema and, for Postgres, the source
// publication and replication slot for every configured table.
func (p *Pipe) initialize(ctx context.Context) error {
	switch p.cfg.SourceType {
	case config.SourcePostgres:
		return p.initializePostgres(ctx)
	case config.SourceMongoDB:
		return p.initializeMongo(ctx)
	default:
		return fmt.Errorf("unknown source_type %q", p.cfg.SourceType)
	}
}

func (p *Pipe) initializePostgres(ctx context.Context) error {
	qualifiedTables := make([]string, len(p.cfg.Tables))
	for i, t := range p.cfg.Tables {
		qualifiedTables[i] = t.Schema + "." + t.Name
	}

	exists, err := p.pgSource.FindPublication(ctx, p.cfg.PublicationName)
	if err != nil {
		return err
	}
	if !exists {
		p.logger.Info().Str("publication", p.cfg.PublicationName).Msg("creating publication")
		if err := p.pgSource.CreatePublication(ctx, p.cfg.PublicationName, qualifiedTables); err != nil {
			return err
		}
	} else {
		already, err := p.pgSource.PublicationTables(ctx, p.cfg.PublicationName)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(already))
		for _, t := range already {
			known[t] = true
		}
		var missing []string
		for _, t := range qualifiedTables {
			if !known[t] {
				missing = append(missing, t)
			}
		}
		if len(missing) > 0 {
			p.logger.Info().Strs("tables", missing).Msg("adding tables to publication")
			if err := p.pgSource.AddTableToPublication(ctx, p.cfg.PublicationName, missing); err != nil {
				return err
			}
		}
	}

	slotExists, err := p.pgSource.FindReplicationSlot(ctx, p.cfg.ReplicationSlotName)
	if err != nil {
		return err
	}
	if !slotExists {
		p.logger.Info().Str("slot", p.cfg.ReplicationSlotName).Msg("creating replication slot")
		if err := p.pgSource.CreateReplicationSlot(ctx, p.cfg.ReplicationSlotName); err != nil {
			return err
		}
	}

	tableNames := make([]string, 0, len(p.cfg.Tables))
	for _, t := range p.cfg.Tables {
		cols, err := p.pgSource.ColumnsByTable(ctx, t.Schema, t.Name)
		if err != nil {
			return fmt.Errorf("list columns for %s.%s: %w", t.Schema, t.Name, err)
		}
		for _, c := range cols {
			if chtype.IsUnsupportedPostgresType(c.NativeType) {
				p.logger.Warn().Str("table", t.Name).Str("column", c.Name).Str("type", c.NativeType).
					Msg("unsupported native type, mapping to String")
			}
		}

		relationID, err := p.pgSource.RelationID(ctx, t.Schema, t.Name)
		if err != nil {
			return fmt.Errorf("resolve relation id for %s.%s: %w", t.Schema, t.Name, err)
		}

		binding := &cdc.TableBinding{
			SourceSchema:  t.Schema,
			SourceName:    t.Name,
			DestTable:     t.DestTable,
			SkipCopy:      t.SkipCopy,
			MaskColumns:   t.MaskColumns,
			SourceColumns: cols,
			RelationID:    relationID,
		}

		if err := p.reconciler.Reconcile(ctx, p.cfg.Sink.Database, binding); err != nil {
			return fmt.Errorf("reconcile schema for %s: %w", t.DestTable, err)
		}

		p.bindings.Put(binding)
		tableNames = append(tableNames, binding.DestTable)
	}

	p.Metrics.SetTables(tableNames)
	p.mu.Lock()
	p.progress.TablesTotal = len(tableNames)
	p.mu.Unlock()
	return nil
}

// initializeMongo creates each destination table with only an _id column —
// a collection carries no catalog to read a fixed schema from ahead of
// time; the remaining columns are discovered from documents as they are
// copied and streamed (see schema.Reconciler.ReconcileMongo).
func (p *Pipe) initializeMongo(ctx context.Context) error {
	tableNames := make([]string, 0, len(p.cfg.Tables))
	for _, t := range p.cfg.Tables {
		binding := &cdc.TableBinding{
			SourceName:  t.Name,
			DestTable:   t.DestTable,
			SkipCopy:    t.SkipCopy,
			MaskColumns: t.MaskColumns,
			SourceColumns: []cdc.SourceColumn{
				{Ordinal: 0, Name: "_id", NativeType: "_id", PrimaryKey: true},
			},
		}

		known := make(map[string]bool)
		if err := p.reconciler.ReconcileMongo(ctx, p.cfg.Sink.Database, binding, nil, known); err != nil {
			return fmt.Errorf("reconcile schema for %s: %w", t.DestTable, err)
		}

		p.bindings.Put(binding)
		tableNames = append(tableNames, binding.DestTable)
	}

	p.Metrics.SetTables(tableNames)
	p.mu.Lock()
	p.progress.TablesTotal = len(tableNames)
	p.mu.Unlock()
	return nil
}

// firstSync bulk-copies every bound table not already holding data on the
// destination, using a source-appropriate RowProducer.
func (p *Pipe) firstSync(ctx context.Context) error {
	var produce snapshot.RowProducer
	switch p.cfg.SourceType {
	case config.SourcePostgres:
		produce = p.postgresRowProducer()
	case config.SourceMongoDB:
		produce = p.mongoRowProducer()
	default:
		return fmt.Errorf("unknown source_type %q", p.cfg.SourceType)
	}

	const copyChunkRows = 100000 // rows per bulk-copy INSERT
	p.copier = snapshot.NewCopier(produce, p.sink, p.cfg.Sink.Database, p.cfg.CopyWorkers, copyChunkRows, p.logger)
	p.copier.SetProgressFunc(func(table, event string, rowsCopied int64) {
		switch event {
		case "start":
			p.Metrics.TableCopyStarted(table)
		case "progress":
			p.Metrics.TableCopyProgress(table, rowsCopied)
		case "done":
			p.Metrics.TableCopyDone(table, rowsCopied)
			p.mu.Lock()
			p.progress.TablesCopied++
			p.mu.Unlock()
		}
	})

	results := p.copier.CopyAll(ctx, p.bindings.All())
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("copy %s: %w", r.Table, r.Err)
		}
		if r.Skipped {
			p.logger.Info().Str("table", r.Table).Msg("copy skipped")
			continue
		}
		p.logger.Info().Str("table", r.Table).Int64("rows", r.RowsCopied).Msg("copy complete")
	}

	for _, b := range p.bindings.All() {
		p.Metrics.TableStreaming(b.DestTable)
	}
	return nil
}

func (p *Pipe) postgresRowProducer() snapshot.RowProducer {
	return func(ctx context.Context, binding *cdc.TableBinding, onRow func([]cdc.NamedCell) error) error {
		return p.pgSource.CopyTableToStdout(ctx, binding.SourceSchema, binding.SourceName, func(row pgsource.Row) error {
			cells := make([]cdc.NamedCell, 0, len(row.Cells))
			for i, cell := range row.Cells {
				if i >= len(binding.SourceColumns) {
					break
				}
				cells = append(cells, cdc.NamedCell{Name: binding.SourceColumns[i].Name, Cell: cell})
			}
			return onRow(cells)
		})
	}
}

// mongoRowProducer converts every copied document directly into named
// cells (a collection has no ordinal column list to zip against) and
// evolves the destination's columns as previously unseen fields appear.
func (p *Pipe) mongoRowProducer() snapshot.RowProducer {
	var mu sync.Mutex
	known := make(map[string]map[string]bool)
	return func(ctx context.Context, binding *cdc.TableBinding, onRow func([]cdc.NamedCell) error) error {
		mu.Lock()
		tableKnown, ok := known[binding.DestTable]
		if !ok {
			tableKnown = make(map[string]bool, len(binding.SinkColumns))
			for _, c := range binding.SinkColumns {
				tableKnown[c.Name] = true
			}
			known[binding.DestTable] = tableKnown
		}
		mu.Unlock()

		// tableKnown is only ever touched for this one binding/collection,
		// so concurrent copies of different tables never contend on it.
		return p.mongoSource.CopyCollection(ctx, p.cfg.Mongo.Database, binding.SourceName, func(doc bson.M) error {
			for name := range doc {
				if !tableKnown[name] {
					if err := p.reconciler.ReconcileMongo(ctx, p.cfg.Sink.Database, binding, []bson.M{doc}, tableKnown); err != nil {
						return err
					}
					break
				}
			}

			cells := make([]cdc.NamedCell, 0, len(doc))
			for name, v := range doc {
				cells = append(cells, cdc.NamedCell{Name: name, Cell: cdc.NativeCell(v)})
			}
			return onRow(cells)
		})
	}
}

// syncLoop builds and runs the steady-state engine appropriate to the
// configured source. It runs until ctx is cancelled.
func (p *Pipe) syncLoop(ctx context.Context) error {
	sleepCfg := replay.SleepConfig{
		PeekChangesLimit:   p.cfg.PeekChangesLimit,
		PeekTimeoutMillis:  p.cfg.PeekTimeoutMillis,
		WhenPeekFailed:     time.Duration(p.cfg.SleepMillisWhenPeekFailed) * time.Millisecond,
		WhenPeekEmpty:      time.Duration(p.cfg.SleepMillisWhenPeekIsEmpty) * time.Millisecond,
		WhenWriteFailed:    time.Duration(p.cfg.SleepMillisWhenWriteFailed) * time.Millisecond,
		AfterSyncIteration: time.Duration(p.cfg.SleepMillisAfterSyncIteration) * time.Millisecond,
		AfterSyncWrite:     time.Duration(p.cfg.SleepMillisAfterSyncWrite) * time.Millisecond,
	}

	switch p.cfg.SourceType {
	case config.SourcePostgres:
		engine := replay.NewPostgresEngine(p.pgSource, p.sink, p.bindings, p.cfg.Sink.Database,
			p.cfg.ReplicationSlotName, p.cfg.PublicationName, sleepCfg, p.logger)
		engine.OnAdvanced = func(lsn pglogrepl.LSN) {
			p.Metrics.RecordAdvanced(lsn)
			p.mu.Lock()
			p.progress.AppliedLSN = lsn
			p.mu.Unlock()
		}
		return engine.Run(ctx)
	case config.SourceMongoDB:
		engine := replay.NewMongoEngine(p.mongoSource, p.sink, p.bindings, p.reconciler,
			p.cfg.Sink.Database, p.cfg.Mongo.Database, sleepCfg, p.logger)
		return engine.Run(ctx)
	default:
		return pipeerr.Wrapf(pipeerr.ConfigRead, "unknown source_type %q", p.cfg.SourceType)
	}
}

// Status returns a snapshot of the current pipe progress.
func (p *Pipe) Status() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Close shuts down every pipe component and connection.
func (p *Pipe) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.Metrics != nil {
		p.Metrics.Close()
	}
	if p.persister != nil {
		p.persister.Stop()
	}
	if p.pgSource != nil {
		p.pgSource.Close()
	}
	if p.mongoSource != nil {
		p.mongoSource.Close(context.Background())
	}
	if p.sink != nil {
		p.sink.Close()
	}
}

func (p *Pipe) setPhase(phase string) {
	p.mu.Lock()
	p.progress.Phase = phase
	if p.progress.StartedAt.IsZero() {
		p.progress.StartedAt = time.Now()
	}
	p.mu.Unlock()
	p.logger.Info().Str("phase", phase).Msg("phase transition")
	p.Metrics.SetPhase(phase)
}
