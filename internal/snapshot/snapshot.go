// Package snapshot performs the first-pass bulk copy of every bound table
// into its ClickHouse destination before the steady-state engine takes
// over, using a worker pool to copy independent tables concurrently.
package snapshot

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clockpipe/clockpipe/internal/cdc"
	"github.com/clockpipe/clockpipe/internal/chsink"
	"github.com/clockpipe/clockpipe/internal/chtype"
)

// RowProducer streams every row of binding from its source, invoking onRow
// once per row with the row's named cells. Postgres (via COPY TO STDOUT)
// and Mongo (via a collection Find cursor) each supply a different
// RowProducer to the same Copier.
type RowProducer func(ctx context.Context, binding *cdc.TableBinding, onRow func([]cdc.NamedCell) error) error

// CopyResult holds the outcome of copying a single table.
type CopyResult struct {
	Table      string
	RowsCopied int64
	Skipped    bool
	Err        error
}

// ProgressFunc reports COPY progress for a table. event is "start",
// "progress", or "done".
type ProgressFunc func(table string, event string, rowsCopied int64)

// Copier performs the parallel first-pass copy of every bound table.
type Copier struct {
	produce   RowProducer
	sink      *chsink.Adapter
	database  string
	workers   int
	chunkSize int
	logger    zerolog.Logger
	progress  ProgressFunc
}

// NewCopier creates a Copier. chunkSize is the number of rows batched into
// a single ClickHouse INSERT.
func NewCopier(produce RowProducer, sink *chsink.Adapter, database string, workers, chunkSize int, logger zerolog.Logger) *Copier {
	return &Copier{
		produce:   produce,
		sink:      sink,
		database:  database,
		workers:   workers,
		chunkSize: chunkSize,
		logger:    logger.With().Str("component", "snapshot").Logger(),
	}
}

// SetProgressFunc sets a callback for COPY progress reporting.
func (c *Copier) SetProgressFunc(fn ProgressFunc) {
	c.progress = fn
}

// CopyAll copies every binding not marked SkipCopy and not already holding
// data on the destination, fanning work out across the worker pool.
func (c *Copier) CopyAll(ctx context.Context, bindings []*cdc.TableBinding) []CopyResult {
	work := make(chan *cdc.TableBinding, len(bindings))
	for _, b := range bindings {
		work <- b
	}
	close(work)

	var (
		mu      sync.Mutex
		results []CopyResult
		wg      sync.WaitGroup
	)

	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for b := range work {
				result := c.copyTable(ctx, b, workerID)
				mu.Lock()
				results = append(results, result)
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	return results
}

func (c *Copier) reportProgress(table, event string, rowsCopied int64) {
	if c.progress != nil {
		c.progress(table, event, rowsCopied)
	}
}

func (c *Copier) copyTable(ctx context.Context, binding *cdc.TableBinding, workerID int) CopyResult {
	log := c.logger.With().Str("table", binding.DestTable).Int("worker", workerID).Logger()

	if binding.SkipCopy {
		log.Info().Msg("skipping copy (skip_copy configured)")
		return CopyResult{Table: binding.DestTable, Skipped: true}
	}

	nonEmpty, err := c.sink.TableIsNotEmpty(ctx, c.database, binding.DestTable)
	if err != nil {
		return CopyResult{Table: binding.DestTable, Err: fmt.Errorf("check destination emptiness: %w", err)}
	}
	if nonEmpty {
		log.Info().Msg("skipping copy (destination already has rows)")
		return CopyResult{Table: binding.DestTable, Skipped: true}
	}

	log.Info().Msg("starting copy")
	c.reportProgress(binding.DestTable, "start", 0)

	var totalCopied int64
	batch := make([]chtype.InsertRow, 0, c.chunkSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		query := chtype.Insert(c.database, binding.DestTable, binding.SinkColumns, binding.MaskColumns, batch)
		if query == "" {
			return nil
		}
		if err := c.sink.ExecuteQuery(ctx, query); err != nil {
			return fmt.Errorf("insert batch into %s: %w", binding.DestTable, err)
		}
		totalCopied += int64(len(batch))
		batch = batch[:0]
		c.reportProgress(binding.DestTable, "progress", totalCopied)
		return nil
	}

	err = c.produce(ctx, binding, func(cells []cdc.NamedCell) error {
		values := make(map[string]cdc.Cell, len(cells))
		for _, nc := range cells {
			values[nc.Name] = nc.Cell
		}
		batch = append(batch, chtype.InsertRow{Values: values})
		if len(batch) >= c.chunkSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return CopyResult{Table: binding.DestTable, Err: fmt.Errorf("copy %s: %w", binding.DestTable, err)}
	}
	if err := flush(); err != nil {
		return CopyResult{Table: binding.DestTable, Err: err}
	}

	log.Info().Int64("rows", totalCopied).Msg("copy complete")
	c.reportProgress(binding.DestTable, "done", totalCopied)
	return CopyResult{Table: binding.DestTable, RowsCopied: totalCopied}
}
