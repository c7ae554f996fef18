package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/rs/zerolog"

	"github.com/clockpipe/clockpipe/pkg/lsn"
)

// TableStatus represents the current state of a bound table.
type TableStatus string

const (
	TablePending   TableStatus = "pending"
	TableCopying   TableStatus = "copying"
	TableCopied    TableStatus = "copied"
	TableStreaming TableStatus = "streaming"
)

// TableCounters tracks per-table bulk-copy and steady-state counters.
type TableCounters struct {
	Table        string      `json:"table"`
	Status       TableStatus `json:"status"`
	RowsCopied   int64       `json:"rows_copied"`
	RowsInserted int64       `json:"rows_inserted"`
	RowsDeleted  int64       `json:"rows_deleted"`
	Truncations  int64       `json:"truncations"`
	ElapsedSec   float64     `json:"elapsed_sec"`
	StartedAt    time.Time   `json:"-"`
}

// Snapshot is the complete metrics state at a point in time.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Phase      string    `json:"phase"`
	ElapsedSec float64   `json:"elapsed_sec"`

	// Postgres cursor tracking (zero-valued, unreported, for Mongo runs).
	AppliedLSN   string `json:"applied_lsn,omitempty"`
	LagBytes     uint64 `json:"lag_bytes,omitempty"`
	LagFormatted string `json:"lag_formatted,omitempty"`

	Tables []TableCounters `json:"tables"`

	RowsPerSec float64 `json:"rows_per_sec"`
	TotalRows  int64   `json:"total_rows"`

	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
}

// LogEntry represents a log line captured for the UI.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Collector aggregates pipe metrics and provides snapshots for consumption
// by the HTTP API and TUI. Reads/mutations race with the driver loop and
// the schema reconciler's add-column path, so every field is guarded.
type Collector struct {
	logger zerolog.Logger

	mu         sync.RWMutex
	phase      string
	startedAt  time.Time
	tables     map[string]*TableCounters // key: destination table name
	tableOrder []string                  // insertion-order keys

	appliedLSN pglogrepl.LSN
	latestLSN  pglogrepl.LSN // never set; stays zero, so reported lag is zero

	totalRows atomic.Int64

	errorCount atomic.Int64
	lastError  atomic.Value // string

	rowWindow *slidingWindow

	subMu       sync.Mutex
	subscribers map[chan Snapshot]struct{}

	logMu  sync.Mutex
	logs   []LogEntry
	logCap int

	done chan struct{}
}

// NewCollector creates a new Collector.
func NewCollector(logger zerolog.Logger) *Collector {
	c := &Collector{
		logger:      logger.With().Str("component", "metrics").Logger(),
		tables:      make(map[string]*TableCounters),
		subscribers: make(map[chan Snapshot]struct{}),
		rowWindow:   newSlidingWindow(60 * time.Second),
		logs:        make([]LogEntry, 0, 500),
		logCap:      500,
		done:        make(chan struct{}),
	}
	go c.broadcastLoop()
	return c
}

// SetPhase updates the current pipe phase (starting, copying, streaming).
func (c *Collector) SetPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
}

// SetTables initializes the table tracking list from the bound tables.
func (c *Collector) SetTables(tables []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = make(map[string]*TableCounters, len(tables))
	c.tableOrder = make([]string, 0, len(tables))
	for _, name := range tables {
		c.tables[name] = &TableCounters{Table: name, Status: TablePending}
		c.tableOrder = append(c.tableOrder, name)
	}
}

// TableCopyStarted marks a table as actively being bulk-copied.
func (c *Collector) TableCopyStarted(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tc, ok := c.tables[table]; ok {
		tc.Status = TableCopying
		tc.StartedAt = time.Now()
	}
}

// TableCopyProgress updates bulk-copy progress for a table.
func (c *Collector) TableCopyProgress(table string, rowsCopied int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tc, ok := c.tables[table]; ok {
		tc.RowsCopied = rowsCopied
		if !tc.StartedAt.IsZero() {
			tc.ElapsedSec = time.Since(tc.StartedAt).Seconds()
		}
	}
}

// TableCopyDone marks a table's bulk copy as complete.
func (c *Collector) TableCopyDone(table string, rowsCopied int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tc, ok := c.tables[table]; ok {
		tc.Status = TableCopied
		tc.RowsCopied = rowsCopied
		if !tc.StartedAt.IsZero() {
			tc.ElapsedSec = time.Since(tc.StartedAt).Seconds()
		}
	}
}

// TableStreaming marks a table as actively receiving steady-state writes.
func (c *Collector) TableStreaming(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tc, ok := c.tables[table]; ok {
		tc.Status = TableStreaming
	}
}

// RecordWrite records one iteration's batched write outcome for a table.
func (c *Collector) RecordWrite(table string, inserted, deleted int64, truncated bool) {
	c.mu.Lock()
	if tc, ok := c.tables[table]; ok {
		tc.RowsInserted += inserted
		tc.RowsDeleted += deleted
		if truncated {
			tc.Truncations++
		}
	}
	c.mu.Unlock()

	total := inserted + deleted
	c.totalRows.Add(total)
	c.rowWindow.Add(time.Now(), float64(total))
}

// RecordAdvanced records the Postgres LSN the engine just advanced past.
func (c *Collector) RecordAdvanced(lsn pglogrepl.LSN) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appliedLSN = lsn
}

// RecordError increments the error count and stores the last error message.
func (c *Collector) RecordError(err error) {
	c.errorCount.Add(1)
	if err != nil {
		c.lastError.Store(err.Error())
	}
}

// AddLog appends a log entry to the ring buffer.
func (c *Collector) AddLog(entry LogEntry) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if len(c.logs) >= c.logCap {
		n := c.logCap / 4
		copy(c.logs, c.logs[n:])
		c.logs = c.logs[:len(c.logs)-n]
	}
	c.logs = append(c.logs, entry)
}

// Logs returns a copy of recent log entries.
func (c *Collector) Logs() []LogEntry {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	out := make([]LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// Snapshot returns the current metrics state (thread-safe).
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	var elapsed float64
	if !c.startedAt.IsZero() {
		elapsed = now.Sub(c.startedAt).Seconds()
	}

	var appliedLSN, lagFormatted string
	var lagBytes uint64
	if c.appliedLSN != 0 || c.latestLSN != 0 {
		appliedLSN = c.appliedLSN.String()
		lagBytes = lsn.Lag(c.appliedLSN, c.latestLSN)
		lagFormatted = lsn.FormatLag(lagBytes, 0)
	}

	tables := make([]TableCounters, 0, len(c.tableOrder))
	for _, key := range c.tableOrder {
		tables = append(tables, *c.tables[key])
	}

	var lastErr string
	if v := c.lastError.Load(); v != nil {
		lastErr = v.(string)
	}

	return Snapshot{
		Timestamp:    now,
		Phase:        c.phase,
		ElapsedSec:   elapsed,
		AppliedLSN:   appliedLSN,
		LagBytes:     lagBytes,
		LagFormatted: lagFormatted,
		Tables:       tables,
		RowsPerSec:   c.rowWindow.Rate(),
		TotalRows:    c.totalRows.Load(),
		ErrorCount:   int(c.errorCount.Load()),
		LastError:    lastErr,
	}
}

// Subscribe returns a channel that receives periodic Snapshot updates.
func (c *Collector) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 4)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription channel.
func (c *Collector) Unsubscribe(ch chan Snapshot) {
	c.subMu.Lock()
	delete(c.subscribers, ch)
	c.subMu.Unlock()
}

// Close stops the broadcast loop.
func (c *Collector) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Collector) broadcastLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			snap := c.Snapshot()
			c.subMu.Lock()
			for ch := range c.subscribers {
				select {
				case ch <- snap:
				default:
				}
			}
			c.subMu.Unlock()
		}
	}
}

// --- Sliding window for throughput calculation ---

type windowEntry struct {
	time  time.Time
	value float64
}

type slidingWindow struct {
	mu      sync.Mutex
	entries []windowEntry
	window  time.Duration
}

func newSlidingWindow(d time.Duration) *slidingWindow {
	return &slidingWindow{
		entries: make([]windowEntry, 0, 128),
		window:  d,
	}
}

func (w *slidingWindow) Add(t time.Time, val float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, windowEntry{time: t, value: val})
	w.evict(t)
}

func (w *slidingWindow) Rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.evict(now)
	if len(w.entries) == 0 {
		return 0
	}
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	elapsed := now.Sub(w.entries[0].time).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return total / elapsed
}

func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].time.Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(w.entries, w.entries[i:])
		w.entries = w.entries[:len(w.entries)-i]
	}
}
