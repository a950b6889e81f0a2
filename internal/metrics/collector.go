// Package metrics aggregates per-table and per-run replication progress.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// TableStatus represents the current state of a table in the run.
type TableStatus string

const (
	TablePlanned   TableStatus = "planned"
	TablePreparing TableStatus = "preparing"
	TableScanning  TableStatus = "scanning"
	TableCompleted TableStatus = "completed"
	TableFailed    TableStatus = "failed"
)

// TableProgress tracks one table's replication counters.
type TableProgress struct {
	Schema     string      `json:"schema"`
	Name       string      `json:"name"`
	Status     TableStatus `json:"status"`
	Strategy   string      `json:"strategy,omitempty"`
	Columns    int         `json:"columns"`
	RowsRead   int64       `json:"rows_read"`
	Inserted   int64       `json:"inserted"`
	Updated    int64       `json:"updated"`
	Duplicates int64       `json:"duplicates"`
	Chunks     int         `json:"chunks"`
	ElapsedSec float64     `json:"elapsed_sec"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"-"`
}

// Snapshot is the complete metrics state at a point in time.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	Phase      string    `json:"phase"`
	ElapsedSec float64   `json:"elapsed_sec"`

	TablesTotal  int             `json:"tables_total"`
	TablesOK     int             `json:"tables_ok"`
	TablesFailed int             `json:"tables_failed"`
	Tables       []TableProgress `json:"tables"`

	RowsPerSec float64 `json:"rows_per_sec"`
	TotalRows  int64   `json:"total_rows"`

	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
}

// Collector aggregates run metrics. All methods are safe for concurrent use.
type Collector struct {
	logger zerolog.Logger
	runID  string

	mu         sync.RWMutex
	phase      string
	startedAt  time.Time
	tables     map[string]*TableProgress // key: schema.name
	tableOrder []string                  // insertion-order keys

	totalRows  atomic.Int64
	errorCount atomic.Int64
	lastError  atomic.Value // string

	rowWindow *slidingWindow
}

// NewCollector creates a Collector for one run.
func NewCollector(runID string, logger zerolog.Logger) *Collector {
	return &Collector{
		logger:    logger.With().Str("component", "metrics").Logger(),
		runID:     runID,
		tables:    make(map[string]*TableProgress),
		rowWindow: newSlidingWindow(60 * time.Second),
	}
}

// SetPhase updates the current run phase.
func (c *Collector) SetPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
}

// SetTables initializes the table tracking list.
func (c *Collector) SetTables(tables []TableProgress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = make(map[string]*TableProgress, len(tables))
	c.tableOrder = make([]string, 0, len(tables))
	for i := range tables {
		key := tables[i].Schema + "." + tables[i].Name
		tp := tables[i]
		if tp.Status == "" {
			tp.Status = TablePlanned
		}
		c.tables[key] = &tp
		c.tableOrder = append(c.tableOrder, key)
	}
}

// TablePreparing marks a table as being prepared (strategy and DDL).
func (c *Collector) TablePreparing(schema, name, strategy string, columns int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tp, ok := c.tables[schema+"."+name]; ok {
		tp.Status = TablePreparing
		tp.Strategy = strategy
		tp.Columns = columns
		tp.StartedAt = time.Now()
	}
}

// TableScanning marks a table as actively streaming chunks.
func (c *Collector) TableScanning(schema, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tp, ok := c.tables[schema+"."+name]; ok {
		tp.Status = TableScanning
		if tp.StartedAt.IsZero() {
			tp.StartedAt = time.Now()
		}
	}
}

// RecordChunk adds one chunk's classification counters to a table.
func (c *Collector) RecordChunk(schema, name string, read, inserted, updated, duplicates int64) {
	c.mu.Lock()
	if tp, ok := c.tables[schema+"."+name]; ok {
		tp.RowsRead += read
		tp.Inserted += inserted
		tp.Updated += updated
		tp.Duplicates += duplicates
		tp.Chunks++
		if !tp.StartedAt.IsZero() {
			tp.ElapsedSec = time.Since(tp.StartedAt).Seconds()
		}
	}
	c.mu.Unlock()

	written := inserted + updated
	c.totalRows.Add(written)
	c.rowWindow.Add(time.Now(), float64(written))
}

// TableCompleted marks a table as done.
func (c *Collector) TableCompleted(schema, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tp, ok := c.tables[schema+"."+name]; ok {
		tp.Status = TableCompleted
		if !tp.StartedAt.IsZero() {
			tp.ElapsedSec = time.Since(tp.StartedAt).Seconds()
		}
	}
}

// TableFailed marks a table as failed and records the error.
func (c *Collector) TableFailed(schema, name string, err error) {
	c.mu.Lock()
	if tp, ok := c.tables[schema+"."+name]; ok {
		tp.Status = TableFailed
		if err != nil {
			tp.Error = err.Error()
		}
		if !tp.StartedAt.IsZero() {
			tp.ElapsedSec = time.Since(tp.StartedAt).Seconds()
		}
	}
	c.mu.Unlock()
	c.RecordError(err)
}

// RecordError increments the error count and stores the last error message.
func (c *Collector) RecordError(err error) {
	c.errorCount.Add(1)
	if err != nil {
		c.lastError.Store(err.Error())
	}
}

// Snapshot returns the current metrics state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	var elapsed float64
	if !c.startedAt.IsZero() {
		elapsed = now.Sub(c.startedAt).Seconds()
	}

	tables := make([]TableProgress, 0, len(c.tableOrder))
	ok, failed := 0, 0
	for _, key := range c.tableOrder {
		tp := *c.tables[key]
		tables = append(tables, tp)
		switch tp.Status {
		case TableCompleted:
			ok++
		case TableFailed:
			failed++
		}
	}

	var lastErr string
	if v := c.lastError.Load(); v != nil {
		lastErr = v.(string)
	}

	return Snapshot{
		Timestamp:    now,
		RunID:        c.runID,
		Phase:        c.phase,
		ElapsedSec:   elapsed,
		TablesTotal:  len(c.tableOrder),
		TablesOK:     ok,
		TablesFailed: failed,
		Tables:       tables,
		RowsPerSec:   c.rowWindow.Rate(),
		TotalRows:    c.totalRows.Load(),
		ErrorCount:   int(c.errorCount.Load()),
		LastError:    lastErr,
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
		w.entries = w.entries[i:]
	}
}
