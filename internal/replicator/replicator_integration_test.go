package replicator

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hpoveda/chreplica/internal/testutil"
)

const (
	testSourceDB = "chreplica_test"
	testTargetDB = "chreplica_test"
)

// TestRun_IdentityRoundTrip covers the identity fresh-load and the idempotent
// re-run: the first run inserts everything, the second inserts nothing.
func TestRun_IdentityRoundTrip(t *testing.T) {
	src := testutil.MustConnectSource(t, testSourceDB)
	tgt := testutil.MustConnectTarget(t, testTargetDB)

	const table = "OrdersRT"
	const rows = 250

	testutil.CreateIdentityTable(t, src, table, rows)
	defer testutil.DropSourceTable(t, src, table)
	testutil.DropTargetTable(t, tgt, testTargetDB, table)

	cfg := testutil.TestConfig(testSourceDB, testTargetDB)
	cfg.Replication.Tables = []string{table}
	cfg.Replication.ChunkSize = 100
	// Lookback re-scans recently ingested ids as updates; disable it so the
	// second run is a pure watermark check.
	cfg.Replication.LookbackDays = 0

	first, err := New(cfg, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.TablesOK != 1 || first.TablesFailed != 0 {
		t.Fatalf("first run: %+v", first)
	}
	if first.RowsTotal != rows {
		t.Errorf("first run inserted %d rows, want %d", first.RowsTotal, rows)
	}
	if got := testutil.TargetRowCount(t, tgt, testTargetDB, table); got != rows {
		t.Errorf("target holds %d rows, want %d", got, rows)
	}

	second, err := New(cfg, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second.RowsTotal != 0 {
		t.Errorf("second run inserted %d rows, want 0", second.RowsTotal)
	}
	if got := testutil.TargetRowCount(t, tgt, testTargetDB, table); got != rows {
		t.Errorf("target holds %d rows after re-run, want %d", got, rows)
	}
}

// TestRun_HashUpdate covers the hash update law: changing one non-key column
// of one row yields exactly one updated row, and reading with FINAL still
// returns the original row count.
func TestRun_HashUpdate(t *testing.T) {
	src := testutil.MustConnectSource(t, testSourceDB)
	tgt := testutil.MustConnectTarget(t, testTargetDB)

	const table = "ClientsHU"
	const rows = 10

	testutil.CreateKeyedTable(t, src, table, rows)
	defer testutil.DropSourceTable(t, src, table)
	testutil.DropTargetTable(t, tgt, testTargetDB, table)

	cfg := testutil.TestConfig(testSourceDB, testTargetDB)
	cfg.Replication.Tables = []string{table}

	first, err := New(cfg, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.RowsTotal != rows {
		t.Fatalf("first run wrote %d rows, want %d", first.RowsTotal, rows)
	}

	if _, err := src.Exec(
		"UPDATE dbo.[" + table + "] SET Status = 'suspended' WHERE ClientCode = 'C-0003'"); err != nil {
		t.Fatal(err)
	}

	second, err := New(cfg, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	res := second.Results[0]
	if res.Updated != 1 {
		t.Errorf("updated = %d, want 1", res.Updated)
	}
	if res.Inserted != 0 {
		t.Errorf("inserted = %d, want 0", res.Inserted)
	}
	if res.Duplicates != rows-1 {
		t.Errorf("duplicates = %d, want %d", res.Duplicates, rows-1)
	}

	if got := testutil.TargetRowCount(t, tgt, testTargetDB, table); got != rows {
		t.Errorf("target holds %d rows with FINAL, want %d", got, rows)
	}
}

// TestRun_EmptyTable covers the boundary: an empty source table completes and
// creates the target table with zero rows.
func TestRun_EmptyTable(t *testing.T) {
	src := testutil.MustConnectSource(t, testSourceDB)
	tgt := testutil.MustConnectTarget(t, testTargetDB)

	const table = "EmptyB"
	testutil.CreateIdentityTable(t, src, table, 0)
	defer testutil.DropSourceTable(t, src, table)
	testutil.DropTargetTable(t, tgt, testTargetDB, table)

	cfg := testutil.TestConfig(testSourceDB, testTargetDB)
	cfg.Replication.Tables = []string{table}

	sum, err := New(cfg, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.TablesOK != 1 || sum.RowsTotal != 0 {
		t.Fatalf("summary: %+v", sum)
	}
	if got := testutil.TargetRowCount(t, tgt, testTargetDB, table); got != 0 {
		t.Errorf("target holds %d rows, want 0", got)
	}
}

// TestRun_MaxRowsCap covers the scan cap: max_rows smaller than one chunk
// yields a single trimmed chunk.
func TestRun_MaxRowsCap(t *testing.T) {
	src := testutil.MustConnectSource(t, testSourceDB)
	tgt := testutil.MustConnectTarget(t, testTargetDB)

	const table = "OrdersCap"
	testutil.CreateIdentityTable(t, src, table, 50)
	defer testutil.DropSourceTable(t, src, table)
	testutil.DropTargetTable(t, tgt, testTargetDB, table)

	cfg := testutil.TestConfig(testSourceDB, testTargetDB)
	cfg.Replication.Tables = []string{table}
	cfg.Replication.MaxRowsPerTable = 7

	sum, err := New(cfg, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.RowsTotal != 7 {
		t.Errorf("RowsTotal = %d, want 7", sum.RowsTotal)
	}
}
