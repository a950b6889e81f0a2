package target

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpoveda/chreplica/internal/schema"
)

// Tracking column names injected into every replicated table.
const (
	IngestedAtColumn = "ingested_at"
	RowKeyColumn     = "row_key"
	RowHashColumn    = "row_hash"
)

// EngineSpec selects the storage engine and sort key of a new table.
type EngineSpec struct {
	// Replacing selects ReplacingMergeTree versioned by ingested_at;
	// otherwise plain MergeTree (dedup disabled).
	Replacing bool
	// OrderBy is the target column promoted to the sort key. Empty means
	// ordering by ingested_at (degenerate, dedup effectively disabled).
	OrderBy string
	// HashMode adds the row_key and row_hash tracking columns.
	HashMode bool
}

// CreateTable creates the table if it does not exist.
func (c *Conn) CreateTable(ctx context.Context, table string, mappings []schema.ColumnMapping, eng EngineSpec) error {
	ddl := buildCreateTable(c.fq(table), mappings, eng, c.cfg.Timezone)
	if err := c.ch.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	c.logger.Info().Str("table", table).Str("order_by", eng.OrderBy).
		Bool("replacing", eng.Replacing).Msg("target table ready")
	return nil
}

func buildCreateTable(fq string, mappings []schema.ColumnMapping, eng EngineSpec, tz string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", fq)
	for _, m := range mappings {
		typ := m.TargetType
		if m.Nullable {
			typ = "Nullable(" + typ + ")"
		}
		fmt.Fprintf(&b, "  %s %s,\n", quoteIdent(m.TargetName), typ)
	}
	if eng.HashMode {
		fmt.Fprintf(&b, "  %s String,\n", quoteIdent(RowKeyColumn))
		fmt.Fprintf(&b, "  %s String,\n", quoteIdent(RowHashColumn))
	}
	fmt.Fprintf(&b, "  %s %s DEFAULT now64(3)\n", quoteIdent(IngestedAtColumn), ingestedAtType(tz))

	engine := "MergeTree"
	if eng.Replacing {
		engine = fmt.Sprintf("ReplacingMergeTree(%s)", quoteIdent(IngestedAtColumn))
	}
	orderBy := eng.OrderBy
	if orderBy == "" {
		orderBy = IngestedAtColumn
	}
	fmt.Fprintf(&b, ") ENGINE = %s\nORDER BY (%s)", engine, quoteIdent(orderBy))
	return b.String()
}

func ingestedAtType(tz string) string {
	if tz != "" {
		return fmt.Sprintf("DateTime64(3, '%s')", tz)
	}
	return "DateTime64(3)"
}

// EnsureTrackingColumns adds the injected columns to an existing table when a
// previous tool created it without them. The ALTERs are idempotent.
func (c *Conn) EnsureTrackingColumns(ctx context.Context, table string, hashMode bool) error {
	alters := []string{
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s DEFAULT now64(3)",
			c.fq(table), quoteIdent(IngestedAtColumn), ingestedAtType(c.cfg.Timezone)),
	}
	if hashMode {
		alters = append(alters,
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s String",
				c.fq(table), quoteIdent(RowKeyColumn)),
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s String",
				c.fq(table), quoteIdent(RowHashColumn)),
		)
	}
	for _, ddl := range alters {
		if err := c.ch.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("alter table %s: %w", table, err)
		}
	}
	return nil
}
