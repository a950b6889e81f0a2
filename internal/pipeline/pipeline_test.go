package pipeline

import (
	"strings"
	"testing"

	"github.com/hpoveda/chreplica/internal/config"
	"github.com/hpoveda/chreplica/internal/schema"
	"github.com/hpoveda/chreplica/internal/strategy"
)

func TestTargetTableName(t *testing.T) {
	p := &Pipeline{cfg: config.ReplicationConfig{TargetTablePrefix: "raw_"}}
	id := schema.TableID{Schema: "dbo", Name: "Estado Legal"}
	if got := p.TargetTableName(id); got != "raw_Estado_Legal" {
		t.Errorf("TargetTableName = %q", got)
	}
}

func ordersSpec() schema.TableSpec {
	return schema.TableSpec{
		ID: schema.TableID{Schema: "dbo", Name: "Orders"},
		Columns: []schema.Column{
			{Name: "OrderId", SourceType: "int", Nullable: false},
			{Name: "Cliente", SourceType: "nvarchar", Nullable: true},
			{Name: "Fecha", SourceType: "datetime2", Nullable: true},
		},
	}
}

func TestNewTablePlan(t *testing.T) {
	mapper := schema.TypeMapper{Timezone: "UTC"}

	t.Run("identity", func(t *testing.T) {
		strat := strategy.Strategy{Kind: strategy.KindIdentity, Column: "OrderId"}
		plan, orderBy := newTablePlan(ordersSpec(), strat, mapper, "Orders")

		if orderBy != "OrderId" {
			t.Errorf("orderBy = %q", orderBy)
		}
		if plan.hashMode {
			t.Error("identity plan must not be hash mode")
		}
		want := []string{"OrderId", "Cliente", "Fecha", "ingested_at"}
		if strings.Join(plan.insertCols, ",") != strings.Join(want, ",") {
			t.Errorf("insertCols = %v", plan.insertCols)
		}
		if plan.mappings[0].Nullable {
			t.Error("order-by column must be non-nullable")
		}
	})

	t.Run("hash", func(t *testing.T) {
		strat := strategy.Strategy{Kind: strategy.KindHash, LogicalKey: []string{"OrderId"}}
		plan, orderBy := newTablePlan(ordersSpec(), strat, mapper, "Orders")

		if orderBy != "row_key" {
			t.Errorf("orderBy = %q", orderBy)
		}
		want := []string{"OrderId", "Cliente", "Fecha", "row_key", "row_hash", "ingested_at"}
		if strings.Join(plan.insertCols, ",") != strings.Join(want, ",") {
			t.Errorf("insertCols = %v", plan.insertCols)
		}
		// in hash mode every source column stays nullable
		for _, m := range plan.mappings {
			if !m.Nullable {
				t.Errorf("column %s should be nullable", m.TargetName)
			}
		}
	})

	t.Run("timestamp on a nullable column degenerates", func(t *testing.T) {
		strat := strategy.Strategy{Kind: strategy.KindTimestamp, Column: "Fecha"}
		_, orderBy := newTablePlan(ordersSpec(), strat, mapper, "Orders")
		if orderBy != "" {
			t.Errorf("orderBy = %q, want ingested_at fallback", orderBy)
		}
	})
}
