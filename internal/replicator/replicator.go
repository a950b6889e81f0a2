// Package replicator drives a full replication run: it connects both ends,
// enumerates and filters tables, replicates each through the chunk pipeline
// and aggregates the outcome.
package replicator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hpoveda/chreplica/internal/config"
	"github.com/hpoveda/chreplica/internal/metrics"
	"github.com/hpoveda/chreplica/internal/pipeline"
	"github.com/hpoveda/chreplica/internal/schema"
	"github.com/hpoveda/chreplica/internal/source"
	"github.com/hpoveda/chreplica/internal/target"
)

// Summary aggregates one run. Individual table failures do not fail the run;
// they are recorded here.
type Summary struct {
	RunID        string
	TablesTotal  int
	TablesOK     int
	TablesFailed int
	RowsTotal    int64
	Duration     time.Duration
	Results      []pipeline.TableResult
}

// Driver is the top-level replication orchestrator.
type Driver struct {
	cfg       config.Config
	logger    zerolog.Logger
	Collector *metrics.Collector
}

// New creates a Driver for one run.
func New(cfg config.Config, logger zerolog.Logger) *Driver {
	runID := uuid.NewString()
	return &Driver{
		cfg:       cfg,
		logger:    logger.With().Str("component", "replicator").Str("run_id", runID).Logger(),
		Collector: metrics.NewCollector(runID, logger),
	}
}

// Run executes the replication. It returns an error only for fatal
// conditions: invalid configuration or an unreachable endpoint.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	if err := d.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	d.Collector.SetPhase("connecting")
	d.logger.Info().Str("host", d.cfg.Source.Host).Str("database", d.cfg.Source.Database).
		Msg("connecting to source")
	src, err := source.Open(ctx, d.cfg.Source, d.logger)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	d.logger.Info().Str("target", d.cfg.RedactedTargetURL()).Msg("connecting to target")
	tgt, err := target.Open(ctx, d.cfg.Target, d.logger)
	if err != nil {
		return nil, err
	}
	defer tgt.Close()

	d.Collector.SetPhase("discovering")
	tables, err := src.ListTables(ctx, d.cfg.Replication.ExcludedTablePrefixes)
	if err != nil {
		return nil, err
	}
	discovered := len(tables)
	tables = filterTables(tables, d.cfg.Replication.Tables)
	d.logger.Info().Int("discovered", discovered).Int("selected", len(tables)).
		Msg("tables enumerated")

	progress := make([]metrics.TableProgress, len(tables))
	for i, id := range tables {
		progress[i] = metrics.TableProgress{Schema: id.Schema, Name: id.Name}
	}
	d.Collector.SetTables(progress)

	mapper := schema.TypeMapper{Timezone: d.cfg.Target.Timezone}
	pipe := pipeline.New(src, tgt, d.cfg.Replication, mapper, d.Collector, d.logger)

	d.Collector.SetPhase("replicating")
	summary := &Summary{RunID: d.Collector.Snapshot().RunID, TablesTotal: len(tables)}
	for _, id := range tables {
		if err := ctx.Err(); err != nil {
			d.logger.Warn().Msg("run canceled, stopping at table boundary")
			break
		}
		res := pipe.ReplicateTable(ctx, id)
		summary.Results = append(summary.Results, res)
		if res.Err != nil {
			summary.TablesFailed++
			continue
		}
		summary.TablesOK++
		summary.RowsTotal += res.Inserted + res.Updated
	}

	summary.Duration = time.Since(start)
	d.Collector.SetPhase("done")
	d.logger.Info().Int("tables_ok", summary.TablesOK).Int("tables_failed", summary.TablesFailed).
		Int64("rows_total", summary.RowsTotal).Dur("duration", summary.Duration).
		Msg("run complete")
	return summary, nil
}

// filterTables restricts the discovered tables to the requested names.
// Matching is case-insensitive and accepts bare names or schema.name.
func filterTables(tables []schema.TableID, include []string) []schema.TableID {
	if len(include) == 0 {
		return tables
	}
	var out []schema.TableID
	for _, id := range tables {
		for _, want := range include {
			if strings.EqualFold(want, id.Name) || strings.EqualFold(want, id.String()) {
				out = append(out, id)
				break
			}
		}
	}
	return out
}
