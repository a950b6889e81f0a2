// Package pipeline replicates one table end to end: strategy selection,
// target preparation, watermark resolution, chunked scan, cleansing,
// classification and batched inserts.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpoveda/chreplica/internal/change"
	"github.com/hpoveda/chreplica/internal/config"
	"github.com/hpoveda/chreplica/internal/metrics"
	"github.com/hpoveda/chreplica/internal/rowval"
	"github.com/hpoveda/chreplica/internal/schema"
	"github.com/hpoveda/chreplica/internal/source"
	"github.com/hpoveda/chreplica/internal/strategy"
	"github.com/hpoveda/chreplica/internal/target"
	"github.com/hpoveda/chreplica/internal/watermark"
	"github.com/hpoveda/chreplica/pkg/ident"
)

// TableResult is the per-table summary emitted after replication.
type TableResult struct {
	Source     schema.TableID
	Target     string
	Strategy   strategy.Strategy
	Columns    int
	RowsRead   int64
	Inserted   int64
	Updated    int64
	Duplicates int64
	Elapsed    time.Duration
	Err        error
}

// Pipeline owns the source cursor, the outbound batch buffer and the
// per-chunk classification index for the table being replicated.
type Pipeline struct {
	src       *source.Conn
	tgt       *target.Conn
	store     *watermark.Store
	cfg       config.ReplicationConfig
	mapper    schema.TypeMapper
	collector *metrics.Collector
	logger    zerolog.Logger
}

// New wires a Pipeline over open source and target connections.
func New(src *source.Conn, tgt *target.Conn, cfg config.ReplicationConfig, mapper schema.TypeMapper, collector *metrics.Collector, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		src:       src,
		tgt:       tgt,
		store:     watermark.NewStore(tgt, logger),
		cfg:       cfg,
		mapper:    mapper,
		collector: collector,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// TargetTableName returns the target table for a source table, applying the
// configured prefix and sanitization.
func (p *Pipeline) TargetTableName(id schema.TableID) string {
	return p.cfg.TargetTablePrefix + ident.Sanitize(id.Name)
}

// ReplicateTable runs the full per-table lifecycle and returns its summary.
// Failures are contained in the result; the caller decides whether to go on.
func (p *Pipeline) ReplicateTable(ctx context.Context, id schema.TableID) TableResult {
	res := TableResult{Source: id, Target: p.TargetTableName(id)}
	start := time.Now()
	log := p.logger.With().Str("table", id.String()).Str("target", res.Target).Logger()

	fail := func(err error) TableResult {
		res.Err = err
		res.Elapsed = time.Since(start)
		p.collector.TableFailed(id.Schema, id.Name, err)
		log.Error().Err(err).Msg("table replication failed")
		return res
	}

	spec, err := p.src.Describe(ctx, id)
	if err != nil {
		return fail(err)
	}
	res.Columns = len(spec.Columns)

	strat, err := strategy.Select(ctx, p.src, spec, strategy.Options{
		PreferredIdentityColumn: p.cfg.PreferredIdentityColumn,
	}, log)
	if err != nil {
		return fail(err)
	}
	res.Strategy = strat
	p.collector.TablePreparing(id.Schema, id.Name, strat.Kind.String(), len(spec.Columns))
	log.Info().Str("strategy", strat.Kind.String()).Str("column", strat.Column).
		Strs("logical_key", strat.LogicalKey).Msg("strategy selected")

	for _, c := range spec.Columns {
		if !schema.IsKnownType(c.SourceType) {
			log.Warn().Str("column", c.Name).Str("source_type", c.SourceType).
				Msg("unmapped source type, coercing to String")
		}
	}

	plan, err := p.prepareTarget(ctx, spec, strat)
	if err != nil {
		return fail(err)
	}

	scanReq, lookback := p.buildScan(ctx, spec, strat, plan)
	p.collector.TableScanning(id.Schema, id.Name)

	hasher := change.NewHasher(spec, strat.LogicalKey)
	scanner := p.src.Scan(scanReq)
	defer scanner.Close()

	for {
		chunk, err := scanner.Next(ctx)
		if err != nil {
			return fail(err)
		}
		if chunk == nil {
			break
		}

		for i := range chunk {
			chunk[i] = rowval.Cleanse(chunk[i])
		}

		inserted, updated, dups, err := p.writeChunk(ctx, plan, hasher, strat, chunk, lookback)
		if err != nil {
			return fail(err)
		}

		res.RowsRead += int64(len(chunk))
		res.Inserted += inserted
		res.Updated += updated
		res.Duplicates += dups
		p.collector.RecordChunk(id.Schema, id.Name, int64(len(chunk)), inserted, updated, dups)
	}

	res.Elapsed = time.Since(start)
	p.collector.TableCompleted(id.Schema, id.Name)
	log.Info().Int64("rows", res.RowsRead).Int64("inserted", res.Inserted).
		Int64("updated", res.Updated).Int64("duplicates", res.Duplicates).
		Dur("elapsed", res.Elapsed).Msg("table replicated")
	return res
}

// tablePlan carries the prepared target shape through the scan loop.
type tablePlan struct {
	table      string
	mappings   []schema.ColumnMapping
	hashMode   bool
	insertCols []string
}

// newTablePlan derives the target shape from the strategy's ORDER BY rules.
func newTablePlan(spec schema.TableSpec, strat strategy.Strategy, mapper schema.TypeMapper, table string) (tablePlan, string) {
	hashMode := strat.Kind == strategy.KindHash

	orderBySource := strat.OrderBy(spec)
	mappings := schema.BuildMappings(spec, mapper, orderBySource)

	orderByTarget := ""
	switch {
	case hashMode:
		orderByTarget = target.RowKeyColumn
	case orderBySource != "":
		orderByTarget = ident.Sanitize(orderBySource)
	}

	plan := tablePlan{
		table:    table,
		mappings: mappings,
		hashMode: hashMode,
	}
	for _, m := range mappings {
		plan.insertCols = append(plan.insertCols, m.TargetName)
	}
	if hashMode {
		plan.insertCols = append(plan.insertCols, target.RowKeyColumn, target.RowHashColumn)
	}
	plan.insertCols = append(plan.insertCols, target.IngestedAtColumn)
	return plan, orderByTarget
}

// prepareTarget creates or augments the target table and returns the insert
// plan.
func (p *Pipeline) prepareTarget(ctx context.Context, spec schema.TableSpec, strat strategy.Strategy) (tablePlan, error) {
	plan, orderByTarget := newTablePlan(spec, strat, p.mapper, p.TargetTableName(spec.ID))
	hashMode := plan.hashMode

	exists, err := p.tgt.ExistsTable(ctx, plan.table)
	if err != nil {
		return tablePlan{}, err
	}
	if !exists {
		eng := target.EngineSpec{
			Replacing: p.cfg.UseReplacingEngine,
			OrderBy:   orderByTarget,
			HashMode:  hashMode,
		}
		if err := p.tgt.CreateTable(ctx, plan.table, plan.mappings, eng); err != nil {
			return tablePlan{}, err
		}
		return plan, nil
	}

	if err := p.tgt.EnsureTrackingColumns(ctx, plan.table, hashMode); err != nil {
		return tablePlan{}, err
	}
	if !p.cfg.Incremental {
		if err := p.tgt.TruncateTable(ctx, plan.table); err != nil {
			return tablePlan{}, err
		}
	}
	return plan, nil
}

// buildScan resolves the watermark and produces the scan request. The second
// return reports whether an identity lookback window is active, in which case
// arriving rows must be split into inserts and updates by key lookup.
func (p *Pipeline) buildScan(ctx context.Context, spec schema.TableSpec, strat strategy.Strategy, plan tablePlan) (source.ScanRequest, bool) {
	req := source.ScanRequest{
		Spec:      spec,
		ChunkSize: p.cfg.ChunkSize,
		MaxRows:   p.cfg.MaxRowsPerTable,
	}

	if !p.cfg.Incremental || strat.Kind == strategy.KindHash {
		// Full scan; restarted duplicates are absorbed by the merge engine.
		return req, false
	}

	col, ok := spec.Column(strat.Column)
	if !ok {
		return req, false
	}
	req.OrderBy = col.Name
	req.ResumeColumn = col.Name

	wm := p.store.Maximum(ctx, plan.table, ident.Sanitize(col.Name), strat.Kind)

	var pred watermark.Predicate
	lookback := false
	if strat.Kind == strategy.KindIdentity {
		tsCol := p.src.DetectTimestampColumn(spec, strategy.DefaultTimestampCandidates)
		pred = p.store.IdentityPredicate(ctx, plan.table, col, ident.Sanitize(col.Name), wm, p.cfg.LookbackDays, tsCol)
		lookback = pred.Mode == watermark.ModeInList || pred.Mode == watermark.ModeWindow
	} else {
		pred = watermark.BasePredicate(col, wm)
	}
	req.Where = pred.Where
	req.Args = pred.Args
	return req, lookback
}

// markUpdates resolves which of the chunk's key values already exist on the
// target. Only meaningful for identity scans with an active lookback window.
func (p *Pipeline) markUpdates(ctx context.Context, plan tablePlan, strat strategy.Strategy, chunk []rowval.Row, lookback bool) (map[int64]struct{}, int, error) {
	if !lookback {
		return nil, -1, nil
	}
	keyIdx := -1
	for i, c := range plan.mappings {
		if strings.EqualFold(c.Source.Name, strat.Column) {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return nil, -1, nil
	}

	var candidates []int64
	for _, row := range chunk {
		if row[keyIdx].Kind == rowval.KindInt {
			candidates = append(candidates, row[keyIdx].Int)
		}
	}
	present, err := p.tgt.ExistingKeys(ctx, plan.table, plan.mappings[keyIdx].TargetName, candidates)
	if err != nil {
		return nil, -1, err
	}
	return present, keyIdx, nil
}

// writeChunk classifies and inserts one chunk, returning the inserted,
// updated and duplicate counts.
func (p *Pipeline) writeChunk(ctx context.Context, plan tablePlan, hasher change.Hasher, strat strategy.Strategy, chunk []rowval.Row, lookback bool) (inserted, updated, dups int64, err error) {
	ingestedAt := time.Now()

	var batch [][]any
	if plan.hashMode {
		keyed := hasher.KeyChunk(chunk)
		keys := make([]string, len(keyed))
		for i, k := range keyed {
			keys[i] = k.Key
		}
		existing, err := p.tgt.HashesByKey(ctx, plan.table, keys)
		if err != nil {
			return 0, 0, 0, err
		}
		classes := change.Classify(keyed, existing)
		for i, k := range keyed {
			switch classes[i] {
			case change.ClassDuplicate:
				dups++
				continue
			case change.ClassUpdated:
				updated++
			default:
				inserted++
			}
			args, err := target.ConvertRow(k.Row, plan.mappings)
			if err != nil {
				return 0, 0, 0, insertSchemaErr(plan.table, err)
			}
			args = append(args, k.Key, k.Hash, ingestedAt)
			batch = append(batch, args)
		}
	} else {
		present, keyIdx, err := p.markUpdates(ctx, plan, strat, chunk, lookback)
		if err != nil {
			return 0, 0, 0, err
		}
		for _, row := range chunk {
			if keyIdx >= 0 && row[keyIdx].Kind == rowval.KindInt {
				if _, ok := present[row[keyIdx].Int]; ok {
					updated++
				} else {
					inserted++
				}
			} else {
				inserted++
			}
			args, err := target.ConvertRow(row, plan.mappings)
			if err != nil {
				return 0, 0, 0, insertSchemaErr(plan.table, err)
			}
			args = append(args, ingestedAt)
			batch = append(batch, args)
		}
	}

	if err := p.tgt.Insert(ctx, plan.table, plan.insertCols, batch); err != nil {
		return 0, 0, 0, insertSchemaErr(plan.table, err)
	}
	return inserted, updated, dups, nil
}

func insertSchemaErr(table string, err error) error {
	return fmt.Errorf("%w (if the target schema is incompatible, drop table %s and rerun)", err, table)
}
