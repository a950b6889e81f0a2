// Package watermark resolves, per target table, where the next incremental
// scan should start, and builds the source-side scan predicate, including the
// lookback window for identity strategies.
package watermark

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpoveda/chreplica/internal/rowval"
	"github.com/hpoveda/chreplica/internal/schema"
	"github.com/hpoveda/chreplica/internal/source"
	"github.com/hpoveda/chreplica/internal/strategy"
	"github.com/hpoveda/chreplica/internal/target"
)

// inListThreshold bounds how many lookback identifiers are inlined into the
// scan predicate before switching to a timestamp window or new-only mode.
const inListThreshold = 1000

// Mode names how the lookback window was realized, for logs and tests.
type Mode string

const (
	ModeFullScan Mode = "full-scan"
	ModeNewOnly  Mode = "new-only"
	ModeInList   Mode = "in-list"
	ModeWindow   Mode = "window"
)

// Predicate is a source-side WHERE clause with its positional arguments.
type Predicate struct {
	Where string
	Args  []any
	Mode  Mode
}

// Store derives watermarks and lookback sets by querying the target.
type Store struct {
	target *target.Conn
	logger zerolog.Logger
}

// NewStore creates a Store over the target connection.
func NewStore(t *target.Conn, logger zerolog.Logger) *Store {
	return &Store{
		target: t,
		logger: logger.With().Str("component", "watermark").Logger(),
	}
}

// Maximum returns the watermark for the strategy column: the maximum value
// the target holds under the given (sanitized) column name. Any error
// (missing table, missing column, type surprise) maps to a null watermark,
// which causes a full scan from the beginning.
func (s *Store) Maximum(ctx context.Context, table, column string, kind strategy.Kind) rowval.Value {
	var (
		v   rowval.Value
		err error
	)
	switch kind {
	case strategy.KindIdentity:
		var max *int64
		max, err = s.target.MaxInt64(ctx, table, column)
		if err == nil && max != nil {
			v = rowval.Value{Kind: rowval.KindInt, Int: *max}
		}
	case strategy.KindRowVersion:
		var max *uint64
		max, err = s.target.MaxUint64(ctx, table, column)
		if err == nil && max != nil {
			v = rowval.Value{Kind: rowval.KindUint, Uint: *max}
		}
	case strategy.KindTimestamp:
		var max *time.Time
		max, err = s.target.MaxTime(ctx, table, column)
		if err == nil && max != nil {
			v = rowval.Value{Kind: rowval.KindTime, Time: *max}
		}
	default:
		return rowval.Null
	}
	if err != nil {
		s.logger.Debug().Err(err).Str("table", table).Str("column", column).
			Msg("watermark unavailable, scanning from the beginning")
		return rowval.Null
	}
	return v
}

// BasePredicate restricts the scan to rows past the watermark. A null
// watermark yields an empty predicate (full scan).
func BasePredicate(col schema.Column, wm rowval.Value) Predicate {
	if wm.IsNull() {
		return Predicate{Mode: ModeFullScan}
	}
	return Predicate{
		Where: fmt.Sprintf("%s > @p1", source.QuoteIdent(col.Name)),
		Args:  []any{source.DriverArg(col, wm)},
		Mode:  ModeNewOnly,
	}
}

// IdentityPredicate extends the base watermark predicate with a lookback
// window of the given days, so recently ingested identifiers are re-scanned
// for updates:
//
//   - a small candidate set is inlined as key IN (...)
//   - a large set falls back to the source's modification timestamp window,
//     when the table has one
//   - otherwise the scan stays new-only and the gap is logged
func (s *Store) IdentityPredicate(ctx context.Context, targetTable string, keyCol schema.Column, targetKeyName string, wm rowval.Value, lookbackDays int, sourceTimestampCol string) Predicate {
	base := BasePredicate(keyCol, wm)
	if wm.IsNull() || lookbackDays <= 0 {
		return base
	}

	ids, err := s.target.KeysWithinLookback(ctx, targetTable, targetKeyName, lookbackDays)
	if err != nil {
		s.logger.Warn().Err(err).Str("table", targetTable).
			Msg("lookback query failed, continuing new-only")
		return base
	}
	pred := buildLookback(base, keyCol, ids, sourceTimestampCol, lookbackDays, time.Now())
	if pred.Mode == ModeNewOnly && len(ids) > 0 {
		s.logger.Warn().Str("table", targetTable).Int("candidates", len(ids)).
			Msg("lookback set too large and no modification timestamp: updates within the window will not be captured")
	}
	return pred
}

// buildLookback applies the single lookback rule to an already-resolved
// candidate set.
func buildLookback(base Predicate, keyCol schema.Column, ids []int64, sourceTimestampCol string, lookbackDays int, now time.Time) Predicate {
	if len(ids) == 0 {
		return base
	}

	if len(ids) <= inListThreshold {
		placeholders := make([]string, len(ids))
		args := append([]any(nil), base.Args...)
		for i, id := range ids {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("@p%d", len(args))
		}
		return Predicate{
			Where: fmt.Sprintf("%s OR %s IN (%s)", base.Where, source.QuoteIdent(keyCol.Name), strings.Join(placeholders, ", ")),
			Args:  args,
			Mode:  ModeInList,
		}
	}

	if sourceTimestampCol != "" {
		args := append([]any(nil), base.Args...)
		args = append(args, now.AddDate(0, 0, -lookbackDays))
		return Predicate{
			Where: fmt.Sprintf("%s OR %s >= @p%d", base.Where, source.QuoteIdent(sourceTimestampCol), len(args)),
			Args:  args,
			Mode:  ModeWindow,
		}
	}

	return base
}
