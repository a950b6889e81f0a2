// Package strategy chooses, per table, how incremental changes are detected:
// a rowversion column, a monotonic identity column, a modification timestamp,
// or content hashing as the last resort.
package strategy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hpoveda/chreplica/internal/schema"
)

// Kind enumerates the incremental strategies, in preference order.
type Kind int

const (
	KindRowVersion Kind = iota
	KindIdentity
	KindTimestamp
	KindHash
)

func (k Kind) String() string {
	switch k {
	case KindRowVersion:
		return "rowversion"
	case KindIdentity:
		return "identity"
	case KindTimestamp:
		return "timestamp"
	default:
		return "hash"
	}
}

// Strategy is the per-table replication plan.
type Strategy struct {
	Kind Kind
	// Column is the watermark column for rowversion/identity/timestamp.
	Column string
	// LogicalKey identifies rows semantically: the dedup key for hash mode
	// and the sort key candidate for rowversion mode. May be empty (degraded:
	// only byte-identical rows deduplicate).
	LogicalKey []string
}

// OrderBy returns the source column to promote to the target sort key, or ""
// when the table can only order by the ingestion timestamp. Hash mode orders
// by row_key and is resolved by the caller.
func (s Strategy) OrderBy(spec schema.TableSpec) string {
	switch s.Kind {
	case KindIdentity:
		if col, ok := spec.Column(s.Column); ok && !col.Nullable {
			return col.Name
		}
	case KindTimestamp:
		if col, ok := spec.Column(s.Column); ok && !col.Nullable {
			return col.Name
		}
	case KindRowVersion:
		// Updates rewrite the rowversion, so the sort key must be the stable
		// logical key for the merge engine to collapse versions.
		if len(s.LogicalKey) == 1 {
			if col, ok := spec.Column(s.LogicalKey[0]); ok && !col.Nullable {
				return col.Name
			}
		}
	}
	return ""
}

// Detector is the catalog surface the selector needs from the source adapter.
type Detector interface {
	DetectRowVersion(ctx context.Context, id schema.TableID) (string, error)
	DetectIdentity(ctx context.Context, id schema.TableID) (string, error)
	DetectPrimaryKey(ctx context.Context, id schema.TableID) ([]string, error)
	DetectTimestampColumn(spec schema.TableSpec, candidates []string) string
}

// Options tunes the selection cascade.
type Options struct {
	// PreferredIdentityColumn is accepted as a watermark even when the
	// catalog reports no identity property, provided it exists and is a
	// non-nullable integer.
	PreferredIdentityColumn string
	// TimestampCandidates are the well-known modification column names.
	TimestampCandidates []string
	// BusinessKeyNames are the well-known logical key names tried when a
	// table has neither a primary key nor an identity column.
	BusinessKeyNames []string
}

// DefaultTimestampCandidates are checked in order, case-insensitively.
var DefaultTimestampCandidates = []string{
	"UpdatedAt", "ModifiedAt", "FechaModificacion", "FechaActualizacion",
	"LastModified", "ModifiedDate", "UpdateDate", "FechaAlta", "Fecha",
}

// DefaultBusinessKeyNames are checked in order, case-insensitively.
var DefaultBusinessKeyNames = []string{
	"Codigo", "Numero", "Code", "Key", "Clave", "Folio",
}

func (o Options) withDefaults() Options {
	if o.TimestampCandidates == nil {
		o.TimestampCandidates = DefaultTimestampCandidates
	}
	if o.BusinessKeyNames == nil {
		o.BusinessKeyNames = DefaultBusinessKeyNames
	}
	return o
}

// Select evaluates the cascade and returns the first matching strategy.
func Select(ctx context.Context, det Detector, spec schema.TableSpec, opts Options, logger zerolog.Logger) (Strategy, error) {
	opts = opts.withDefaults()
	id := spec.ID

	rv, err := det.DetectRowVersion(ctx, id)
	if err != nil {
		return Strategy{}, fmt.Errorf("select strategy for %s: %w", id, err)
	}
	if rv != "" {
		key, err := logicalKey(ctx, det, spec, opts)
		if err != nil {
			return Strategy{}, err
		}
		return Strategy{Kind: KindRowVersion, Column: rv, LogicalKey: key}, nil
	}

	identCol, err := identityColumn(ctx, det, spec, opts)
	if err != nil {
		return Strategy{}, err
	}
	if identCol != "" {
		return Strategy{Kind: KindIdentity, Column: identCol}, nil
	}

	if ts := det.DetectTimestampColumn(spec, opts.TimestampCandidates); ts != "" {
		return Strategy{Kind: KindTimestamp, Column: ts}, nil
	}

	key, err := logicalKey(ctx, det, spec, opts)
	if err != nil {
		return Strategy{}, err
	}
	if len(key) == 0 {
		logger.Warn().Str("table", id.String()).
			Msg("no logical key found, hash strategy degrades to byte-identical dedup")
	}
	return Strategy{Kind: KindHash, LogicalKey: key}, nil
}

// identityColumn returns the catalog identity column, or the preferred column
// when it qualifies as a monotonic integer watermark.
func identityColumn(ctx context.Context, det Detector, spec schema.TableSpec, opts Options) (string, error) {
	name, err := det.DetectIdentity(ctx, spec.ID)
	if err != nil {
		return "", fmt.Errorf("detect identity on %s: %w", spec.ID, err)
	}
	if name != "" {
		return name, nil
	}
	if opts.PreferredIdentityColumn != "" {
		if col, ok := spec.Column(opts.PreferredIdentityColumn); ok &&
			schema.IsIntegerType(col.SourceType) && !col.Nullable {
			return col.Name, nil
		}
	}
	return "", nil
}

// logicalKey runs the detection cascade: primary key, then identity column,
// then the first well-known business-key name of a numeric or string type.
func logicalKey(ctx context.Context, det Detector, spec schema.TableSpec, opts Options) ([]string, error) {
	pk, err := det.DetectPrimaryKey(ctx, spec.ID)
	if err != nil {
		return nil, fmt.Errorf("detect primary key on %s: %w", spec.ID, err)
	}
	if len(pk) > 0 {
		return pk, nil
	}

	ident, err := det.DetectIdentity(ctx, spec.ID)
	if err != nil {
		return nil, fmt.Errorf("detect identity on %s: %w", spec.ID, err)
	}
	if ident != "" {
		return []string{ident}, nil
	}

	for _, want := range opts.BusinessKeyNames {
		if col, ok := spec.Column(want); ok &&
			(schema.IsIntegerType(col.SourceType) || schema.IsTextType(col.SourceType)) {
			return []string{col.Name}, nil
		}
	}
	return nil, nil
}
