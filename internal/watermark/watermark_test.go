package watermark

import (
	"testing"
	"time"

	"github.com/hpoveda/chreplica/internal/rowval"
	"github.com/hpoveda/chreplica/internal/schema"
)

var keyCol = schema.Column{Name: "OrderId", SourceType: "bigint"}

func TestBasePredicate(t *testing.T) {
	t.Run("null watermark scans everything", func(t *testing.T) {
		p := BasePredicate(keyCol, rowval.Null)
		if p.Where != "" || len(p.Args) != 0 || p.Mode != ModeFullScan {
			t.Errorf("got %+v", p)
		}
	})

	t.Run("integer watermark", func(t *testing.T) {
		p := BasePredicate(keyCol, rowval.Value{Kind: rowval.KindInt, Int: 500})
		if p.Where != "[OrderId] > @p1" {
			t.Errorf("Where = %q", p.Where)
		}
		if len(p.Args) != 1 || p.Args[0] != int64(500) {
			t.Errorf("Args = %v", p.Args)
		}
	})

	t.Run("rowversion watermark travels as binary", func(t *testing.T) {
		rv := schema.Column{Name: "RV", SourceType: "rowversion"}
		p := BasePredicate(rv, rowval.Value{Kind: rowval.KindUint, Uint: 7})
		b, ok := p.Args[0].([]byte)
		if !ok || len(b) != 8 || b[7] != 7 {
			t.Errorf("Args = %v", p.Args)
		}
	})
}

func manyIDs(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i + 1)
	}
	return out
}

func TestBuildLookback(t *testing.T) {
	base := BasePredicate(keyCol, rowval.Value{Kind: rowval.KindInt, Int: 1000})
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	t.Run("empty set keeps the base predicate", func(t *testing.T) {
		p := buildLookback(base, keyCol, nil, "UpdatedAt", 7, now)
		if p.Mode != ModeNewOnly || p.Where != base.Where {
			t.Errorf("got %+v", p)
		}
	})

	t.Run("small set becomes an IN list", func(t *testing.T) {
		p := buildLookback(base, keyCol, []int64{7, 9}, "", 7, now)
		if p.Mode != ModeInList {
			t.Fatalf("Mode = %s", p.Mode)
		}
		if p.Where != "[OrderId] > @p1 OR [OrderId] IN (@p2, @p3)" {
			t.Errorf("Where = %q", p.Where)
		}
		if len(p.Args) != 3 || p.Args[1] != int64(7) || p.Args[2] != int64(9) {
			t.Errorf("Args = %v", p.Args)
		}
	})

	t.Run("exactly at the threshold stays an IN list", func(t *testing.T) {
		p := buildLookback(base, keyCol, manyIDs(1000), "UpdatedAt", 7, now)
		if p.Mode != ModeInList {
			t.Errorf("Mode = %s", p.Mode)
		}
		if len(p.Args) != 1001 {
			t.Errorf("len(Args) = %d", len(p.Args))
		}
	})

	t.Run("over the threshold switches to a timestamp window", func(t *testing.T) {
		p := buildLookback(base, keyCol, manyIDs(1001), "UpdatedAt", 7, now)
		if p.Mode != ModeWindow {
			t.Fatalf("Mode = %s", p.Mode)
		}
		if p.Where != "[OrderId] > @p1 OR [UpdatedAt] >= @p2" {
			t.Errorf("Where = %q", p.Where)
		}
		since, ok := p.Args[1].(time.Time)
		if !ok || !since.Equal(now.AddDate(0, 0, -7)) {
			t.Errorf("Args = %v", p.Args)
		}
	})

	t.Run("over the threshold without a timestamp degrades to new-only", func(t *testing.T) {
		p := buildLookback(base, keyCol, manyIDs(1001), "", 7, now)
		if p.Mode != ModeNewOnly || p.Where != base.Where || len(p.Args) != 1 {
			t.Errorf("got %+v", p)
		}
	})
}
