package strategy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hpoveda/chreplica/internal/schema"
)

// fakeDetector serves canned catalog answers.
type fakeDetector struct {
	rowVersion string
	identity   string
	primaryKey []string
}

func (f fakeDetector) DetectRowVersion(context.Context, schema.TableID) (string, error) {
	return f.rowVersion, nil
}

func (f fakeDetector) DetectIdentity(context.Context, schema.TableID) (string, error) {
	return f.identity, nil
}

func (f fakeDetector) DetectPrimaryKey(context.Context, schema.TableID) ([]string, error) {
	return f.primaryKey, nil
}

func (f fakeDetector) DetectTimestampColumn(spec schema.TableSpec, candidates []string) string {
	for _, want := range candidates {
		if col, ok := spec.Column(want); ok && schema.IsDateTimeType(col.SourceType) {
			return col.Name
		}
	}
	for _, col := range spec.Columns {
		if schema.IsDateTimeType(col.SourceType) {
			return col.Name
		}
	}
	return ""
}

func spec(cols ...schema.Column) schema.TableSpec {
	return schema.TableSpec{ID: schema.TableID{Schema: "dbo", Name: "T"}, Columns: cols}
}

func TestSelect_Cascade(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	t.Run("rowversion wins over everything", func(t *testing.T) {
		det := fakeDetector{rowVersion: "RV", identity: "Id", primaryKey: []string{"Id"}}
		s := spec(
			schema.Column{Name: "Id", SourceType: "int"},
			schema.Column{Name: "RV", SourceType: "timestamp"},
		)
		got, err := Select(ctx, det, s, Options{}, log)
		if err != nil {
			t.Fatal(err)
		}
		if got.Kind != KindRowVersion || got.Column != "RV" {
			t.Errorf("got %+v", got)
		}
		if len(got.LogicalKey) != 1 || got.LogicalKey[0] != "Id" {
			t.Errorf("LogicalKey = %v", got.LogicalKey)
		}
	})

	t.Run("identity from catalog", func(t *testing.T) {
		det := fakeDetector{identity: "OrderId"}
		s := spec(schema.Column{Name: "OrderId", SourceType: "int"})
		got, err := Select(ctx, det, s, Options{}, log)
		if err != nil {
			t.Fatal(err)
		}
		if got.Kind != KindIdentity || got.Column != "OrderId" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("preferred identity hint", func(t *testing.T) {
		det := fakeDetector{}
		s := spec(
			schema.Column{Name: "Id", SourceType: "bigint", Nullable: false},
			schema.Column{Name: "Nombre", SourceType: "nvarchar", Nullable: true},
		)
		got, err := Select(ctx, det, s, Options{PreferredIdentityColumn: "Id"}, log)
		if err != nil {
			t.Fatal(err)
		}
		if got.Kind != KindIdentity || got.Column != "Id" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("hint rejected for nullable text column", func(t *testing.T) {
		det := fakeDetector{}
		s := spec(schema.Column{Name: "Id", SourceType: "nvarchar", Nullable: true})
		got, err := Select(ctx, det, s, Options{PreferredIdentityColumn: "Id"}, log)
		if err != nil {
			t.Fatal(err)
		}
		if got.Kind == KindIdentity {
			t.Errorf("nullable text column accepted as identity: %+v", got)
		}
	})

	t.Run("timestamp when no identity", func(t *testing.T) {
		det := fakeDetector{}
		s := spec(
			schema.Column{Name: "Nombre", SourceType: "nvarchar"},
			schema.Column{Name: "UpdatedAt", SourceType: "datetime2"},
		)
		got, err := Select(ctx, det, s, Options{}, log)
		if err != nil {
			t.Fatal(err)
		}
		if got.Kind != KindTimestamp || got.Column != "UpdatedAt" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("hash with primary key", func(t *testing.T) {
		det := fakeDetector{primaryKey: []string{"ClientCode"}}
		s := spec(
			schema.Column{Name: "ClientCode", SourceType: "nvarchar"},
			schema.Column{Name: "Status", SourceType: "nvarchar"},
		)
		got, err := Select(ctx, det, s, Options{}, log)
		if err != nil {
			t.Fatal(err)
		}
		if got.Kind != KindHash {
			t.Errorf("got %+v", got)
		}
		if len(got.LogicalKey) != 1 || got.LogicalKey[0] != "ClientCode" {
			t.Errorf("LogicalKey = %v", got.LogicalKey)
		}
	})

	t.Run("hash with business key fallback", func(t *testing.T) {
		det := fakeDetector{}
		s := spec(
			schema.Column{Name: "Codigo", SourceType: "nvarchar"},
			schema.Column{Name: "Descripcion", SourceType: "nvarchar"},
		)
		got, err := Select(ctx, det, s, Options{}, log)
		if err != nil {
			t.Fatal(err)
		}
		if got.Kind != KindHash || len(got.LogicalKey) != 1 || got.LogicalKey[0] != "Codigo" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("hash degraded with no key at all", func(t *testing.T) {
		det := fakeDetector{}
		s := spec(schema.Column{Name: "Blob", SourceType: "varbinary"})
		got, err := Select(ctx, det, s, Options{}, log)
		if err != nil {
			t.Fatal(err)
		}
		if got.Kind != KindHash || len(got.LogicalKey) != 0 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("composite primary key preserved in order", func(t *testing.T) {
		det := fakeDetector{primaryKey: []string{"Empresa", "Folio"}}
		s := spec(
			schema.Column{Name: "Folio", SourceType: "int"},
			schema.Column{Name: "Empresa", SourceType: "int"},
		)
		got, err := Select(ctx, det, s, Options{}, log)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.LogicalKey) != 2 || got.LogicalKey[0] != "Empresa" || got.LogicalKey[1] != "Folio" {
			t.Errorf("LogicalKey = %v", got.LogicalKey)
		}
	})
}

func TestStrategy_OrderBy(t *testing.T) {
	s := spec(
		schema.Column{Name: "Id", SourceType: "int", Nullable: false},
		schema.Column{Name: "RV", SourceType: "timestamp", Nullable: false},
		schema.Column{Name: "UpdatedAt", SourceType: "datetime2", Nullable: true},
	)

	tests := []struct {
		name  string
		strat Strategy
		want  string
	}{
		{"identity", Strategy{Kind: KindIdentity, Column: "Id"}, "Id"},
		{"rowversion orders by logical key", Strategy{Kind: KindRowVersion, Column: "RV", LogicalKey: []string{"Id"}}, "Id"},
		{"rowversion without key degenerates", Strategy{Kind: KindRowVersion, Column: "RV"}, ""},
		{"nullable timestamp degenerates", Strategy{Kind: KindTimestamp, Column: "UpdatedAt"}, ""},
		{"hash resolved by caller", Strategy{Kind: KindHash}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.strat.OrderBy(s); got != tt.want {
				t.Errorf("OrderBy = %q, want %q", got, tt.want)
			}
		})
	}
}
