package schema

import (
	"strings"
	"testing"
)

func TestTypeMapper_Map(t *testing.T) {
	m := TypeMapper{Timezone: "America/Mexico_City"}

	tests := []struct {
		source string
		want   string
	}{
		{"nvarchar", "String"},
		{"varchar", "String"},
		{"uniqueidentifier", "String"},
		{"varbinary", "String"},
		{"xml", "String"},
		{"int", "Int32"},
		{"bigint", "Int64"},
		{"smallint", "Int16"},
		{"tinyint", "Int8"},
		{"decimal", "Decimal(18, 2)"},
		{"numeric", "Decimal(18, 2)"},
		{"float", "Float32"},
		{"real", "Float32"},
		{"double", "Float64"},
		{"bit", "UInt8"},
		{"date", "Date"},
		{"time", "String"},
		{"datetime", "DateTime64(3, 'America/Mexico_City')"},
		{"datetime2", "DateTime64(3, 'America/Mexico_City')"},
		{"smalldatetime", "DateTime64(3, 'America/Mexico_City')"},
		{"datetimeoffset", "DateTime64(3, 'America/Mexico_City')"},
		{"rowversion", "UInt64"},
		{"timestamp", "UInt64"},
		{"hierarchyid", "String"},
		{"sql_variant", "String"},
		{"geography", "String"},
		{"", "String"},
	}

	for _, tt := range tests {
		name := tt.source
		if name == "" {
			name = "empty"
		}
		t.Run(name, func(t *testing.T) {
			if got := m.Map(tt.source, 0); got != tt.want {
				t.Errorf("Map(%q) = %q, want %q", tt.source, got, tt.want)
			}
		})
	}
}

func TestTypeMapper_MapIsCaseInsensitive(t *testing.T) {
	m := TypeMapper{}
	if got := m.Map("NVARCHAR", 50); got != "String" {
		t.Errorf("Map(NVARCHAR) = %q", got)
	}
	if got := m.Map(" DateTime2 ", 0); got != "DateTime64(3)" {
		t.Errorf("Map(DateTime2) = %q", got)
	}
}

func TestBuildMappings(t *testing.T) {
	spec := TableSpec{
		ID: TableID{Schema: "dbo", Name: "Orders"},
		Columns: []Column{
			{Name: "OrderId", SourceType: "int", Nullable: false},
			{Name: "Cliente Nombre", SourceType: "nvarchar", MaxLength: 200, Nullable: true},
			{Name: "Fecha", SourceType: "datetime", Nullable: true},
		},
	}

	got := BuildMappings(spec, TypeMapper{}, "OrderId")

	if len(got) != 3 {
		t.Fatalf("got %d mappings, want 3", len(got))
	}
	if got[0].Nullable {
		t.Error("ORDER BY column must not be nullable")
	}
	if !got[1].Nullable || !got[2].Nullable {
		t.Error("non-key columns must be nullable")
	}
	if got[1].TargetName != "Cliente_Nombre" {
		t.Errorf("TargetName = %q, want Cliente_Nombre", got[1].TargetName)
	}
	if got[2].TargetType != "DateTime64(3)" {
		t.Errorf("TargetType = %q", got[2].TargetType)
	}
}

func TestTableSpec_Column(t *testing.T) {
	spec := TableSpec{Columns: []Column{{Name: "OrderId", SourceType: "int"}}}
	if _, ok := spec.Column("orderid"); !ok {
		t.Error("lookup should be case-insensitive")
	}
	if _, ok := spec.Column("missing"); ok {
		t.Error("unexpected match")
	}
}

func TestTableID_String(t *testing.T) {
	if got := (TableID{Schema: "dbo", Name: "Orders"}).String(); got != "dbo.Orders" {
		t.Errorf("String() = %q", got)
	}
	if got := (TableID{Name: "Orders"}).String(); got != "Orders" {
		t.Errorf("String() = %q", got)
	}
}

func TestTypeFamilies(t *testing.T) {
	if !IsDateTimeType("datetime2") || IsDateTimeType("int") {
		t.Error("IsDateTimeType misclassifies")
	}
	if !IsIntegerType("bigint") || IsIntegerType("nvarchar") {
		t.Error("IsIntegerType misclassifies")
	}
	if !IsTextType("NVARCHAR") || IsTextType("varbinary") {
		t.Error("IsTextType misclassifies")
	}
	// the mapping must be total
	m := TypeMapper{}
	for _, weird := range []string{"cursor", "table", "geometry", strings.Repeat("x", 40)} {
		if m.Map(weird, 0) != "String" {
			t.Errorf("unknown type %q must map to String", weird)
		}
		if IsKnownType(weird) {
			t.Errorf("IsKnownType(%q) = true", weird)
		}
	}
	if !IsKnownType("NVARCHAR") || !IsKnownType("rowversion") {
		t.Error("IsKnownType misses mapped types")
	}
}
