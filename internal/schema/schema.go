// Package schema models source tables and maps SQL Server column types onto
// ClickHouse column types.
package schema

import (
	"fmt"
	"strings"

	"github.com/hpoveda/chreplica/pkg/ident"
)

// TableID identifies a source table.
type TableID struct {
	Schema string
	Name   string
}

func (t TableID) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Column describes one source column as reported by the catalog.
type Column struct {
	Name       string
	SourceType string // lower-case base type name, e.g. "nvarchar"
	MaxLength  int    // character length for variable-width text, -1 for MAX
	Nullable   bool
}

// TableSpec is an immutable description of a source table for one run.
type TableSpec struct {
	ID      TableID
	Columns []Column
}

// Column returns the column with the given name, case-insensitively.
func (s TableSpec) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the source column names in declared order.
func (s TableSpec) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// TypeMapper converts source column types to ClickHouse types. Timezone, when
// set, is attached to DateTime64 columns.
type TypeMapper struct {
	Timezone string
}

// Map returns the ClickHouse type for a source type. The mapping is total:
// unrecognized source types fall back to String.
func (m TypeMapper) Map(sourceType string, maxLength int) string {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case "varchar", "nvarchar", "char", "nchar", "text", "ntext",
		"binary", "varbinary", "image", "uniqueidentifier", "xml", "sysname":
		return "String"
	case "int":
		return "Int32"
	case "bigint":
		return "Int64"
	case "smallint":
		return "Int16"
	case "tinyint":
		return "Int8"
	case "decimal", "numeric", "money", "smallmoney":
		return "Decimal(18, 2)"
	case "float", "real":
		return "Float32"
	case "double":
		return "Float64"
	case "bit":
		return "UInt8"
	case "date":
		return "Date"
	case "time":
		return "String"
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return m.dateTime()
	case "rowversion", "timestamp":
		// SQL Server rowversion: an 8-byte monotonic counter.
		return "UInt64"
	default:
		return "String"
	}
}

func (m TypeMapper) dateTime() string {
	if m.Timezone != "" {
		return fmt.Sprintf("DateTime64(3, '%s')", m.Timezone)
	}
	return "DateTime64(3)"
}

// ColumnMapping is the inferred target column for one source column.
type ColumnMapping struct {
	Source     Column
	TargetName string
	TargetType string
	Nullable   bool
}

// BuildMappings produces the target mapping for every source column. Every
// column is nullable on the target except the one promoted to the ORDER BY
// key (orderBy may be empty when the table orders by ingested_at).
func BuildMappings(spec TableSpec, mapper TypeMapper, orderBy string) []ColumnMapping {
	out := make([]ColumnMapping, len(spec.Columns))
	for i, c := range spec.Columns {
		out[i] = ColumnMapping{
			Source:     c,
			TargetName: ident.Sanitize(c.Name),
			TargetType: mapper.Map(c.SourceType, c.MaxLength),
			Nullable:   !strings.EqualFold(c.Name, orderBy),
		}
	}
	return out
}

// IsKnownType reports whether a source type has an explicit target mapping;
// anything else is coerced to String.
func IsKnownType(sourceType string) bool {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case "varchar", "nvarchar", "char", "nchar", "text", "ntext",
		"binary", "varbinary", "image", "uniqueidentifier", "xml", "sysname",
		"int", "bigint", "smallint", "tinyint",
		"decimal", "numeric", "money", "smallmoney",
		"float", "real", "double", "bit",
		"date", "time", "datetime", "datetime2", "smalldatetime", "datetimeoffset",
		"rowversion", "timestamp":
		return true
	}
	return false
}

// IsDateTimeType reports whether a source type carries a date component
// representable as a timestamp.
func IsDateTimeType(sourceType string) bool {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case "date", "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return true
	}
	return false
}

// IsIntegerType reports whether a source type is a signed integer family.
func IsIntegerType(sourceType string) bool {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case "int", "bigint", "smallint", "tinyint":
		return true
	}
	return false
}

// IsTextType reports whether a source type maps onto a plain string.
func IsTextType(sourceType string) bool {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case "varchar", "nvarchar", "char", "nchar", "text", "ntext", "sysname":
		return true
	}
	return false
}
