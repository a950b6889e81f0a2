// Package rowval carries row values between the source and target adapters as
// tagged variants, and normalizes them for hashing and insertion.
package rowval

import (
	"encoding/base64"
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hpoveda/chreplica/internal/schema"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindUint
	KindFloat
	KindDecimal
	KindText
	KindBytes
	KindBool
	KindTime
)

// Value is one cell of a row. Exactly the field selected by Kind is
// meaningful.
type Value struct {
	Kind    Kind
	Int     int64
	Uint    uint64
	Float   float64
	Decimal decimal.Decimal
	Text    string
	Bytes   []byte
	Bool    bool
	Time    time.Time
}

// Row is a positional tuple of source values.
type Row []Value

// Null is the null Value.
var Null = Value{Kind: KindNull}

// IsNull reports whether v holds no value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Convert maps a database/sql driver value onto a tagged Value, guided by the
// declared source column type.
func Convert(col schema.Column, raw any) Value {
	if raw == nil {
		return Null
	}
	switch x := raw.(type) {
	case int64:
		return Value{Kind: KindInt, Int: x}
	case int32:
		return Value{Kind: KindInt, Int: int64(x)}
	case int16:
		return Value{Kind: KindInt, Int: int64(x)}
	case int8:
		return Value{Kind: KindInt, Int: int64(x)}
	case int:
		return Value{Kind: KindInt, Int: int64(x)}
	case uint64:
		return Value{Kind: KindUint, Uint: x}
	case float64:
		return Value{Kind: KindFloat, Float: x}
	case float32:
		return Value{Kind: KindFloat, Float: float64(x)}
	case bool:
		return Value{Kind: KindBool, Bool: x}
	case time.Time:
		// TIME columns have no target counterpart and travel as text.
		if strings.EqualFold(col.SourceType, "time") {
			return Value{Kind: KindText, Text: x.Format("15:04:05")}
		}
		return Value{Kind: KindTime, Time: x}
	case string:
		return convertString(col, x)
	case []byte:
		return convertBytes(col, x)
	default:
		return Value{Kind: KindText, Text: strings.ToValidUTF8(stringify(raw), "�")}
	}
}

func convertString(col schema.Column, s string) Value {
	switch strings.ToLower(col.SourceType) {
	case "decimal", "numeric", "money", "smallmoney":
		if d, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil {
			return Value{Kind: KindDecimal, Decimal: d}
		}
	}
	return Value{Kind: KindText, Text: s}
}

func convertBytes(col schema.Column, b []byte) Value {
	switch strings.ToLower(col.SourceType) {
	case "rowversion", "timestamp":
		if len(b) == 8 {
			return Value{Kind: KindUint, Uint: binary.BigEndian.Uint64(b)}
		}
	case "decimal", "numeric", "money", "smallmoney":
		if d, err := decimal.NewFromString(strings.TrimSpace(string(b))); err == nil {
			return Value{Kind: KindDecimal, Decimal: d}
		}
	case "uniqueidentifier":
		if len(b) == 16 {
			return Value{Kind: KindText, Text: formatGUID(b)}
		}
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{Kind: KindBytes, Bytes: cp}
}

// formatGUID renders a SQL Server GUID in its canonical textual form. The
// first three groups are stored little-endian on the wire.
func formatGUID(b []byte) string {
	var g [16]byte
	copy(g[:], b)
	g[0], g[1], g[2], g[3] = b[3], b[2], b[1], b[0]
	g[4], g[5] = b[5], b[4]
	g[6], g[7] = b[7], b[6]
	u, err := uuid.FromBytes(g[:])
	if err != nil {
		return strings.ToUpper(base64.StdEncoding.EncodeToString(b))
	}
	return strings.ToUpper(u.String())
}

func stringify(v any) string {
	switch x := v.(type) {
	case interface{ String() string }:
		return x.String()
	default:
		return ""
	}
}

// Normalize renders a Value as the canonical string used for hashing.
func Normalize(v Value) string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindUint:
		return strconv.FormatUint(v.Uint, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', 6, 64)
	case KindDecimal:
		return v.Decimal.String()
	case KindText:
		return strings.ToValidUTF8(v.Text, "�")
	case KindBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes)
	case KindBool:
		if v.Bool {
			return "1"
		}
		return "0"
	case KindTime:
		return v.Time.UTC().Format(time.RFC3339Nano)
	}
	return "NULL"
}

// Bounds for representable target timestamps.
var (
	minTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// TimeInRange reports whether t lies in [1970-01-01, 2100-01-01).
func TimeInRange(t time.Time) bool {
	return !t.Before(minTime) && t.Before(maxTime)
}

// Cleanse rewrites date-time values that the target cannot represent to null,
// in place, and returns the row. Calendar-date-only values already sit at
// midnight and pass through unchanged.
func Cleanse(row Row) Row {
	for i := range row {
		if row[i].Kind == KindTime && !TimeInRange(row[i].Time) {
			row[i] = Null
		}
	}
	return row
}
