package target

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hpoveda/chreplica/internal/rowval"
	"github.com/hpoveda/chreplica/internal/schema"
)

// ConvertRow turns a cleansed source row into driver arguments for one insert
// batch row, following the column mappings positionally.
func ConvertRow(row rowval.Row, mappings []schema.ColumnMapping) ([]any, error) {
	if len(row) != len(mappings) {
		return nil, fmt.Errorf("row has %d values, mapping expects %d", len(row), len(mappings))
	}
	out := make([]any, len(row))
	for i, m := range mappings {
		arg, err := Arg(row[i], m.TargetType, m.Nullable)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", m.TargetName, err)
		}
		out[i] = arg
	}
	return out, nil
}

// Arg converts one tagged value into the driver argument for the given target
// type. Nullable columns travel as typed pointers so the driver can
// distinguish null from zero.
func Arg(v rowval.Value, targetType string, nullable bool) (any, error) {
	base := targetType
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = base[:i]
	}

	if v.IsNull() {
		if !nullable {
			return nil, fmt.Errorf("null value for non-nullable %s column", targetType)
		}
		return nullArg(base), nil
	}

	switch base {
	case "String":
		return wrap(stringArg(v), nullable), nil
	case "Int8":
		n, err := intArg(v)
		if err != nil {
			return nil, err
		}
		return wrap(int8(n), nullable), nil
	case "Int16":
		n, err := intArg(v)
		if err != nil {
			return nil, err
		}
		return wrap(int16(n), nullable), nil
	case "Int32":
		n, err := intArg(v)
		if err != nil {
			return nil, err
		}
		return wrap(int32(n), nullable), nil
	case "Int64":
		n, err := intArg(v)
		if err != nil {
			return nil, err
		}
		return wrap(n, nullable), nil
	case "UInt8":
		switch v.Kind {
		case rowval.KindBool:
			var n uint8
			if v.Bool {
				n = 1
			}
			return wrap(n, nullable), nil
		case rowval.KindInt:
			return wrap(uint8(v.Int), nullable), nil
		}
		return nil, convErr(v, targetType)
	case "UInt64":
		switch v.Kind {
		case rowval.KindUint:
			return wrap(v.Uint, nullable), nil
		case rowval.KindInt:
			return wrap(uint64(v.Int), nullable), nil
		}
		return nil, convErr(v, targetType)
	case "Float32":
		f, err := floatArg(v)
		if err != nil {
			return nil, err
		}
		return wrap(float32(f), nullable), nil
	case "Float64":
		f, err := floatArg(v)
		if err != nil {
			return nil, err
		}
		return wrap(f, nullable), nil
	case "Decimal":
		d, err := decimalArg(v)
		if err != nil {
			return nil, err
		}
		return wrap(d, nullable), nil
	case "Date", "DateTime64":
		if v.Kind == rowval.KindTime {
			return wrap(v.Time, nullable), nil
		}
		return nil, convErr(v, targetType)
	}
	return nil, fmt.Errorf("unsupported target type %s", targetType)
}

func wrap[T any](v T, nullable bool) any {
	if nullable {
		return &v
	}
	return v
}

func nullArg(base string) any {
	switch base {
	case "String":
		return (*string)(nil)
	case "Int8":
		return (*int8)(nil)
	case "Int16":
		return (*int16)(nil)
	case "Int32":
		return (*int32)(nil)
	case "Int64":
		return (*int64)(nil)
	case "UInt8":
		return (*uint8)(nil)
	case "UInt64":
		return (*uint64)(nil)
	case "Float32":
		return (*float32)(nil)
	case "Float64":
		return (*float64)(nil)
	case "Decimal":
		return (*decimal.Decimal)(nil)
	default:
		return (*time.Time)(nil)
	}
}

// stringArg coerces any value onto a String column; unknown source types land
// here with their textual representation.
func stringArg(v rowval.Value) string {
	if v.Kind == rowval.KindBytes {
		return string(v.Bytes)
	}
	return rowval.Normalize(v)
}

func intArg(v rowval.Value) (int64, error) {
	switch v.Kind {
	case rowval.KindInt:
		return v.Int, nil
	case rowval.KindUint:
		return int64(v.Uint), nil
	case rowval.KindBool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	}
	return 0, convErr(v, "integer")
}

func floatArg(v rowval.Value) (float64, error) {
	switch v.Kind {
	case rowval.KindFloat:
		return v.Float, nil
	case rowval.KindInt:
		return float64(v.Int), nil
	case rowval.KindDecimal:
		f, _ := v.Decimal.Float64()
		return f, nil
	}
	return 0, convErr(v, "float")
}

func decimalArg(v rowval.Value) (decimal.Decimal, error) {
	switch v.Kind {
	case rowval.KindDecimal:
		return v.Decimal, nil
	case rowval.KindInt:
		return decimal.NewFromInt(v.Int), nil
	case rowval.KindFloat:
		return decimal.NewFromFloat(v.Float), nil
	case rowval.KindText:
		d, err := decimal.NewFromString(strings.TrimSpace(v.Text))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("parse decimal %q: %w", v.Text, err)
		}
		return d, nil
	}
	return decimal.Decimal{}, convErr(v, "decimal")
}

func convErr(v rowval.Value, target string) error {
	return fmt.Errorf("cannot convert value kind %d to %s", v.Kind, target)
}
