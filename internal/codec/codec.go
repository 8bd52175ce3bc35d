// Package codec implements the value codec (component C1): the total,
// tag-driven mapping between logical record values and the scalar
// types understood by the embedded relational store. This replaces
// the source's runtime type switch with a tagged union over
// LogicalType, per the re-architecting note in SPEC_FULL.md.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// LogicalType tags the supported value kinds. Every Encode/Decode call
// is a total function of one of these tags; there is no runtime type
// switch on the Go value's own dynamic type.
type LogicalType string

// Supported logical types, matching SPEC_FULL.md §4.1 / spec.md §3.
const (
	TypeInt       LogicalType = "int"
	TypeFloat     LogicalType = "float"
	TypeBool      LogicalType = "bool"
	TypeString    LogicalType = "str"
	TypeTimestamp LogicalType = "datetime"
	TypeList      LogicalType = "list"
	TypeMapping   LogicalType = "mapping"
	TypeFrame     LogicalType = "DataFrame"
)

// NativeSQLType returns the store column type ("INTEGER", "REAL",
// "TEXT") that a logical type is persisted as, per SPEC_FULL.md §4.2's
// type mapping table.
func NativeSQLType(t LogicalType) string {
	switch t {
	case TypeInt, TypeBool, TypeTimestamp:
		return "INTEGER"
	case TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

// InferLogicalType derives a LogicalType tag from a Go value's dynamic
// type, for use when deriving a schema from a sample record. This is
// the one place a type switch over a dynamic value is appropriate: it
// is the boundary where an untyped sample becomes a tag.
func InferLogicalType(v any) LogicalType {
	switch v.(type) {
	case int, int32, int64:
		return TypeInt
	case bool:
		return TypeBool
	case float32, float64:
		return TypeFloat
	case string:
		return TypeString
	case time.Time:
		return TypeTimestamp
	case []any:
		return TypeList
	case map[string]any:
		return TypeMapping
	default:
		return TypeString
	}
}

// Result carries the store-native value produced by Encode, along
// with whether the encoding took the lossy stringified fallback path
// (list/mapping values that failed canonical JSON serialization, a
// non-string value tagged as a string, or an unknown tag).
type Result struct {
	Value any
	Lossy bool
}

// Encode maps a logical value to a store-native scalar, per the table
// in SPEC_FULL.md §4.1.
func Encode(t LogicalType, v any) (Result, error) {
	if v == nil {
		return Result{Value: nil}, nil
	}
	switch t {
	case TypeInt:
		i, err := toInt64(v)
		if err != nil {
			return Result{}, errors.Wrap(err, "encoding int value")
		}
		return Result{Value: i}, nil
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return Result{}, errors.Errorf("encoding bool value: unexpected type %T", v)
		}
		if b {
			return Result{Value: int64(1)}, nil
		}
		return Result{Value: int64(0)}, nil
	case TypeFloat:
		f, err := toFloat64(v)
		if err != nil {
			return Result{}, errors.Wrap(err, "encoding float value")
		}
		return Result{Value: f}, nil
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return Result{Value: fmt.Sprintf("%v", v), Lossy: true}, nil
		}
		return Result{Value: s}, nil
	case TypeTimestamp:
		ts, ok := v.(time.Time)
		if !ok {
			return Result{}, errors.Errorf("encoding timestamp value: unexpected type %T", v)
		}
		return Result{Value: ts.UTC().UnixMicro()}, nil
	case TypeList, TypeMapping:
		encoded, err := json.Marshal(v)
		if err != nil {
			return Result{Value: fmt.Sprintf("%v", v), Lossy: true}, nil
		}
		return Result{Value: string(encoded)}, nil
	default:
		return Result{Value: fmt.Sprintf("%v", v), Lossy: true}, nil
	}
}

// Decode maps a store-native scalar back to a logical value, driven by
// the catalog's recorded logical type for the column. loc localizes
// decoded timestamps; a nil loc defaults to time.Local.
func Decode(t LogicalType, stored any, loc *time.Location) (any, error) {
	if stored == nil {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	switch t {
	case TypeInt:
		return toInt64(stored)
	case TypeBool:
		i, err := toInt64(stored)
		if err != nil {
			return nil, errors.Wrap(err, "decoding bool value")
		}
		return i != 0, nil
	case TypeFloat:
		return toFloat64(stored)
	case TypeString:
		s, ok := stored.(string)
		if !ok {
			return nil, errors.Errorf("decoding string value: unexpected type %T", stored)
		}
		return s, nil
	case TypeTimestamp:
		micros, err := toInt64(stored)
		if err != nil {
			return nil, errors.Wrap(err, "decoding timestamp value")
		}
		return time.UnixMicro(micros).UTC().In(loc), nil
	case TypeList:
		s, ok := stored.(string)
		if !ok {
			return nil, errors.Errorf("decoding list value: unexpected type %T", stored)
		}
		var out []any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, errors.Wrap(err, "decoding list value")
		}
		return out, nil
	case TypeMapping:
		s, ok := stored.(string)
		if !ok {
			return nil, errors.Errorf("decoding mapping value: unexpected type %T", stored)
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, errors.Wrap(err, "decoding mapping value")
		}
		return out, nil
	default:
		return stored, nil
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, errors.Errorf("unexpected type %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, errors.Errorf("unexpected type %T", v)
	}
}
