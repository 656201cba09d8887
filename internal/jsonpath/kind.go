package jsonpath

import (
	"fmt"
	"math"

	"github.com/solatis/aadnode/internal/types"
)

/*
 * Value classification for decoded JSON.
 *
 * encoding/json decodes every number as float64. Command handlers and the
 * deployment parser distinguish integers from doubles the way the wire
 * protocol does: a number with no fractional part that fits an int64 is an
 * integer. Accessors are strict; no string-to-number or number-to-bool
 * coercion is performed.
 */

// Kind is the JSON value category seen by typed callbacks.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// KindOf classifies a value produced by json.Unmarshal into an any.
func KindOf(v any) Kind {
	switch n := v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case float64:
		if n == math.Trunc(n) && n >= -(1<<63) && n < 1<<63 {
			return KindInt
		}
		return KindDouble
	case string:
		return KindString
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	default:
		return KindNull
	}
}

// AsString returns v as a string or ErrUnexpectedType.
func AsString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: want string, got %s", types.ErrUnexpectedType, KindOf(v))
	}
	return s, nil
}

// AsInt returns v as an int64 when it is an integral number.
func AsInt(v any) (int64, error) {
	if KindOf(v) != KindInt {
		return 0, fmt.Errorf("%w: want int, got %s", types.ErrUnexpectedType, KindOf(v))
	}
	return int64(v.(float64)), nil
}

// StringAt resolves path in doc and returns the string found there.
func StringAt(doc any, path []types.PathSegment) (string, error) {
	v, err := Lookup(path, doc)
	if err != nil {
		return "", err
	}
	return AsString(v)
}
