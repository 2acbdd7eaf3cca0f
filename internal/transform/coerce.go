package transform

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// coerce converts value according to the type registered for field. The
// second result is false when the field must be omitted altogether, which
// only happens for int fields that cannot be coerced.
func coerce(field string, value any) (any, bool) {
	switch valueTypes[field] {
	case ValueArray:
		return coerceArray(value), true
	case ValueBool:
		return coerceBool(value), true
	case ValueInt:
		i, ok := coerceInt(value)
		if !ok {
			return nil, false
		}
		return i, true
	default:
		return value, true
	}
}

func coerceArray(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	var list []any
	if err := json.Unmarshal([]byte(s), &list); err != nil || list == nil {
		return value
	}
	return list
}

func coerceBool(value any) any {
	switch v := value.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return value
		}
		return f != 0
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return value
		}
		return f != 0
	default:
		return value
	}
}

func coerceInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		return floatToInt(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
