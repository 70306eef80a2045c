package database

import (
	"strconv"
	"time"
)

// ToInt64 coerces a scanned value to int64, defaulting to zero.
// database/sql hands back int64 for integer types, but aggregates over
// numeric columns may scan as float64 or text.
func ToInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

// ToFloat64 coerces a scanned value to float64, defaulting to zero
func ToFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case []byte:
		f, _ := strconv.ParseFloat(string(t), 64)
		return f
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

// ToString coerces a scanned value to its string form, empty for NULL
func ToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format("2006-01-02")
	case nil:
		return ""
	default:
		return ""
	}
}

// ToDate coerces a scanned value to a YYYY-MM-DD string, empty for NULL
func ToDate(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format("2006-01-02")
	case string:
		if len(t) >= 10 {
			return t[:10]
		}
		return t
	case []byte:
		return ToDate(string(t))
	default:
		return ""
	}
}
