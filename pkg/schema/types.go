package schema

import "strings"

// Postgres data_type families as reported by information_schema
var (
	dateLikeTypes = map[string]bool{
		"date":                        true,
		"timestamp without time zone": true,
		"timestamp with time zone":    true,
	}

	numericTypes = map[string]bool{
		"smallint":         true,
		"integer":          true,
		"bigint":           true,
		"numeric":          true,
		"decimal":          true,
		"real":             true,
		"double precision": true,
	}

	textTypes = map[string]bool{
		"character varying": true,
		"character":         true,
		"text":              true,
	}
)

// IsDateLike reports whether the type can be cast to a calendar date
func IsDateLike(dataType string) bool {
	return dateLikeTypes[strings.ToLower(dataType)]
}

// IsNumeric reports whether the type supports arithmetic aggregation
func IsNumeric(dataType string) bool {
	return numericTypes[strings.ToLower(dataType)]
}

// IsText reports whether the type is a character type
func IsText(dataType string) bool {
	return textTypes[strings.ToLower(dataType)]
}

// JoinCompatible reports whether two column types can be equi-joined
// without an implicit cast that would break index usage or silently
// mismatch values. Same family is fine; numeric-to-text is not.
func JoinCompatible(leftType, rightType string) bool {
	l, r := strings.ToLower(leftType), strings.ToLower(rightType)
	if l == r {
		return true
	}

	switch {
	case IsNumeric(l) && IsNumeric(r):
		return true
	case IsText(l) && IsText(r):
		return true
	case IsDateLike(l) && IsDateLike(r):
		return true
	default:
		return false
	}
}
