// Package sqlutil provides identifier validation and quoting helpers shared
// by every SQL-generating stage. All table and column names flow through
// ValidateIdentifier before they are interpolated into generated SQL.
package sqlutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxIdentifierLength = 128

var (
	// ErrEmptyIdentifier is returned for blank identifiers
	ErrEmptyIdentifier = errors.New("identifier is empty")
	// ErrIdentifierTooLong is returned for identifiers over 128 characters
	ErrIdentifierTooLong = errors.New("identifier exceeds maximum length")
	// ErrInvalidIdentifier is returned for identifiers outside the allowlist
	ErrInvalidIdentifier = errors.New("identifier contains invalid characters")
	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form
	ErrInvalidDate = errors.New("date must be in YYYY-MM-DD format")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks a table or column name against the allowlist:
// leading letter or underscore, then letters, digits, or underscores.
func ValidateIdentifier(name string) error {
	if name == "" {
		return ErrEmptyIdentifier
	}

	if len(name) > maxIdentifierLength {
		return fmt.Errorf("%w: %d characters", ErrIdentifierTooLong, len(name))
	}

	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}

	return nil
}

// QuoteIdentifier double-quotes an identifier for safe interpolation.
// The identifier must already have passed ValidateIdentifier.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedTable returns schema.table with both parts quoted
func QualifiedTable(schema, table string) string {
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(table)
}

// QuoteLiteral single-quotes a string literal, doubling embedded quotes
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// ValidateDate checks an ISO calendar date string
func ValidateDate(value string) error {
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}

	return nil
}

// StripTrailingSemicolons removes trailing whitespace and semicolons so a
// statement can be embedded as a subquery or CTE.
func StripTrailingSemicolons(query string) string {
	return strings.TrimRight(strings.TrimSpace(query), "; \t\n")
}
