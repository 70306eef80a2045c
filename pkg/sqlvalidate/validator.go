// Package sqlvalidate performs structural validation of generated dataset
// SQL before export: single read-only statement, no data-modifying
// keywords, and every qualified reference resolving to a defined alias.
// These checks need no database; an optional planner check runs EXPLAIN
// when a connection is available.
package sqlvalidate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/granaryml/granary/pkg/database"
)

// Issue severities
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Issue is one validation finding
type Issue struct {
	Severity   string `json:"severity"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Location   string `json:"location,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Result is the outcome of validating one query
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
	Info     []Issue `json:"info,omitempty"`
}

var (
	forbiddenKeywords = regexp.MustCompile(
		`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|TRUNCATE|CREATE|GRANT|REVOKE|EXEC|EXECUTE)\b`)
	stringLiterals = regexp.MustCompile(`'(?:[^']|'')*'`)
	quotedIdents   = regexp.MustCompile(`"(?:[^"]|"")*"`)
	cteNames       = regexp.MustCompile(`(?i)(?:^WITH\s+|,\s*)([A-Za-z_][A-Za-z0-9_]*)\s+AS\s*\(`)
	tableAliases   = regexp.MustCompile(`(?i)(?:FROM|JOIN)\s+[A-Za-z_"][\w".]*(?:\s+AS)?\s+([A-Za-z_][A-Za-z0-9_]*)\b`)
	qualifiedRefs  = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\.[A-Za-z_"]`)
)

// Keywords that can precede a qualified-looking token without being aliases
var nonAliasQualifiers = map[string]bool{
	"information_schema": true,
	"pg_catalog":         true,
	"public":             true,
}

// Words the alias regex can capture that are keywords, not aliases
var sqlKeywords = map[string]bool{
	"where": true, "group": true, "order": true, "having": true,
	"limit": true, "select": true, "union": true, "on": true,
	"left": true, "right": true, "inner": true, "cross": true,
	"join": true, "as": true,
}

// ValidatorInterface validates dataset SQL
type ValidatorInterface interface {
	// Validate runs the structural checks. expectedColumns, when
	// non-empty, is checked for duplicates and blanks.
	Validate(sql string, expectedColumns []string) *Result
	// CheckSyntax asks the database planner to parse the query and folds
	// any failure into the result
	CheckSyntax(ctx context.Context, sql string, result *Result)
}

type validator struct {
	log logrus.FieldLogger
	db  database.ClientInterface
}

// NewValidator creates a validator. db may be nil; CheckSyntax is then a
// no-op.
func NewValidator(logger logrus.FieldLogger, db database.ClientInterface) ValidatorInterface {
	return &validator{
		log: logger.WithField("service", "sqlvalidate"),
		db:  db,
	}
}

var _ ValidatorInterface = (*validator)(nil)

func (v *validator) Validate(sql string, expectedColumns []string) *Result {
	result := &Result{}

	trimmed := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(sql), ";"))
	if trimmed == "" {
		result.Errors = append(result.Errors, Issue{
			Severity: SeverityError,
			Code:     "EMPTY_QUERY",
			Message:  "query is empty",
		})
		result.Valid = false

		return result
	}

	// Checks run against the query with string literals and quoted
	// identifiers blanked, so their contents cannot trip keyword or
	// statement scans.
	stripped := quotedIdents.ReplaceAllString(stringLiterals.ReplaceAllString(trimmed, "''"), `""`)

	v.checkStatementShape(stripped, result)
	v.checkForbiddenKeywords(stripped, result)
	v.checkAliasResolution(stripped, result)
	v.checkExpectedColumns(expectedColumns, result)

	result.Valid = len(result.Errors) == 0

	return result
}

func (v *validator) CheckSyntax(ctx context.Context, sql string, result *Result) {
	if v.db == nil {
		return
	}

	if err := v.db.Explain(ctx, sql); err != nil {
		result.Errors = append(result.Errors, Issue{
			Severity:   SeverityError,
			Code:       "PLANNER_REJECTED",
			Message:    fmt.Sprintf("the database could not plan the query: %v", err),
			Suggestion: "rebuild the stage whose definition references missing objects",
		})
		result.Valid = false
	}
}

func (v *validator) checkStatementShape(stripped string, result *Result) {
	upper := strings.ToUpper(strings.TrimSpace(stripped))

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		result.Errors = append(result.Errors, Issue{
			Severity: SeverityError,
			Code:     "NOT_A_SELECT",
			Message:  "only SELECT statements can be exported",
		})
	}

	if strings.Contains(stripped, ";") {
		result.Errors = append(result.Errors, Issue{
			Severity:   SeverityError,
			Code:       "MULTI_STATEMENT",
			Message:    "query contains embedded statement separators",
			Suggestion: "export exactly one SELECT statement",
		})
	}
}

func (v *validator) checkForbiddenKeywords(stripped string, result *Result) {
	for _, match := range forbiddenKeywords.FindAllString(stripped, -1) {
		result.Errors = append(result.Errors, Issue{
			Severity: SeverityError,
			Code:     "FORBIDDEN_KEYWORD",
			Message:  fmt.Sprintf("statement contains forbidden keyword %s", strings.ToUpper(match)),
			Location: match,
		})
	}
}

func (v *validator) checkAliasResolution(stripped string, result *Result) {
	defined := make(map[string]bool)

	for _, m := range cteNames.FindAllStringSubmatch(stripped, -1) {
		defined[strings.ToLower(m[1])] = true
	}

	for _, m := range tableAliases.FindAllStringSubmatch(stripped, -1) {
		alias := strings.ToLower(m[1])
		if !sqlKeywords[alias] {
			defined[alias] = true
		}
	}

	reported := make(map[string]bool)

	for _, m := range qualifiedRefs.FindAllStringSubmatch(stripped, -1) {
		qualifier := strings.ToLower(m[1])

		if defined[qualifier] || nonAliasQualifiers[qualifier] || reported[qualifier] {
			continue
		}

		reported[qualifier] = true

		result.Errors = append(result.Errors, Issue{
			Severity: SeverityError,
			Code:     "DANGLING_ALIAS",
			Message:  fmt.Sprintf("reference %q does not match any CTE or table alias", qualifier),
			Location: qualifier,
		})
	}
}

func (v *validator) checkExpectedColumns(columns []string, result *Result) {
	seen := make(map[string]bool, len(columns))

	for _, column := range columns {
		if column == "" {
			result.Warnings = append(result.Warnings, Issue{
				Severity: SeverityWarning,
				Code:     "BLANK_COLUMN",
				Message:  "dataset declares a column with no name",
			})
			continue
		}

		if seen[column] {
			result.Warnings = append(result.Warnings, Issue{
				Severity: SeverityWarning,
				Code:     "DUPLICATE_COLUMN",
				Message:  fmt.Sprintf("column %q appears more than once in the output", column),
				Location: column,
			})
		}

		seen[column] = true
	}
}
