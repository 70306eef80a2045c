// Package missing turns per-column null-handling policies into SQL
// expressions that wrap feature CTEs. A LEFT JOIN against the grain yields
// NULL for entities with no source rows in the window; these policies
// decide what the model sees instead.
package missing

import (
	"fmt"
	"strings"

	"github.com/granaryml/granary/pkg/feature"
	"github.com/granaryml/granary/pkg/report"
	"github.com/granaryml/granary/pkg/sqlutil"
)

// Strategy selects how NULLs in one feature column are filled
type Strategy string

// Fill strategies
const (
	StrategyZero     Strategy = "zero"
	StrategyNull     Strategy = "null"
	StrategySentinel Strategy = "sentinel"
	// StrategyMean cannot be expressed in the dataset SQL without leaking
	// statistics across splits; it becomes an explicit post-SQL step.
	StrategyMean Strategy = "mean"
)

// DefaultSentinel is used when a sentinel policy gives no value
const DefaultSentinel = 99999

// ColumnPolicy is the null-handling decision for one feature column
type ColumnPolicy struct {
	Column        string   `json:"column"`
	Strategy      Strategy `json:"strategy"`
	SentinelValue *float64 `json:"sentinel_value,omitempty"`
	AddIndicator  bool     `json:"add_indicator,omitempty"`
}

// ImputeStep is a fill the caller must perform after materializing the
// dataset. Population names the rows the statistic is computed over.
type ImputeStep struct {
	Column     string `json:"column"`
	Statistic  string `json:"statistic"`
	Population string `json:"population"`
}

// Plan is the SQL-side outcome of applying policies to a column set
type Plan struct {
	SelectExprs      []string     `json:"select_exprs"`
	IndicatorColumns []string     `json:"indicator_columns,omitempty"`
	PostSQLImpute    []ImputeStep `json:"post_sql_impute,omitempty"`
}

// ValidatePolicies checks each policy against the available columns
func ValidatePolicies(policies []ColumnPolicy, columns []string) []report.Issue {
	available := make(map[string]bool, len(columns))
	for _, c := range columns {
		available[c] = true
	}

	var issues []report.Issue

	seen := make(map[string]bool, len(policies))

	for _, p := range policies {
		if !available[p.Column] {
			issues = append(issues, report.Issue{
				Code:    "UNKNOWN_COLUMN",
				Field:   p.Column,
				Message: fmt.Sprintf("column %q is not produced by any feature", p.Column),
			})
		}

		if seen[p.Column] {
			issues = append(issues, report.Issue{
				Code:    "DUPLICATE_POLICY",
				Field:   p.Column,
				Message: fmt.Sprintf("column %q has more than one policy", p.Column),
			})
		}

		seen[p.Column] = true

		switch p.Strategy {
		case StrategyZero, StrategyNull, StrategySentinel, StrategyMean:
		default:
			issues = append(issues, report.Issue{
				Code:    "UNKNOWN_STRATEGY",
				Field:   p.Column,
				Message: fmt.Sprintf("unknown strategy %q", p.Strategy),
			})
		}
	}

	return issues
}

// BuildPlan computes fill expressions for every column. Columns without an
// explicit policy pass through unchanged. hasSplit selects the population
// for post-SQL mean imputation.
func BuildPlan(policies []ColumnPolicy, columns []string, hasSplit bool) *Plan {
	byColumn := make(map[string]ColumnPolicy, len(policies))
	for _, p := range policies {
		byColumn[p.Column] = p
	}

	population := "all"
	if hasSplit {
		population = "train"
	}

	plan := &Plan{}

	for _, column := range columns {
		quoted := sqlutil.QuoteIdentifier(column)

		policy, ok := byColumn[column]
		if !ok {
			policy = ColumnPolicy{Column: column, Strategy: StrategyNull}
		}

		switch policy.Strategy {
		case StrategyZero:
			plan.SelectExprs = append(plan.SelectExprs,
				fmt.Sprintf("COALESCE(%s, 0) AS %s", quoted, quoted))
		case StrategySentinel:
			sentinel := float64(DefaultSentinel)
			if policy.SentinelValue != nil {
				sentinel = *policy.SentinelValue
			}

			plan.SelectExprs = append(plan.SelectExprs,
				fmt.Sprintf("COALESCE(%s, %g) AS %s", quoted, sentinel, quoted))
		case StrategyMean:
			plan.SelectExprs = append(plan.SelectExprs, quoted)
			plan.PostSQLImpute = append(plan.PostSQLImpute, ImputeStep{
				Column:     column,
				Statistic:  "mean",
				Population: population,
			})
		default:
			plan.SelectExprs = append(plan.SelectExprs, quoted)
		}

		if policy.AddIndicator {
			indicator := "is_missing_" + column
			plan.IndicatorColumns = append(plan.IndicatorColumns, indicator)
			plan.SelectExprs = append(plan.SelectExprs,
				fmt.Sprintf("CASE WHEN %s IS NULL THEN 1 ELSE 0 END AS %s",
					quoted, sqlutil.QuoteIdentifier(indicator)))
		}
	}

	return plan
}

// WrapCTE wraps a feature CTE with the plan's fill expressions, keeping the
// grain key columns first.
func WrapCTE(plan *Plan, sourceAlias string) string {
	exprs := append([]string{"entity_id", "observation_date"}, plan.SelectExprs...)

	return fmt.Sprintf("SELECT\n    %s\nFROM %s", strings.Join(exprs, ",\n    "), sourceAlias)
}

// Recommended returns the default policy for a feature template
func Recommended(kind feature.Kind, column string) ColumnPolicy {
	switch kind {
	case feature.KindRollingCount, feature.KindRollingSum, feature.KindDistinctCount, feature.KindPctTrue:
		// No events in the window genuinely means zero activity.
		return ColumnPolicy{Column: column, Strategy: StrategyZero}
	case feature.KindRecency:
		return ColumnPolicy{Column: column, Strategy: StrategySentinel, AddIndicator: true}
	case feature.KindRollingAvg, feature.KindRollingMin, feature.KindRollingMax, feature.KindRollingStddev:
		return ColumnPolicy{Column: column, Strategy: StrategyNull, AddIndicator: true}
	default:
		return ColumnPolicy{Column: column, Strategy: StrategyNull}
	}
}
