// Package grain builds the grain of a dataset: the set of
// (entity_id, observation_date) rows every later stage joins against.
package grain

import (
	"fmt"

	"github.com/granaryml/granary/pkg/report"
	"github.com/granaryml/granary/pkg/sqlutil"
)

// Strategy selects how observation dates are derived
type Strategy string

// Grain strategies
const (
	StrategyColumn          Strategy = "column"
	StrategyMonthlySnapshot Strategy = "monthly_snapshot"
	StrategyWeeklySnapshot  Strategy = "weekly_snapshot"
	StrategyDailySnapshot   Strategy = "daily_snapshot"
)

// DedupRule selects how duplicate (entity_id, observation_date) rows are
// resolved for the column strategy
type DedupRule string

// Dedup rules
const (
	DedupError      DedupRule = "error"
	DedupKeepAll    DedupRule = "keep_all"
	DedupKeepLatest DedupRule = "keep_latest"
	DedupKeepFirst  DedupRule = "keep_first"
)

// DateRange bounds observation dates, inclusive on both ends
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Split assigns train/valid/test labels by observation date. Dates at or
// before TrainEnd are train, at or before ValidEnd are valid, the rest test.
type Split struct {
	TrainEnd string `json:"train_end"`
	ValidEnd string `json:"valid_end"`
}

// Definition describes how to build a grain
type Definition struct {
	SourceSchema          string     `json:"source_schema,omitempty"`
	SourceTable           string     `json:"source_table"`
	EntityIDColumn        string     `json:"entity_id_column"`
	Strategy              Strategy   `json:"strategy"`
	ObservationDateColumn string     `json:"observation_date_column,omitempty"`
	DedupRule             DedupRule  `json:"dedup_rule,omitempty"`
	DedupOrderBy          string     `json:"dedup_order_by,omitempty"`
	DedupTiebreaker       string     `json:"dedup_tiebreaker,omitempty"`
	DateRange             *DateRange `json:"date_range,omitempty"`
	MinHistoryDays        int        `json:"min_history_days,omitempty"`
	Split                 *Split     `json:"split,omitempty"`
}

// SetDefaults fills unset optional fields
func (d *Definition) SetDefaults() {
	if d.SourceSchema == "" {
		d.SourceSchema = "public"
	}

	if d.DedupRule == "" {
		d.DedupRule = DedupError
	}
}

// IsSnapshot reports whether the strategy generates calendar dates
func (d *Definition) IsSnapshot() bool {
	switch d.Strategy {
	case StrategyMonthlySnapshot, StrategyWeeklySnapshot, StrategyDailySnapshot:
		return true
	default:
		return false
	}
}

// Validate checks the definition and returns every problem found as a
// field-level issue. An empty slice means the definition is usable.
func (d *Definition) Validate() []report.Issue {
	d.SetDefaults()

	var issues []report.Issue

	addErr := func(field, code, msg string) {
		issues = append(issues, report.Issue{Code: code, Message: msg, Field: field})
	}

	for field, name := range map[string]string{
		"source_table":     d.SourceTable,
		"entity_id_column": d.EntityIDColumn,
	} {
		if err := sqlutil.ValidateIdentifier(name); err != nil {
			addErr(field, "INVALID_IDENTIFIER", err.Error())
		}
	}

	for field, name := range map[string]string{
		"source_schema":           d.SourceSchema,
		"observation_date_column": d.ObservationDateColumn,
		"dedup_order_by":          d.DedupOrderBy,
		"dedup_tiebreaker":        d.DedupTiebreaker,
	} {
		if name == "" {
			continue
		}

		if err := sqlutil.ValidateIdentifier(name); err != nil {
			addErr(field, "INVALID_IDENTIFIER", err.Error())
		}
	}

	switch d.Strategy {
	case StrategyColumn:
		if d.ObservationDateColumn == "" {
			addErr("observation_date_column", "MISSING_FIELD",
				"observation_date_column is required for the column strategy")
		}
	case StrategyMonthlySnapshot, StrategyWeeklySnapshot, StrategyDailySnapshot:
		if d.DateRange == nil {
			addErr("date_range", "MISSING_FIELD",
				fmt.Sprintf("date_range is required for the %s strategy", d.Strategy))
		}

		if d.MinHistoryDays > 0 && d.ObservationDateColumn == "" {
			addErr("observation_date_column", "MISSING_FIELD",
				"observation_date_column is required when min_history_days is set")
		}
	default:
		addErr("strategy", "INVALID_STRATEGY", fmt.Sprintf("unknown strategy %q", d.Strategy))
	}

	switch d.DedupRule {
	case DedupError, DedupKeepAll:
	case DedupKeepLatest, DedupKeepFirst:
		if d.DedupOrderBy == "" {
			addErr("dedup_order_by", "MISSING_FIELD",
				fmt.Sprintf("dedup_order_by is required for the %s rule", d.DedupRule))
		}
	default:
		addErr("dedup_rule", "INVALID_DEDUP_RULE", fmt.Sprintf("unknown dedup rule %q", d.DedupRule))
	}

	if d.MinHistoryDays < 0 {
		addErr("min_history_days", "INVALID_VALUE", "min_history_days must not be negative")
	}

	if d.DateRange != nil {
		startErr := sqlutil.ValidateDate(d.DateRange.Start)
		endErr := sqlutil.ValidateDate(d.DateRange.End)

		if startErr != nil {
			addErr("date_range.start", "INVALID_DATE", startErr.Error())
		}

		if endErr != nil {
			addErr("date_range.end", "INVALID_DATE", endErr.Error())
		}

		if startErr == nil && endErr == nil && d.DateRange.Start > d.DateRange.End {
			addErr("date_range", "INVALID_RANGE", "date_range start is after end")
		}
	}

	if d.Split != nil {
		trainErr := sqlutil.ValidateDate(d.Split.TrainEnd)
		validErr := sqlutil.ValidateDate(d.Split.ValidEnd)

		if trainErr != nil {
			addErr("split.train_end", "INVALID_DATE", trainErr.Error())
		}

		if validErr != nil {
			addErr("split.valid_end", "INVALID_DATE", validErr.Error())
		}

		if trainErr == nil && validErr == nil && d.Split.TrainEnd >= d.Split.ValidEnd {
			addErr("split", "INVALID_SPLIT", "train_end must be before valid_end")
		}
	}

	return issues
}
