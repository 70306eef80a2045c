// Package target defines forward-looking binary labels over a grain and
// guards the boundary that keeps label information out of feature windows.
package target

import (
	"fmt"

	"github.com/granaryml/granary/pkg/report"
	"github.com/granaryml/granary/pkg/sqlutil"
)

// Reserved output column names a target may not shadow
var reservedColumns = map[string]bool{
	"entity_id":        true,
	"observation_date": true,
	"split":            true,
}

// Definition describes how to compute the label
type Definition struct {
	LabelSchema      string   `json:"label_schema,omitempty"`
	LabelTable       string   `json:"label_table"`
	JoinColumn       string   `json:"join_column"`
	EventTimeColumn  string   `json:"event_time_column"`
	LabelValueColumn string   `json:"label_value_column"`
	PositiveValues   []string `json:"positive_values"`
	WindowMonths     int      `json:"window_months"`
	MaturityMonths   int      `json:"maturity_months,omitempty"`
	TargetName       string   `json:"target_name,omitempty"`
	// ExtractionDate caps the forward window; rows whose window passes it
	// are right-censored. Empty means CURRENT_DATE.
	ExtractionDate string `json:"extraction_date,omitempty"`
}

// SetDefaults fills unset optional fields
func (d *Definition) SetDefaults() {
	if d.LabelSchema == "" {
		d.LabelSchema = "public"
	}

	if d.TargetName == "" {
		d.TargetName = "target"
	}
}

// Validate checks the definition, returning every problem found
func (d *Definition) Validate() []report.Issue {
	d.SetDefaults()

	var issues []report.Issue

	addErr := func(field, code, msg string) {
		issues = append(issues, report.Issue{Code: code, Message: msg, Field: field})
	}

	for field, name := range map[string]string{
		"label_schema":       d.LabelSchema,
		"label_table":        d.LabelTable,
		"join_column":        d.JoinColumn,
		"event_time_column":  d.EventTimeColumn,
		"label_value_column": d.LabelValueColumn,
		"target_name":        d.TargetName,
	} {
		if err := sqlutil.ValidateIdentifier(name); err != nil {
			addErr(field, "INVALID_IDENTIFIER", err.Error())
		}
	}

	if reservedColumns[d.TargetName] {
		addErr("target_name", "RESERVED_COLUMN",
			fmt.Sprintf("target_name %q collides with a grain column", d.TargetName))
	}

	if len(d.PositiveValues) == 0 {
		addErr("positive_values", "MISSING_FIELD", "at least one positive value is required")
	}

	if d.WindowMonths < 1 {
		addErr("window_months", "INVALID_VALUE", "window_months must be at least 1")
	}

	if d.MaturityMonths < 0 {
		addErr("maturity_months", "INVALID_VALUE", "maturity_months must not be negative")
	}

	if d.ExtractionDate != "" {
		if err := sqlutil.ValidateDate(d.ExtractionDate); err != nil {
			addErr("extraction_date", "INVALID_DATE", err.Error())
		}
	}

	return issues
}

// TotalMonths is the full forward horizon: blind gap plus label window
func (d *Definition) TotalMonths() int {
	return d.MaturityMonths + d.WindowMonths
}
