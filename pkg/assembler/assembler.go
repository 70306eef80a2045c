// Package assembler composes the grain, target, and feature SQL into one
// dataset query, with missing-value handling applied per feature CTE.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/granaryml/granary/pkg/database"
	"github.com/granaryml/granary/pkg/feature"
	"github.com/granaryml/granary/pkg/grain"
	"github.com/granaryml/granary/pkg/missing"
	"github.com/granaryml/granary/pkg/quality"
	"github.com/granaryml/granary/pkg/report"
	"github.com/granaryml/granary/pkg/sqlutil"
	"github.com/granaryml/granary/pkg/target"
)

// Request describes one dataset assembly
type Request struct {
	Grain            *grain.Definition     `json:"grain"`
	Target           *target.Definition    `json:"target,omitempty"`
	Features         []*feature.Definition `json:"features"`
	Policies         []missing.ColumnPolicy `json:"missing_policies,omitempty"`
	RunQualityChecks bool                  `json:"run_quality_checks,omitempty"`
}

// Result is the assembled dataset
type Result struct {
	Status        report.Status        `json:"status"`
	DatasetSQL    string               `json:"dataset_sql,omitempty"`
	Columns       []string             `json:"columns,omitempty"`
	FeatureCount  int                  `json:"feature_count"`
	PostSQLImpute []missing.ImputeStep `json:"post_sql_impute,omitempty"`
	Warnings      []report.Issue       `json:"warnings,omitempty"`
	Errors        []report.Issue       `json:"errors,omitempty"`
	Quality       *quality.Report      `json:"quality,omitempty"`
}

// AssemblerInterface builds dataset SQL from validated stage definitions
type AssemblerInterface interface {
	Assemble(ctx context.Context, req *Request) (*Result, error)
}

type assembler struct {
	log     logrus.FieldLogger
	db      database.ClientInterface
	engine  feature.EngineInterface
	auditor quality.AuditorInterface
}

// NewAssembler creates a dataset assembler
func NewAssembler(logger logrus.FieldLogger, db database.ClientInterface, engine feature.EngineInterface, auditor quality.AuditorInterface) AssemblerInterface {
	return &assembler{
		log:     logger.WithField("service", "assembler"),
		db:      db,
		engine:  engine,
		auditor: auditor,
	}
}

var _ AssemblerInterface = (*assembler)(nil)

func (a *assembler) Assemble(ctx context.Context, req *Request) (*Result, error) {
	result := &Result{}

	if errs := a.validateRequest(req); len(errs) > 0 {
		result.Status = report.StatusError
		result.Errors = errs

		return result, nil
	}

	grainSQL, err := grain.GenerateSQL(req.Grain, true)
	if err != nil {
		return nil, err
	}

	sets, err := a.engine.GenerateBatch(req.Features, "grain")
	if err != nil {
		return nil, err
	}

	if errs := checkColumnCollisions(req, sets); len(errs) > 0 {
		result.Status = report.StatusError
		result.Errors = errs

		return result, nil
	}

	allFeatureColumns := make([]string, 0, len(sets))
	for _, set := range sets {
		allFeatureColumns = append(allFeatureColumns, set.Columns...)
	}

	if issues := missing.ValidatePolicies(req.Policies, allFeatureColumns); len(issues) > 0 {
		result.Status = report.StatusError
		result.Errors = issues

		return result, nil
	}

	datasetSQL, columns, imputeSteps, err := composeSQL(req, grainSQL, sets)
	if err != nil {
		return nil, err
	}

	result.DatasetSQL = datasetSQL
	result.Columns = columns
	result.FeatureCount = len(sets)
	result.PostSQLImpute = imputeSteps

	if err := a.contractCheck(ctx, result); err != nil {
		return nil, err
	}

	if result.Status == report.StatusError {
		return result, nil
	}

	if req.RunQualityChecks {
		rep, err := a.auditor.Audit(ctx, grainSQL, req.Target, req.Features, sets)
		if err != nil {
			return nil, err
		}

		profiles, err := a.auditor.ProfileColumns(ctx, datasetSQL, allFeatureColumns)
		if err != nil {
			return nil, err
		}

		rep.ColumnProfiles = profiles
		result.Quality = rep

		if rep.Status == report.StatusError {
			result.Warnings = append(result.Warnings, report.Issue{
				Code:    "QUALITY_CHECKS_FAILED",
				Message: "quality audit found blocking findings; review before export",
			})
		}
	}

	result.Status = report.Rollup(result.Warnings, result.Errors)

	a.log.WithFields(logrus.Fields{
		"status":   result.Status,
		"features": result.FeatureCount,
	}).Info("Assembled dataset")

	return result, nil
}

func (a *assembler) validateRequest(req *Request) []report.Issue {
	var errs []report.Issue

	if req.Grain == nil {
		return []report.Issue{{Code: "MISSING_GRAIN", Message: "a grain definition is required"}}
	}

	errs = append(errs, req.Grain.Validate()...)

	if req.Target != nil {
		errs = append(errs, req.Target.Validate()...)
	}

	for _, def := range req.Features {
		errs = append(errs, def.Validate()...)
	}

	return errs
}

// Compose deterministically rebuilds the dataset SQL from a request. It is
// the pure core of Assemble, shared with export-manifest replay: the same
// definitions always yield byte-identical SQL.
func Compose(engine feature.EngineInterface, req *Request) (datasetSQL string, columns []string, impute []missing.ImputeStep, err error) {
	grainSQL, err := grain.GenerateSQL(req.Grain, true)
	if err != nil {
		return "", nil, nil, err
	}

	sets, err := engine.GenerateBatch(req.Features, "grain")
	if err != nil {
		return "", nil, nil, err
	}

	return composeSQL(req, grainSQL, sets)
}

// checkColumnCollisions rejects feature output columns that would shadow
// the grain keys, the split label, or the target column.
func checkColumnCollisions(req *Request, sets []*feature.ColumnSet) []report.Issue {
	reserved := map[string]bool{
		"entity_id":        true,
		"observation_date": true,
		"split":            true,
		"max_source_time":  true,
	}

	if req.Target != nil {
		reserved[req.Target.TargetName] = true
	}

	var errs []report.Issue

	seen := make(map[string]bool)

	for _, set := range sets {
		for _, column := range set.Columns {
			if reserved[column] {
				errs = append(errs, report.Issue{
					Code:    "RESERVED_COLUMN",
					Field:   column,
					Message: fmt.Sprintf("feature column %q collides with a dataset column", column),
				})
			}

			if seen[column] {
				errs = append(errs, report.Issue{
					Code:    "DUPLICATE_COLUMN",
					Field:   column,
					Message: fmt.Sprintf("feature column %q is produced twice", column),
				})
			}

			seen[column] = true
		}
	}

	return errs
}

func composeSQL(req *Request, grainSQL string, sets []*feature.ColumnSet) (string, []string, []missing.ImputeStep, error) {
	var b strings.Builder

	b.WriteString("WITH grain AS (\n")
	b.WriteString(sqlutil.StripTrailingSemicolons(grainSQL))
	b.WriteString("\n)")

	hasTarget := req.Target != nil
	if hasTarget {
		ctes, err := target.GenerateCTEs(req.Target, "grain")
		if err != nil {
			return "", nil, nil, err
		}

		b.WriteString(",\n")
		b.WriteString(ctes)
	}

	hasSplit := req.Grain.Split != nil

	var imputeSteps []missing.ImputeStep

	selectCols := []string{"g.entity_id", "g.observation_date"}
	columns := []string{"entity_id", "observation_date"}

	if hasSplit {
		selectCols = append(selectCols, "g.split")
		columns = append(columns, "split")
	}

	if hasTarget {
		targetCol := sqlutil.QuoteIdentifier(req.Target.TargetName)
		selectCols = append(selectCols, "t."+targetCol)
		columns = append(columns, req.Target.TargetName)
	}

	var joins strings.Builder

	for i, set := range sets {
		raw := fmt.Sprintf("feature_%d", i+1)
		filled := raw + "_filled"
		alias := fmt.Sprintf("f%d", i+1)

		plan := missing.BuildPlan(req.Policies, set.Columns, hasSplit)
		imputeSteps = append(imputeSteps, plan.PostSQLImpute...)

		b.WriteString(",\n")
		b.WriteString(raw)
		b.WriteString(" AS (\n")
		b.WriteString(set.SQL)
		b.WriteString("\n),\n")
		b.WriteString(filled)
		b.WriteString(" AS (\n")
		b.WriteString(missing.WrapCTE(plan, raw))
		b.WriteString("\n)")

		for _, column := range set.Columns {
			selectCols = append(selectCols, alias+"."+sqlutil.QuoteIdentifier(column))
			columns = append(columns, column)
		}

		for _, indicator := range plan.IndicatorColumns {
			selectCols = append(selectCols, alias+"."+sqlutil.QuoteIdentifier(indicator))
			columns = append(columns, indicator)
		}

		joins.WriteString(fmt.Sprintf(
			"\nLEFT JOIN %s %s ON %s.entity_id = g.entity_id AND %s.observation_date = g.observation_date",
			filled, alias, alias, alias))
	}

	b.WriteString("\nSELECT\n    ")
	b.WriteString(strings.Join(selectCols, ",\n    "))
	b.WriteString("\nFROM grain g")

	if hasTarget {
		// INNER JOIN drops right-censored grain rows instead of labeling
		// them.
		b.WriteString("\nINNER JOIN target_calc t ON t.entity_id = g.entity_id AND t.observation_date = g.observation_date")
	}

	b.WriteString(joins.String())

	return b.String(), columns, imputeSteps, nil
}

// contractCheck probes the composed query with LIMIT 0 and compares the
// output shape against the expected column list.
func (a *assembler) contractCheck(ctx context.Context, result *Result) error {
	probed, err := a.db.Columns(ctx, result.DatasetSQL)
	if err != nil {
		var daErr *database.DataAccessError
		// A probe rejected by the database means the generated SQL does
		// not run against the live schema; report it, don't fail.
		if errors.As(err, &daErr) {
			result.Status = report.StatusError
			result.Errors = append(result.Errors, report.Issue{
				Code:    "CONTRACT_CHECK_FAILED",
				Message: fmt.Sprintf("dataset query failed shape validation: %v", daErr.Err),
			})

			return nil
		}

		return err
	}

	if len(probed) != len(result.Columns) {
		result.Status = report.StatusError
		result.Errors = append(result.Errors, report.Issue{
			Code: "CONTRACT_MISMATCH",
			Message: fmt.Sprintf("dataset query produced %d columns, expected %d",
				len(probed), len(result.Columns)),
		})
	}

	return nil
}
