package target

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/granaryml/granary/pkg/database"
	"github.com/granaryml/granary/pkg/report"
	"github.com/granaryml/granary/pkg/schema"
	"github.com/granaryml/granary/pkg/sqlutil"
)

const lowPositiveThreshold = 100

// Result is the outcome of validating a target definition
type Result struct {
	Status    report.Status  `json:"status"`
	TargetSQL string         `json:"target_sql,omitempty"`
	Warnings  []report.Issue `json:"warnings,omitempty"`
	Errors    []report.Issue `json:"errors,omitempty"`
}

// Distribution summarizes the class balance of a computed target
type Distribution struct {
	Status        report.Status  `json:"status"`
	TotalRows     int64          `json:"total_rows"`
	PositiveCount int64          `json:"positive_count"`
	NegativeCount int64          `json:"negative_count"`
	PositiveRate  float64        `json:"positive_rate"`
	CensoredCount int64          `json:"censored_count"`
	Usable        bool           `json:"usable"`
	Warnings      []report.Issue `json:"warnings,omitempty"`
}

// Cohort is the label rate within one observation-date period
type Cohort struct {
	Period       string  `json:"period"`
	Rows         int64   `json:"rows"`
	PositiveRate float64 `json:"positive_rate"`
}

// CohortAnalysis reports label stability across observation-date cohorts
type CohortAnalysis struct {
	Granularity string   `json:"granularity"`
	Cohorts     []Cohort `json:"cohorts"`
	RateCV      float64  `json:"rate_cv"`
	Stability   string   `json:"stability"`
}

// BuilderInterface validates targets and profiles their label distribution
type BuilderInterface interface {
	// Validate checks the definition against the schema and returns the
	// standalone target SQL
	Validate(ctx context.Context, def *Definition, grainSQL, grainEntityType string) (*Result, error)
	// Distribution computes class balance and censoring over the grain
	Distribution(ctx context.Context, def *Definition, grainSQL string) (*Distribution, error)
	// Cohorts computes per-period positive rates; granularity is month or
	// quarter
	Cohorts(ctx context.Context, def *Definition, grainSQL, granularity string) (*CohortAnalysis, error)
}

type builder struct {
	log       logrus.FieldLogger
	db        database.ClientInterface
	inspector schema.Inspector
}

// NewBuilder creates a target builder
func NewBuilder(logger logrus.FieldLogger, db database.ClientInterface, inspector schema.Inspector) BuilderInterface {
	return &builder{
		log:       logger.WithField("service", "target"),
		db:        db,
		inspector: inspector,
	}
}

var _ BuilderInterface = (*builder)(nil)

func (b *builder) Validate(ctx context.Context, def *Definition, grainSQL, grainEntityType string) (*Result, error) {
	if issues := def.Validate(); len(issues) > 0 {
		return &Result{Status: report.StatusError, Errors: issues}, nil
	}

	columns, err := b.inspector.RequireColumns(ctx, def.LabelSchema, def.LabelTable,
		def.JoinColumn, def.EventTimeColumn, def.LabelValueColumn)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	warn := func(code, msg string) {
		result.Warnings = append(result.Warnings, report.Issue{Code: code, Message: msg})
	}

	byName := make(map[string]database.Column, len(columns))
	for _, col := range columns {
		byName[col.Name] = col
	}

	if col, ok := byName[def.EventTimeColumn]; ok && !schema.IsDateLike(col.DataType) {
		warn("EVENT_TIME_NOT_TEMPORAL", fmt.Sprintf(
			"event_time_column %s has type %s; the ::DATE cast may fail at query time",
			def.EventTimeColumn, col.DataType))
	}

	if col, ok := byName[def.JoinColumn]; ok && grainEntityType != "" {
		if !schema.JoinCompatible(col.DataType, grainEntityType) {
			warn("JOIN_TYPE_MISMATCH", fmt.Sprintf(
				"join_column %s (%s) and the grain entity column (%s) have incompatible types",
				def.JoinColumn, col.DataType, grainEntityType))
		}
	}

	matches, err := b.countPositiveRows(ctx, def)
	if err != nil {
		return nil, err
	}

	if matches == 0 {
		warn("NO_POSITIVE_EVENTS", "no label rows match the configured positive_values")
	}

	result.TargetSQL, err = GenerateSQL(def, grainSQL)
	if err != nil {
		return nil, err
	}

	result.Status = report.Rollup(result.Warnings, result.Errors)

	return result, nil
}

func (b *builder) Distribution(ctx context.Context, def *Definition, grainSQL string) (*Distribution, error) {
	targetSQL, err := GenerateSQL(def, grainSQL)
	if err != nil {
		return nil, err
	}

	targetCol := sqlutil.QuoteIdentifier(def.TargetName)

	row, err := b.db.QueryRow(ctx, fmt.Sprintf(`SELECT
    COUNT(*) AS total_rows,
    COALESCE(SUM(%s), 0) AS positive_count
FROM (%s) AS t`, targetCol, targetSQL))
	if err != nil {
		return nil, err
	}

	dist := &Distribution{}
	if row != nil {
		dist.TotalRows = database.ToInt64(row["total_rows"])
		dist.PositiveCount = database.ToInt64(row["positive_count"])
	}

	dist.NegativeCount = dist.TotalRows - dist.PositiveCount
	if dist.TotalRows > 0 {
		dist.PositiveRate = float64(dist.PositiveCount) / float64(dist.TotalRows)
	}

	extractionExpr := "CURRENT_DATE"
	if def.ExtractionDate != "" {
		extractionExpr = sqlutil.QuoteLiteral(def.ExtractionDate) + "::DATE"
	}

	row, err = b.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) AS censored
FROM (%s) AS g
WHERE g.observation_date + INTERVAL '%d months' > %s`,
		sqlutil.StripTrailingSemicolons(grainSQL), def.TotalMonths(), extractionExpr))
	if err != nil {
		return nil, err
	}

	if row != nil {
		dist.CensoredCount = database.ToInt64(row["censored"])
	}

	b.applyDistributionFindings(dist)

	b.log.WithFields(logrus.Fields{
		"total_rows":    dist.TotalRows,
		"positive_rate": dist.PositiveRate,
		"censored":      dist.CensoredCount,
	}).Info("Computed target distribution")

	return dist, nil
}

func (b *builder) Cohorts(ctx context.Context, def *Definition, grainSQL, granularity string) (*CohortAnalysis, error) {
	if granularity != "month" && granularity != "quarter" {
		granularity = "month"
	}

	targetSQL, err := GenerateSQL(def, grainSQL)
	if err != nil {
		return nil, err
	}

	rows, err := b.db.Query(ctx, fmt.Sprintf(`SELECT
    DATE_TRUNC('%s', observation_date)::DATE AS period,
    COUNT(*) AS rows,
    AVG(%s::FLOAT) AS positive_rate
FROM (%s) AS t
GROUP BY 1
ORDER BY 1`, granularity, sqlutil.QuoteIdentifier(def.TargetName), targetSQL))
	if err != nil {
		return nil, err
	}

	analysis := &CohortAnalysis{Granularity: granularity}
	rates := make([]float64, 0, len(rows))

	for _, row := range rows {
		cohort := Cohort{
			Period:       database.ToDate(row["period"]),
			Rows:         database.ToInt64(row["rows"]),
			PositiveRate: database.ToFloat64(row["positive_rate"]),
		}
		analysis.Cohorts = append(analysis.Cohorts, cohort)
		rates = append(rates, cohort.PositiveRate)
	}

	analysis.RateCV = coefficientOfVariation(rates)

	switch {
	case len(rates) < 2:
		analysis.Stability = "insufficient_cohorts"
	case analysis.RateCV < 0.15:
		analysis.Stability = "stable"
	case analysis.RateCV < 0.4:
		analysis.Stability = "moderate"
	default:
		analysis.Stability = "unstable"
	}

	return analysis, nil
}

func (b *builder) applyDistributionFindings(dist *Distribution) {
	warn := func(code, msg string) {
		dist.Warnings = append(dist.Warnings, report.Issue{Code: code, Message: msg})
	}

	switch {
	case dist.TotalRows == 0:
		warn("NO_DATA", "target query produced no rows; every grain row may be censored")
	case dist.PositiveCount == 0 || dist.NegativeCount == 0:
		warn("ZERO_VARIANCE", "target has a single class; it cannot train a model")
	case dist.PositiveRate < 0.01 || dist.PositiveRate > 0.99:
		warn("EXTREME_IMBALANCE", fmt.Sprintf("positive rate %.2f%% is outside [1%%, 99%%]", dist.PositiveRate*100))
	case dist.PositiveRate < 0.05 || dist.PositiveRate > 0.95:
		warn("HIGH_IMBALANCE", fmt.Sprintf("positive rate is %.2f%%", dist.PositiveRate*100))
	}

	if dist.PositiveCount > 0 && dist.PositiveCount < lowPositiveThreshold {
		warn("LOW_POSITIVE_COUNT", fmt.Sprintf("only %d positive examples", dist.PositiveCount))
	}

	if dist.CensoredCount > 0 {
		warn("CENSORED_ROWS_EXCLUDED", fmt.Sprintf(
			"%d grain rows were excluded because their label window extends past the extraction date",
			dist.CensoredCount))
	}

	dist.Usable = dist.PositiveCount > 0 && dist.NegativeCount > 0
	dist.Status = report.Rollup(dist.Warnings, nil)
}

func (b *builder) countPositiveRows(ctx context.Context, def *Definition) (int64, error) {
	positives := make([]string, 0, len(def.PositiveValues))
	for _, v := range def.PositiveValues {
		positives = append(positives, sqlutil.QuoteLiteral(v))
	}

	query := fmt.Sprintf("SELECT COUNT(*) AS matches FROM %s WHERE %s IN (%s)",
		sqlutil.QualifiedTable(def.LabelSchema, def.LabelTable),
		sqlutil.QuoteIdentifier(def.LabelValueColumn),
		strings.Join(positives, ", "))

	row, err := b.db.QueryRow(ctx, query)
	if err != nil {
		return 0, err
	}

	if row == nil {
		return 0, nil
	}

	return database.ToInt64(row["matches"]), nil
}

func coefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}

	variance /= float64(len(values))

	return math.Sqrt(variance) / mean
}
