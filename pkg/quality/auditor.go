// Package quality audits an assembled dataset before export: joinability of
// every source against the grain, point-in-time leakage, and distribution
// summaries that flag unusable columns.
package quality

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/granaryml/granary/pkg/database"
	"github.com/granaryml/granary/pkg/feature"
	"github.com/granaryml/granary/pkg/report"
	"github.com/granaryml/granary/pkg/sqlutil"
	"github.com/granaryml/granary/pkg/target"
)

// Joinability thresholds on the sampled match rate
const (
	joinabilityOK      = 0.90
	joinabilityWarning = 0.50
	sampleSize         = 1000
)

// Finding is one check outcome in the report
type Finding struct {
	Check      string        `json:"check"`
	Subject    string        `json:"subject"`
	Status     report.Status `json:"status"`
	Message    string        `json:"message,omitempty"`
	MatchRate  *float64      `json:"match_rate,omitempty"`
	SampleSize int64         `json:"sample_size,omitempty"`
}

// ColumnProfile summarizes one feature column of the assembled dataset
type ColumnProfile struct {
	Column        string  `json:"column"`
	NullRate      float64 `json:"null_rate"`
	DistinctCount int64   `json:"distinct_count"`
	LowVariance   bool    `json:"low_variance"`
}

// Report is the full audit outcome
type Report struct {
	Status          report.Status   `json:"status"`
	Findings        []Finding       `json:"findings"`
	ColumnProfiles  []ColumnProfile `json:"column_profiles,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// AuditorInterface runs dataset quality checks
type AuditorInterface interface {
	// Audit checks joinability and leakage for every feature, and
	// joinability for the target when one is defined
	Audit(ctx context.Context, grainSQL string, targetDef *target.Definition, features []*feature.Definition, sets []*feature.ColumnSet) (*Report, error)
	// ProfileColumns computes null rates and variance flags over the
	// assembled dataset
	ProfileColumns(ctx context.Context, datasetSQL string, columns []string) ([]ColumnProfile, error)
}

type auditor struct {
	log logrus.FieldLogger
	db  database.ClientInterface
}

// NewAuditor creates a quality auditor
func NewAuditor(logger logrus.FieldLogger, db database.ClientInterface) AuditorInterface {
	return &auditor{
		log: logger.WithField("service", "quality"),
		db:  db,
	}
}

var _ AuditorInterface = (*auditor)(nil)

func (a *auditor) Audit(ctx context.Context, grainSQL string, targetDef *target.Definition, features []*feature.Definition, sets []*feature.ColumnSet) (*Report, error) {
	rep := &Report{Status: report.StatusOK}

	if targetDef != nil {
		finding, err := a.checkJoinability(ctx, grainSQL, "target",
			sqlutil.QualifiedTable(targetDef.LabelSchema, targetDef.LabelTable),
			sqlutil.QuoteIdentifier(targetDef.JoinColumn))
		if err != nil {
			return nil, err
		}

		a.addFinding(rep, finding)
	}

	for i, def := range features {
		subject := def.Name
		if i < len(sets) {
			subject = sets[i].FeatureKey
		}

		finding, err := a.checkJoinability(ctx, grainSQL, subject,
			sqlutil.QualifiedTable(def.SourceSchema, def.SourceTable),
			sqlutil.QuoteIdentifier(def.JoinColumn))
		if err != nil {
			return nil, err
		}

		a.addFinding(rep, finding)

		if i < len(sets) {
			leakage, err := a.checkLeakage(ctx, subject, sets[i])
			if err != nil {
				return nil, err
			}

			a.addFinding(rep, leakage)
		}
	}

	a.recommend(rep)

	a.log.WithFields(logrus.Fields{
		"status":   rep.Status,
		"findings": len(rep.Findings),
	}).Info("Completed quality audit")

	return rep, nil
}

// checkJoinability samples distinct grain entities and measures how many
// have at least one row in the source table.
func (a *auditor) checkJoinability(ctx context.Context, grainSQL, subject, source, joinCol string) (Finding, error) {
	query := fmt.Sprintf(`SELECT
    COUNT(*) AS sampled,
    COUNT(s.%s) AS matched
FROM (
    SELECT DISTINCT entity_id FROM (%s) AS g LIMIT %d
) AS sample
LEFT JOIN (SELECT DISTINCT %s FROM %s) AS s ON s.%s = sample.entity_id`,
		joinCol, sqlutil.StripTrailingSemicolons(grainSQL), sampleSize, joinCol, source, joinCol)

	row, err := a.db.QueryRow(ctx, query)
	if err != nil {
		return Finding{}, err
	}

	var sampled, matched int64
	if row != nil {
		sampled = database.ToInt64(row["sampled"])
		matched = database.ToInt64(row["matched"])
	}

	rate := 0.0
	if sampled > 0 {
		rate = float64(matched) / float64(sampled)
	}

	finding := Finding{
		Check:      "joinability",
		Subject:    subject,
		MatchRate:  &rate,
		SampleSize: sampled,
	}

	switch {
	case rate >= joinabilityOK:
		finding.Status = report.StatusOK
	case rate >= joinabilityWarning:
		finding.Status = report.StatusWarning
		finding.Message = fmt.Sprintf(
			"only %.1f%% of sampled grain entities have rows in %s; many features will be filled",
			rate*100, source)
	default:
		finding.Status = report.StatusError
		finding.Message = fmt.Sprintf(
			"%.1f%% of sampled grain entities match %s on %s; the join key is probably wrong",
			rate*100, source, joinCol)
	}

	return finding, nil
}

// checkLeakage counts sampled feature rows whose max contributing source
// time lands after the observation date.
func (a *auditor) checkLeakage(ctx context.Context, subject string, set *feature.ColumnSet) (Finding, error) {
	if set.MaxSourceTimeColumn == "" {
		return Finding{
			Check:   "leakage",
			Subject: subject,
			Status:  report.StatusWarning,
			Message: "feature exposes no source-time column; leakage cannot be verified",
		}, nil
	}

	query := fmt.Sprintf(`SELECT
    COUNT(*) AS sampled,
    COALESCE(SUM(CASE WHEN %s::DATE > observation_date THEN 1 ELSE 0 END), 0) AS leaked
FROM (SELECT * FROM (%s) AS f LIMIT %d) AS sample`,
		set.MaxSourceTimeColumn, set.SQL, sampleSize)

	row, err := a.db.QueryRow(ctx, query)
	if err != nil {
		return Finding{}, err
	}

	var sampled, leaked int64
	if row != nil {
		sampled = database.ToInt64(row["sampled"])
		leaked = database.ToInt64(row["leaked"])
	}

	finding := Finding{
		Check:      "leakage",
		Subject:    subject,
		Status:     report.StatusOK,
		SampleSize: sampled,
	}

	if leaked > 0 {
		finding.Status = report.StatusError
		finding.Message = fmt.Sprintf(
			"%d of %d sampled rows aggregate source data from after the observation date", leaked, sampled)
	}

	return finding, nil
}

func (a *auditor) ProfileColumns(ctx context.Context, datasetSQL string, columns []string) ([]ColumnProfile, error) {
	profiles := make([]ColumnProfile, 0, len(columns))

	for _, column := range columns {
		quoted := sqlutil.QuoteIdentifier(column)

		row, err := a.db.QueryRow(ctx, fmt.Sprintf(`SELECT
    COUNT(*) AS total,
    COUNT(*) - COUNT(%s) AS nulls,
    COUNT(DISTINCT %s) AS distincts
FROM (%s) AS d`, quoted, quoted, sqlutil.StripTrailingSemicolons(datasetSQL)))
		if err != nil {
			return nil, err
		}

		profile := ColumnProfile{Column: column}

		if row != nil {
			total := database.ToInt64(row["total"])
			nulls := database.ToInt64(row["nulls"])
			profile.DistinctCount = database.ToInt64(row["distincts"])

			if total > 0 {
				profile.NullRate = float64(nulls) / float64(total)
			}

			profile.LowVariance = profile.DistinctCount <= 1
		}

		profiles = append(profiles, profile)
	}

	return profiles, nil
}

func (a *auditor) addFinding(rep *Report, finding Finding) {
	rep.Findings = append(rep.Findings, finding)
	rep.Status = report.Worst(rep.Status, finding.Status)
}

func (a *auditor) recommend(rep *Report) {
	for _, f := range rep.Findings {
		switch {
		case f.Check == "joinability" && f.Status == report.StatusError:
			rep.Recommendations = append(rep.Recommendations,
				fmt.Sprintf("fix or drop %s: its join key barely matches the grain", f.Subject))
		case f.Check == "leakage" && f.Status == report.StatusError:
			rep.Recommendations = append(rep.Recommendations,
				fmt.Sprintf("fix %s before training: it reads data from after the observation date", f.Subject))
		}
	}
}
