package grain

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/granaryml/granary/pkg/database"
	"github.com/granaryml/granary/pkg/report"
	"github.com/granaryml/granary/pkg/schema"
	"github.com/granaryml/granary/pkg/sqlutil"
)

const staleObservationDays = 30

// Stats summarizes the built grain
type Stats struct {
	TotalRows           int64            `json:"total_rows"`
	UniqueEntities      int64            `json:"unique_entities"`
	DuplicateKeyCount   int64            `json:"duplicate_key_count"`
	NullEntityCount     int64            `json:"null_entity_count"`
	EstimatedSourceRows int64            `json:"estimated_source_rows"`
	MinObservationDate  string           `json:"min_observation_date,omitempty"`
	MaxObservationDate  string           `json:"max_observation_date,omitempty"`
	SplitCounts         map[string]int64 `json:"split_counts,omitempty"`
}

// Result is the outcome of building a grain
type Result struct {
	Status   report.Status  `json:"status"`
	GrainSQL string         `json:"grain_sql,omitempty"`
	Stats    *Stats         `json:"stats,omitempty"`
	Warnings []report.Issue `json:"warnings,omitempty"`
	Errors   []report.Issue `json:"errors,omitempty"`
}

// Preview is a row-limited sample of the grain
type Preview struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// BuilderInterface builds and inspects grains
type BuilderInterface interface {
	// Build validates the definition, generates the grain SQL, and
	// profiles the result against the live database
	Build(ctx context.Context, def *Definition) (*Result, error)
	// Preview returns the first rows of the grain
	Preview(ctx context.Context, def *Definition, limit int) (*Preview, error)
}

type builder struct {
	log       logrus.FieldLogger
	db        database.ClientInterface
	inspector schema.Inspector
	now       func() time.Time
}

// NewBuilder creates a grain builder
func NewBuilder(logger logrus.FieldLogger, db database.ClientInterface, inspector schema.Inspector) BuilderInterface {
	return &builder{
		log:       logger.WithField("service", "grain"),
		db:        db,
		inspector: inspector,
		now:       time.Now,
	}
}

var _ BuilderInterface = (*builder)(nil)

func (b *builder) Build(ctx context.Context, def *Definition) (*Result, error) {
	if issues := def.Validate(); len(issues) > 0 {
		return &Result{Status: report.StatusError, Errors: issues}, nil
	}

	if err := b.checkSchema(ctx, def); err != nil {
		return nil, err
	}

	grainSQL, err := GenerateSQL(def, true)
	if err != nil {
		return nil, err
	}

	stats, err := b.collectStats(ctx, def, grainSQL)
	if err != nil {
		return nil, err
	}

	result := &Result{GrainSQL: grainSQL, Stats: stats}
	b.applyFindings(def, stats, result)
	result.Status = report.Rollup(result.Warnings, result.Errors)

	b.log.WithFields(logrus.Fields{
		"status":          result.Status,
		"total_rows":      stats.TotalRows,
		"unique_entities": stats.UniqueEntities,
	}).Info("Built grain")

	return result, nil
}

func (b *builder) Preview(ctx context.Context, def *Definition, limit int) (*Preview, error) {
	if issues := def.Validate(); len(issues) > 0 {
		return nil, fmt.Errorf("invalid grain definition: %s", issues[0].Message)
	}

	grainSQL, err := GenerateSQL(def, true)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 100
	}

	rows, err := b.db.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) AS grain_preview LIMIT %d", grainSQL, limit))
	if err != nil {
		return nil, err
	}

	columns := []string{"entity_id", "observation_date"}
	if def.Split != nil {
		columns = append(columns, "split")
	}

	return &Preview{Columns: columns, Rows: rows}, nil
}

func (b *builder) checkSchema(ctx context.Context, def *Definition) error {
	required := []string{def.EntityIDColumn}
	if def.ObservationDateColumn != "" {
		required = append(required, def.ObservationDateColumn)
	}

	if def.DedupOrderBy != "" {
		required = append(required, def.DedupOrderBy)
	}

	if def.DedupTiebreaker != "" {
		required = append(required, def.DedupTiebreaker)
	}

	_, err := b.inspector.RequireColumns(ctx, def.SourceSchema, def.SourceTable, required...)

	return err
}

func (b *builder) collectStats(ctx context.Context, def *Definition, grainSQL string) (*Stats, error) {
	stats := &Stats{}

	// Planner estimate first; cheap for large source tables.
	row, err := b.db.QueryRow(ctx, fmt.Sprintf(
		"SELECT reltuples::BIGINT AS estimate FROM pg_class WHERE oid = '%s'::regclass",
		sqlutil.QualifiedTable(def.SourceSchema, def.SourceTable)))
	if err != nil {
		return nil, err
	}

	if row != nil {
		stats.EstimatedSourceRows = database.ToInt64(row["estimate"])
	}

	row, err = b.db.QueryRow(ctx, fmt.Sprintf(`SELECT
    COUNT(*) AS total_rows,
    COUNT(DISTINCT entity_id) AS unique_entities,
    MIN(observation_date) AS min_observation_date,
    MAX(observation_date) AS max_observation_date
FROM (%s) AS g`, grainSQL))
	if err != nil {
		return nil, err
	}

	if row != nil {
		stats.TotalRows = database.ToInt64(row["total_rows"])
		stats.UniqueEntities = database.ToInt64(row["unique_entities"])
		stats.MinObservationDate = database.ToDate(row["min_observation_date"])
		stats.MaxObservationDate = database.ToDate(row["max_observation_date"])
	}

	row, err = b.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) AS duplicate_keys
FROM (
    SELECT entity_id, observation_date
    FROM (%s) AS g
    GROUP BY entity_id, observation_date
    HAVING COUNT(*) > 1
) AS d`, grainSQL))
	if err != nil {
		return nil, err
	}

	if row != nil {
		stats.DuplicateKeyCount = database.ToInt64(row["duplicate_keys"])
	}

	row, err = b.db.QueryRow(ctx, fmt.Sprintf(
		"SELECT COUNT(*) AS null_entities FROM %s WHERE %s IS NULL",
		sqlutil.QualifiedTable(def.SourceSchema, def.SourceTable),
		sqlutil.QuoteIdentifier(def.EntityIDColumn)))
	if err != nil {
		return nil, err
	}

	if row != nil {
		stats.NullEntityCount = database.ToInt64(row["null_entities"])
	}

	if def.Split != nil {
		rows, err := b.db.Query(ctx, fmt.Sprintf(
			"SELECT split, COUNT(*) AS rows FROM (%s) AS g GROUP BY split", grainSQL))
		if err != nil {
			return nil, err
		}

		stats.SplitCounts = map[string]int64{"train": 0, "valid": 0, "test": 0}
		for _, r := range rows {
			stats.SplitCounts[database.ToString(r["split"])] = database.ToInt64(r["rows"])
		}
	}

	return stats, nil
}

func (b *builder) applyFindings(def *Definition, stats *Stats, result *Result) {
	warn := func(code, msg string) {
		result.Warnings = append(result.Warnings, report.Issue{Code: code, Message: msg})
	}

	if stats.TotalRows == 0 {
		result.Errors = append(result.Errors, report.Issue{
			Code:    "EMPTY_GRAIN",
			Message: "grain query returned no rows; check the date range and source table",
		})

		return
	}

	if stats.DuplicateKeyCount > 0 {
		if def.DedupRule == DedupError {
			result.Errors = append(result.Errors, report.Issue{
				Code: "DUPLICATE_GRAIN_KEYS",
				Message: fmt.Sprintf(
					"%d duplicate (entity_id, observation_date) keys; configure a dedup rule or fix the source",
					stats.DuplicateKeyCount),
			})
		} else if def.DedupRule == DedupKeepAll {
			warn("DUPLICATE_GRAIN_KEYS", fmt.Sprintf(
				"%d duplicate grain keys retained by keep_all; joins will fan out", stats.DuplicateKeyCount))
		}
	}

	if stats.NullEntityCount > 0 {
		warn("NULL_ENTITY_IDS", fmt.Sprintf(
			"%d source rows with NULL %s were excluded", stats.NullEntityCount, def.EntityIDColumn))
	}

	if stats.MaxObservationDate != "" {
		if maxDate, err := time.Parse("2006-01-02", stats.MaxObservationDate); err == nil {
			age := int(b.now().Sub(maxDate).Hours() / 24)
			if age > staleObservationDays {
				warn("STALE_OBSERVATIONS", fmt.Sprintf(
					"latest observation date %s is %d days old", stats.MaxObservationDate, age))
			}
		}
	}

	for _, bucket := range []string{"train", "valid", "test"} {
		count, ok := stats.SplitCounts[bucket]
		if !ok {
			continue
		}

		switch {
		case count == 0:
			warn("EMPTY_SPLIT_BUCKET", fmt.Sprintf("split bucket %q has no rows", bucket))
		case stats.TotalRows > 0 && float64(count)/float64(stats.TotalRows) < 0.05:
			warn("SMALL_SPLIT_BUCKET", fmt.Sprintf(
				"split bucket %q holds under 5%% of rows (%d of %d)", bucket, count, stats.TotalRows))
		}
	}
}
