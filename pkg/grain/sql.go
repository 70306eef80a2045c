package grain

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/granaryml/granary/pkg/sqlutil"
)

// columnTemplate is the grain query for the column strategy. Dedup uses a
// ROW_NUMBER window partitioned by the full (entity, observation_date) key
// with a deterministic tie-break, so only same-key duplicates collapse.
const columnTemplate = `{{- if .Dedup -}}
WITH ranked AS (
    SELECT
        {{ .EntityCol }} AS entity_id,
        {{ .ObsCol }}::DATE AS observation_date,
        ROW_NUMBER() OVER (
            PARTITION BY {{ .EntityCol }}, {{ .ObsCol }}::DATE
            ORDER BY {{ .OrderBy }} {{ .OrderDir }}, {{ .Tiebreaker }} {{ .OrderDir }}
        ) AS rn
    FROM {{ .Source }}
    WHERE {{ .EntityCol }} IS NOT NULL{{ if .DateFilter }}
      AND {{ .DateFilter }}{{ end }}
)
SELECT
    entity_id,
    observation_date{{ if .SplitExpr }},
    {{ .SplitExpr }}{{ end }}
FROM ranked
WHERE rn = 1
{{- else -}}
SELECT
    {{ .EntityCol }} AS entity_id,
    {{ .ObsCol }}::DATE AS observation_date{{ if .SplitExpr }},
    {{ .SplitExpr }}{{ end }}
FROM {{ .Source }}
WHERE {{ .EntityCol }} IS NOT NULL{{ if .DateFilter }}
  AND {{ .DateFilter }}{{ end }}
{{- end -}}`

// snapshotTemplate generates calendar observation dates per entity. The
// min-history filter drops dates before an entity has enough trailing data.
const snapshotTemplate = `WITH calendar AS (
    SELECT {{ .SnapshotExpr }} AS observation_date
    FROM generate_series({{ .RangeStart }}::DATE, {{ .RangeEnd }}::DATE, INTERVAL '{{ .Step }}') AS d
),
entities AS (
    SELECT
        {{ .EntityCol }} AS entity_id{{ if .MinHistory }},
        MIN({{ .ObsCol }}::DATE) AS first_activity_date{{ end }}
    FROM {{ .Source }}
    WHERE {{ .EntityCol }} IS NOT NULL
    GROUP BY {{ .EntityCol }}
)
SELECT
    e.entity_id,
    c.observation_date{{ if .SplitExpr }},
    {{ .SplitExpr }}{{ end }}
FROM entities e
CROSS JOIN calendar c
WHERE c.observation_date BETWEEN {{ .RangeStart }} AND {{ .RangeEnd }}
{{- if .MinHistory }}
  AND c.observation_date >= e.first_activity_date + INTERVAL '{{ .MinHistoryDays }} days'
{{- end }}`

var templateFuncs = sprig.TxtFuncMap()

func renderTemplate(name, content string, data any) (string, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs).Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// GenerateSQL renders the grain query for a validated definition.
// includeSplit controls whether the split label column is emitted.
func GenerateSQL(def *Definition, includeSplit bool) (string, error) {
	def.SetDefaults()

	if issues := def.Validate(); len(issues) > 0 {
		return "", fmt.Errorf("invalid grain definition: %s", issues[0].Message)
	}

	splitExpr := ""
	if includeSplit && def.Split != nil {
		col := "observation_date"
		if def.IsSnapshot() {
			col = "c.observation_date"
		}

		splitExpr = fmt.Sprintf(
			"CASE WHEN %s <= %s::DATE THEN 'train' WHEN %s <= %s::DATE THEN 'valid' ELSE 'test' END AS split",
			col, sqlutil.QuoteLiteral(def.Split.TrainEnd),
			col, sqlutil.QuoteLiteral(def.Split.ValidEnd))
	}

	if def.IsSnapshot() {
		return generateSnapshotSQL(def, splitExpr)
	}

	return generateColumnSQL(def, splitExpr)
}

func generateColumnSQL(def *Definition, splitExpr string) (string, error) {
	obsCol := sqlutil.QuoteIdentifier(def.ObservationDateColumn)

	dateFilter := ""
	if def.DateRange != nil {
		dateFilter = fmt.Sprintf("%s::DATE BETWEEN %s AND %s",
			obsCol,
			sqlutil.QuoteLiteral(def.DateRange.Start),
			sqlutil.QuoteLiteral(def.DateRange.End))
	}

	data := map[string]any{
		"Source":     sqlutil.QualifiedTable(def.SourceSchema, def.SourceTable),
		"EntityCol":  sqlutil.QuoteIdentifier(def.EntityIDColumn),
		"ObsCol":     obsCol,
		"DateFilter": dateFilter,
		"SplitExpr":  splitExpr,
		"Dedup":      false,
	}

	if def.DedupRule == DedupKeepLatest || def.DedupRule == DedupKeepFirst {
		dir := "DESC"
		if def.DedupRule == DedupKeepFirst {
			dir = "ASC"
		}

		// ctid breaks ties deterministically when no tie-break column is
		// configured.
		tiebreaker := "ctid"
		if def.DedupTiebreaker != "" {
			tiebreaker = sqlutil.QuoteIdentifier(def.DedupTiebreaker)
		}

		data["Dedup"] = true
		data["OrderBy"] = sqlutil.QuoteIdentifier(def.DedupOrderBy)
		data["OrderDir"] = dir
		data["Tiebreaker"] = tiebreaker
	}

	return renderTemplate("grain_column", columnTemplate, data)
}

func generateSnapshotSQL(def *Definition, splitExpr string) (string, error) {
	var snapshotExpr, step string

	switch def.Strategy {
	case StrategyMonthlySnapshot:
		snapshotExpr = "(DATE_TRUNC('month', d) + INTERVAL '1 month - 1 day')::DATE"
		step = "1 month"
	case StrategyWeeklySnapshot:
		snapshotExpr = "(DATE_TRUNC('week', d) + INTERVAL '6 days')::DATE"
		step = "1 week"
	case StrategyDailySnapshot:
		snapshotExpr = "d::DATE"
		step = "1 day"
	default:
		return "", fmt.Errorf("strategy %q is not a snapshot strategy", def.Strategy)
	}

	data := map[string]any{
		"Source":         sqlutil.QualifiedTable(def.SourceSchema, def.SourceTable),
		"EntityCol":      sqlutil.QuoteIdentifier(def.EntityIDColumn),
		"SnapshotExpr":   snapshotExpr,
		"Step":           step,
		"RangeStart":     sqlutil.QuoteLiteral(def.DateRange.Start),
		"RangeEnd":       sqlutil.QuoteLiteral(def.DateRange.End),
		"MinHistory":     def.MinHistoryDays > 0,
		"MinHistoryDays": def.MinHistoryDays,
		"SplitExpr":      splitExpr,
	}

	if def.MinHistoryDays > 0 {
		data["ObsCol"] = sqlutil.QuoteIdentifier(def.ObservationDateColumn)
	}

	return renderTemplate("grain_snapshot", snapshotTemplate, data)
}
