package target

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/granaryml/granary/pkg/sqlutil"
)

// ctesTemplate holds the two label CTEs. An event contributes to the label
// only when it falls after the blind gap and within the label window:
//
//	observation_date + maturity < event_date <= observation_date + maturity + window
//
// Grain rows whose full horizon passes the extraction date are excluded as
// right-censored rather than labeled 0.
const ctesTemplate = `label_events AS (
    SELECT
        {{ .JoinCol }} AS entity_id,
        {{ .EventTimeCol }}::DATE AS event_date,
        CASE WHEN {{ .ValueCol }} IN ({{ .PositiveList }}) THEN TRUE ELSE FALSE END AS is_positive
    FROM {{ .LabelTable }}
    WHERE {{ .JoinCol }} IS NOT NULL
),
target_calc AS (
    SELECT
        g.entity_id,
        g.observation_date,
        MAX(CASE
            WHEN le.is_positive
                 AND le.event_date > g.observation_date + INTERVAL '{{ .MaturityMonths }} months'
                 AND le.event_date <= g.observation_date + INTERVAL '{{ .TotalMonths }} months'
            THEN 1 ELSE 0
        END) AS {{ .TargetCol }}
    FROM {{ .GrainAlias }} g
    LEFT JOIN label_events le ON le.entity_id = g.entity_id
    WHERE g.observation_date + INTERVAL '{{ .TotalMonths }} months' <= {{ .ExtractionExpr }}
    GROUP BY g.entity_id, g.observation_date
)`

var templateFuncs = sprig.TxtFuncMap()

func render(name, content string, data any) (string, error) {
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

// GenerateCTEs renders the label_events and target_calc CTE bodies against
// the named grain CTE alias, for embedding into a larger WITH chain.
func GenerateCTEs(def *Definition, grainAlias string) (string, error) {
	def.SetDefaults()

	if issues := def.Validate(); len(issues) > 0 {
		return "", fmt.Errorf("invalid target definition: %s", issues[0].Message)
	}

	positives := make([]string, 0, len(def.PositiveValues))
	for _, v := range def.PositiveValues {
		positives = append(positives, sqlutil.QuoteLiteral(v))
	}

	extractionExpr := "CURRENT_DATE"
	if def.ExtractionDate != "" {
		extractionExpr = def.ExtractionDate
		extractionExpr = sqlutil.QuoteLiteral(extractionExpr) + "::DATE"
	}

	return render("target_ctes", ctesTemplate, map[string]any{
		"LabelTable":     sqlutil.QualifiedTable(def.LabelSchema, def.LabelTable),
		"JoinCol":        sqlutil.QuoteIdentifier(def.JoinColumn),
		"EventTimeCol":   sqlutil.QuoteIdentifier(def.EventTimeColumn),
		"ValueCol":       sqlutil.QuoteIdentifier(def.LabelValueColumn),
		"PositiveList":   strings.Join(positives, ", "),
		"MaturityMonths": def.MaturityMonths,
		"TotalMonths":    def.TotalMonths(),
		"TargetCol":      sqlutil.QuoteIdentifier(def.TargetName),
		"GrainAlias":     grainAlias,
		"ExtractionExpr": extractionExpr,
	})
}

// GenerateSQL renders a standalone target query over the given grain SQL
func GenerateSQL(def *Definition, grainSQL string) (string, error) {
	ctes, err := GenerateCTEs(def, "grain")
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("WITH grain AS (\n%s\n),\n%s\nSELECT * FROM target_calc",
		sqlutil.StripTrailingSemicolons(grainSQL), ctes), nil
}
