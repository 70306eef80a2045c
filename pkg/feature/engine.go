package feature

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/sirupsen/logrus"

	"github.com/granaryml/granary/pkg/report"
	"github.com/granaryml/granary/pkg/sqlutil"
)

// RecencySentinel is emitted when an entity has no prior events
const RecencySentinel = 2147483647

// Definition describes one feature to generate
type Definition struct {
	Name         string `json:"name"`
	Kind         Kind   `json:"kind"`
	SourceSchema string `json:"source_schema,omitempty"`
	SourceTable  string `json:"source_table"`
	JoinColumn   string `json:"join_column"`
	TimeColumn   string `json:"time_column"`
	ValueColumn  string `json:"value_column,omitempty"`
	WindowDays   int    `json:"window_days,omitempty"`
}

// ColumnSet is the generated SQL for one feature
type ColumnSet struct {
	FeatureKey          string   `json:"feature_key"`
	SQL                 string   `json:"sql"`
	Columns             []string `json:"columns"`
	MaxSourceTimeColumn string   `json:"max_source_time_column"`
	WindowDescription   string   `json:"window_description"`
}

// windowedTemplate pre-aggregates the source to the grain key. The
// max_source_time column is a leakage diagnostic, not a model feature.
const windowedTemplate = `SELECT
    g.entity_id,
    g.observation_date,
    {{ .AggExpr }} AS {{ .ColumnName }},
    MAX(e.{{ .TimeCol }}) AS max_source_time
FROM {{ .GrainAlias }} g
LEFT JOIN {{ .Source }} e
    ON e.{{ .JoinCol }} = g.entity_id
    AND e.{{ .TimeCol }}::DATE <= g.observation_date{{ if .WindowDays }}
    AND e.{{ .TimeCol }}::DATE > g.observation_date - INTERVAL '{{ .WindowDays }} days'{{ end }}
GROUP BY g.entity_id, g.observation_date`

var templateFuncs = sprig.TxtFuncMap()

// EngineInterface turns feature definitions into grain-joinable SQL
type EngineInterface interface {
	// Generate renders one feature against the named grain alias
	Generate(def *Definition, grainAlias string) (*ColumnSet, error)
	// GenerateBatch renders a set of features with batch-unique keys
	GenerateBatch(defs []*Definition, grainAlias string) ([]*ColumnSet, error)
}

type engine struct {
	log logrus.FieldLogger
}

// NewEngine creates a feature template engine
func NewEngine(logger logrus.FieldLogger) EngineInterface {
	return &engine{log: logger.WithField("service", "feature")}
}

var _ EngineInterface = (*engine)(nil)

// SetDefaults fills unset optional fields
func (d *Definition) SetDefaults() {
	if d.SourceSchema == "" {
		d.SourceSchema = "public"
	}
}

// Validate checks the definition against its template's requirements.
// Unsupported combinations are rejected here, before any SQL exists.
func (d *Definition) Validate() []report.Issue {
	d.SetDefaults()

	var issues []report.Issue

	addErr := func(field, code, msg string) {
		issues = append(issues, report.Issue{Code: code, Message: msg, Field: field})
	}

	if d.Name == "" {
		addErr("name", "MISSING_FIELD", "feature name is required")
	}

	spec, ok := Lookup(d.Kind)
	if !ok {
		addErr("kind", "UNKNOWN_TEMPLATE", fmt.Sprintf("unknown feature template %q", d.Kind))
		return issues
	}

	for field, name := range map[string]string{
		"source_schema": d.SourceSchema,
		"source_table":  d.SourceTable,
		"join_column":   d.JoinColumn,
		"time_column":   d.TimeColumn,
	} {
		if err := sqlutil.ValidateIdentifier(name); err != nil {
			addErr(field, "INVALID_IDENTIFIER", err.Error())
		}
	}

	if spec.NeedsValue {
		if d.ValueColumn == "" {
			addErr("value_column", "MISSING_FIELD",
				fmt.Sprintf("template %s requires a value_column", d.Kind))
		} else if err := sqlutil.ValidateIdentifier(d.ValueColumn); err != nil {
			addErr("value_column", "INVALID_IDENTIFIER", err.Error())
		}
	} else if d.ValueColumn != "" {
		addErr("value_column", "UNSUPPORTED_FIELD",
			fmt.Sprintf("template %s does not take a value_column", d.Kind))
	}

	if spec.NeedsWindow && d.WindowDays < 1 {
		addErr("window_days", "MISSING_FIELD",
			fmt.Sprintf("template %s requires window_days of at least 1", d.Kind))
	}

	if !spec.NeedsWindow && d.WindowDays != 0 {
		addErr("window_days", "UNSUPPORTED_FIELD",
			fmt.Sprintf("template %s does not take a window", d.Kind))
	}

	return issues
}

func (e *engine) Generate(def *Definition, grainAlias string) (*ColumnSet, error) {
	if issues := def.Validate(); len(issues) > 0 {
		return nil, fmt.Errorf("invalid feature definition %q: %s", def.Name, issues[0].Message)
	}

	key := ColumnKey(def.Name)

	return e.generateWithKey(def, grainAlias, key, columnNameFor(def, key))
}

func (e *engine) GenerateBatch(defs []*Definition, grainAlias string) ([]*ColumnSet, error) {
	keys := make([]string, len(defs))
	for i, def := range defs {
		if issues := def.Validate(); len(issues) > 0 {
			return nil, fmt.Errorf("invalid feature definition %q: %s", def.Name, issues[0].Message)
		}

		keys[i] = ColumnKey(def.Name)
	}

	keys = DedupeKeys(keys)

	// Value-bearing templates derive their column name from the value
	// column, so distinct features can still produce the same name; the
	// output names get the same numeric-suffix treatment as the keys.
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = columnNameFor(def, keys[i])
	}

	names = DedupeKeys(names)

	sets := make([]*ColumnSet, len(defs))
	for i, def := range defs {
		set, err := e.generateWithKey(def, grainAlias, keys[i], names[i])
		if err != nil {
			return nil, err
		}

		sets[i] = set
	}

	return sets, nil
}

func (e *engine) generateWithKey(def *Definition, grainAlias, key, columnName string) (*ColumnSet, error) {
	data := map[string]any{
		"Source":     sqlutil.QualifiedTable(def.SourceSchema, def.SourceTable),
		"JoinCol":    sqlutil.QuoteIdentifier(def.JoinColumn),
		"TimeCol":    sqlutil.QuoteIdentifier(def.TimeColumn),
		"GrainAlias": grainAlias,
		"AggExpr":    aggExprFor(def),
		"ColumnName": sqlutil.QuoteIdentifier(columnName),
		"WindowDays": def.WindowDays,
	}

	tmpl, err := template.New("feature").Funcs(templateFuncs).Parse(windowedTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}

	return &ColumnSet{
		FeatureKey:          key,
		SQL:                 buf.String(),
		Columns:             []string{columnName},
		MaxSourceTimeColumn: "max_source_time",
		WindowDescription:   windowDescription(def),
	}, nil
}

func aggExprFor(def *Definition) string {
	timeCol := sqlutil.QuoteIdentifier(def.TimeColumn)
	joinCol := sqlutil.QuoteIdentifier(def.JoinColumn)

	var valueCol string
	if def.ValueColumn != "" {
		valueCol = "e." + sqlutil.QuoteIdentifier(def.ValueColumn)
	}

	switch def.Kind {
	case KindRollingCount:
		return "COUNT(e." + joinCol + ")"
	case KindRollingSum:
		return "SUM(" + valueCol + ")"
	case KindRollingAvg:
		return "AVG(" + valueCol + ")"
	case KindRollingMin:
		return "MIN(" + valueCol + ")"
	case KindRollingMax:
		return "MAX(" + valueCol + ")"
	case KindRollingStddev:
		return "STDDEV(" + valueCol + ")"
	case KindDistinctCount:
		return "COUNT(DISTINCT " + valueCol + ")"
	case KindMode:
		return "MODE() WITHIN GROUP (ORDER BY " + valueCol + ")"
	case KindPctTrue:
		return "AVG(CASE WHEN " + valueCol + " THEN 1.0 ELSE 0.0 END)"
	case KindRecency:
		return fmt.Sprintf("COALESCE(g.observation_date - MAX(e.%s::DATE), %d)", timeCol, RecencySentinel)
	default:
		return ""
	}
}

func columnNameFor(def *Definition, key string) string {
	base := ColumnKey(def.ValueColumn)

	switch def.Kind {
	case KindRollingCount:
		return fmt.Sprintf("%s_count_%dd", key, def.WindowDays)
	case KindRollingSum:
		return fmt.Sprintf("%s_sum_%dd", base, def.WindowDays)
	case KindRollingAvg:
		return fmt.Sprintf("%s_avg_%dd", base, def.WindowDays)
	case KindRollingMin:
		return fmt.Sprintf("%s_min_%dd", base, def.WindowDays)
	case KindRollingMax:
		return fmt.Sprintf("%s_max_%dd", base, def.WindowDays)
	case KindRollingStddev:
		return fmt.Sprintf("%s_stddev_%dd", base, def.WindowDays)
	case KindDistinctCount:
		return fmt.Sprintf("%s_distinct_%dd", base, def.WindowDays)
	case KindMode:
		return fmt.Sprintf("%s_mode_%dd", base, def.WindowDays)
	case KindPctTrue:
		return fmt.Sprintf("%s_pct_true_%dd", base, def.WindowDays)
	case KindRecency:
		return "days_since_" + key
	default:
		return key
	}
}

func windowDescription(def *Definition) string {
	if def.Kind == KindRecency {
		return "all history at or before the observation date"
	}

	return fmt.Sprintf("trailing %d days ending at the observation date", def.WindowDays)
}
