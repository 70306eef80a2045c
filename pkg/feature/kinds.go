// Package feature generates point-in-time-safe feature SQL from a closed
// catalog of templates. Every windowed template aggregates source rows with
//
//	time_column <= observation_date AND
//	time_column > observation_date - window_days
//
// and pre-aggregates to one row per (entity_id, observation_date) so joins
// against the grain can never fan out.
package feature

// Kind identifies a feature template
type Kind string

// Supported templates
const (
	KindRollingCount  Kind = "rolling_count"
	KindRollingSum    Kind = "rolling_sum"
	KindRollingAvg    Kind = "rolling_avg"
	KindRollingMin    Kind = "rolling_min"
	KindRollingMax    Kind = "rolling_max"
	KindRollingStddev Kind = "rolling_stddev"
	KindDistinctCount Kind = "distinct_count"
	KindMode          Kind = "mode"
	KindPctTrue       Kind = "pct_true"
	KindRecency       Kind = "recency"
)

// Spec describes one template in the catalog
type Spec struct {
	Kind        Kind   `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
	NeedsValue  bool   `json:"requires_value_column"`
	NeedsWindow bool   `json:"requires_window"`
}

var catalog = []Spec{
	{KindRollingCount, "Rolling count", "Number of source events in the trailing window", false, true},
	{KindRollingSum, "Rolling sum", "Sum of a numeric column over the trailing window", true, true},
	{KindRollingAvg, "Rolling average", "Average of a numeric column over the trailing window", true, true},
	{KindRollingMin, "Rolling minimum", "Minimum of a numeric column over the trailing window", true, true},
	{KindRollingMax, "Rolling maximum", "Maximum of a numeric column over the trailing window", true, true},
	{KindRollingStddev, "Rolling standard deviation", "Standard deviation of a numeric column over the trailing window", true, true},
	{KindDistinctCount, "Distinct count", "Number of distinct values in the trailing window", true, true},
	{KindMode, "Mode", "Most frequent value in the trailing window", true, true},
	{KindPctTrue, "Percent true", "Share of rows where a boolean column is true in the trailing window", true, true},
	{KindRecency, "Recency", "Days since the most recent event at or before the observation date", false, false},
}

var specByKind = func() map[Kind]Spec {
	m := make(map[Kind]Spec, len(catalog))
	for _, s := range catalog {
		m[s.Kind] = s
	}
	return m
}()

// Catalog lists every supported template
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)

	return out
}

// Lookup returns the spec for a kind
func Lookup(kind Kind) (Spec, bool) {
	s, ok := specByKind[kind]

	return s, ok
}
