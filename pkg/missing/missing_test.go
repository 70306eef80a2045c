package missing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granaryml/granary/pkg/feature"
)

func TestValidatePolicies(t *testing.T) {
	columns := []string{"amount_sum_30d", "days_since_purchase"}

	tests := []struct {
		name     string
		policies []ColumnPolicy
		wantCode string
	}{
		{
			name:     "valid",
			policies: []ColumnPolicy{{Column: "amount_sum_30d", Strategy: StrategyZero}},
		},
		{
			name:     "unknown column",
			policies: []ColumnPolicy{{Column: "ghost", Strategy: StrategyZero}},
			wantCode: "UNKNOWN_COLUMN",
		},
		{
			name: "duplicate policy",
			policies: []ColumnPolicy{
				{Column: "amount_sum_30d", Strategy: StrategyZero},
				{Column: "amount_sum_30d", Strategy: StrategyNull},
			},
			wantCode: "DUPLICATE_POLICY",
		},
		{
			name:     "unknown strategy",
			policies: []ColumnPolicy{{Column: "amount_sum_30d", Strategy: "median"}},
			wantCode: "UNKNOWN_STRATEGY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := ValidatePolicies(tt.policies, columns)

			if tt.wantCode == "" {
				assert.Empty(t, issues)
				return
			}

			require.NotEmpty(t, issues)

			codes := make([]string, 0, len(issues))
			for _, issue := range issues {
				codes = append(codes, issue.Code)
			}

			assert.Contains(t, codes, tt.wantCode)
		})
	}
}

func TestBuildPlanZero(t *testing.T) {
	plan := BuildPlan([]ColumnPolicy{{Column: "amount_sum_30d", Strategy: StrategyZero}},
		[]string{"amount_sum_30d"}, false)

	assert.Equal(t, []string{`COALESCE("amount_sum_30d", 0) AS "amount_sum_30d"`}, plan.SelectExprs)
	assert.Empty(t, plan.PostSQLImpute)
}

func TestBuildPlanSentinel(t *testing.T) {
	sentinel := 3650.0
	plan := BuildPlan([]ColumnPolicy{
		{Column: "days_since_purchase", Strategy: StrategySentinel, SentinelValue: &sentinel, AddIndicator: true},
	}, []string{"days_since_purchase"}, false)

	require.Len(t, plan.SelectExprs, 2)
	assert.Equal(t, `COALESCE("days_since_purchase", 3650) AS "days_since_purchase"`, plan.SelectExprs[0])
	assert.Equal(t, `CASE WHEN "days_since_purchase" IS NULL THEN 1 ELSE 0 END AS "is_missing_days_since_purchase"`, plan.SelectExprs[1])
	assert.Equal(t, []string{"is_missing_days_since_purchase"}, plan.IndicatorColumns)
}

func TestBuildPlanSentinelDefault(t *testing.T) {
	plan := BuildPlan([]ColumnPolicy{{Column: "x", Strategy: StrategySentinel}}, []string{"x"}, false)

	assert.Equal(t, []string{`COALESCE("x", 99999) AS "x"`}, plan.SelectExprs)
}

func TestBuildPlanMeanBecomesPostSQLStep(t *testing.T) {
	plan := BuildPlan([]ColumnPolicy{{Column: "amount_avg_90d", Strategy: StrategyMean}},
		[]string{"amount_avg_90d"}, true)

	// The column passes through untouched; the fill happens after
	// materialization over the train split only.
	assert.Equal(t, []string{`"amount_avg_90d"`}, plan.SelectExprs)
	require.Len(t, plan.PostSQLImpute, 1)
	assert.Equal(t, ImputeStep{Column: "amount_avg_90d", Statistic: "mean", Population: "train"}, plan.PostSQLImpute[0])
}

func TestBuildPlanMeanWithoutSplit(t *testing.T) {
	plan := BuildPlan([]ColumnPolicy{{Column: "x", Strategy: StrategyMean}}, []string{"x"}, false)

	assert.Equal(t, "all", plan.PostSQLImpute[0].Population)
}

func TestBuildPlanUnpolicied(t *testing.T) {
	plan := BuildPlan(nil, []string{"a", "b"}, false)

	assert.Equal(t, []string{`"a"`, `"b"`}, plan.SelectExprs)
}

func TestWrapCTE(t *testing.T) {
	plan := BuildPlan([]ColumnPolicy{{Column: "a", Strategy: StrategyZero}}, []string{"a"}, false)

	sql := WrapCTE(plan, "feature_1")

	assert.Contains(t, sql, "SELECT\n    entity_id,\n    observation_date,")
	assert.Contains(t, sql, `COALESCE("a", 0) AS "a"`)
	assert.Contains(t, sql, "FROM feature_1")
}

func TestRecommended(t *testing.T) {
	assert.Equal(t, StrategyZero, Recommended(feature.KindRollingCount, "c").Strategy)
	assert.Equal(t, StrategyZero, Recommended(feature.KindRollingSum, "c").Strategy)

	recency := Recommended(feature.KindRecency, "c")
	assert.Equal(t, StrategySentinel, recency.Strategy)
	assert.True(t, recency.AddIndicator)

	avg := Recommended(feature.KindRollingAvg, "c")
	assert.Equal(t, StrategyNull, avg.Strategy)
	assert.True(t, avg.AddIndicator)
}
