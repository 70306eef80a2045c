package grain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateColumnSQL(t *testing.T) {
	sql, err := GenerateSQL(validColumnDef(), false)
	require.NoError(t, err)

	assert.Contains(t, sql, `"loan_id" AS entity_id`)
	assert.Contains(t, sql, `"origination_date"::DATE AS observation_date`)
	assert.Contains(t, sql, `FROM "public"."loans"`)
	assert.Contains(t, sql, `"loan_id" IS NOT NULL`)
	assert.NotContains(t, sql, "ROW_NUMBER")
}

func TestGenerateColumnSQLWithDateRange(t *testing.T) {
	def := validColumnDef()
	def.DateRange = &DateRange{Start: "2023-01-01", End: "2023-12-31"}

	sql, err := GenerateSQL(def, false)
	require.NoError(t, err)

	assert.Contains(t, sql, `"origination_date"::DATE BETWEEN '2023-01-01' AND '2023-12-31'`)
}

func TestGenerateColumnSQLKeepLatest(t *testing.T) {
	def := validColumnDef()
	def.DedupRule = DedupKeepLatest
	def.DedupOrderBy = "updated_at"

	sql, err := GenerateSQL(def, false)
	require.NoError(t, err)

	assert.Contains(t, sql, "ROW_NUMBER() OVER (")
	assert.Contains(t, sql, `PARTITION BY "loan_id", "origination_date"::DATE`)
	assert.Contains(t, sql, `ORDER BY "updated_at" DESC, ctid DESC`)
	assert.Contains(t, sql, "WHERE rn = 1")
}

func TestDedupPartitionsByFullGrainKey(t *testing.T) {
	// keep_latest and keep_first resolve duplicates of one
	// (entity_id, observation_date) key; rows for the same entity on
	// different dates must all survive.
	for _, rule := range []DedupRule{DedupKeepLatest, DedupKeepFirst} {
		def := validColumnDef()
		def.SourceTable = "clients"
		def.EntityIDColumn = "client_id"
		def.ObservationDateColumn = "snapshot_date"
		def.DedupRule = rule
		def.DedupOrderBy = "loaded_at"

		sql, err := GenerateSQL(def, false)
		require.NoError(t, err)

		assert.Contains(t, sql, `PARTITION BY "client_id", "snapshot_date"::DATE`, "rule %s", rule)
	}
}

func TestGenerateColumnSQLKeepFirstWithTiebreaker(t *testing.T) {
	def := validColumnDef()
	def.DedupRule = DedupKeepFirst
	def.DedupOrderBy = "updated_at"
	def.DedupTiebreaker = "id"

	sql, err := GenerateSQL(def, false)
	require.NoError(t, err)

	assert.Contains(t, sql, `ORDER BY "updated_at" ASC, "id" ASC`)
}

func TestGenerateMonthlySnapshotSQL(t *testing.T) {
	sql, err := GenerateSQL(validSnapshotDef(), false)
	require.NoError(t, err)

	assert.Contains(t, sql, "generate_series('2023-01-01'::DATE, '2024-06-30'::DATE, INTERVAL '1 month')")
	assert.Contains(t, sql, "DATE_TRUNC('month', d) + INTERVAL '1 month - 1 day'")
	assert.Contains(t, sql, `MIN("txn_time"::DATE) AS first_activity_date`)
	assert.Contains(t, sql, "c.observation_date >= e.first_activity_date + INTERVAL '90 days'")
	assert.Contains(t, sql, "CROSS JOIN calendar c")
}

func TestGenerateWeeklySnapshotSQL(t *testing.T) {
	def := validSnapshotDef()
	def.Strategy = StrategyWeeklySnapshot
	def.MinHistoryDays = 0

	sql, err := GenerateSQL(def, false)
	require.NoError(t, err)

	assert.Contains(t, sql, "INTERVAL '1 week'")
	assert.Contains(t, sql, "DATE_TRUNC('week', d) + INTERVAL '6 days'")
	assert.NotContains(t, sql, "first_activity_date")
}

func TestGenerateDailySnapshotSQL(t *testing.T) {
	def := validSnapshotDef()
	def.Strategy = StrategyDailySnapshot

	sql, err := GenerateSQL(def, false)
	require.NoError(t, err)

	assert.Contains(t, sql, "INTERVAL '1 day'")
	assert.Contains(t, sql, "d::DATE AS observation_date")
}

func TestGenerateSQLWithSplit(t *testing.T) {
	def := validColumnDef()
	def.Split = &Split{TrainEnd: "2023-06-30", ValidEnd: "2023-09-30"}

	sql, err := GenerateSQL(def, true)
	require.NoError(t, err)

	assert.Contains(t, sql, "CASE WHEN observation_date <= '2023-06-30'::DATE THEN 'train'")
	assert.Contains(t, sql, "WHEN observation_date <= '2023-09-30'::DATE THEN 'valid' ELSE 'test' END AS split")

	// Split column suppressed when not requested.
	withoutSplit, err := GenerateSQL(def, false)
	require.NoError(t, err)
	assert.NotContains(t, withoutSplit, "AS split")
}

func TestGenerateSQLRejectsInvalidDefinition(t *testing.T) {
	def := validColumnDef()
	def.SourceTable = "bad table"

	_, err := GenerateSQL(def, false)
	assert.Error(t, err)
}
