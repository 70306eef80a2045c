package quality

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granaryml/granary/internal/testutil"
	"github.com/granaryml/granary/pkg/feature"
	"github.com/granaryml/granary/pkg/report"
	"github.com/granaryml/granary/pkg/target"
)

const grainSQL = `SELECT "customer_id" AS entity_id, "obs_date"::DATE AS observation_date FROM "public"."customers"`

func newTestAuditor(t *testing.T) (AuditorInterface, sqlmock.Sqlmock) {
	t.Helper()

	db, mock := testutil.NewMockDB(t)

	return NewAuditor(logrus.New(), db), mock
}

func sumFeature() (*feature.Definition, *feature.ColumnSet) {
	def := &feature.Definition{
		Name:         "Transaction amount",
		Kind:         feature.KindRollingSum,
		SourceSchema: "public",
		SourceTable:  "transactions",
		JoinColumn:   "customer_id",
		TimeColumn:   "txn_time",
		ValueColumn:  "amount",
		WindowDays:   30,
	}

	set := &feature.ColumnSet{
		FeatureKey:          "transaction_amount",
		SQL:                 "SELECT g.entity_id, g.observation_date, SUM(e.amount) AS amount_sum_30d, MAX(e.txn_time) AS max_source_time FROM grain g GROUP BY 1, 2",
		Columns:             []string{"amount_sum_30d"},
		MaxSourceTimeColumn: "max_source_time",
	}

	return def, set
}

func expectJoinability(mock sqlmock.Sqlmock, sampled, matched int64) {
	mock.ExpectQuery(`matched`).
		WillReturnRows(sqlmock.NewRows([]string{"sampled", "matched"}).AddRow(sampled, matched))
}

func expectLeakage(mock sqlmock.Sqlmock, sampled, leaked int64) {
	mock.ExpectQuery(`leaked`).
		WillReturnRows(sqlmock.NewRows([]string{"sampled", "leaked"}).AddRow(sampled, leaked))
}

func TestAuditAllOK(t *testing.T) {
	a, mock := newTestAuditor(t)
	def, set := sumFeature()

	expectJoinability(mock, 1000, 950)
	expectLeakage(mock, 1000, 0)

	rep, err := a.Audit(context.Background(), grainSQL, nil, []*feature.Definition{def}, []*feature.ColumnSet{set})
	require.NoError(t, err)

	assert.Equal(t, report.StatusOK, rep.Status)
	require.Len(t, rep.Findings, 2)
	assert.InDelta(t, 0.95, *rep.Findings[0].MatchRate, 1e-9)
	assert.Empty(t, rep.Recommendations)
}

func TestAuditJoinabilityWarning(t *testing.T) {
	a, mock := newTestAuditor(t)
	def, set := sumFeature()

	expectJoinability(mock, 1000, 700)
	expectLeakage(mock, 1000, 0)

	rep, err := a.Audit(context.Background(), grainSQL, nil, []*feature.Definition{def}, []*feature.ColumnSet{set})
	require.NoError(t, err)

	assert.Equal(t, report.StatusWarning, rep.Status)
	assert.Equal(t, report.StatusWarning, rep.Findings[0].Status)
}

func TestAuditJoinabilityError(t *testing.T) {
	a, mock := newTestAuditor(t)
	def, set := sumFeature()

	expectJoinability(mock, 1000, 300)
	expectLeakage(mock, 1000, 0)

	rep, err := a.Audit(context.Background(), grainSQL, nil, []*feature.Definition{def}, []*feature.ColumnSet{set})
	require.NoError(t, err)

	assert.Equal(t, report.StatusError, rep.Status)
	assert.Contains(t, rep.Findings[0].Message, "join key is probably wrong")
	require.NotEmpty(t, rep.Recommendations)
	assert.Contains(t, rep.Recommendations[0], "transaction_amount")
}

func TestAuditLeakageDetected(t *testing.T) {
	a, mock := newTestAuditor(t)
	def, set := sumFeature()

	expectJoinability(mock, 1000, 950)
	expectLeakage(mock, 1000, 12)

	rep, err := a.Audit(context.Background(), grainSQL, nil, []*feature.Definition{def}, []*feature.ColumnSet{set})
	require.NoError(t, err)

	assert.Equal(t, report.StatusError, rep.Status)

	leakage := rep.Findings[1]
	assert.Equal(t, "leakage", leakage.Check)
	assert.Equal(t, report.StatusError, leakage.Status)
	assert.Contains(t, leakage.Message, "12 of 1000")
}

func TestAuditLeakageUnverifiable(t *testing.T) {
	a, mock := newTestAuditor(t)
	def, set := sumFeature()
	set.MaxSourceTimeColumn = ""

	expectJoinability(mock, 1000, 950)

	rep, err := a.Audit(context.Background(), grainSQL, nil, []*feature.Definition{def}, []*feature.ColumnSet{set})
	require.NoError(t, err)

	assert.Equal(t, report.StatusWarning, rep.Status)
	assert.Contains(t, rep.Findings[1].Message, "cannot be verified")
}

func TestAuditTargetJoinability(t *testing.T) {
	a, mock := newTestAuditor(t)

	targetDef := &target.Definition{
		LabelSchema:      "public",
		LabelTable:       "loan_outcomes",
		JoinColumn:       "loan_id",
		EventTimeColumn:  "status_date",
		LabelValueColumn: "status",
		PositiveValues:   []string{"charged_off"},
		WindowMonths:     12,
	}

	expectJoinability(mock, 1000, 1000)

	rep, err := a.Audit(context.Background(), grainSQL, targetDef, nil, nil)
	require.NoError(t, err)

	require.Len(t, rep.Findings, 1)
	assert.Equal(t, "target", rep.Findings[0].Subject)
	assert.Equal(t, report.StatusOK, rep.Status)
}

func TestProfileColumns(t *testing.T) {
	a, mock := newTestAuditor(t)

	mock.ExpectQuery(`distincts`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "nulls", "distincts"}).
			AddRow(int64(1000), int64(150), int64(220)))
	mock.ExpectQuery(`distincts`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "nulls", "distincts"}).
			AddRow(int64(1000), int64(0), int64(1)))

	profiles, err := a.ProfileColumns(context.Background(), "SELECT 1", []string{"amount_sum_30d", "constant_col"})
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	assert.InDelta(t, 0.15, profiles[0].NullRate, 1e-9)
	assert.False(t, profiles[0].LowVariance)
	assert.True(t, profiles[1].LowVariance)
}
