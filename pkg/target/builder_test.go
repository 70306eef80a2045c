package target

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granaryml/granary/internal/testutil"
	"github.com/granaryml/granary/pkg/database"
	"github.com/granaryml/granary/pkg/report"
)

type stubInspector struct {
	columns []database.Column
	err     error
}

func (s *stubInspector) TableExists(_ context.Context, _, _ string) (bool, error) {
	return s.err == nil, s.err
}

func (s *stubInspector) Columns(_ context.Context, _, _ string) ([]database.Column, error) {
	return s.columns, s.err
}

func (s *stubInspector) RequireColumns(_ context.Context, _, _ string, _ ...string) ([]database.Column, error) {
	return s.columns, s.err
}

func labelColumns() []database.Column {
	return []database.Column{
		{Name: "loan_id", DataType: "character varying"},
		{Name: "status_date", DataType: "date"},
		{Name: "status", DataType: "text"},
	}
}

func newTestBuilder(t *testing.T, columns []database.Column) (*builder, sqlmock.Sqlmock) {
	t.Helper()

	db, mock := testutil.NewMockDB(t)

	return &builder{
		log:       logrus.New().WithField("service", "target"),
		db:        db,
		inspector: &stubInspector{columns: columns},
	}, mock
}

func TestValidateOK(t *testing.T) {
	b, mock := newTestBuilder(t, labelColumns())

	mock.ExpectQuery(`SELECT COUNT\(\*\) AS matches`).
		WillReturnRows(sqlmock.NewRows([]string{"matches"}).AddRow(int64(450)))

	result, err := b.Validate(context.Background(), validDef(), grainSQL, "character varying")
	require.NoError(t, err)

	assert.Equal(t, report.StatusOK, result.Status)
	assert.Contains(t, result.TargetSQL, "target_calc")
	assert.Empty(t, result.Warnings)
}

func TestValidateWarnsOnNonTemporalEventTime(t *testing.T) {
	columns := labelColumns()
	columns[1].DataType = "text"

	b, mock := newTestBuilder(t, columns)
	mock.ExpectQuery(`matches`).
		WillReturnRows(sqlmock.NewRows([]string{"matches"}).AddRow(int64(450)))

	result, err := b.Validate(context.Background(), validDef(), grainSQL, "")
	require.NoError(t, err)

	assert.Equal(t, report.StatusWarning, result.Status)
	assert.Equal(t, "EVENT_TIME_NOT_TEMPORAL", result.Warnings[0].Code)
}

func TestValidateWarnsOnJoinTypeMismatch(t *testing.T) {
	b, mock := newTestBuilder(t, labelColumns())
	mock.ExpectQuery(`matches`).
		WillReturnRows(sqlmock.NewRows([]string{"matches"}).AddRow(int64(450)))

	result, err := b.Validate(context.Background(), validDef(), grainSQL, "bigint")
	require.NoError(t, err)

	codes := make([]string, 0)
	for _, w := range result.Warnings {
		codes = append(codes, w.Code)
	}

	assert.Contains(t, codes, "JOIN_TYPE_MISMATCH")
}

func TestValidateWarnsOnNoPositiveEvents(t *testing.T) {
	b, mock := newTestBuilder(t, labelColumns())
	mock.ExpectQuery(`matches`).
		WillReturnRows(sqlmock.NewRows([]string{"matches"}).AddRow(int64(0)))

	result, err := b.Validate(context.Background(), validDef(), grainSQL, "")
	require.NoError(t, err)

	assert.Equal(t, "NO_POSITIVE_EVENTS", result.Warnings[0].Code)
}

func TestValidateInvalidDefinition(t *testing.T) {
	b, _ := newTestBuilder(t, labelColumns())

	def := validDef()
	def.PositiveValues = nil

	result, err := b.Validate(context.Background(), def, grainSQL, "")
	require.NoError(t, err)

	assert.Equal(t, report.StatusError, result.Status)
	assert.NotEmpty(t, result.Errors)
}

func TestDistribution(t *testing.T) {
	b, mock := newTestBuilder(t, labelColumns())

	mock.ExpectQuery(`positive_count`).
		WillReturnRows(sqlmock.NewRows([]string{"total_rows", "positive_count"}).
			AddRow(int64(10000), int64(300)))
	mock.ExpectQuery(`censored`).
		WillReturnRows(sqlmock.NewRows([]string{"censored"}).AddRow(int64(850)))

	dist, err := b.Distribution(context.Background(), validDef(), grainSQL)
	require.NoError(t, err)

	assert.Equal(t, int64(10000), dist.TotalRows)
	assert.Equal(t, int64(300), dist.PositiveCount)
	assert.Equal(t, int64(9700), dist.NegativeCount)
	assert.InDelta(t, 0.03, dist.PositiveRate, 1e-9)
	assert.Equal(t, int64(850), dist.CensoredCount)
	assert.True(t, dist.Usable)

	codes := make([]string, 0)
	for _, w := range dist.Warnings {
		codes = append(codes, w.Code)
	}

	assert.Contains(t, codes, "HIGH_IMBALANCE")
	assert.Contains(t, codes, "CENSORED_ROWS_EXCLUDED")
}

func TestDistributionZeroVariance(t *testing.T) {
	b, mock := newTestBuilder(t, labelColumns())

	mock.ExpectQuery(`positive_count`).
		WillReturnRows(sqlmock.NewRows([]string{"total_rows", "positive_count"}).
			AddRow(int64(10000), int64(0)))
	mock.ExpectQuery(`censored`).
		WillReturnRows(sqlmock.NewRows([]string{"censored"}).AddRow(int64(0)))

	dist, err := b.Distribution(context.Background(), validDef(), grainSQL)
	require.NoError(t, err)

	assert.False(t, dist.Usable)
	assert.Equal(t, "ZERO_VARIANCE", dist.Warnings[0].Code)
}

func TestDistributionLowPositiveCount(t *testing.T) {
	b, mock := newTestBuilder(t, labelColumns())

	mock.ExpectQuery(`positive_count`).
		WillReturnRows(sqlmock.NewRows([]string{"total_rows", "positive_count"}).
			AddRow(int64(1000), int64(40)))
	mock.ExpectQuery(`censored`).
		WillReturnRows(sqlmock.NewRows([]string{"censored"}).AddRow(int64(0)))

	dist, err := b.Distribution(context.Background(), validDef(), grainSQL)
	require.NoError(t, err)

	codes := make([]string, 0)
	for _, w := range dist.Warnings {
		codes = append(codes, w.Code)
	}

	assert.Contains(t, codes, "LOW_POSITIVE_COUNT")
}

func TestCohorts(t *testing.T) {
	b, mock := newTestBuilder(t, labelColumns())

	mock.ExpectQuery(`DATE_TRUNC\('month', observation_date\)`).
		WillReturnRows(sqlmock.NewRows([]string{"period", "rows", "positive_rate"}).
			AddRow("2023-01-01", int64(800), 0.031).
			AddRow("2023-02-01", int64(810), 0.029).
			AddRow("2023-03-01", int64(790), 0.033))

	analysis, err := b.Cohorts(context.Background(), validDef(), grainSQL, "month")
	require.NoError(t, err)

	assert.Equal(t, "month", analysis.Granularity)
	require.Len(t, analysis.Cohorts, 3)
	assert.Equal(t, "2023-01-01", analysis.Cohorts[0].Period)
	assert.Equal(t, "stable", analysis.Stability)
}

func TestCohortsUnstable(t *testing.T) {
	b, mock := newTestBuilder(t, labelColumns())

	mock.ExpectQuery(`DATE_TRUNC`).
		WillReturnRows(sqlmock.NewRows([]string{"period", "rows", "positive_rate"}).
			AddRow("2023-01-01", int64(800), 0.01).
			AddRow("2023-04-01", int64(810), 0.20))

	analysis, err := b.Cohorts(context.Background(), validDef(), grainSQL, "quarter")
	require.NoError(t, err)

	assert.Equal(t, "unstable", analysis.Stability)
}
