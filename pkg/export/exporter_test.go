package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granaryml/granary/internal/testutil"
	"github.com/granaryml/granary/pkg/feature"
	"github.com/granaryml/granary/pkg/grain"
	"github.com/granaryml/granary/pkg/sqlvalidate"
	"github.com/granaryml/granary/pkg/target"
)

func testManifest() *Manifest {
	return &Manifest{
		SessionID: "3f2a9c1e88d04b57a1b2c3d4e5f60718",
		Format:    "csv",
		Columns:   []string{"entity_id", "observation_date", "target", "amount_sum_90d"},
		Grain: &grain.Definition{
			SourceTable:           "loans",
			EntityIDColumn:        "loan_id",
			Strategy:              grain.StrategyColumn,
			ObservationDateColumn: "origination_date",
			DedupRule:             grain.DedupKeepAll,
		},
		Target: &target.Definition{
			LabelTable:       "loan_outcomes",
			JoinColumn:       "loan_id",
			EventTimeColumn:  "status_date",
			LabelValueColumn: "status",
			PositiveValues:   []string{"charged_off"},
			WindowMonths:     12,
			ExtractionDate:   "2024-06-30",
		},
		Features: []*feature.Definition{{
			Name:        "Payment amount",
			Kind:        feature.KindRollingSum,
			SourceTable: "payments",
			JoinColumn:  "loan_id",
			TimeColumn:  "paid_at",
			ValueColumn: "amount",
			WindowDays:  90,
		}},
		DatasetSQL: "SELECT 1 AS entity_id",
		Validation: &sqlvalidate.Result{Valid: true},
	}
}

func newTestExporter(t *testing.T) (*exporter, sqlmock.Sqlmock, string) {
	t.Helper()

	db, mock := testutil.NewMockDB(t)
	dir := t.TempDir()

	e := &exporter{
		log: logrus.New().WithField("service", "export"),
		db:  db,
		cfg: &Config{Directory: dir, Retention: 72 * time.Hour},
		now: func() time.Time { return time.Date(2024, 7, 15, 12, 30, 0, 0, time.UTC) },
	}

	return e, mock, dir
}

func TestExportWritesCSVAndManifest(t *testing.T) {
	e, mock, dir := newTestExporter(t)

	mock.ExpectQuery(`export_data`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date", "target", "amount_sum_90d"}).
			AddRow("l_001", "2023-01-31", int64(0), 125.5).
			AddRow("l_002", "2023-01-31", int64(1), nil))

	artifact, err := e.Export(context.Background(), &Request{Manifest: testManifest()})
	require.NoError(t, err)

	assert.Equal(t, int64(2), artifact.RowCount)
	assert.Equal(t, filepath.Join(dir, "dataset_3f2a9c1e88d04b57_20240715T123000.csv"), artifact.FilePath)

	f, err := os.Open(artifact.FilePath)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"entity_id", "observation_date", "target", "amount_sum_90d"}, records[0])
	assert.Equal(t, []string{"l_001", "2023-01-31", "0", "125.5"}, records[1])
	// NULL exports as an empty cell.
	assert.Equal(t, "", records[2][3])

	m, err := LoadManifest(artifact.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.RowCount)
	assert.Equal(t, "csv", m.Format)
}

func TestExportRefusesUnvalidatedDataset(t *testing.T) {
	e, _, _ := newTestExporter(t)

	m := testManifest()
	m.Validation = &sqlvalidate.Result{Valid: false}

	_, err := e.Export(context.Background(), &Request{Manifest: m})
	assert.ErrorIs(t, err, ErrNotValidated)

	m.Validation = nil
	_, err = e.Export(context.Background(), &Request{Manifest: m})
	assert.ErrorIs(t, err, ErrNotValidated)
}

func TestExportRowLimit(t *testing.T) {
	e, mock, _ := newTestExporter(t)

	mock.ExpectQuery(`export_data LIMIT 100`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id"}).AddRow("l_001"))

	artifact, err := e.Export(context.Background(), &Request{Manifest: testManifest(), RowLimit: 100})
	require.NoError(t, err)

	assert.Equal(t, int64(1), artifact.RowCount)

	m, err := LoadManifest(artifact.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, 100, m.RowLimit)
}

func TestExportUnsupportedFormat(t *testing.T) {
	e, _, _ := newTestExporter(t)

	m := testManifest()
	m.Format = "parquet"

	_, err := e.Export(context.Background(), &Request{Manifest: m})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExportCleansUpOnStreamFailure(t *testing.T) {
	e, mock, dir := newTestExporter(t)

	mock.ExpectQuery(`export_data`).WillReturnError(assert.AnError)

	_, err := e.Export(context.Background(), &Request{Manifest: testManifest()})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManifestRegenerateSQLRoundTrip(t *testing.T) {
	engine := feature.NewEngine(logrus.New())

	m := testManifest()

	sql, err := m.RegenerateSQL(engine)
	require.NoError(t, err)
	assert.Contains(t, sql, "WITH grain AS (")

	m.DatasetSQL = sql
	assert.NoError(t, m.Verify(engine))

	// A drifted definition must be caught.
	m.Features[0].WindowDays = 30
	assert.Error(t, m.Verify(engine))
}

func TestJanitorSweep(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "dataset_old.csv")
	oldManifest := filepath.Join(dir, "dataset_old.json")
	fresh := filepath.Join(dir, "dataset_fresh.csv")
	unrelated := filepath.Join(dir, "README.md")

	for _, path := range []string{old, oldManifest, fresh, unrelated} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	stale := time.Now().Add(-100 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))
	require.NoError(t, os.Chtimes(oldManifest, stale, stale))
	require.NoError(t, os.Chtimes(unrelated, stale, stale))

	j := NewJanitor(logrus.New(), &Config{Directory: dir, Retention: 72 * time.Hour, CleanupSchedule: "0 3 * * *"})

	removed, err := j.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.NoFileExists(t, old)
	assert.NoFileExists(t, oldManifest)
	assert.FileExists(t, fresh)
	// Non-artifact files are left alone regardless of age.
	assert.FileExists(t, unrelated)
}

func TestJanitorSweepMissingDirectory(t *testing.T) {
	j := NewJanitor(logrus.New(), &Config{Directory: filepath.Join(t.TempDir(), "missing"), Retention: time.Hour})

	removed, err := j.Sweep()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", formatValue(nil))
	assert.Equal(t, "42", formatValue(int64(42)))
	assert.Equal(t, "3.25", formatValue(3.25))
	assert.Equal(t, "true", formatValue(true))
	assert.Equal(t, "abc", formatValue([]byte("abc")))
	assert.Equal(t, "2024-01-31", formatValue(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)))
	assert.True(t, strings.HasPrefix(formatValue(time.Date(2024, 1, 31, 8, 15, 0, 0, time.UTC)), "2024-01-31T08:15:00"))
}
