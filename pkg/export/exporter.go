package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/granaryml/granary/pkg/database"
	"github.com/granaryml/granary/pkg/sqlutil"
)

// Static errors
var (
	ErrNotValidated      = errors.New("dataset has not passed validation")
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrNoDatasetSQL      = errors.New("no dataset SQL to export")
)

// Request describes one export. Validation must be the current session's
// passing validation result; exports without one are refused.
type Request struct {
	Manifest *Manifest
	RowLimit int
}

// Artifact is a completed export on disk
type Artifact struct {
	FilePath     string `json:"file_path"`
	ManifestPath string `json:"manifest_path"`
	RowCount     int64  `json:"row_count"`
}

// ExporterInterface writes validated datasets to disk
type ExporterInterface interface {
	Export(ctx context.Context, req *Request) (*Artifact, error)
}

type exporter struct {
	log logrus.FieldLogger
	db  database.ClientInterface
	cfg *Config
	now func() time.Time
}

// NewExporter creates an exporter
func NewExporter(logger logrus.FieldLogger, db database.ClientInterface, cfg *Config) (ExporterInterface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &exporter{
		log: logger.WithField("service", "export"),
		db:  db,
		cfg: cfg,
		now: time.Now,
	}, nil
}

var _ ExporterInterface = (*exporter)(nil)

func (e *exporter) Export(ctx context.Context, req *Request) (*Artifact, error) {
	m := req.Manifest

	if m.DatasetSQL == "" {
		return nil, ErrNoDatasetSQL
	}

	if m.Validation == nil || !m.Validation.Valid {
		return nil, ErrNotValidated
	}

	if m.Format == "" {
		m.Format = "csv"
	}

	if m.Format != "csv" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, m.Format)
	}

	if err := os.MkdirAll(e.cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	query := fmt.Sprintf("SELECT * FROM (%s) AS export_data", sqlutil.StripTrailingSemicolons(m.DatasetSQL))

	rowLimit := req.RowLimit
	if rowLimit == 0 {
		rowLimit = e.cfg.DefaultRowLimit
	}

	if rowLimit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, rowLimit)
	}

	base := e.fileBase(m.SessionID)
	filePath := filepath.Join(e.cfg.Directory, base+".csv")
	manifestPath := filepath.Join(e.cfg.Directory, base+".json")

	rowCount, err := e.streamCSV(ctx, query, filePath)
	if err != nil {
		// Leave no partial artifact behind.
		_ = os.Remove(filePath)

		return nil, err
	}

	m.ExportedAt = e.now().UTC()
	m.RowLimit = rowLimit
	m.RowCount = rowCount

	if err := m.write(manifestPath); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"file": filePath,
		"rows": rowCount,
	}).Info("Exported dataset")

	return &Artifact{
		FilePath:     filePath,
		ManifestPath: manifestPath,
		RowCount:     rowCount,
	}, nil
}

func (e *exporter) fileBase(sessionID string) string {
	short := sessionID
	if len(short) > 16 {
		short = short[:16]
	}

	return fmt.Sprintf("dataset_%s_%s", short, e.now().UTC().Format("20060102T150405"))
}

func (e *exporter) streamCSV(ctx context.Context, query, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}

	w := csv.NewWriter(f)

	headerWritten := false

	count, err := e.db.Stream(ctx, query, func(columns []string, values []any) error {
		if !headerWritten {
			if err := w.Write(columns); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}

			headerWritten = true
		}

		record := make([]string, len(values))
		for i, v := range values {
			record[i] = formatValue(v)
		}

		return w.Write(record)
	})
	if err != nil {
		_ = f.Close()

		return count, err
	}

	w.Flush()

	if err := w.Error(); err != nil {
		_ = f.Close()

		return count, fmt.Errorf("failed to flush export file: %w", err)
	}

	if err := f.Close(); err != nil {
		return count, fmt.Errorf("failed to close export file: %w", err)
	}

	return count, nil
}

// formatValue renders one cell. NULL becomes the empty string, dates stay
// calendar dates, and floats keep full precision.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}

		return t.Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
