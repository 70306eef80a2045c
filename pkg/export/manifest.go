package export

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/granaryml/granary/pkg/assembler"
	"github.com/granaryml/granary/pkg/feature"
	"github.com/granaryml/granary/pkg/grain"
	"github.com/granaryml/granary/pkg/missing"
	"github.com/granaryml/granary/pkg/sqlvalidate"
	"github.com/granaryml/granary/pkg/target"
)

// Manifest records everything needed to reproduce an export: the full
// stage definitions, the exact dataset SQL, and the validation outcome at
// export time.
type Manifest struct {
	SessionID  string                 `json:"session_id"`
	ExportedAt time.Time              `json:"exported_at"`
	Format     string                 `json:"format"`
	RowLimit   int                    `json:"row_limit,omitempty"`
	RowCount   int64                  `json:"row_count"`
	Columns    []string               `json:"columns"`
	Grain      *grain.Definition      `json:"grain"`
	Target     *target.Definition     `json:"target,omitempty"`
	Features   []*feature.Definition  `json:"features"`
	Policies   []missing.ColumnPolicy `json:"missing_policies,omitempty"`
	DatasetSQL string                 `json:"dataset_sql"`
	Validation *sqlvalidate.Result    `json:"validation,omitempty"`
}

// RegenerateSQL rebuilds the dataset SQL from the recorded definitions.
// The result must match DatasetSQL exactly; a difference means the
// manifest was edited or the definitions drifted.
func (m *Manifest) RegenerateSQL(engine feature.EngineInterface) (string, error) {
	sql, _, _, err := assembler.Compose(engine, &assembler.Request{
		Grain:    m.Grain,
		Target:   m.Target,
		Features: m.Features,
		Policies: m.Policies,
	})
	if err != nil {
		return "", fmt.Errorf("failed to regenerate dataset SQL: %w", err)
	}

	return sql, nil
}

// Verify checks the recorded SQL against a fresh regeneration
func (m *Manifest) Verify(engine feature.EngineInterface) error {
	regenerated, err := m.RegenerateSQL(engine)
	if err != nil {
		return err
	}

	if regenerated != m.DatasetSQL {
		return fmt.Errorf("manifest dataset_sql does not match its definitions")
	}

	return nil
}

// LoadManifest reads a manifest file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return &m, nil
}

func (m *Manifest) write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}
