// Package session holds the pipeline state for one dataset-building
// conversation. State is stored as a whole: every mutation writes a new
// snapshot, and redefining an upstream stage clears everything
// downstream of it so stale SQL can never be exported.
package session

import (
	"time"

	"github.com/granaryml/granary/pkg/assembler"
	"github.com/granaryml/granary/pkg/export"
	"github.com/granaryml/granary/pkg/feature"
	"github.com/granaryml/granary/pkg/grain"
	"github.com/granaryml/granary/pkg/missing"
	"github.com/granaryml/granary/pkg/sqlvalidate"
	"github.com/granaryml/granary/pkg/target"
)

// State is the full pipeline state of one session
type State struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Revision  int64     `json:"revision"`

	Grain       *grain.Definition `json:"grain,omitempty"`
	GrainResult *grain.Result     `json:"grain_result,omitempty"`

	Target             *target.Definition   `json:"target,omitempty"`
	TargetResult       *target.Result       `json:"target_result,omitempty"`
	TargetDistribution *target.Distribution `json:"target_distribution,omitempty"`

	Features    []*feature.Definition  `json:"features,omitempty"`
	FeatureSets []*feature.ColumnSet   `json:"feature_sets,omitempty"`
	Policies    []missing.ColumnPolicy `json:"missing_policies,omitempty"`

	Assembly   *assembler.Result   `json:"assembly,omitempty"`
	Validation *sqlvalidate.Result `json:"validation,omitempty"`
	Export     *export.Artifact    `json:"export,omitempty"`
}

// Validated reports whether the current dataset SQL passed validation
func (s *State) Validated() bool {
	return s.Assembly != nil && s.Assembly.DatasetSQL != "" &&
		s.Validation != nil && s.Validation.Valid
}

// clear drops the data of a single stage
func (s *State) clear(stage Stage) {
	switch stage {
	case StageGrain:
		s.Grain = nil
		s.GrainResult = nil
	case StageTarget:
		s.Target = nil
		s.TargetResult = nil
		s.TargetDistribution = nil
	case StageFeatures:
		s.Features = nil
		s.FeatureSets = nil
		s.Policies = nil
	case StageAssemble:
		s.Assembly = nil
	case StageValidate:
		s.Validation = nil
	case StageExport:
		s.Export = nil
	}
}

// Invalidate clears every stage downstream of the given stage. Called
// whenever a stage is redefined, before the new definition is applied.
func (s *State) Invalidate(graph *StageGraph, stage Stage) ([]Stage, error) {
	downstream, err := graph.Downstream(stage)
	if err != nil {
		return nil, err
	}

	cleared := make([]Stage, 0, len(downstream))
	for _, d := range downstream {
		if s.hasData(d) {
			cleared = append(cleared, d)
		}
		s.clear(d)
	}

	return cleared, nil
}

// hasData reports whether a stage currently holds any state
func (s *State) hasData(stage Stage) bool {
	switch stage {
	case StageGrain:
		return s.Grain != nil
	case StageTarget:
		return s.Target != nil
	case StageFeatures:
		return len(s.Features) > 0 || len(s.Policies) > 0
	case StageAssemble:
		return s.Assembly != nil
	case StageValidate:
		return s.Validation != nil
	case StageExport:
		return s.Export != nil
	}

	return false
}
