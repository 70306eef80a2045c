package session

import (
	"fmt"

	"github.com/heimdalr/dag"
)

// Stage identifies one step of the dataset pipeline
type Stage string

const (
	// StageGrain is the entity-by-observation-date spine
	StageGrain Stage = "grain"
	// StageTarget is the label definition
	StageTarget Stage = "target"
	// StageFeatures is the feature template set
	StageFeatures Stage = "features"
	// StageAssemble is the composed dataset SQL
	StageAssemble Stage = "assemble"
	// StageValidate is the dataset SQL validation
	StageValidate Stage = "validate"
	// StageExport is the written artifact
	StageExport Stage = "export"
)

// stageEdges encodes which stage depends on which. Redefining an
// upstream stage invalidates everything downstream of it.
var stageEdges = [][2]Stage{
	{StageGrain, StageTarget},
	{StageGrain, StageFeatures},
	{StageTarget, StageAssemble},
	{StageFeatures, StageAssemble},
	{StageAssemble, StageValidate},
	{StageValidate, StageExport},
}

// StageGraph answers downstream-of queries over the fixed pipeline
type StageGraph struct {
	dag *dag.DAG
}

// NewStageGraph builds the pipeline stage graph
func NewStageGraph() (*StageGraph, error) {
	g := dag.NewDAG()

	stages := []Stage{StageGrain, StageTarget, StageFeatures, StageAssemble, StageValidate, StageExport}
	for _, stage := range stages {
		if err := g.AddVertexByID(string(stage), stage); err != nil {
			return nil, fmt.Errorf("failed to add stage %s: %w", stage, err)
		}
	}

	for _, edge := range stageEdges {
		if err := g.AddEdge(string(edge[0]), string(edge[1])); err != nil {
			return nil, fmt.Errorf("failed to add edge %s → %s: %w", edge[0], edge[1], err)
		}
	}

	return &StageGraph{dag: g}, nil
}

// Downstream returns every stage that transitively depends on the given
// stage, excluding the stage itself
func (g *StageGraph) Downstream(stage Stage) ([]Stage, error) {
	descendants, err := g.dag.GetDescendants(string(stage))
	if err != nil {
		return nil, fmt.Errorf("unknown stage %s: %w", stage, err)
	}

	stages := make([]Stage, 0, len(descendants))
	for id := range descendants {
		stages = append(stages, Stage(id))
	}

	return stages, nil
}
