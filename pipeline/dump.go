package pipeline

import (
	"encoding/json"

	"github.com/mattjoyce/trestle/step"
)

// Dump is the wire form of a pipeline consumed by the orchestration
// backend. Field names and nesting are a compatibility contract and must
// not change. Webhook declarations and the resource identifier stay off
// the wire.
type Dump struct {
	Name             string                     `json:"name"`
	Description      string                     `json:"description,omitempty"`
	ModulePath       string                     `json:"module_path"`
	Steps            []string                   `json:"steps"`
	DAG              map[string][]string        `json:"dag"`
	RootSteps        []string                   `json:"root_steps"`
	LeafSteps        []string                   `json:"leaf_steps"`
	InputJSONSchema  map[string]json.RawMessage `json:"input_json_schema"`
	OutputJSONSchema map[string]json.RawMessage `json:"output_json_schema"`
}

// Dump computes the pipeline's DAG against the current registry snapshot
// and renders the wire form. It fails when a member step is missing from
// the registry.
func (d *Descriptor) Dump(steps *step.Registry) (Dump, error) {
	dag, err := ComputeDAG(steps, d)
	if err != nil {
		return Dump{}, err
	}
	return Dump{
		Name:             d.name,
		Description:      d.description,
		ModulePath:       d.modulePath,
		Steps:            d.Members(),
		DAG:              dag.Edges,
		RootSteps:        dag.Roots,
		LeafSteps:        dag.Leaves,
		InputJSONSchema:  dag.InputSchema,
		OutputJSONSchema: dag.OutputSchema,
	}, nil
}
