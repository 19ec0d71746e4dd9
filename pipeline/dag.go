package pipeline

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/mattjoyce/trestle/step"
)

// DAG is the derived execution-order view of a pipeline, recomputed from
// the live step registry on every call and never cached.
type DAG struct {
	// Edges maps each member to its full dependency list, sorted. Targets
	// outside the pipeline (other units, external step ids) stay in the
	// list untouched.
	Edges map[string][]string
	// Roots are the members with no dependencies, in member order.
	Roots []string
	// Leaves are the members no other member depends on, in member order.
	// A step with no edges at all is both a root and a leaf.
	Leaves []string
	// InputSchema maps each root step to its parameter schema.
	InputSchema map[string]json.RawMessage
	// OutputSchema maps each leaf step to its return schema.
	OutputSchema map[string]json.RawMessage
}

// ComputeDAG derives the pipeline's DAG from the current registry
// snapshot. Every member must be registered; a missing member is an
// error, not a silent hole in the graph.
func ComputeDAG(steps *step.Registry, p *Descriptor) (*DAG, error) {
	members := p.Members()
	dag := &DAG{
		Edges:        make(map[string][]string, len(members)),
		Roots:        []string{},
		Leaves:       []string{},
		InputSchema:  make(map[string]json.RawMessage, len(members)),
		OutputSchema: make(map[string]json.RawMessage, len(members)),
	}

	referenced := make(map[string]struct{})
	for _, name := range members {
		desc, ok := steps.Get(name)
		if !ok {
			return nil, fmt.Errorf("pipeline %q: member step %q is not registered", p.name, name)
		}
		deps := slices.Clone(desc.DependsOn())
		dag.Edges[name] = deps
		for _, dep := range deps {
			referenced[dep] = struct{}{}
		}
	}

	for _, name := range members {
		desc, _ := steps.Get(name)
		if len(dag.Edges[name]) == 0 {
			dag.Roots = append(dag.Roots, name)
			dag.InputSchema[name] = desc.Params().JSONSchema()
		}
		if _, ok := referenced[name]; !ok {
			dag.Leaves = append(dag.Leaves, name)
			dag.OutputSchema[name] = desc.Return().JSONSchema()
		}
	}
	return dag, nil
}
