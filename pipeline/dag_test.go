package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/trestle/step"
)

type nodeParams struct {
	A *string `json:"a"`
	B *string `json:"b"`
	C *string `json:"c"`
	D *string `json:"d"`
}

// buildStep declares a step whose listed dependencies are wired through
// its optional parameters in order.
func buildStep(t *testing.T, name string, deps ...string) *step.Descriptor {
	t.Helper()
	slots := []string{"a", "b", "c", "d"}
	require.LessOrEqual(t, len(deps), len(slots))

	var opts []step.Option
	for i, dep := range deps {
		opts = append(opts, step.WithParamFrom(slots[i], step.FromName(dep)))
	}
	desc, err := step.New(name, step.Pure(func(nodeParams) (string, error) {
		return "", nil
	}), opts...)
	require.NoError(t, err)
	return desc
}

func buildPipeline(t *testing.T, steps *step.Registry, name string, members ...*step.Descriptor) *Descriptor {
	t.Helper()
	p, err := New(name)
	require.NoError(t, err)
	for _, m := range members {
		steps.Register(m)
		p.AddMember(m.Name())
	}
	return p
}

func TestComputeDAGShapes(t *testing.T) {
	t.Parallel()

	type node struct {
		name string
		deps []string
	}
	cases := []struct {
		name       string
		nodes      []node
		wantEdges  map[string][]string
		wantRoots  []string
		wantLeaves []string
	}{
		{
			name: "linear chain",
			nodes: []node{
				{name: "collect"},
				{name: "sum", deps: []string{"collect"}},
				{name: "report", deps: []string{"sum"}},
			},
			wantEdges:  map[string][]string{"collect": {}, "sum": {"collect"}, "report": {"sum"}},
			wantRoots:  []string{"collect"},
			wantLeaves: []string{"report"},
		},
		{
			name: "fan-in",
			nodes: []node{
				{name: "us"},
				{name: "eu"},
				{name: "merge", deps: []string{"us", "eu"}},
			},
			wantEdges:  map[string][]string{"us": {}, "eu": {}, "merge": {"eu", "us"}},
			wantRoots:  []string{"us", "eu"},
			wantLeaves: []string{"merge"},
		},
		{
			name: "fan-out",
			nodes: []node{
				{name: "fetch"},
				{name: "north", deps: []string{"fetch"}},
				{name: "south", deps: []string{"fetch"}},
			},
			wantEdges:  map[string][]string{"fetch": {}, "north": {"fetch"}, "south": {"fetch"}},
			wantRoots:  []string{"fetch"},
			wantLeaves: []string{"north", "south"},
		},
		{
			name: "diamond",
			nodes: []node{
				{name: "fetch"},
				{name: "north", deps: []string{"fetch"}},
				{name: "south", deps: []string{"fetch"}},
				{name: "report", deps: []string{"north", "south"}},
			},
			wantEdges: map[string][]string{
				"fetch":  {},
				"north":  {"fetch"},
				"south":  {"fetch"},
				"report": {"north", "south"},
			},
			wantRoots:  []string{"fetch"},
			wantLeaves: []string{"report"},
		},
		{
			name:       "single step",
			nodes:      []node{{name: "solo"}},
			wantEdges:  map[string][]string{"solo": {}},
			wantRoots:  []string{"solo"},
			wantLeaves: []string{"solo"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			steps := step.NewRegistry()
			var members []*step.Descriptor
			for _, n := range tc.nodes {
				members = append(members, buildStep(t, n.name, n.deps...))
			}
			p := buildPipeline(t, steps, "shape", members...)

			dag, err := ComputeDAG(steps, p)
			require.NoError(t, err)

			assert.Equal(t, tc.wantEdges, dag.Edges)
			assert.Equal(t, tc.wantRoots, dag.Roots)
			assert.Equal(t, tc.wantLeaves, dag.Leaves)
		})
	}
}

func TestComputeDAGEmptyPipeline(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	p, err := New("empty")
	require.NoError(t, err)

	dag, err := ComputeDAG(steps, p)
	require.NoError(t, err)

	assert.Empty(t, dag.Edges)
	assert.NotNil(t, dag.Edges)
	assert.Equal(t, []string{}, dag.Roots)
	assert.Equal(t, []string{}, dag.Leaves)
	assert.Empty(t, dag.InputSchema)
	assert.Empty(t, dag.OutputSchema)
}

func TestComputeDAGMissingMember(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	p, err := New("broken")
	require.NoError(t, err)
	p.AddMember("ghost")

	_, err = ComputeDAG(steps, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `pipeline "broken"`)
	assert.Contains(t, err.Error(), `"ghost"`)
}

func TestComputeDAGExternalDependency(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	local := buildStep(t, "summarize", "warehouse_export")
	p := buildPipeline(t, steps, "partial", local)

	dag, err := ComputeDAG(steps, p)
	require.NoError(t, err)

	// The external name stays as an edge target but never becomes a node.
	assert.Equal(t, map[string][]string{"summarize": {"warehouse_export"}}, dag.Edges)
	assert.NotContains(t, dag.Edges, "warehouse_export")
	assert.Empty(t, dag.Roots)
	assert.Equal(t, []string{"summarize"}, dag.Leaves)
}

func TestComputeDAGSchemaUnions(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	fetch := buildStep(t, "fetch")
	report := buildStep(t, "report", "fetch")
	p := buildPipeline(t, steps, "flow", fetch, report)

	dag, err := ComputeDAG(steps, p)
	require.NoError(t, err)

	require.Contains(t, dag.InputSchema, "fetch")
	assert.NotContains(t, dag.InputSchema, "report")
	require.Contains(t, dag.OutputSchema, "report")
	assert.NotContains(t, dag.OutputSchema, "fetch")

	assert.JSONEq(t, string(fetch.Params().JSONSchema()), string(dag.InputSchema["fetch"]))
	assert.JSONEq(t, string(report.Return().JSONSchema()), string(dag.OutputSchema["report"]))
}

func TestComputeDAGSeesRegistryChanges(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	first := buildStep(t, "transform")
	p := buildPipeline(t, steps, "live", first)

	dag, err := ComputeDAG(steps, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"transform"}, dag.Roots)

	// Re-register the member with a dependency; the next computation must
	// reflect the change.
	steps.Register(buildStep(t, "transform", "upstream_feed"))

	dag, err = ComputeDAG(steps, p)
	require.NoError(t, err)
	assert.Empty(t, dag.Roots)
	assert.Equal(t, map[string][]string{"transform": {"upstream_feed"}}, dag.Edges)
}
