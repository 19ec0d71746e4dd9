package e2e

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattjoyce/trestle/discovery"
	"github.com/mattjoyce/trestle/examples"
	"github.com/mattjoyce/trestle/examples/salesreport"
	"github.com/mattjoyce/trestle/internal/dsl"
	"github.com/mattjoyce/trestle/internal/log"
	"github.com/mattjoyce/trestle/internal/results"
	"github.com/mattjoyce/trestle/invoke"
	"github.com/mattjoyce/trestle/pipeline"
	"github.com/mattjoyce/trestle/step"
)

func TestEndToEndPipeline(t *testing.T) {
	// 1. Setup Environment
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "results.db")

	log.Setup("error", "text") // Keep logs clean
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, err := results.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("failed to open results store: %v", err)
	}
	defer store.Close()

	// 2. Load Units
	steps := step.NewRegistry()
	pipelines := pipeline.NewRegistry()
	reports, err := discovery.Load(steps, pipelines, examples.Units()...)
	if err != nil {
		t.Fatalf("failed to load units: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 unit reports, got %d", len(reports))
	}

	p, ok := pipelines.Get("sales_report")
	if !ok {
		t.Fatalf("sales_report pipeline not registered")
	}
	members := p.Members()
	if len(members) != 4 {
		t.Fatalf("expected 4 pipeline members, got %v", members)
	}

	// 3. Record the DSL Document
	env, err := dsl.Build(steps, pipelines)
	if err != nil {
		t.Fatalf("failed to build DSL document: %v", err)
	}
	dslPath := filepath.Join(tmpDir, "trestle.dsl.json")
	if err := dsl.Write(dslPath, env); err != nil {
		t.Fatalf("failed to write DSL document: %v", err)
	}
	if err := dsl.Check(dslPath, env); err != nil {
		t.Fatalf("freshly recorded DSL document should verify: %v", err)
	}

	// Building again from the same registries must fingerprint identically.
	again, err := dsl.Build(steps, pipelines)
	if err != nil {
		t.Fatalf("failed to rebuild DSL document: %v", err)
	}
	if again.Fingerprint != env.Fingerprint {
		t.Fatalf("fingerprint not deterministic: %s vs %s", env.Fingerprint, again.Fingerprint)
	}

	// 4. Execution Loop
	// Drive the pipeline the way an external runner would: each pass
	// invokes every member whose dependencies are already cached, and
	// records the result back under the run id.
	const runID = "e2e"
	inputs := map[string]string{
		"fetch_orders": `{"region": "emea"}`,
	}

	var executed []string
	done := make(map[string]bool)
	for pass := 0; pass < len(members) && len(done) < len(members); pass++ {
		for _, name := range members {
			if done[name] {
				continue
			}
			desc, ok := steps.Get(name)
			if !ok {
				t.Fatalf("member %q not registered as a step", name)
			}
			upstream, missing, err := store.Gather(ctx, runID, desc.DependsOn())
			if err != nil {
				t.Fatalf("failed to gather results for %s: %v", name, err)
			}
			if len(missing) > 0 {
				continue
			}
			out, err := invoke.Invoke(ctx, desc, inputs[name], upstream)
			if err != nil {
				t.Fatalf("failed to invoke %s: %v", name, err)
			}
			if err := store.Put(ctx, runID, name, out); err != nil {
				t.Fatalf("failed to record result for %s: %v", name, err)
			}
			done[name] = true
			executed = append(executed, name)
		}
	}
	if len(executed) != len(members) {
		t.Fatalf("pipeline stalled: executed %v of %v", executed, members)
	}

	// 5. Assertions
	// Every DAG edge must be respected by the execution order.
	dag, err := pipeline.ComputeDAG(steps, p)
	if err != nil {
		t.Fatalf("failed to compute DAG: %v", err)
	}
	pos := make(map[string]int, len(executed))
	for i, name := range executed {
		pos[name] = i
	}
	for member, deps := range dag.Edges {
		for _, dep := range deps {
			if pos[dep] >= pos[member] {
				t.Errorf("%s executed before its dependency %s: %v", member, dep, executed)
			}
		}
	}

	recorded, err := store.List(ctx, runID)
	if err != nil {
		t.Fatalf("failed to list recorded results: %v", err)
	}
	if len(recorded) != 4 {
		t.Fatalf("expected 4 recorded results, got %v", recorded)
	}

	raw, found, err := store.Get(ctx, runID, "summarize")
	if err != nil || !found {
		t.Fatalf("summarize result missing: found=%v err=%v", found, err)
	}
	var summary salesreport.Summary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		t.Fatalf("summarize result does not parse: %v", err)
	}
	if summary.Title != "Sales report" {
		t.Errorf("default title not applied, got %q", summary.Title)
	}
	if summary.Region != "emea" || summary.Currency != "USD" {
		t.Errorf("unexpected summary scope: %+v", summary)
	}
	// EMEA keeps four positive amounts totalling 653.5 EUR, 705.78 USD
	// at the 1.08 rate.
	if summary.Count != 4 {
		t.Errorf("expected 4 surviving orders, got %d", summary.Count)
	}
	if math.Abs(summary.Total-705.78) > 1e-9 {
		t.Errorf("unexpected converted total: %v", summary.Total)
	}

	// 6. Verify Re-Execution Overwrites
	// Running the leaf again with the same cached inputs must replace
	// its record in place, not grow the run.
	desc, _ := steps.Get("summarize")
	upstream, missing, err := store.Gather(ctx, runID, desc.DependsOn())
	if err != nil || len(missing) > 0 {
		t.Fatalf("failed to re-gather summarize inputs: missing=%v err=%v", missing, err)
	}
	rerun, err := invoke.Invoke(ctx, desc, "", upstream)
	if err != nil {
		t.Fatalf("failed to re-invoke summarize: %v", err)
	}
	if rerun != raw {
		t.Errorf("re-invocation not deterministic:\n  first:  %s\n  second: %s", raw, rerun)
	}
	if err := store.Put(ctx, runID, "summarize", rerun); err != nil {
		t.Fatalf("failed to overwrite summarize result: %v", err)
	}
	recorded, err = store.List(ctx, runID)
	if err != nil {
		t.Fatalf("failed to list recorded results: %v", err)
	}
	if len(recorded) != 4 {
		t.Fatalf("overwrite grew the run to %v", recorded)
	}
}
