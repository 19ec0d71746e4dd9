// Package doctor validates trestle configuration and step declarations.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/mattjoyce/trestle/discovery"
	"github.com/mattjoyce/trestle/internal/config"
	"github.com/mattjoyce/trestle/pipeline"
	"github.com/mattjoyce/trestle/step"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// webhookVars are the variables a webhook filter expression may reference.
var webhookVars = map[string]bool{
	"payload": true,
	"headers": true,
	"branch":  true,
}

// Doctor validates loaded units against the configuration.
type Doctor struct {
	cfg       *config.Config
	steps     *step.Registry
	pipelines *pipeline.Registry
	reports   []discovery.UnitReport
}

// New creates a Doctor from a loaded config and populated registries.
// reports may be nil when discovery has not run.
func New(cfg *config.Config, steps *step.Registry, pipelines *pipeline.Registry, reports []discovery.UnitReport) *Doctor {
	return &Doctor{cfg: cfg, steps: steps, pipelines: pipelines, reports: reports}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.warnOverwrites(r)
	d.validateDependencies(r)
	d.validateCycles(r)
	d.validatePipelineMembers(r)
	d.validateSandboxRefs(r)
	d.validateCredentialRefs(r)
	d.validateWebhooks(r)
	d.validateAPIConfig(r)
	d.warnEmptyPipelines(r)
	d.warnUnusedSandboxes(r)
	d.warnMissingCredentialEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// warnOverwrites surfaces step names registered by more than one unit.
// Last-write-wins is silent at registration time; this is where it
// becomes visible.
func (d *Doctor) warnOverwrites(r *Result) {
	for _, report := range d.reports {
		for _, ow := range report.Overwrites {
			field := fmt.Sprintf("steps.%s", ow.Step)
			if ow.PreviousUnit != "" {
				d.addWarning(r, "overwrites", field,
					fmt.Sprintf("unit %q overwrites step %q previously registered by unit %q",
						report.Unit, ow.Step, ow.PreviousUnit))
				continue
			}
			d.addWarning(r, "overwrites", field,
				fmt.Sprintf("unit %q overwrites step %q registered outside discovery", report.Unit, ow.Step))
		}
	}
}

// validateDependencies checks that every produced-by-step reference
// resolves to a registered step.
func (d *Doctor) validateDependencies(r *Result) {
	for _, desc := range d.steps.All() {
		params := desc.ParamsFromResults()
		names := make([]string, 0, len(params))
		for param := range params {
			names = append(names, param)
		}
		sort.Strings(names)

		for _, param := range names {
			source := params[param]
			if _, ok := d.steps.Get(source); !ok {
				d.addError(r, "dependencies",
					fmt.Sprintf("steps.%s.params_from.%s", desc.Name(), param),
					fmt.Sprintf("step %q parameter %q references step %q which is not registered",
						desc.Name(), param, source))
			}
		}
	}
}

// validateCycles detects dependency cycles across all registered steps.
func (d *Doctor) validateCycles(r *Result) {
	graph := make(map[string][]string)
	for _, desc := range d.steps.All() {
		for _, dep := range desc.DependsOn() {
			if _, ok := d.steps.Get(dep); ok {
				graph[desc.Name()] = append(graph[desc.Name()], dep)
			}
		}
	}

	// Cycle detection via DFS
	visited := make(map[string]int) // 0=unvisited, 1=in-stack, 2=done
	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = 1
		for _, next := range graph[node] {
			if visited[next] == 1 {
				return true
			}
			if visited[next] == 0 && hasCycle(next) {
				return true
			}
		}
		visited[node] = 2
		return false
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	for _, node := range nodes {
		if visited[node] == 0 && hasCycle(node) {
			d.addError(r, "dependencies", "steps",
				fmt.Sprintf("circular dependency detected involving step %q", node))
			break
		}
	}
}

// validatePipelineMembers checks that every member resolves to a
// registered step.
func (d *Doctor) validatePipelineMembers(r *Result) {
	for _, p := range d.pipelines.All() {
		for _, member := range p.Members() {
			if _, ok := d.steps.Get(member); !ok {
				d.addError(r, "pipelines",
					fmt.Sprintf("pipelines.%s", p.Name()),
					fmt.Sprintf("pipeline %q references step %q which is not registered", p.Name(), member))
			}
		}
	}
}

// validateSandboxRefs checks step sandbox ids against config.
func (d *Doctor) validateSandboxRefs(r *Result) {
	for _, desc := range d.steps.All() {
		id := desc.SandboxID()
		if id == "" {
			continue
		}
		if _, ok := d.cfg.Sandboxes[id]; !ok {
			d.addError(r, "sandboxes",
				fmt.Sprintf("steps.%s.sandbox", desc.Name()),
				fmt.Sprintf("step %q references sandbox %q which is not defined in config", desc.Name(), id))
		}
	}
}

// validateCredentialRefs checks step credential bindings against config.
func (d *Doctor) validateCredentialRefs(r *Result) {
	for _, desc := range d.steps.All() {
		bindings := desc.Credentials()
		names := make([]string, 0, len(bindings))
		for binding := range bindings {
			names = append(names, binding)
		}
		sort.Strings(names)

		for _, binding := range names {
			id := bindings[binding]
			if _, ok := d.cfg.Credentials[id]; !ok {
				d.addError(r, "credentials",
					fmt.Sprintf("steps.%s.credentials.%s", desc.Name(), binding),
					fmt.Sprintf("step %q binds credential %q which is not defined in config", desc.Name(), id))
			}
		}
	}
}

// validateWebhooks checks declared webhooks: name conflicts, known
// providers, and parseable filter expressions. Transform and
// idempotency-key expressions are evaluated by the orchestration
// backend and pass through unchecked.
func (d *Doctor) validateWebhooks(r *Result) {
	for _, p := range d.pipelines.All() {
		seen := make(map[string]int)
		for i, hook := range p.Webhooks() {
			field := fmt.Sprintf("pipelines.%s.webhooks[%d]", p.Name(), i)

			if hook.Name == "" {
				d.addError(r, "webhooks", field, "webhook name is required")
			} else if prevIdx, exists := seen[hook.Name]; exists {
				d.addError(r, "webhooks", field+".name",
					fmt.Sprintf("webhook name %q conflicts with webhooks[%d]", hook.Name, prevIdx))
			} else {
				seen[hook.Name] = i
			}

			if !pipeline.KnownProvider(hook.Provider) {
				d.addError(r, "webhooks", field+".provider",
					fmt.Sprintf("webhook %q: unknown provider %q (expected one of: github, linear, generic_hmac_sha1, generic_hmac_sha256)",
						hook.Name, hook.Provider))
			}

			if hook.Filter != "" {
				d.validateFilter(r, field, hook.Name, hook.Filter)
			}
		}
	}
}

func (d *Doctor) validateFilter(r *Result, field, name, filter string) {
	expr, err := govaluate.NewEvaluableExpression(filter)
	if err != nil {
		d.addError(r, "webhooks", field+".filter",
			fmt.Sprintf("webhook %q: filter does not parse: %v", name, err))
		return
	}
	for _, v := range expr.Vars() {
		root := strings.SplitN(v, ".", 2)[0]
		if !webhookVars[root] {
			d.addError(r, "webhooks", field+".filter",
				fmt.Sprintf("webhook %q: filter references unknown variable %q (known: branch, headers, payload)", name, v))
		}
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
}

// warnEmptyPipelines flags pipelines with no member steps.
func (d *Doctor) warnEmptyPipelines(r *Result) {
	for _, p := range d.pipelines.All() {
		if p.Len() == 0 {
			d.addWarning(r, "pipelines", fmt.Sprintf("pipelines.%s", p.Name()),
				fmt.Sprintf("pipeline %q has no member steps", p.Name()))
		}
	}
}

// warnUnusedSandboxes flags sandboxes defined in config but never
// referenced by a step.
func (d *Doctor) warnUnusedSandboxes(r *Result) {
	if len(d.cfg.Sandboxes) == 0 {
		return
	}

	used := make(map[string]bool)
	for _, desc := range d.steps.All() {
		if id := desc.SandboxID(); id != "" {
			used[id] = true
		}
	}

	ids := make([]string, 0, len(d.cfg.Sandboxes))
	for id := range d.cfg.Sandboxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !used[id] {
			d.addWarning(r, "unused", fmt.Sprintf("sandboxes.%s", id),
				fmt.Sprintf("sandbox %q defined but not referenced by any step", id))
		}
	}
}

// warnMissingCredentialEnvVars warns when a bound credential's declared
// environment variable is unset at check time.
func (d *Doctor) warnMissingCredentialEnvVars(r *Result) {
	bound := make(map[string]bool)
	for _, desc := range d.steps.All() {
		for _, id := range desc.Credentials() {
			bound[id] = true
		}
	}

	ids := make([]string, 0, len(bound))
	for id := range bound {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cred, ok := d.cfg.Credentials[id]
		if !ok || cred.Env == "" {
			continue
		}
		if os.Getenv(cred.Env) == "" {
			d.addWarning(r, "env_vars", fmt.Sprintf("credentials.%s", id),
				fmt.Sprintf("environment variable ${%s} for credential %q not set", cred.Env, id))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
