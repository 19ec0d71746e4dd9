// Package inspect renders terminal-friendly reports for registered
// steps and pipelines.
package inspect

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/trestle/pipeline"
	"github.com/mattjoyce/trestle/schema"
	"github.com/mattjoyce/trestle/step"
)

// StepReport is the structured JSON representation of one step.
type StepReport struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Source      string            `json:"source,omitempty"`
	Sandbox     string            `json:"execution_environment_id,omitempty"`
	Credentials map[string]string `json:"credential_bindings,omitempty"`
	DependsOn   []string          `json:"depends_on"`
	Params      []ParamReport     `json:"params"`
	Return      string            `json:"return_type"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// ParamReport is one parameter row in a step report.
type ParamReport struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
	Variadic string `json:"variadic,omitempty"`
	From     string `json:"from,omitempty"`
}

// PipelineReport is the structured JSON representation of one pipeline.
type PipelineReport struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	ModulePath  string              `json:"module_path"`
	Steps       []string            `json:"steps"`
	DAG         map[string][]string `json:"dag"`
	Roots       []string            `json:"root_steps"`
	Leaves      []string            `json:"leaf_steps"`
	Webhooks    []WebhookReport     `json:"webhooks,omitempty"`
}

// WebhookReport is one webhook row in a pipeline report.
type WebhookReport struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Branch   string `json:"branch,omitempty"`
	Filter   string `json:"filter,omitempty"`
}

// BuildStepReport gathers the report data for one step.
func BuildStepReport(desc *step.Descriptor) *StepReport {
	report := &StepReport{
		Name:        desc.Name(),
		Description: desc.Description(),
		Sandbox:     desc.SandboxID(),
		Credentials: desc.Credentials(),
		DependsOn:   desc.DependsOn(),
		Return:      desc.Return().DeclaredType(),
		Metadata:    desc.Metadata(),
	}

	if file, line, ok := desc.Source(); ok {
		report.Source = fmt.Sprintf("%s:%d", file, line)
	}

	paramsFrom := desc.ParamsFromResults()
	params := desc.Params()
	for i := 0; i < params.Len(); i++ {
		spec := params.At(i)
		row := ParamReport{
			Name:     spec.Name,
			Type:     spec.DeclaredType,
			Required: spec.Required,
			From:     paramsFrom[spec.Name],
		}
		if spec.Variadic != schema.VariadicNone {
			row.Variadic = spec.Variadic.String()
		} else if spec.Default != nil {
			row.Default = fmt.Sprintf("%v", spec.Default)
		}
		report.Params = append(report.Params, row)
	}

	return report
}

// BuildPipelineReport gathers the report data for one pipeline,
// resolving its DAG against the step registry.
func BuildPipelineReport(steps *step.Registry, p *pipeline.Descriptor) (*PipelineReport, error) {
	dag, err := pipeline.ComputeDAG(steps, p)
	if err != nil {
		return nil, err
	}

	report := &PipelineReport{
		Name:        p.Name(),
		Description: p.Description(),
		ModulePath:  p.ModulePath(),
		Steps:       p.Members(),
		DAG:         dag.Edges,
		Roots:       dag.Roots,
		Leaves:      dag.Leaves,
	}
	for _, hook := range p.Webhooks() {
		report.Webhooks = append(report.Webhooks, WebhookReport{
			Name:     hook.Name,
			Provider: string(hook.Provider),
			Branch:   hook.Branch,
			Filter:   hook.Filter,
		})
	}
	return report, nil
}

// FormatStep renders a terminal-friendly step report.
func FormatStep(report *StepReport) string {
	var out strings.Builder
	fmt.Fprintf(&out, "Step: %s\n", report.Name)
	if report.Description != "" {
		fmt.Fprintf(&out, "Description : %s\n", report.Description)
	}
	if report.Source != "" {
		fmt.Fprintf(&out, "Source      : %s\n", report.Source)
	}
	if report.Sandbox != "" {
		fmt.Fprintf(&out, "Sandbox     : %s\n", report.Sandbox)
	}
	if len(report.DependsOn) == 0 {
		fmt.Fprintf(&out, "Depends On  : <none>\n")
	} else {
		fmt.Fprintf(&out, "Depends On  : %s\n", strings.Join(report.DependsOn, ", "))
	}

	if len(report.Credentials) > 0 {
		fmt.Fprintf(&out, "Credentials :\n")
		bindings := make([]string, 0, len(report.Credentials))
		for binding := range report.Credentials {
			bindings = append(bindings, binding)
		}
		sort.Strings(bindings)
		for _, binding := range bindings {
			fmt.Fprintf(&out, "  %s -> %s\n", binding, report.Credentials[binding])
		}
	}

	fmt.Fprintf(&out, "\nParameters:\n")
	if len(report.Params) == 0 {
		fmt.Fprintf(&out, "  <none>\n")
	}
	nameWidth, typeWidth := 0, 0
	for _, p := range report.Params {
		if len(p.Name) > nameWidth {
			nameWidth = len(p.Name)
		}
		if len(p.Type) > typeWidth {
			typeWidth = len(p.Type)
		}
	}
	for _, p := range report.Params {
		fmt.Fprintf(&out, "  %-*s  %-*s  %s\n", nameWidth, p.Name, typeWidth, p.Type, paramQualifier(p))
	}

	fmt.Fprintf(&out, "\nReturns     : %s\n", report.Return)

	if len(report.Metadata) > 0 {
		fmt.Fprintf(&out, "\nMetadata:\n")
		keys := make([]string, 0, len(report.Metadata))
		for k := range report.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&out, "  %s: %v\n", k, report.Metadata[k])
		}
	}

	return out.String()
}

func paramQualifier(p ParamReport) string {
	switch {
	case p.From != "":
		return fmt.Sprintf("from=%s", p.From)
	case p.Variadic != "":
		return p.Variadic
	case p.Default != "":
		return fmt.Sprintf("optional (default %s)", p.Default)
	case p.Required:
		return "required"
	default:
		return "optional"
	}
}

// FormatPipeline renders a terminal-friendly pipeline report.
func FormatPipeline(report *PipelineReport) string {
	var out strings.Builder
	fmt.Fprintf(&out, "Pipeline: %s\n", report.Name)
	if report.Description != "" {
		fmt.Fprintf(&out, "Description : %s\n", report.Description)
	}
	fmt.Fprintf(&out, "Module      : %s\n", report.ModulePath)
	if len(report.Steps) == 0 {
		fmt.Fprintf(&out, "Steps       : <none>\n")
	} else {
		fmt.Fprintf(&out, "Steps       : %s\n", strings.Join(report.Steps, ", "))
	}

	fmt.Fprintf(&out, "\nDAG:\n")
	width := 0
	for _, name := range report.Steps {
		if len(name) > width {
			width = len(name)
		}
	}
	for _, name := range report.Steps {
		deps := report.DAG[name]
		if len(deps) == 0 {
			fmt.Fprintf(&out, "  %-*s  <- (root)\n", width, name)
			continue
		}
		fmt.Fprintf(&out, "  %-*s  <- %s\n", width, name, strings.Join(deps, ", "))
	}

	fmt.Fprintf(&out, "\nRoots       : %s\n", joinOrNone(report.Roots))
	fmt.Fprintf(&out, "Leaves      : %s\n", joinOrNone(report.Leaves))

	if len(report.Webhooks) > 0 {
		fmt.Fprintf(&out, "\nWebhooks:\n")
		for _, hook := range report.Webhooks {
			fmt.Fprintf(&out, "  %s (%s", hook.Name, hook.Provider)
			if hook.Branch != "" {
				fmt.Fprintf(&out, ", branch=%s", hook.Branch)
			}
			fmt.Fprintf(&out, ")\n")
			if hook.Filter != "" {
				fmt.Fprintf(&out, "    filter: %s\n", hook.Filter)
			}
		}
	}

	return out.String()
}

// FormatStepJSON returns the machine-readable step report.
func FormatStepJSON(report *StepReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal step report: %w", err)
	}
	return string(data), nil
}

// FormatPipelineJSON returns the machine-readable pipeline report.
func FormatPipelineJSON(report *PipelineReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal pipeline report: %w", err)
	}
	return string(data), nil
}
