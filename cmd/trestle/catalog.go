package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/trestle/internal/inspect"
)

// --- NOUN DISPATCHERS ---

func runStepsNoun(args []string) int {
	if len(args) < 1 {
		printStepsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printStepsNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printStepsListHelp()
			return 0
		}
		return runStepsList(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printStepsShowHelp()
			return 0
		}
		return runStepsShow(actionArgs)
	case "help":
		printStepsNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown steps action: %s\n", action)
		return 1
	}
}

func runPipelinesNoun(args []string) int {
	if len(args) < 1 {
		printPipelinesNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printPipelinesNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printPipelinesListHelp()
			return 0
		}
		return runPipelinesList(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printPipelinesShowHelp()
			return 0
		}
		return runPipelinesShow(actionArgs)
	case "help":
		printPipelinesNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown pipelines action: %s\n", action)
		return 1
	}
}

func printStepsNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: trestle steps <action> [flags]")
	fmt.Fprintln(w, "Actions: list, show")
}

func printPipelinesNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: trestle pipelines <action> [flags]")
	fmt.Fprintln(w, "Actions: list, show")
}

func printStepsListHelp() {
	fmt.Println("Usage: trestle steps list [--config PATH] [--json]")
	fmt.Println("List every registered step.")
}

func printStepsShowHelp() {
	fmt.Println("Usage: trestle steps show <name> [--config PATH] [--json]")
	fmt.Println("Show one step's schemas, dependencies, and execution metadata.")
}

func printPipelinesListHelp() {
	fmt.Println("Usage: trestle pipelines list [--config PATH] [--json]")
	fmt.Println("List every registered pipeline.")
}

func printPipelinesShowHelp() {
	fmt.Println("Usage: trestle pipelines show <name> [--config PATH] [--json]")
	fmt.Println("Show one pipeline's members, DAG, and boundary schemas.")
}

// --- ACTION IMPLEMENTATIONS ---

type stepListEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	DependsOn   []string `json:"depends_on"`
	Sandbox     string   `json:"sandbox,omitempty"`
}

func runStepsList(args []string) int {
	fs := flag.NewFlagSet("steps list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to trestle.yaml")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	steps, _, _, err := loadCatalog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unit load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		entries := make([]stepListEntry, 0, steps.Len())
		for _, desc := range steps.All() {
			deps := desc.DependsOn()
			if deps == nil {
				deps = []string{}
			}
			entries = append(entries, stepListEntry{
				Name:        desc.Name(),
				Description: desc.Description(),
				DependsOn:   deps,
				Sandbox:     desc.SandboxID(),
			})
		}
		out, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(out))
		return 0
	}

	fmt.Printf("Steps (%d):\n", steps.Len())
	if steps.Len() == 0 {
		fmt.Println("  (none)")
		return 0
	}
	for _, desc := range steps.All() {
		fmt.Printf("\n%s\n", desc.Name())
		if desc.Description() != "" {
			fmt.Printf("  Description: %s\n", desc.Description())
		}
		if deps := desc.DependsOn(); len(deps) > 0 {
			fmt.Printf("  Depends on: %s\n", strings.Join(deps, ", "))
		}
		if desc.SandboxID() != "" {
			fmt.Printf("  Sandbox: %s\n", desc.SandboxID())
		}
	}
	return 0
}

func runStepsShow(args []string) int {
	name, remaining := splitLeadingName(args)

	fs := flag.NewFlagSet("steps show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to trestle.yaml")
	jsonOut := fs.Bool("json", false, "Output the report in JSON")
	if err := fs.Parse(remaining); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if name == "" {
		fmt.Fprintln(os.Stderr, "Usage: trestle steps show <name> [--config PATH] [--json]")
		return 1
	}

	cfg, err := loadConfigFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	steps, _, _, err := loadCatalog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unit load error: %v\n", err)
		return 1
	}

	desc, ok := steps.Get(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown step: %s\n", name)
		if names := steps.Names(); len(names) > 0 {
			fmt.Fprintf(os.Stderr, "Registered steps: %s\n", strings.Join(names, ", "))
		}
		return 1
	}

	report := inspect.BuildStepReport(desc)
	if *jsonOut {
		out, err := inspect.FormatStepJSON(report)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
		return 0
	}
	fmt.Print(inspect.FormatStep(report))
	return 0
}

type pipelineListEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ModulePath  string   `json:"module_path,omitempty"`
	Steps       []string `json:"steps"`
	Webhooks    int      `json:"webhooks,omitempty"`
}

func runPipelinesList(args []string) int {
	fs := flag.NewFlagSet("pipelines list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to trestle.yaml")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	_, pipelines, _, err := loadCatalog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unit load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		entries := make([]pipelineListEntry, 0, pipelines.Len())
		for _, p := range pipelines.All() {
			entries = append(entries, pipelineListEntry{
				Name:        p.Name(),
				Description: p.Description(),
				ModulePath:  p.ModulePath(),
				Steps:       p.Members(),
				Webhooks:    len(p.Webhooks()),
			})
		}
		out, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(out))
		return 0
	}

	fmt.Printf("Pipelines (%d):\n", pipelines.Len())
	if pipelines.Len() == 0 {
		fmt.Println("  (none)")
		return 0
	}
	for _, p := range pipelines.All() {
		fmt.Printf("\n%s\n", p.Name())
		if p.Description() != "" {
			fmt.Printf("  Description: %s\n", p.Description())
		}
		if p.ModulePath() != "" {
			fmt.Printf("  Module: %s\n", p.ModulePath())
		}
		fmt.Printf("  Steps: %s\n", strings.Join(p.Members(), ", "))
		if hooks := p.Webhooks(); len(hooks) > 0 {
			names := make([]string, len(hooks))
			for i, h := range hooks {
				names[i] = h.Name
			}
			fmt.Printf("  Webhooks: %s\n", strings.Join(names, ", "))
		}
	}
	return 0
}

func runPipelinesShow(args []string) int {
	name, remaining := splitLeadingName(args)

	fs := flag.NewFlagSet("pipelines show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to trestle.yaml")
	jsonOut := fs.Bool("json", false, "Output the report in JSON")
	if err := fs.Parse(remaining); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if name == "" {
		fmt.Fprintln(os.Stderr, "Usage: trestle pipelines show <name> [--config PATH] [--json]")
		return 1
	}

	cfg, err := loadConfigFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	steps, pipelines, _, err := loadCatalog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unit load error: %v\n", err)
		return 1
	}

	p, ok := pipelines.Get(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown pipeline: %s\n", name)
		if names := pipelines.Names(); len(names) > 0 {
			fmt.Fprintf(os.Stderr, "Registered pipelines: %s\n", strings.Join(names, ", "))
		}
		return 1
	}

	report, err := inspect.BuildPipelineReport(steps, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline report: %v\n", err)
		return 1
	}
	if *jsonOut {
		out, err := inspect.FormatPipelineJSON(report)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
		return 0
	}
	fmt.Print(inspect.FormatPipeline(report))
	return 0
}

// splitLeadingName pulls the first non-flag argument out of args so a
// positional name can appear before or after the flags.
func splitLeadingName(args []string) (string, []string) {
	var name string
	var remaining []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && name == "" {
			name = arg
			continue
		}
		remaining = append(remaining, arg)
	}
	return name, remaining
}
