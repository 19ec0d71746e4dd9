package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/trestle/internal/results"
	"github.com/mattjoyce/trestle/invoke"
)

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to trestle.yaml")
	stepName := fs.String("step", "", "Step to invoke (required)")
	input := fs.String("input", "", "Input JSON object")
	inputFile := fs.String("input-file", "", "Read the input JSON object from a file")
	resultsJSON := fs.String("results", "", "Upstream results JSON object, keyed by step name")
	resultsFile := fs.String("results-file", "", "Read the upstream results JSON object from a file")
	runID := fs.String("run", "", "Gather upstream results from the store under this run id")
	outputFile := fs.String("output-file", "", "Write the result to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *stepName == "" {
		printRunHelp()
		return 1
	}
	if *input != "" && *inputFile != "" {
		fmt.Fprintln(os.Stderr, "Use only one of --input or --input-file")
		return 1
	}
	resultSources := 0
	for _, set := range []bool{*resultsJSON != "", *resultsFile != "", *runID != ""} {
		if set {
			resultSources++
		}
	}
	if resultSources > 1 {
		fmt.Fprintln(os.Stderr, "Use only one of --results, --results-file, or --run")
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

	desc, ok := steps.Get(*stepName)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown step: %s\n", *stepName)
		if names := steps.Names(); len(names) > 0 {
			fmt.Fprintf(os.Stderr, "Registered steps: %s\n", strings.Join(names, ", "))
		}
		return 1
	}

	inputJSON := *input
	if *inputFile != "" {
		data, err := os.ReadFile(*inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read input file: %v\n", err)
			return 1
		}
		inputJSON = string(data)
	}

	ctx := context.Background()

	upstream := *resultsJSON
	if *resultsFile != "" {
		data, err := os.ReadFile(*resultsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read results file: %v\n", err)
			return 1
		}
		upstream = string(data)
	}

	var store *results.Store
	if *runID != "" {
		store, err = results.Open(ctx, cfg.Results.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open results store: %v\n", err)
			return 1
		}
		defer store.Close()

		gathered, missing, err := store.Gather(ctx, *runID, desc.DependsOn())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to gather cached results: %v\n", err)
			return 1
		}
		if len(missing) > 0 {
			fmt.Fprintf(os.Stderr, "Missing cached results for: %s\n", strings.Join(missing, ", "))
			return 1
		}
		upstream = gathered
	}

	result, err := invoke.Invoke(ctx, desc, inputJSON, upstream)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *runID != "" {
		if err := store.Put(ctx, *runID, desc.Name(), result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to record result: %v\n", err)
			return 1
		}
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, []byte(result+"\n"), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write output file: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Println(result)
	return 0
}
