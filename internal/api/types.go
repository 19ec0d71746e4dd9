package api

import (
	"encoding/json"
)

// InvokeRequest is the JSON body for POST /v1/steps/{step}/invoke.
// Input carries explicit parameters and Results carries upstream step
// outputs keyed by step name; both are JSON objects. Run names a recorded
// run whose cached results stand in for Results; the two are mutually
// exclusive, and the invocation result is written back under the run.
type InvokeRequest struct {
	Input   json.RawMessage `json:"input,omitempty"`
	Results json.RawMessage `json:"results,omitempty"`
	Run     string          `json:"run,omitempty"`
}

// InvokeResponse is returned on successful invocation
type InvokeResponse struct {
	Step       string          `json:"step"`
	Result     json.RawMessage `json:"result"`
	DurationMs int64           `json:"duration_ms"`
}

// StepSummary is one entry in StepListResponse
type StepSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	DependsOn   []string `json:"depends_on"`
}

// StepListResponse is returned by GET /v1/steps
type StepListResponse struct {
	Steps []StepSummary `json:"steps"`
}

// PipelineSummary is one entry in PipelineListResponse
type PipelineSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ModulePath  string   `json:"module_path,omitempty"`
	Steps       []string `json:"steps"`
}

// PipelineListResponse is returned by GET /v1/pipelines
type PipelineListResponse struct {
	Pipelines []PipelineSummary `json:"pipelines"`
}

// FieldIssue names one offending parameter in a ValidationErrorResponse.
// Source carries the producing step's name for dependency-backed
// parameters.
type FieldIssue struct {
	Field  string `json:"field,omitempty"`
	Source string `json:"source,omitempty"`
	Reason string `json:"reason"`
}

// ValidationErrorResponse is returned when merged parameters fail
// validation; every offending field is listed.
type ValidationErrorResponse struct {
	Error  string       `json:"error"`
	Step   string       `json:"step"`
	Fields []FieldIssue `json:"fields"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status              string `json:"status"`
	UptimeSeconds       int64  `json:"uptime_seconds"`
	StepsRegistered     int    `json:"steps_registered"`
	PipelinesRegistered int    `json:"pipelines_registered"`
}
