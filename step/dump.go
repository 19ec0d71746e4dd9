package step

import (
	"encoding/json"
	"maps"
	"slices"
)

// Dump is the wire form of a Descriptor consumed by the orchestration
// backend. Field names and nesting are a compatibility contract and must
// not change. Optional fields are omitted when unset; depends_on and
// params_from_step_results are always present, empty or not. The resource
// identifier deliberately stays off the wire.
type Dump struct {
	Name                   string            `json:"name"`
	Description            string            `json:"description,omitempty"`
	SetupScript            string            `json:"setup_script,omitempty"`
	PostExecutionScript    string            `json:"post_execution_script,omitempty"`
	Metadata               map[string]any    `json:"metadata,omitempty"`
	ExecutionEnvironmentID string            `json:"execution_environment_id,omitempty"`
	DependsOn              []string          `json:"depends_on"`
	FilePath               string            `json:"file_path,omitempty"`
	FileLineNumber         int               `json:"file_line_number,omitempty"`
	ParamsJSONSchema       json.RawMessage   `json:"params_json_schema"`
	ReturnJSONSchema       json.RawMessage   `json:"return_json_schema"`
	ParamsFromStepResults  map[string]string `json:"params_from_step_results"`
	CredentialBindings     map[string]string `json:"credential_bindings,omitempty"`
}

// Dump renders the descriptor in its wire form.
func (d *Descriptor) Dump() Dump {
	dump := Dump{
		Name:                   d.name,
		Description:            d.description,
		SetupScript:            d.setupScript,
		PostExecutionScript:    d.postScript,
		Metadata:               maps.Clone(d.metadata),
		ExecutionEnvironmentID: d.sandboxID,
		DependsOn:              slices.Clone(d.dependsOn),
		ParamsJSONSchema:       d.params.JSONSchema(),
		ReturnJSONSchema:       d.ret.JSONSchema(),
		ParamsFromStepResults:  maps.Clone(d.paramsFrom),
		CredentialBindings:     maps.Clone(d.credentials),
	}
	if dump.DependsOn == nil {
		dump.DependsOn = []string{}
	}
	if dump.ParamsFromStepResults == nil {
		dump.ParamsFromStepResults = map[string]string{}
	}
	if d.hasSrc {
		dump.FilePath = d.filePath
		dump.FileLineNumber = d.fileLine
	}
	return dump
}
