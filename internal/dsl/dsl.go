// Package dsl renders the full descriptor catalog as a deterministic
// JSON envelope, fingerprinted so drift against a recorded copy is
// detectable.
package dsl

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/trestle/pipeline"
	"github.com/mattjoyce/trestle/step"
)

// Envelope is the wire form of the whole catalog. Steps and pipelines
// are keyed by name; map marshaling keeps key order sorted, so the same
// registries always produce identical bytes.
type Envelope struct {
	Steps       map[string]json.RawMessage `json:"steps"`
	Pipelines   map[string]json.RawMessage `json:"pipelines"`
	Fingerprint string                     `json:"fingerprint"`
}

// payload is the fingerprinted portion of the envelope.
type payload struct {
	Steps     map[string]json.RawMessage `json:"steps"`
	Pipelines map[string]json.RawMessage `json:"pipelines"`
}

// Build assembles the envelope from the registries. Pipeline dumps
// resolve members against the step registry, so a pipeline naming an
// unregistered step fails the build.
func Build(steps *step.Registry, pipelines *pipeline.Registry) (*Envelope, error) {
	env := &Envelope{
		Steps:     make(map[string]json.RawMessage),
		Pipelines: make(map[string]json.RawMessage),
	}

	for _, desc := range steps.All() {
		data, err := json.Marshal(desc.Dump())
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", desc.Name(), err)
		}
		env.Steps[desc.Name()] = data
	}

	for _, p := range pipelines.All() {
		dump, err := p.Dump(steps)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(dump)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", p.Name(), err)
		}
		env.Pipelines[p.Name()] = data
	}

	fp, err := fingerprint(env.Steps, env.Pipelines)
	if err != nil {
		return nil, err
	}
	env.Fingerprint = fp
	return env, nil
}

// Encode returns the envelope as indented JSON with a trailing newline.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode DSL envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// Write records the envelope at path.
func Write(path string, e *Envelope) error {
	data, err := e.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write DSL envelope: %w", err)
	}
	return nil
}

// Check compares the current envelope against the copy recorded at
// path. It fails when no copy exists, when the recorded copy's own
// fingerprint doesn't match its content, or when the fingerprints
// differ (declarations changed since the record was written).
func Check(path string, current *Envelope) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no recorded DSL at %s\n"+
				"Run: trestle dsl --output %s", path, path)
		}
		return fmt.Errorf("failed to read recorded DSL: %w", err)
	}

	var recorded Envelope
	if err := json.Unmarshal(data, &recorded); err != nil {
		return fmt.Errorf("failed to parse recorded DSL at %s: %w", path, err)
	}

	selfFP, err := fingerprint(recorded.Steps, recorded.Pipelines)
	if err != nil {
		return err
	}
	if selfFP != recorded.Fingerprint {
		return fmt.Errorf("recorded DSL at %s is corrupt: fingerprint %s does not match content (%s)\n"+
			"This indicates the file was edited by hand. Run: trestle dsl --output %s", path, recorded.Fingerprint, selfFP, path)
	}

	if recorded.Fingerprint != current.Fingerprint {
		return fmt.Errorf("DSL drift detected at %s:\n"+
			"  recorded: %s\n"+
			"  current:  %s\n"+
			"Step or pipeline declarations changed since the record was written. Run: trestle dsl --output %s",
			path, recorded.Fingerprint, current.Fingerprint, path)
	}

	return nil
}

// fingerprint computes the BLAKE3 content fingerprint of the catalog.
func fingerprint(steps, pipelines map[string]json.RawMessage) (string, error) {
	data, err := json.Marshal(payload{Steps: steps, Pipelines: pipelines})
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint DSL: %w", err)
	}
	hash := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(hash[:]), nil
}
