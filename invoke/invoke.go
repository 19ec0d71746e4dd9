// Package invoke executes a single step from two JSON sources: explicit
// input and the results of previously executed steps.
//
// One invocation is merge, validate, dispatch, serialize: the engine
// resolves dependency-backed parameters from upstream results (explicit
// input always shadows them), applies defaults, validates against the
// derived parameter set, calls the handler on the caller's goroutine, and
// encodes the result under the declared return type. It holds no state
// between calls, adds no scheduling, and never retries.
package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/mattjoyce/trestle/schema"
	"github.com/mattjoyce/trestle/step"
)

// Invoke runs one step. input carries caller-provided parameters and
// results carries prior step outputs keyed by step name; both are JSON
// objects, and empty strings mean empty objects. The returned string is
// the handler's result encoded under the step's declared return type.
//
// Malformed sources surface as *InputError or *UpstreamError, parameter
// failures as *ValidationError, and encoding failures as
// *SerializationError. Handler errors pass through unwrapped.
func Invoke(ctx context.Context, desc *step.Descriptor, input, results string) (string, error) {
	explicit, err := decodeObject(input)
	if err != nil {
		return "", &InputError{Step: desc.Name(), Err: err}
	}
	upstream, err := decodeObject(results)
	if err != nil {
		return "", &UpstreamError{Step: desc.Name(), Err: err}
	}

	merged := Resolve(desc, explicit, upstream)
	payload, verr := validate(desc, merged)
	if verr != nil {
		return "", verr
	}

	in, err := desc.Decode(payload)
	if err != nil {
		return "", decodeValidationError(desc, err)
	}

	out, err := desc.Dispatch(ctx, in)
	if err != nil {
		return "", err
	}
	slog.Debug("step completed", "step", desc.Name())

	return serialize(desc, out)
}

// Resolve merges explicit input with upstream results: for each
// dependency-backed parameter, the upstream value is copied only when the
// parameter is absent from explicit input. Pure function of its inputs;
// neither argument is modified.
func Resolve(desc *step.Descriptor, explicit, upstream map[string]json.RawMessage) map[string]json.RawMessage {
	merged := maps.Clone(explicit)
	if merged == nil {
		merged = make(map[string]json.RawMessage)
	}
	for param, source := range desc.ParamsFromResults() {
		if _, ok := merged[param]; ok {
			continue
		}
		if v, ok := upstream[source]; ok {
			merged[param] = v
		}
	}
	return merged
}

// decodeObject parses a JSON object string, treating empty input as an
// empty object.
func decodeObject(s string) (map[string]json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]json.RawMessage{}, nil
	}
	if s[0] != '{' {
		return nil, fmt.Errorf("expected a JSON object")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// validate checks the merged parameters against the derived set and
// produces the final payload: defaults applied, undeclared keys collected
// into the keyword-rest parameter when one is declared and ignored
// otherwise, required presence enforced.
func validate(desc *step.Descriptor, merged map[string]json.RawMessage) ([]byte, *ValidationError) {
	params := desc.Params()
	payload := make(map[string]json.RawMessage, params.Len())
	var fields []FieldError

	for i := 0; i < params.Len(); i++ {
		p := params.At(i)
		if p.Variadic == schema.VariadicMap {
			continue
		}
		if v, ok := merged[p.Name]; ok {
			payload[p.Name] = v
			continue
		}
		if p.Default != nil {
			raw, err := json.Marshal(p.Default)
			if err == nil {
				payload[p.Name] = raw
			}
			continue
		}
		if p.Required {
			fields = append(fields, missingFieldError(desc, p.Name))
		}
	}

	if rest, ok := params.RestMap(); ok {
		payload[rest.Name] = collectRest(params, rest, merged)
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Step: desc.Name(), Fields: fields}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &ValidationError{Step: desc.Name(), Fields: []FieldError{{
			Reason: fmt.Sprintf("cannot encode merged parameters: %v", err),
		}}}
	}
	return raw, nil
}

// collectRest builds the keyword-rest value: the explicitly passed map,
// if any, overlaid with every merged key that matches no declared
// parameter.
func collectRest(params *schema.ParameterSet, rest schema.ParameterSpec, merged map[string]json.RawMessage) json.RawMessage {
	base := map[string]json.RawMessage{}
	if v, ok := merged[rest.Name]; ok {
		if err := json.Unmarshal(v, &base); err != nil {
			// Not an object; pass through so the typed decode reports it.
			return v
		}
		if base == nil {
			base = map[string]json.RawMessage{}
		}
	}
	for k, v := range merged {
		if _, declared := params.Get(k); !declared {
			base[k] = v
		}
	}
	raw, err := json.Marshal(base)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func missingFieldError(desc *step.Descriptor, field string) FieldError {
	fe := FieldError{Field: field, Reason: "missing required parameter"}
	if source, ok := desc.ParamsFromResults()[field]; ok {
		fe.Source = source
		fe.Reason = fmt.Sprintf("missing required parameter (no result from step %q)", source)
	}
	return fe
}

// decodeValidationError converts a strict-decode failure into a
// ValidationError naming the offending field.
func decodeValidationError(desc *step.Descriptor, err error) *ValidationError {
	fe := FieldError{Reason: err.Error()}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		fe.Field = typeErr.Field
		fe.Reason = fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)
		root := typeErr.Field
		if i := strings.IndexByte(root, '.'); i >= 0 {
			root = root[:i]
		}
		if source, ok := desc.ParamsFromResults()[root]; ok {
			fe.Source = source
		}
	}
	return &ValidationError{Step: desc.Name(), Fields: []FieldError{fe}}
}

// serialize encodes the handler's result. Typed results marshal under the
// declared type; untyped results are coerced to their string rendering
// first.
func serialize(desc *step.Descriptor, out any) (string, error) {
	if desc.Return().Untyped() {
		out = fmt.Sprint(out)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", &SerializationError{Step: desc.Name(), Err: err}
	}
	return string(raw), nil
}
