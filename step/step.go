// Package step builds immutable, introspectable descriptors from ordinary
// Go functions.
//
// A step is declared with a typed params struct, a handler, and options:
//
//	type AddParams struct {
//		A int `json:"a"`
//		B int `json:"b"`
//	}
//
//	desc, err := step.New("add", step.Pure(func(p AddParams) (int, error) {
//		return p.A + p.B, nil
//	}), step.WithDescription("Add two numbers"))
//
// The constructor derives parameter and return schemas from the type
// parameters, extracts produced-by-step markers from `step:"from="` tags
// and WithParamFrom options, and captures the declaration site. The
// resulting Descriptor carries everything a remote orchestrator needs to
// schedule the step; it holds no execution state of its own.
//
// Descriptors are plain values until registered. Registration is an
// explicit call on a Registry; there is no package-level registry.
package step

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"sort"

	"github.com/google/uuid"

	"github.com/mattjoyce/trestle/schema"
)

// Handler is the uniform step signature: context in, typed params in,
// typed result out. Use Pure to adapt a context-free function.
type Handler[In, Out any] func(context.Context, In) (Out, error)

// Pure adapts a synchronous function that needs no context.
func Pure[In, Out any](fn func(In) (Out, error)) Handler[In, Out] {
	return func(_ context.Context, in In) (Out, error) {
		return fn(in)
	}
}

// Descriptor is the immutable description of one step: identity, schemas,
// data-flow edges, execution metadata, and the handler itself.
type Descriptor struct {
	name        string
	rid         string
	description string
	setupScript string
	postScript  string
	metadata    map[string]any
	sandboxID   string
	credentials map[string]string

	params     *schema.ParameterSet
	ret        *schema.ReturnSchema
	paramsFrom map[string]string
	dependsOn  []string

	filePath string
	fileLine int
	hasSrc   bool

	decode   func(payload []byte) (any, error)
	dispatch func(ctx context.Context, in any) (any, error)
}

// New derives schemas for In and Out, applies options, and returns the
// built Descriptor. In must be a struct type (use struct{} for a step
// without parameters); Out may be any serializable type, or `any` for an
// untyped step whose results serialize as strings.
//
// Derivation failures surface as *schema.DerivationError and are fatal
// for the step: a descriptor is never built with a degraded schema.
func New[In, Out any](name string, fn Handler[In, Out], opts ...Option) (*Descriptor, error) {
	if fn == nil {
		return nil, fmt.Errorf("step %q: handler is required", name)
	}

	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.name != "" {
		name = o.name
	}
	if name == "" {
		return nil, fmt.Errorf("step name is required")
	}

	inType := reflect.TypeOf((*In)(nil)).Elem()
	outType := reflect.TypeOf((*Out)(nil)).Elem()
	deriv, err := schema.Derive(inType, outType)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", name, err)
	}

	paramsFrom := make(map[string]string, len(deriv.Edges))
	for _, e := range deriv.Edges {
		paramsFrom[e.Parameter] = e.Source
	}
	for param, source := range o.paramsFrom {
		if _, ok := deriv.Params.Get(param); !ok {
			return nil, fmt.Errorf("step %q: WithParamFrom references unknown parameter %q", name, param)
		}
		paramsFrom[param] = source
	}

	rid := o.rid
	if rid == "" {
		rid = uuid.NewString()
	}

	d := &Descriptor{
		name:        name,
		rid:         rid,
		description: o.description,
		setupScript: o.setupScript,
		postScript:  o.postScript,
		metadata:    maps.Clone(o.metadata),
		sandboxID:   o.sandboxID,
		credentials: maps.Clone(o.credentials),
		params:      deriv.Params,
		ret:         deriv.Return,
		paramsFrom:  paramsFrom,
		dependsOn:   sortedUniqueValues(paramsFrom),
		decode: func(payload []byte) (any, error) {
			var in In
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &in); err != nil {
					return nil, err
				}
			}
			return in, nil
		},
		dispatch: func(ctx context.Context, in any) (any, error) {
			return fn(ctx, in.(In))
		},
	}
	d.filePath, d.fileLine, d.hasSrc = callerSource(2)
	return d, nil
}

// Name returns the step's effective name.
func (d *Descriptor) Name() string { return d.name }

// RID returns the step's stable resource identifier.
func (d *Descriptor) RID() string { return d.rid }

// Description returns the human-readable description, empty when unset.
func (d *Descriptor) Description() string { return d.description }

// SetupScript returns the script run before execution, empty when unset.
func (d *Descriptor) SetupScript() string { return d.setupScript }

// PostScript returns the script run after execution, empty when unset.
func (d *Descriptor) PostScript() string { return d.postScript }

// Metadata returns the step's metadata. Callers must treat it as
// read-only.
func (d *Descriptor) Metadata() map[string]any { return d.metadata }

// SandboxID returns the execution environment id, empty when unset.
func (d *Descriptor) SandboxID() string { return d.sandboxID }

// Credentials returns the credential name to id bindings. Callers must
// treat it as read-only.
func (d *Descriptor) Credentials() map[string]string { return d.credentials }

// Params returns the derived parameter set.
func (d *Descriptor) Params() *schema.ParameterSet { return d.params }

// Return returns the derived return schema.
func (d *Descriptor) Return() *schema.ReturnSchema { return d.ret }

// ParamsFromResults maps parameter names to the steps whose results
// populate them. Callers must treat it as read-only.
func (d *Descriptor) ParamsFromResults() map[string]string { return d.paramsFrom }

// DependsOn returns the sorted, deduplicated names of the steps this step
// consumes results from. Names may reference steps outside the local
// registry.
func (d *Descriptor) DependsOn() []string { return d.dependsOn }

// Source returns the declaration site when it could be captured.
func (d *Descriptor) Source() (file string, line int, ok bool) {
	return d.filePath, d.fileLine, d.hasSrc
}

// Decode strictly decodes a merged parameter payload into the step's
// params type. A type mismatch surfaces as a *json.UnmarshalTypeError;
// a nil or empty payload decodes to the zero params value.
func (d *Descriptor) Decode(payload []byte) (any, error) {
	return d.decode(payload)
}

// Dispatch runs the handler on the caller's goroutine with the caller's
// context. It adds no timeout, no retry, and no buffering; cancellation
// propagates straight into the handler. Handler errors return unwrapped.
// The in value must come from Decode on the same descriptor.
func (d *Descriptor) Dispatch(ctx context.Context, in any) (any, error) {
	return d.dispatch(ctx, in)
}

// Call decodes a payload and dispatches the handler in one shot. Most
// callers want the invoke package, which also merges input sources and
// validates against the parameter set first.
func (d *Descriptor) Call(ctx context.Context, payload []byte) (any, error) {
	in, err := d.decode(payload)
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, in)
}

func sortedUniqueValues(in map[string]string) []string {
	seen := make(map[string]struct{}, len(in))
	for _, value := range in {
		seen[value] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for value := range seen {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
