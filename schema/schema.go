// Package schema derives machine-readable parameter and return schemas
// from typed Go declarations.
//
// A step's parameters are declared as the exported fields of a struct.
// Field names follow the json tag when present. Two tag namespaces shape
// the derivation:
//
//   - `jsonschema:"..."` carries constraints and defaults, e.g.
//     `jsonschema:"description=Region code,default=7"`.
//   - `step:"..."` carries engine directives: `from=<step>` marks the
//     parameter as produced by another step's result, `rest` marks a slice
//     field as the positional-rest parameter, and `restmap` marks a
//     map[string]T field as the keyword-rest parameter.
//
// Derivation happens once, at descriptor build time; the resulting
// ParameterSet and ReturnSchema are immutable.
package schema

import (
	"encoding/json"
	"reflect"
)

// VariadicKind classifies how a parameter absorbs surplus input.
type VariadicKind int

const (
	// VariadicNone is an ordinary parameter.
	VariadicNone VariadicKind = iota
	// VariadicSlice is a positional-rest parameter: a repeated element of
	// its declared element type, never required, defaulting to an empty
	// list.
	VariadicSlice
	// VariadicMap is a keyword-rest parameter: an open map of string to
	// its declared value type, never required, defaulting to an empty
	// map. At invocation it collects input keys that match no declared
	// parameter.
	VariadicMap
)

func (k VariadicKind) String() string {
	switch k {
	case VariadicSlice:
		return "positional-rest"
	case VariadicMap:
		return "keyword-rest"
	default:
		return "none"
	}
}

// ParameterSpec describes one declared parameter.
type ParameterSpec struct {
	// Name is the wire name: the json tag name when present, else the Go
	// field name. Unique within a ParameterSet.
	Name string
	// DeclaredType is the Go type as declared, with "any" standing in for
	// the empty interface.
	DeclaredType string
	// Required reports whether invocation must receive a value. Variadic
	// parameters are never required.
	Required bool
	// Default is the declared default value, nil when absent. A defaulted
	// parameter is optional.
	Default any
	// Variadic classifies rest parameters.
	Variadic VariadicKind
	// Schema is this parameter's JSON Schema fragment.
	Schema json.RawMessage

	goType reflect.Type
}

// GoType returns the parameter's declared Go type.
func (p ParameterSpec) GoType() reflect.Type { return p.goType }

// DependencyEdge records that a parameter's value originates from another
// step's result. Source is the referenced step's effective name.
type DependencyEdge struct {
	Parameter string
	Source    string
}

// ParameterSet is the ordered, immutable collection of a step's
// parameters, built once at derivation time.
type ParameterSet struct {
	params []ParameterSpec
	byName map[string]int
	schema json.RawMessage
	goType reflect.Type
}

// Len returns the number of declared parameters.
func (s *ParameterSet) Len() int { return len(s.params) }

// At returns the parameter at position i in declaration order.
func (s *ParameterSet) At(i int) ParameterSpec { return s.params[i] }

// Get looks a parameter up by name.
func (s *ParameterSet) Get(name string) (ParameterSpec, bool) {
	i, ok := s.byName[name]
	if !ok {
		return ParameterSpec{}, false
	}
	return s.params[i], true
}

// Names returns the parameter names in declaration order.
func (s *ParameterSet) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.Name
	}
	return names
}

// RestMap returns the keyword-rest parameter, if one is declared.
func (s *ParameterSet) RestMap() (ParameterSpec, bool) {
	for _, p := range s.params {
		if p.Variadic == VariadicMap {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// JSONSchema returns the full parameter object schema.
func (s *ParameterSet) JSONSchema() json.RawMessage { return s.schema }

// GoType returns the params struct type the set was derived from.
func (s *ParameterSet) GoType() reflect.Type { return s.goType }

// ReturnSchema describes a step's declared result.
type ReturnSchema struct {
	declaredType string
	schema       json.RawMessage
	goType       reflect.Type
}

// DeclaredType returns the declared Go result type, "any" when untyped.
func (r *ReturnSchema) DeclaredType() string { return r.declaredType }

// Untyped reports whether no concrete result type was declared. Untyped
// results are serialized as strings at invocation.
func (r *ReturnSchema) Untyped() bool { return r.declaredType == "any" }

// JSONSchema returns the result's JSON Schema.
func (r *ReturnSchema) JSONSchema() json.RawMessage { return r.schema }

// GoType returns the declared Go result type, nil when untyped.
func (r *ReturnSchema) GoType() reflect.Type { return r.goType }

// Derivation is the complete output of Derive for one callable.
type Derivation struct {
	Params *ParameterSet
	Return *ReturnSchema
	// Edges holds the produced-by-step markers found in `step:"from="`
	// tags, in parameter declaration order.
	Edges []DependencyEdge
}
