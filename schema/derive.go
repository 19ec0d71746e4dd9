package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/invopop/jsonschema"
)

// Derive inspects a params struct type and a result type and produces the
// full Derivation for one callable: the ordered ParameterSet, the
// ReturnSchema, and any produced-by-step edges declared in field tags.
//
// paramsType must be a struct type (or pointer to one); use struct{} for a
// step that takes no parameters. resultType may be nil or the empty
// interface, in which case the return is untyped and results serialize as
// strings. Any unresolvable declaration aborts derivation with a
// *DerivationError; a callable never registers with a degraded schema.
func Derive(paramsType, resultType reflect.Type) (*Derivation, error) {
	pt := paramsType
	if pt == nil {
		return nil, derivationErr("<nil>", "", "parameters type is required; declare struct{} for none")
	}
	if pt.Kind() == reflect.Pointer {
		pt = pt.Elem()
	}
	if pt.Kind() != reflect.Struct {
		return nil, derivationErr(typeName(paramsType), "", "parameters must be declared as a struct type (got %s)", pt.Kind())
	}

	specs, edges, err := collectFields(pt)
	if err != nil {
		return nil, err
	}

	fullSchema, fragments, err := paramsObjectSchema(pt, specs)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int, len(specs))
	for i := range specs {
		specs[i].Schema = fragments[i]
		byName[specs[i].Name] = i
	}

	ret, err := deriveReturn(resultType)
	if err != nil {
		return nil, err
	}

	return &Derivation{
		Params: &ParameterSet{
			params: specs,
			byName: byName,
			schema: fullSchema,
			goType: pt,
		},
		Return: ret,
		Edges:  edges,
	}, nil
}

// collectFields walks the struct's exported fields in declaration order,
// flattening embedded structs the way encoding/json does.
func collectFields(t reflect.Type) ([]ParameterSpec, []DependencyEdge, error) {
	var (
		specs []ParameterSpec
		edges []DependencyEdge
	)
	seen := make(map[string]bool)
	label := typeName(t)

	var walk func(st reflect.Type) error
	walk = func(st reflect.Type) error {
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if !f.IsExported() {
				continue
			}

			name, skip, omitEmpty := jsonFieldName(f)
			if skip {
				continue
			}

			if f.Anonymous && f.Tag.Get("json") == "" {
				et := f.Type
				if et.Kind() == reflect.Pointer {
					et = et.Elem()
				}
				if et.Kind() == reflect.Struct {
					if err := walk(et); err != nil {
						return err
					}
					continue
				}
			}

			if seen[name] {
				return derivationErr(label, f.Name, "duplicate parameter name %q", name)
			}
			seen[name] = true

			directives, err := parseStepTag(f.Tag.Get(TagKey))
			if err != nil {
				return derivationErr(label, f.Name, "invalid step tag: %v", err)
			}

			if err := checkSupportedType(label, f.Name, f.Type, make(map[reflect.Type]bool)); err != nil {
				return err
			}

			spec := ParameterSpec{
				Name:         name,
				DeclaredType: typeName(f.Type),
				goType:       f.Type,
			}

			switch {
			case directives.rest:
				if f.Type.Kind() != reflect.Slice {
					return derivationErr(label, f.Name, "rest requires a slice type (got %s)", typeName(f.Type))
				}
				if hasVariadic(specs, VariadicSlice) {
					return derivationErr(label, f.Name, "multiple positional-rest parameters declared")
				}
				spec.Variadic = VariadicSlice
				spec.Default = []any{}
			case directives.restMap:
				if f.Type.Kind() != reflect.Map || f.Type.Key().Kind() != reflect.String {
					return derivationErr(label, f.Name, "restmap requires a map[string]T type (got %s)", typeName(f.Type))
				}
				if hasVariadic(specs, VariadicMap) {
					return derivationErr(label, f.Name, "multiple keyword-rest parameters declared")
				}
				spec.Variadic = VariadicMap
				spec.Default = map[string]any{}
			}

			if raw, ok := jsonschemaDefault(f); ok {
				if spec.Variadic != VariadicNone {
					return derivationErr(label, f.Name, "default= cannot be combined with rest or restmap")
				}
				value, err := parseDefault(f.Type, raw)
				if err != nil {
					return derivationErr(label, f.Name, "invalid default %q: %v", raw, err)
				}
				spec.Default = value
			}

			spec.Required = spec.Variadic == VariadicNone &&
				spec.Default == nil &&
				!omitEmpty &&
				f.Type.Kind() != reflect.Pointer

			specs = append(specs, spec)
			if directives.fromStep != "" {
				edges = append(edges, DependencyEdge{Parameter: name, Source: directives.fromStep})
			}
		}
		return nil
	}

	if err := walk(t); err != nil {
		return nil, nil, err
	}
	return specs, edges, nil
}

func hasVariadic(specs []ParameterSpec, kind VariadicKind) bool {
	for _, s := range specs {
		if s.Variadic == kind {
			return true
		}
	}
	return false
}

func deriveReturn(t reflect.Type) (*ReturnSchema, error) {
	if t == nil || (t.Kind() == reflect.Interface && t.NumMethod() == 0) {
		// Untyped results are coerced to strings at invocation, so the
		// declared schema is the string schema.
		return &ReturnSchema{declaredType: "any", schema: json.RawMessage(`{"type":"string"}`)}, nil
	}
	if t.Kind() == reflect.Interface {
		return nil, derivationErr(typeName(t), "", "non-empty interface result types cannot be derived")
	}
	if err := checkSupportedType(typeName(t), "", t, make(map[reflect.Type]bool)); err != nil {
		return nil, err
	}
	m, err := reflectToMap(t)
	if err != nil {
		return nil, derivationErr(typeName(t), "", "%v", err)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, derivationErr(typeName(t), "", "encode schema: %v", err)
	}
	return &ReturnSchema{declaredType: typeName(t), schema: raw, goType: t}, nil
}

// paramsObjectSchema reflects the params struct into its JSON Schema
// object, rebuilds the required list from the derived specs, injects
// declared defaults, and extracts the per-parameter fragments.
func paramsObjectSchema(t reflect.Type, specs []ParameterSpec) (json.RawMessage, []json.RawMessage, error) {
	m, err := reflectToMap(t)
	if err != nil {
		return nil, nil, derivationErr(typeName(t), "", "%v", err)
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}

	required := make([]string, 0, len(specs))
	for _, s := range specs {
		if s.Required {
			required = append(required, s.Name)
		}
	}
	if len(required) > 0 {
		m["required"] = required
	} else {
		delete(m, "required")
	}

	props, _ := m["properties"].(map[string]any)
	if props == nil {
		props = make(map[string]any)
		if len(specs) > 0 {
			m["properties"] = props
		}
	}

	fragments := make([]json.RawMessage, len(specs))
	for i, s := range specs {
		pm, _ := props[s.Name].(map[string]any)
		if pm == nil {
			pm = make(map[string]any)
		}
		if s.Default != nil {
			pm["default"] = s.Default
		}
		props[s.Name] = pm
		frag, err := json.Marshal(pm)
		if err != nil {
			return nil, nil, derivationErr(typeName(t), s.Name, "encode fragment: %v", err)
		}
		fragments[i] = frag
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return nil, nil, derivationErr(typeName(t), "", "encode schema: %v", err)
	}
	return raw, fragments, nil
}

// reflectToMap runs invopop reflection over a type and normalizes the
// result: definitions inlined, $schema and $id stripped.
func reflectToMap(t reflect.Type) (map[string]any, error) {
	r := &jsonschema.Reflector{
		Anonymous:                 true,
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		ExpandedStruct:            t.Kind() == reflect.Struct,
	}
	s := r.ReflectFromType(t)
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("reflect schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("normalize schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}

// checkSupportedType rejects declarations that cannot round-trip through
// JSON. seen tracks the current descent path so recursive types fail
// instead of expanding forever.
func checkSupportedType(label, field string, t reflect.Type, seen map[reflect.Type]bool) error {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Uintptr,
		reflect.Complex64, reflect.Complex128:
		return derivationErr(label, field, "unsupported type %s", typeName(t))
	case reflect.Interface:
		if t.NumMethod() > 0 {
			return derivationErr(label, field, "non-empty interface type %s cannot be derived", typeName(t))
		}
		return nil
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return checkSupportedType(label, field, t.Elem(), seen)
	case reflect.Map:
		return checkSupportedType(label, field, t.Elem(), seen)
	case reflect.Struct:
		if seen[t] {
			return derivationErr(label, field, "recursive type %s is not supported", typeName(t))
		}
		seen[t] = true
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if err := checkSupportedType(label, field, f.Type, seen); err != nil {
				return err
			}
		}
		delete(seen, t)
		return nil
	default:
		return nil
	}
}

func parseDefault(t reflect.Type, raw string) (any, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return raw, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not a valid integer")
		}
		return v, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not a valid unsigned integer")
		}
		return v, nil
	case reflect.Float32, reflect.Float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("not a valid number")
		}
		return v, nil
	case reflect.Bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("not a valid boolean")
		}
		return v, nil
	default:
		return nil, fmt.Errorf("default= is only supported for string, numeric, and boolean parameters")
	}
}

// typeName renders a Go type the way it reads in a declaration, with
// "any" standing in for the empty interface.
func typeName(t reflect.Type) string {
	switch {
	case t == nil:
		return "any"
	case t.Kind() == reflect.Interface && t.NumMethod() == 0:
		return "any"
	case t.Kind() == reflect.Slice:
		return "[]" + typeName(t.Elem())
	case t.Kind() == reflect.Array:
		return fmt.Sprintf("[%d]%s", t.Len(), typeName(t.Elem()))
	case t.Kind() == reflect.Map:
		return "map[" + typeName(t.Key()) + "]" + typeName(t.Elem())
	case t.Kind() == reflect.Pointer:
		return "*" + typeName(t.Elem())
	default:
		return t.String()
	}
}
