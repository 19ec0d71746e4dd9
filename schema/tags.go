package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// TagKey is the struct tag namespace read by the deriver.
const TagKey = "step"

// stepDirectives is the parsed form of one field's `step:"..."` tag.
// Directives are comma-separated. If several from= directives appear, the
// first in declaration order wins; the rest are ignored.
type stepDirectives struct {
	fromStep string
	rest     bool
	restMap  bool
}

func parseStepTag(tag string) (stepDirectives, error) {
	var d stepDirectives
	if tag == "" {
		return d, nil
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			continue
		case part == "rest":
			d.rest = true
		case part == "restmap":
			d.restMap = true
		case strings.HasPrefix(part, "from="):
			name := strings.TrimSpace(strings.TrimPrefix(part, "from="))
			if name == "" {
				return d, fmt.Errorf("from= directive requires a step name")
			}
			if d.fromStep == "" {
				d.fromStep = name
			}
		default:
			return d, fmt.Errorf("unknown directive %q (valid: from=<step>, rest, restmap)", part)
		}
	}
	if d.rest && d.restMap {
		return d, fmt.Errorf("rest and restmap are mutually exclusive")
	}
	return d, nil
}

// jsonFieldName resolves the wire name of a struct field from its json
// tag, falling back to the Go field name. The second return reports
// whether the field is skipped (json:"-") and the third whether omitempty
// is set.
func jsonFieldName(f reflect.StructField) (name string, skip, omitEmpty bool) {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] == "-" && len(parts) == 1 {
		return "", true, false
	}
	name = parts[0]
	if name == "" {
		name = f.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, false, omitEmpty
}

// jsonschemaDefault extracts a default= entry from a field's jsonschema
// tag, returning the raw string form and whether one was present.
func jsonschemaDefault(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("jsonschema")
	if tag == "" {
		return "", false
	}
	for _, part := range strings.Split(tag, ",") {
		if strings.HasPrefix(part, "default=") {
			return strings.TrimPrefix(part, "default="), true
		}
	}
	return "", false
}
