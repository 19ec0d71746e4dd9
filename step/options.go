package step

// Marker names the step whose result populates a parameter. Markers built
// from a descriptor resolve to its effective name at construction time,
// so later registry changes cannot move the edge.
type Marker struct {
	source string
}

// From marks a parameter as populated by desc's result.
func From(desc *Descriptor) Marker {
	return Marker{source: desc.Name()}
}

// FromName marks a parameter as populated by the named step's result. The
// name may reference a step registered elsewhere, or an external step id.
func FromName(name string) Marker {
	return Marker{source: name}
}

// Source returns the referenced step name.
func (m Marker) Source() string { return m.source }

type buildOptions struct {
	name        string
	rid         string
	description string
	setupScript string
	postScript  string
	metadata    map[string]any
	sandboxID   string
	credentials map[string]string
	paramsFrom  map[string]string
}

// Option configures a Descriptor at build time.
type Option func(*buildOptions)

// WithName overrides the constructor's name argument.
func WithName(name string) Option {
	return func(o *buildOptions) { o.name = name }
}

// WithRID pins the step's resource identifier instead of generating one,
// preserving identity across renames.
func WithRID(rid string) Option {
	return func(o *buildOptions) { o.rid = rid }
}

// WithDescription sets the human-readable description.
func WithDescription(desc string) Option {
	return func(o *buildOptions) { o.description = desc }
}

// WithSetupScript sets the script run before step execution.
func WithSetupScript(script string) Option {
	return func(o *buildOptions) { o.setupScript = script }
}

// WithPostScript sets the script run after step execution.
func WithPostScript(script string) Option {
	return func(o *buildOptions) { o.postScript = script }
}

// WithMetadata attaches arbitrary metadata to the step.
func WithMetadata(metadata map[string]any) Option {
	return func(o *buildOptions) { o.metadata = metadata }
}

// WithSandbox selects the execution environment the step runs in. The id
// must name a sandbox known to the deployment's configuration.
func WithSandbox(id string) Option {
	return func(o *buildOptions) { o.sandboxID = id }
}

// WithCredentials binds credential names to credential ids for the step.
func WithCredentials(bindings map[string]string) Option {
	return func(o *buildOptions) { o.credentials = bindings }
}

// WithParamFrom marks the named parameter as populated by another step's
// result. It overrides a `step:"from="` tag on the same parameter;
// explicit declarations win.
func WithParamFrom(param string, m Marker) Option {
	return func(o *buildOptions) {
		if o.paramsFrom == nil {
			o.paramsFrom = make(map[string]string)
		}
		o.paramsFrom[param] = m.source
	}
}
