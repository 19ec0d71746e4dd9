package discovery

import (
	"fmt"

	"github.com/mattjoyce/trestle/pipeline"
	"github.com/mattjoyce/trestle/step"
)

// Registrar is a unit's handle on the registries while it loads. It
// records what the unit introduces so overwrites and memberships can be
// reported afterwards. Registrars are single-goroutine and live only for
// the duration of one Init call.
type Registrar struct {
	unit      string
	steps     *step.Registry
	pipelines *pipeline.Registry

	grouping   *Grouping
	introduced []string
	seen       map[string]struct{}
	overwrites []Overwrite
	standalone bool
	routed     bool

	// owners maps step names to the unit that last registered them,
	// shared across the whole Load.
	owners map[string]string
}

// Register adds a standalone step to the step registry. In a unit that
// declares a pipeline without routing steps through it, standalone steps
// become the pipeline's members implicitly.
func (r *Registrar) Register(d *step.Descriptor) {
	r.standalone = true
	r.record(d)
}

// Pipeline declares the unit's pipeline. A unit may declare at most one;
// a second call is a configuration error. The unit's name becomes the
// pipeline's module path.
func (r *Registrar) Pipeline(name string, opts ...pipeline.Option) (*Grouping, error) {
	if r.grouping != nil {
		return nil, &ConfigurationError{
			Unit: r.unit,
			Reason: fmt.Sprintf("declares a second pipeline %q (already declares %q)",
				name, r.grouping.desc.Name()),
		}
	}
	opts = append(opts, pipeline.WithModulePath(r.unit))
	p, err := pipeline.New(name, opts...)
	if err != nil {
		return nil, &ConfigurationError{Unit: r.unit, Reason: err.Error()}
	}
	r.grouping = &Grouping{registrar: r, desc: p}
	return r.grouping, nil
}

func (r *Registrar) record(d *step.Descriptor) {
	name := d.Name()
	if _, exists := r.steps.Get(name); exists {
		r.overwrites = append(r.overwrites, Overwrite{
			Step:         name,
			PreviousUnit: r.owners[name],
		})
	}
	r.steps.Register(d)
	r.owners[name] = r.unit
	if _, ok := r.seen[name]; !ok {
		r.seen[name] = struct{}{}
		r.introduced = append(r.introduced, name)
	}
}

// finish applies the unit's membership style and registers the pipeline.
func (r *Registrar) finish() (UnitReport, error) {
	if r.grouping != nil {
		if r.standalone && r.routed {
			return UnitReport{}, &ConfigurationError{
				Unit:   r.unit,
				Reason: "mixes standalone and pipeline-routed step registration",
			}
		}
		if r.standalone {
			for _, name := range r.introduced {
				r.grouping.desc.AddMember(name)
			}
		}
		r.pipelines.Register(r.grouping.desc)
	}

	report := UnitReport{
		Unit:       r.unit,
		Steps:      r.introduced,
		Overwrites: r.overwrites,
	}
	if r.grouping != nil {
		report.Pipeline = r.grouping.desc.Name()
	}
	return report, nil
}

// Grouping routes step registrations into the unit's pipeline.
type Grouping struct {
	registrar *Registrar
	desc      *pipeline.Descriptor
}

// Register adds a step to the step registry and makes it a member of the
// pipeline.
func (g *Grouping) Register(d *step.Descriptor) {
	g.registrar.routed = true
	g.registrar.record(d)
	g.desc.AddMember(d.Name())
}

// Descriptor returns the pipeline being assembled.
func (g *Grouping) Descriptor() *pipeline.Descriptor { return g.desc }
