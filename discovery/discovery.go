// Package discovery loads units: named bundles of step and pipeline
// declarations registered through explicit registrar calls.
//
// A unit is the Go rendition of "one module of step definitions": its
// Init function receives a Registrar bound to the target registries and
// declares steps, and optionally one pipeline, through it. Two membership
// styles exist. In the explicit style every step is registered through
// the pipeline's Grouping and members are exactly those steps. In the
// implicit style steps are registered standalone and the declared
// pipeline absorbs everything the unit introduced. Mixing the styles in
// one unit is a configuration error.
package discovery

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/trestle/pipeline"
	"github.com/mattjoyce/trestle/step"
)

// Unit is one loadable bundle of declarations. Name doubles as the
// pipeline's module path.
type Unit struct {
	Name string
	Init func(*Registrar) error
}

// Overwrite records that a unit replaced an already-registered step name.
// PreviousUnit is empty when the earlier registration happened outside
// discovery.
type Overwrite struct {
	Step         string
	PreviousUnit string
}

// UnitReport summarizes what one unit contributed during a Load.
type UnitReport struct {
	Unit       string
	Pipeline   string
	Steps      []string
	Overwrites []Overwrite
}

// Load runs each unit's Init in order against registrars bound to the
// given registries and returns one report per loaded unit. The first
// failing unit aborts the load; registrations made before the failure
// remain, so callers treat a failed load as fatal.
func Load(steps *step.Registry, pipelines *pipeline.Registry, units ...Unit) ([]UnitReport, error) {
	owners := make(map[string]string)
	reports := make([]UnitReport, 0, len(units))

	for _, u := range units {
		if u.Name == "" {
			return nil, &ConfigurationError{Unit: u.Name, Reason: "unit name is required"}
		}
		if u.Init == nil {
			return nil, &ConfigurationError{Unit: u.Name, Reason: "unit has no init function"}
		}

		r := &Registrar{
			unit:      u.Name,
			steps:     steps,
			pipelines: pipelines,
			owners:    owners,
			seen:      make(map[string]struct{}),
		}
		if err := u.Init(r); err != nil {
			var cerr *ConfigurationError
			if errors.As(err, &cerr) {
				return nil, err
			}
			return nil, fmt.Errorf("unit %q: %w", u.Name, err)
		}

		report, err := r.finish()
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
