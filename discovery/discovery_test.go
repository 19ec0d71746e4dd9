package discovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/trestle/pipeline"
	"github.com/mattjoyce/trestle/step"
)

func testStep(t *testing.T, name string) *step.Descriptor {
	t.Helper()
	desc, err := step.New(name, step.Pure(func(struct{}) (string, error) {
		return "", nil
	}))
	require.NoError(t, err)
	return desc
}

func TestLoadExplicitStyle(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	pipelines := pipeline.NewRegistry()

	unit := Unit{
		Name: "examples/salesreport",
		Init: func(r *Registrar) error {
			g, err := r.Pipeline("sales_report", pipeline.WithDescription("Monthly rollup"))
			if err != nil {
				return err
			}
			g.Register(testStep(t, "collect"))
			g.Register(testStep(t, "summarize"))
			return nil
		},
	}

	reports, err := Load(steps, pipelines, unit)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	assert.Equal(t, "examples/salesreport", reports[0].Unit)
	assert.Equal(t, "sales_report", reports[0].Pipeline)
	assert.Equal(t, []string{"collect", "summarize"}, reports[0].Steps)
	assert.Empty(t, reports[0].Overwrites)

	p, ok := pipelines.Get("sales_report")
	require.True(t, ok)
	assert.Equal(t, []string{"collect", "summarize"}, p.Members())
	assert.Equal(t, "examples/salesreport", p.ModulePath())
	assert.Equal(t, "Monthly rollup", p.Description())

	_, ok = steps.Get("collect")
	assert.True(t, ok)
}

func TestLoadImplicitStyle(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	pipelines := pipeline.NewRegistry()

	unit := Unit{
		Name: "examples/greeter",
		Init: func(r *Registrar) error {
			r.Register(testStep(t, "greet"))
			r.Register(testStep(t, "farewell"))
			if _, err := r.Pipeline("greetings"); err != nil {
				return err
			}
			return nil
		},
	}

	reports, err := Load(steps, pipelines, unit)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	p, ok := pipelines.Get("greetings")
	require.True(t, ok)
	assert.Equal(t, []string{"greet", "farewell"}, p.Members(),
		"standalone steps become members in registration order")
}

func TestLoadStandaloneOnly(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	pipelines := pipeline.NewRegistry()

	unit := Unit{
		Name: "examples/tools",
		Init: func(r *Registrar) error {
			r.Register(testStep(t, "ping"))
			return nil
		},
	}

	reports, err := Load(steps, pipelines, unit)
	require.NoError(t, err)
	assert.Empty(t, reports[0].Pipeline)
	assert.Equal(t, 0, pipelines.Len())
	assert.Equal(t, 1, steps.Len())
}

func TestLoadEmptyPipeline(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	pipelines := pipeline.NewRegistry()

	unit := Unit{
		Name: "examples/placeholder",
		Init: func(r *Registrar) error {
			_, err := r.Pipeline("upcoming")
			return err
		},
	}

	_, err := Load(steps, pipelines, unit)
	require.NoError(t, err)

	p, ok := pipelines.Get("upcoming")
	require.True(t, ok)
	assert.Empty(t, p.Members())
}

func TestLoadRejectsMixedStyles(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	pipelines := pipeline.NewRegistry()

	unit := Unit{
		Name: "examples/mixed",
		Init: func(r *Registrar) error {
			g, err := r.Pipeline("mixed")
			if err != nil {
				return err
			}
			g.Register(testStep(t, "routed"))
			r.Register(testStep(t, "standalone"))
			return nil
		},
	}

	_, err := Load(steps, pipelines, unit)
	require.Error(t, err)

	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "examples/mixed", cerr.Unit)
	assert.Contains(t, cerr.Reason, "mixes")
}

func TestLoadRejectsSecondPipeline(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	pipelines := pipeline.NewRegistry()

	unit := Unit{
		Name: "examples/double",
		Init: func(r *Registrar) error {
			if _, err := r.Pipeline("first"); err != nil {
				return err
			}
			_, err := r.Pipeline("second")
			return err
		},
	}

	_, err := Load(steps, pipelines, unit)
	require.Error(t, err)

	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, `"second"`)
	assert.Contains(t, cerr.Reason, `"first"`)
}

func TestLoadTracksCrossUnitOverwrites(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	pipelines := pipeline.NewRegistry()

	first := Unit{
		Name: "examples/base",
		Init: func(r *Registrar) error {
			r.Register(testStep(t, "export"))
			return nil
		},
	}
	second := Unit{
		Name: "examples/override",
		Init: func(r *Registrar) error {
			r.Register(testStep(t, "export"))
			return nil
		},
	}

	reports, err := Load(steps, pipelines, first, second)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Empty(t, reports[0].Overwrites)
	require.Len(t, reports[1].Overwrites, 1)
	assert.Equal(t, "export", reports[1].Overwrites[0].Step)
	assert.Equal(t, "examples/base", reports[1].Overwrites[0].PreviousUnit)
}

func TestLoadOverwriteOfExternalRegistration(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	pipelines := pipeline.NewRegistry()
	steps.Register(testStep(t, "export"))

	unit := Unit{
		Name: "examples/override",
		Init: func(r *Registrar) error {
			r.Register(testStep(t, "export"))
			return nil
		},
	}

	reports, err := Load(steps, pipelines, unit)
	require.NoError(t, err)
	require.Len(t, reports[0].Overwrites, 1)
	assert.Empty(t, reports[0].Overwrites[0].PreviousUnit)
}

func TestLoadWrapsInitErrors(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	pipelines := pipeline.NewRegistry()
	boom := errors.New("unavailable")

	unit := Unit{
		Name: "examples/broken",
		Init: func(*Registrar) error { return boom },
	}

	_, err := Load(steps, pipelines, unit)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "examples/broken")
}

func TestLoadValidatesUnits(t *testing.T) {
	t.Parallel()

	steps := step.NewRegistry()
	pipelines := pipeline.NewRegistry()

	_, err := Load(steps, pipelines, Unit{Name: "", Init: func(*Registrar) error { return nil }})
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)

	_, err = Load(steps, pipelines, Unit{Name: "examples/noinit"})
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "init")
}
