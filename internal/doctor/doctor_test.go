package doctor

import (
	"strings"
	"testing"

	"github.com/mattjoyce/trestle/discovery"
	"github.com/mattjoyce/trestle/internal/config"
	"github.com/mattjoyce/trestle/pipeline"
	"github.com/mattjoyce/trestle/step"
)

func validConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{
			Name:      "test",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Sandboxes: map[string]config.SandboxConfig{
			"py-slim": {Image: "python:3.11-slim"},
		},
		Credentials: map[string]config.CredentialConf{
			"github-token": {Env: "GITHUB_TOKEN"},
		},
		Results: config.ResultsConfig{Path: "/tmp/results.db"},
	}
}

type nodeParams struct {
	Upstream *string `json:"upstream,omitempty"`
}

func buildStep(t *testing.T, name string, opts ...step.Option) *step.Descriptor {
	t.Helper()
	desc, err := step.New(name, step.Pure(func(nodeParams) (string, error) {
		return "", nil
	}), opts...)
	if err != nil {
		t.Fatalf("step.New(%q): %v", name, err)
	}
	return desc
}

func registryWith(t *testing.T, descs ...*step.Descriptor) *step.Registry {
	t.Helper()
	r := step.NewRegistry()
	for _, d := range descs {
		r.Register(d)
	}
	return r
}

func pipelinesWith(t *testing.T, name string, members ...string) *pipeline.Registry {
	t.Helper()
	r := pipeline.NewRegistry()
	p, err := pipeline.New(name)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range members {
		p.AddMember(m)
	}
	r.Register(p)
	return r
}

func pipelinesWithWebhook(t *testing.T, hook pipeline.Webhook) *pipeline.Registry {
	t.Helper()
	r := pipeline.NewRegistry()
	p, err := pipeline.New("hooked", pipeline.WithWebhooks(hook))
	if err != nil {
		t.Fatal(err)
	}
	p.AddMember("fetch")
	r.Register(p)
	return r
}

func TestValidate_ValidSetup(t *testing.T) {
	t.Parallel()
	steps := registryWith(t,
		buildStep(t, "fetch", step.WithSandbox("py-slim"), step.WithCredentials(map[string]string{"token": "github-token"})),
		buildStep(t, "report", step.WithParamFrom("upstream", step.FromName("fetch"))),
	)
	d := New(validConfig(), steps, pipelinesWith(t, "nightly", "fetch", "report"), nil)
	r := d.Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
}

func TestValidate_DanglingDependency(t *testing.T) {
	t.Parallel()
	steps := registryWith(t,
		buildStep(t, "report", step.WithParamFrom("upstream", step.FromName("missing"))),
	)
	d := New(validConfig(), steps, pipeline.NewRegistry(), nil)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "dependencies", `"missing"`)
}

func TestValidate_DependencyCycle(t *testing.T) {
	t.Parallel()
	steps := registryWith(t,
		buildStep(t, "a", step.WithParamFrom("upstream", step.FromName("b"))),
		buildStep(t, "b", step.WithParamFrom("upstream", step.FromName("a"))),
	)
	d := New(validConfig(), steps, pipeline.NewRegistry(), nil)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "dependencies", "circular")
}

func TestValidate_SelfCycle(t *testing.T) {
	t.Parallel()
	steps := registryWith(t,
		buildStep(t, "loop", step.WithParamFrom("upstream", step.FromName("loop"))),
	)
	d := New(validConfig(), steps, pipeline.NewRegistry(), nil)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "dependencies", "circular")
}

func TestValidate_UnregisteredPipelineMember(t *testing.T) {
	t.Parallel()
	steps := registryWith(t, buildStep(t, "fetch"))
	d := New(validConfig(), steps, pipelinesWith(t, "nightly", "fetch", "ghost"), nil)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "pipelines", `"ghost"`)
}

func TestValidate_UnknownSandbox(t *testing.T) {
	t.Parallel()
	steps := registryWith(t, buildStep(t, "fetch", step.WithSandbox("gpu-heavy")))
	d := New(validConfig(), steps, pipeline.NewRegistry(), nil)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "sandboxes", `"gpu-heavy"`)
}

func TestValidate_UnknownCredential(t *testing.T) {
	t.Parallel()
	steps := registryWith(t,
		buildStep(t, "fetch", step.WithCredentials(map[string]string{"token": "vault-pass"})),
	)
	d := New(validConfig(), steps, pipeline.NewRegistry(), nil)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "credentials", `"vault-pass"`)
}

func TestValidate_WebhookUnknownProvider(t *testing.T) {
	t.Parallel()
	steps := registryWith(t, buildStep(t, "fetch"))
	hooks := pipelinesWithWebhook(t, pipeline.Webhook{
		Name:     "on-push",
		Provider: "gitlab",
	})
	d := New(validConfig(), steps, hooks, nil)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "webhooks", `"gitlab"`)
}

func TestValidate_WebhookFilterSyntaxError(t *testing.T) {
	t.Parallel()
	steps := registryWith(t, buildStep(t, "fetch"))
	hooks := pipelinesWithWebhook(t, pipeline.Webhook{
		Name:     "on-push",
		Provider: pipeline.ProviderGitHub,
		Filter:   "branch == ",
	})
	d := New(validConfig(), steps, hooks, nil)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "webhooks", "parse")
}

func TestValidate_WebhookFilterUnknownVariable(t *testing.T) {
	t.Parallel()
	steps := registryWith(t, buildStep(t, "fetch"))
	hooks := pipelinesWithWebhook(t, pipeline.Webhook{
		Name:     "on-push",
		Provider: pipeline.ProviderGitHub,
		Filter:   "commit == 'abc'",
	})
	d := New(validConfig(), steps, hooks, nil)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "webhooks", `"commit"`)
}

func TestValidate_WebhookFilterValid(t *testing.T) {
	t.Parallel()
	steps := registryWith(t, buildStep(t, "fetch"))
	hooks := pipelinesWithWebhook(t, pipeline.Webhook{
		Name:     "on-push",
		Provider: pipeline.ProviderGitHub,
		Filter:   "branch == 'main' && payload != ''",
	})
	d := New(validConfig(), steps, hooks, nil)
	r := d.Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
}

func TestValidate_WebhookNameConflict(t *testing.T) {
	t.Parallel()
	steps := registryWith(t, buildStep(t, "fetch"))
	reg := pipeline.NewRegistry()
	p, err := pipeline.New("hooked", pipeline.WithWebhooks(
		pipeline.Webhook{Name: "on-push", Provider: pipeline.ProviderGitHub},
		pipeline.Webhook{Name: "on-push", Provider: pipeline.ProviderLinear},
	))
	if err != nil {
		t.Fatal(err)
	}
	p.AddMember("fetch")
	reg.Register(p)

	d := New(validConfig(), steps, reg, nil)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "webhooks", "conflicts")
}

func TestValidate_WarnOverwrite(t *testing.T) {
	t.Parallel()
	steps := registryWith(t, buildStep(t, "export"))
	reports := []discovery.UnitReport{
		{Unit: "examples/base", Steps: []string{"export"}},
		{Unit: "examples/override", Steps: []string{"export"},
			Overwrites: []discovery.Overwrite{{Step: "export", PreviousUnit: "examples/base"}}},
	}
	d := New(validConfig(), steps, pipeline.NewRegistry(), reports)
	r := d.Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "overwrites", "examples/base")
}

func TestValidate_WarnEmptyPipeline(t *testing.T) {
	t.Parallel()
	d := New(validConfig(), step.NewRegistry(), pipelinesWith(t, "hollow"), nil)
	r := d.Validate()
	assertHasWarning(t, r, "pipelines", "no member steps")
}

func TestValidate_WarnUnusedSandbox(t *testing.T) {
	t.Parallel()
	steps := registryWith(t, buildStep(t, "fetch"))
	d := New(validConfig(), steps, pipeline.NewRegistry(), nil)
	r := d.Validate()
	assertHasWarning(t, r, "unused", "py-slim")
}

func TestValidate_WarnMissingCredentialEnv(t *testing.T) {
	cfg := validConfig()
	cfg.Credentials["vault-pass"] = config.CredentialConf{Env: "TRESTLE_TEST_VAULT_PASS"}
	steps := registryWith(t,
		buildStep(t, "fetch", step.WithCredentials(map[string]string{"pass": "vault-pass"})),
	)
	t.Setenv("TRESTLE_TEST_VAULT_PASS", "")

	d := New(cfg, steps, pipeline.NewRegistry(), nil)
	r := d.Validate()
	assertHasWarning(t, r, "env_vars", "TRESTLE_TEST_VAULT_PASS")
}

func TestValidate_APIWithoutAuth(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Listen = "localhost:8321"
	d := New(cfg, step.NewRegistry(), pipeline.NewRegistry(), nil)
	r := d.Validate()
	assertHasWarning(t, r, "api", "authentication")
}

func TestValidate_APIWithoutListen(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	d := New(cfg, step.NewRegistry(), pipeline.NewRegistry(), nil)
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "api", "listen")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true}
	out := FormatHuman(r)
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
