// Package pipeline groups steps into named pipelines and derives their
// execution-order graph.
//
// A pipeline never lists its edges by hand: the DAG is inferred from the
// produced-by-step markers on member parameters, recomputed from the live
// step registry on every call. Pipelines carry ordered member sets,
// optional webhook declarations, and dump to a wire form consumed by the
// orchestration backend.
package pipeline

import (
	"fmt"

	"github.com/google/uuid"
)

// Descriptor identifies one pipeline and its ordered member steps.
// Members are appended while a discovery unit loads and the set is
// treated as frozen afterwards.
type Descriptor struct {
	name        string
	rid         string
	description string
	modulePath  string
	members     []string
	memberSet   map[string]struct{}
	webhooks    []Webhook
}

// New creates a pipeline descriptor. The name is required; everything
// else is optional.
func New(name string, opts ...Option) (*Descriptor, error) {
	if name == "" {
		return nil, fmt.Errorf("pipeline name is required")
	}
	d := &Descriptor{
		name:      name,
		memberSet: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.rid == "" {
		d.rid = uuid.NewString()
	}
	return d, nil
}

// Option configures a pipeline descriptor at build time.
type Option func(*Descriptor)

// WithRID pins the pipeline's resource identifier instead of generating
// one, preserving identity across renames.
func WithRID(rid string) Option {
	return func(d *Descriptor) { d.rid = rid }
}

// WithDescription sets the human-readable description.
func WithDescription(desc string) Option {
	return func(d *Descriptor) { d.description = desc }
}

// WithModulePath records the unit the pipeline was declared in.
func WithModulePath(path string) Option {
	return func(d *Descriptor) { d.modulePath = path }
}

// WithWebhooks declares webhooks that can trigger the pipeline. They are
// discovered alongside the pipeline and start disabled; delivery belongs
// to the orchestration backend.
func WithWebhooks(hooks ...Webhook) Option {
	return func(d *Descriptor) { d.webhooks = append(d.webhooks, hooks...) }
}

// Name returns the pipeline's name.
func (d *Descriptor) Name() string { return d.name }

// RID returns the pipeline's stable resource identifier.
func (d *Descriptor) RID() string { return d.rid }

// Description returns the human-readable description, empty when unset.
func (d *Descriptor) Description() string { return d.description }

// ModulePath returns the unit the pipeline was declared in.
func (d *Descriptor) ModulePath() string { return d.modulePath }

// AddMember appends a step name to the member set, preserving first
// position when the name is already a member.
func (d *Descriptor) AddMember(name string) {
	if _, ok := d.memberSet[name]; ok {
		return
	}
	d.memberSet[name] = struct{}{}
	d.members = append(d.members, name)
}

// Members returns the member step names in registration order.
func (d *Descriptor) Members() []string {
	out := make([]string, len(d.members))
	copy(out, d.members)
	return out
}

// HasMember reports whether the named step belongs to the pipeline.
func (d *Descriptor) HasMember(name string) bool {
	_, ok := d.memberSet[name]
	return ok
}

// Len returns the number of member steps.
func (d *Descriptor) Len() int { return len(d.members) }

// Webhooks returns the declared webhooks in declaration order.
func (d *Descriptor) Webhooks() []Webhook {
	out := make([]Webhook, len(d.webhooks))
	copy(out, d.webhooks)
	return out
}
