package dispatch

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/bobmcallan/toolgate/internal/normalize"
	"github.com/bobmcallan/toolgate/internal/schema"
	"github.com/bobmcallan/toolgate/internal/upstream"
)

// Descriptor binds a tool name to its argument schema, upstream operation
// and output normalizer. Descriptors are built once at startup and never
// modified afterwards.
type Descriptor struct {
	Name        string
	Description string
	Schema      schema.Schema
	Operation   upstream.Operation
	Normalizer  normalize.Normalizer // nil returns the payload as-is
}

// Registry is the immutable set of tools, in registration order.
type Registry struct {
	order  []string
	byName map[string]Descriptor
}

// NewRegistry validates and indexes descriptors. Every problem is reported,
// not just the first.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descriptors))}
	var errs *multierror.Error

	for i, d := range descriptors {
		if d.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("tool #%d has an empty name", i))
			continue
		}
		if _, dup := r.byName[d.Name]; dup {
			errs = multierror.Append(errs, fmt.Errorf("tool %q registered twice", d.Name))
			continue
		}
		if err := d.Schema.Check(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("tool %q: %w", d.Name, err))
			continue
		}
		if d.Operation.Name == "" {
			d.Operation.Name = d.Name
		}
		if d.Normalizer == nil {
			d.Normalizer = normalize.RawJSON
		}
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return r, nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Catalog returns every descriptor in registration order.
func (r *Registry) Catalog() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}
