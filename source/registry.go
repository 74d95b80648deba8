package source

import (
	"fmt"
	"strings"

	"github.com/wudi/pagegrab/observability"
)

// Registry is an ordered, immutable set of repository definitions.
type Registry struct {
	keys []string
	defs map[string]Definition
}

// NewRegistry validates defs and indexes them by upper-cased key. Duplicate
// keys are rejected.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		k := strings.ToUpper(d.Key)
		if _, dup := r.defs[k]; dup {
			return nil, fmt.Errorf("%w: duplicate key %s", ErrInvalidDefinition, k)
		}
		d.Key = k
		r.keys = append(r.keys, k)
		r.defs[k] = d
	}
	return r, nil
}

// Builtin returns the registry of compiled-in repositories.
func Builtin() *Registry {
	r, err := NewRegistry(Hathi, Sceti, Bielefeld, Gallica)
	if err != nil {
		panic(err)
	}
	return r
}

// With returns a new registry holding r's definitions followed by defs.
func (r *Registry) With(defs ...Definition) (*Registry, error) {
	all := r.Definitions()
	return NewRegistry(append(all, defs...)...)
}

// Lookup finds a definition by key, ignoring case.
func (r *Registry) Lookup(key string) (Definition, bool) {
	d, ok := r.defs[strings.ToUpper(strings.TrimSpace(key))]
	return d, ok
}

// Keys returns the keys in registration order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Definitions returns the definitions in registration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.defs[k])
	}
	return out
}

// Open binds the definition registered under key to a document.
func (r *Registry) Open(key, id string, f Fetcher, log observability.Logger) (*Source, error) {
	d, ok := r.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("unknown source %q (known: %s)", key, strings.Join(r.keys, ", "))
	}
	return New(d, id, f, log)
}
