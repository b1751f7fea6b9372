package gateway

import (
	"fmt"
	"sort"

	"github.com/amirasaad/ecclesia/pkg/domain"
)

// Registry resolves a gateway by kind. It is immutable after construction.
type Registry struct {
	gateways map[Kind]Gateway
	def      Kind
}

// NewRegistry registers gws and selects def as the default kind.
func NewRegistry(def Kind, gws ...Gateway) (*Registry, error) {
	r := &Registry{gateways: make(map[Kind]Gateway, len(gws)), def: def}
	for _, g := range gws {
		if _, dup := r.gateways[g.Kind()]; dup {
			return nil, fmt.Errorf("gateway %s registered twice", g.Kind())
		}
		r.gateways[g.Kind()] = g
	}
	if _, ok := r.gateways[def]; !ok {
		return nil, fmt.Errorf("default gateway %s is not configured", def)
	}
	return r, nil
}

// Get returns the gateway for kind.
func (r *Registry) Get(kind Kind) (Gateway, error) {
	g, ok := r.gateways[kind]
	if !ok {
		return nil, fmt.Errorf("gateway %s: %w", kind, domain.ErrNotFound)
	}
	return g, nil
}

// Default returns the configured default gateway.
func (r *Registry) Default() Gateway { return r.gateways[r.def] }

// Kinds returns the registered kinds in a stable order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.gateways))
	for k := range r.gateways {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
