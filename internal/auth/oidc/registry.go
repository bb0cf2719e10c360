package oidc

import (
	"sort"

	"github.com/gwlsn/buswatch/internal/auth"
)

// Registry stores configured OAuth providers.
type Registry struct {
	flows map[auth.ProviderKind]Exchanger
}

// NewRegistry creates a registry for OAuth providers.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[auth.ProviderKind]Exchanger)}
}

// Register adds a provider under kind.
func (r *Registry) Register(kind auth.ProviderKind, flow Exchanger) {
	r.flows[kind] = flow
}

// Flow returns the provider registered for kind.
func (r *Registry) Flow(kind auth.ProviderKind) (Exchanger, bool) {
	flow, ok := r.flows[kind]
	return flow, ok
}

// Kinds returns the registered provider kinds in name order.
func (r *Registry) Kinds() []auth.ProviderKind {
	kinds := make([]auth.ProviderKind, 0, len(r.flows))
	for kind := range r.flows {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
