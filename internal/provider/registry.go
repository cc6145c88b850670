package provider

import (
	"context"

	"github.com/unclebandit/zapdispatch/internal/model"
)

// Registry maps each provider to its adapter. It is built once at startup.
type Registry struct {
	adapters map[model.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[model.Provider]Adapter{}}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Name()] = a
		}
	}
	return r
}

func (r *Registry) Get(p model.Provider) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

func (r *Registry) Configured(p model.Provider) bool {
	_, ok := r.adapters[p]
	return ok
}

// DirectConnected reports whether the direct-protocol adapter has a live session.
func (r *Registry) DirectConnected(ctx context.Context) (bool, error) {
	a, ok := r.adapters[model.ProviderDirect]
	if !ok {
		return false, nil
	}
	c, ok := a.(Connectivity)
	if !ok {
		return true, nil
	}
	return c.Connected(ctx)
}

func (r *Registry) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(r.adapters))
	for _, p := range []model.Provider{model.ProviderOfficial, model.ProviderDirect} {
		if _, ok := r.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
