// Package registry resolves model identifiers to backend adapters.
// The table is built once at startup from configuration and is
// immutable for the process lifetime.
package registry

import (
	"fmt"
	"sort"

	"github.com/talentai/llm-gateway/internal/backend"
	"github.com/talentai/llm-gateway/internal/domain"
)

type Registry struct {
	adapters map[backend.Kind]backend.Adapter
	models   map[string]backend.Kind
	fallback backend.Kind
}

// New builds the resolution table. models maps a model identifier to
// the backend kind that serves it; fallback, when non-empty, serves
// every model without an explicit mapping. Every referenced kind must
// have a configured adapter.
func New(adapters []backend.Adapter, models map[string]backend.Kind, fallback backend.Kind) (*Registry, error) {
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no backend adapters configured")
	}

	byKind := make(map[backend.Kind]backend.Adapter, len(adapters))
	for _, a := range adapters {
		if _, dup := byKind[a.Kind()]; dup {
			return nil, fmt.Errorf("duplicate adapter for backend %q", a.Kind())
		}
		byKind[a.Kind()] = a
	}

	if fallback != "" {
		if _, ok := byKind[fallback]; !ok {
			return nil, fmt.Errorf("default backend %q has no configured adapter", fallback)
		}
	}
	for model, kind := range models {
		if _, ok := byKind[kind]; !ok {
			return nil, fmt.Errorf("model %q maps to backend %q, which has no configured adapter", model, kind)
		}
	}

	return &Registry{adapters: byKind, models: models, fallback: fallback}, nil
}

// Resolve returns the adapter serving a model identifier. An empty
// model resolves to the default backend.
func (r *Registry) Resolve(model string) (backend.Adapter, error) {
	if kind, ok := r.models[model]; ok {
		return r.adapters[kind], nil
	}
	if a, ok := r.adapters[r.fallback]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrModelNotConfigured, model)
}

// Adapters returns the configured adapters sorted by backend name.
func (r *Registry) Adapters() []backend.Adapter {
	out := make([]backend.Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
