// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package persona

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jllopis/chorus/pkg/errors"
)

// Registry holds personas keyed by lower-cased name. It is built once at
// startup and is read-only afterwards, so it needs no locking.
type Registry struct {
	byID  map[string]Persona
	order []string
}

// NewRegistry builds a registry. Names must be non-empty and unique
// (case-insensitively); violations are configuration errors.
func NewRegistry(personas ...Persona) (*Registry, error) {
	r := &Registry{byID: make(map[string]Persona, len(personas))}
	for _, p := range personas {
		id := p.ID()
		if id == "" {
			return nil, errors.New(errors.CodeConfiguration, "persona name is required", nil)
		}
		if _, dup := r.byID[id]; dup {
			return nil, errors.New(errors.CodeConfiguration, fmt.Sprintf("duplicate persona %q", id), nil)
		}
		p.Tools = slices.Clone(p.Tools)
		r.byID[id] = p
		r.order = append(r.order, id)
	}
	return r, nil
}

// Get resolves a persona case-insensitively. The result is a copy; changing
// it does not affect the registry.
func (r *Registry) Get(name string) (Persona, bool) {
	p, ok := r.byID[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Persona{}, false
	}
	p.Tools = slices.Clone(p.Tools)
	return p, true
}

// Has reports whether the persona is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byID[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names returns persona ids in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// All returns personas in registration order.
func (r *Registry) All() []Persona {
	out := make([]Persona, 0, len(r.order))
	for _, id := range r.order {
		p := r.byID[id]
		p.Tools = slices.Clone(p.Tools)
		out = append(out, p)
	}
	return out
}

// Len returns the number of registered personas.
func (r *Registry) Len() int { return len(r.order) }
