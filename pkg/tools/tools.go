// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools defines the tool capability invoked through "@tool" commands
// and the registry used to dispatch them by name.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jllopis/chorus/pkg/errors"
)

// Tool is a named text-in/text-out capability. Any internal state (files,
// remote servers) is private to the implementation.
type Tool interface {
	// Name returns the tool name used after the command sigil.
	Name() string
	// Description is a one-line summary for listings.
	Description() string
	// Execute runs the tool with the command argument and parameters.
	Execute(ctx context.Context, input string, params map[string]string) (string, error)
}

// Func adapts a function into a Tool.
type Func struct {
	ToolName string
	Summary  string
	Fn       func(ctx context.Context, input string, params map[string]string) (string, error)
}

// Name implements Tool.
func (f Func) Name() string { return f.ToolName }

// Description implements Tool.
func (f Func) Description() string { return f.Summary }

// Execute implements Tool.
func (f Func) Execute(ctx context.Context, input string, params map[string]string) (string, error) {
	return f.Fn(ctx, input, params)
}

// Failure builds a TOOL_FAILURE error carrying a human readable reason.
func Failure(tool, reason string) error {
	return errors.New(errors.CodeToolFailure, reason, nil).WithContext("tool", tool)
}

// Registry maps lower-cased tool names to implementations. It is populated at
// startup and read-only afterwards.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry, rejecting empty and duplicate names.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(t Tool) error {
	if t == nil {
		return errors.New(errors.CodeConfiguration, "nil tool", nil)
	}
	name := strings.ToLower(strings.TrimSpace(t.Name()))
	if name == "" {
		return errors.New(errors.CodeConfiguration, "tool name is required", nil)
	}
	if _, dup := r.tools[name]; dup {
		return errors.New(errors.CodeConfiguration, fmt.Sprintf("duplicate tool %q", name), nil)
	}
	r.tools[name] = t
	return nil
}

// Get returns the tool registered under name (case-insensitive).
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[strings.ToLower(name)]
	return t, ok
}

// Names returns the registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named tool. Unknown names yield UNKNOWN_TOOL; tool errors
// are normalised to TOOL_FAILURE with the tool name in context.
func (r *Registry) Execute(ctx context.Context, name, input string, params map[string]string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", errors.New(errors.CodeUnknownTool, fmt.Sprintf("tool '%s' not recognized", name), nil)
	}
	out, err := t.Execute(ctx, input, params)
	if err != nil {
		if errors.HasCode(err, errors.CodeToolFailure) {
			return "", err
		}
		return "", errors.New(errors.CodeToolFailure, "tool execution failed", err).WithContext("tool", name)
	}
	return out, nil
}

type personaKey struct{}

// WithPersona annotates ctx with the persona invoking a tool.
func WithPersona(ctx context.Context, persona string) context.Context {
	return context.WithValue(ctx, personaKey{}, persona)
}

// PersonaFrom returns the invoking persona stored by WithPersona, if any.
func PersonaFrom(ctx context.Context) string {
	p, _ := ctx.Value(personaKey{}).(string)
	return p
}
