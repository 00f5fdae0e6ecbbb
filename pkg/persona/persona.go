// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package persona defines personas and the registry that resolves them.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona bundles a backend model, tone and system prompt under a name.
// Personas are immutable once registered.
type Persona struct {
	Name         string   `yaml:"name" koanf:"name"`
	Tone         string   `yaml:"tone" koanf:"tone"`
	Model        string   `yaml:"model" koanf:"model"`
	SystemPrompt string   `yaml:"system_prompt" koanf:"system_prompt"`
	Tools        []string `yaml:"tools,omitempty" koanf:"tools"`
}

// ID returns the registry key (lower-cased name).
func (p Persona) ID() string {
	return strings.ToLower(strings.TrimSpace(p.Name))
}

// Allows reports whether the persona may invoke the named tool.
// An empty tool set allows every registered tool.
func (p Persona) Allows(tool string) bool {
	if len(p.Tools) == 0 {
		return true
	}
	for _, t := range p.Tools {
		if strings.EqualFold(t, tool) {
			return true
		}
	}
	return false
}

// Defaults returns the built-in persona roster.
func Defaults() []Persona {
	return []Persona{
		{
			Name:         "generalist",
			Tone:         "neutral",
			Model:        "llama3.2",
			SystemPrompt: "You are a helpful assistant; answer clearly.",
		},
		{
			Name:         "zen_monk",
			Tone:         "calm",
			Model:        "tinyllama",
			SystemPrompt: "You are a quiet Zen monk speaking in metaphors.",
		},
		{
			Name:         "shakespeare",
			Tone:         "poetic",
			Model:        "gemma3:1b-it-qat",
			SystemPrompt: "You speak like Shakespeare: poetic, archaic.",
		},
		{
			Name:         "quantum_mentor",
			Tone:         "technical",
			Model:        "gemma3:4b-it-qat",
			SystemPrompt: "You are a quantum physicist explaining science simply.",
		},
	}
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads personas from a YAML file of the form:
//
//	personas:
//	  - name: generalist
//	    tone: neutral
//	    model: llama3.2
//	    system_prompt: ...
func LoadFile(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed personaFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse personas %s: %w", path, err)
	}
	if len(parsed.Personas) == 0 {
		return nil, errors.New("persona file defines no personas")
	}
	return parsed.Personas, nil
}
