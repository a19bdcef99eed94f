// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package agents defines the five protocol analysis agents, the prompt each
// one sends to the external analysis backend, and the parsing of backend
// replies into findings. Backends are pluggable: ClaudeBackend calls the
// Anthropic Messages API and PlaceholderBackend stands in when no API key is
// configured.
package agents

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"go.yaml.in/yaml/v3"
)

// Agent names. Names lists them in registry order.
const (
	Ethics        = "ethics"
	Privacy       = "privacy"
	Vulnerability = "vulnerability"
	DataSecurity  = "data_security"
	Consent       = "consent"
)

// Names is the fixed agent set every analysis run dispatches.
var Names = []string{Ethics, Privacy, Vulnerability, DataSecurity, Consent}

//go:embed criteria.yaml
var defaultCriteria []byte

// Agent is one specialist reviewer.
type Agent struct {
	Name string

	// FocusArea completes "You are an expert IRB reviewer specializing in ...".
	FocusArea string

	// Criteria is rendered as JSON into the prompt.
	Criteria map[string]any

	// Guidance is appended after the common instructions.
	Guidance string
}

// definition is the YAML shape of one agent in a criteria file.
type definition struct {
	FocusArea string         `yaml:"focus_area"`
	Criteria  map[string]any `yaml:"criteria"`
	Guidance  string         `yaml:"guidance"`
}

// Registry returns the five agents with their built-in criteria.
func Registry() []Agent {
	defs, err := decode(defaultCriteria)
	if err != nil {
		panic(fmt.Sprintf("agents: embedded criteria: %v", err))
	}
	out := make([]Agent, 0, len(Names))
	for _, name := range Names {
		d, ok := defs[name]
		if !ok {
			panic(fmt.Sprintf("agents: embedded criteria missing %q", name))
		}
		out = append(out, Agent{Name: name, FocusArea: d.FocusArea, Criteria: d.Criteria, Guidance: d.Guidance})
	}
	return out
}

// Load returns the registry with overrides from the YAML file at path.
// Fields an entry leaves empty keep their built-in value. An empty path
// returns the built-in registry.
func Load(path string) ([]Agent, error) {
	agents := Registry()
	if path == "" {
		return agents, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading criteria file: %w", err)
	}
	defs, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("parsing criteria file %s: %w", path, err)
	}

	known := make(map[string]int, len(agents))
	for i, a := range agents {
		known[a.Name] = i
	}
	var unknown []string
	for name, d := range defs {
		i, ok := known[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if d.FocusArea != "" {
			agents[i].FocusArea = d.FocusArea
		}
		if len(d.Criteria) > 0 {
			agents[i].Criteria = d.Criteria
		}
		if d.Guidance != "" {
			agents[i].Guidance = d.Guidance
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("criteria file %s names unknown agents %v", path, unknown)
	}
	return agents, nil
}

func decode(data []byte) (map[string]definition, error) {
	var defs map[string]definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}
