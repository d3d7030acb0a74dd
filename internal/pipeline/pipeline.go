// Package pipeline turns a declarative multi-step prompt pipeline into
// dependency-pruned prompts and per-model-family inference requests.
package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Step is one prompt-template + model selection. Exactly one of Model or
// Tier must be set; tiers resolve through the static tier table.
type Step struct {
	ID     string `yaml:"id"`
	Prompt string `yaml:"prompt"`
	Model  string `yaml:"model,omitempty"`
	Tier   string `yaml:"tier,omitempty"`
}

// Pipeline is an ordered list of steps; later steps may reference earlier
// outputs as steps.<id>.output.
type Pipeline struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Parse decodes and validates a pipeline definition.
func Parse(body []byte) (*Pipeline, error) {
	p := &Pipeline{}
	if err := yaml.Unmarshal(body, p); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("pipeline has no steps")
	}
	seen := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" {
			return nil, fmt.Errorf("step %d: id is required", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("step %q: duplicate id", s.ID)
		}
		seen[s.ID] = true
		if s.Prompt == "" {
			return nil, fmt.Errorf("step %q: prompt is required", s.ID)
		}
		if s.Model == "" && s.Tier == "" {
			return nil, fmt.Errorf("step %q: model or tier is required", s.ID)
		}
		if s.Model != "" && s.Tier != "" {
			return nil, fmt.Errorf("step %q: model and tier are mutually exclusive", s.ID)
		}
	}
	return p, nil
}
