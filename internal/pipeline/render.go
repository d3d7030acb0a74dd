package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
)

// stepRefPattern matches steps.<id>.output references inside a prompt
// template. It drives context pruning, not rendering.
var stepRefPattern = regexp.MustCompile(`steps\.([A-Za-z0-9_-]+)\.output`)

// ReferencedSteps returns the distinct step ids a prompt template references.
func ReferencedSteps(prompt string) []string {
	matches := stepRefPattern.FindAllStringSubmatch(prompt, -1)
	seen := make(map[string]bool, len(matches))
	var ids []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	return ids
}

// RenderStep evaluates the step's prompt template against the seed data and
// the outputs of prior steps.
//
// Templates are user-authored and never trusted: they are evaluated against
// plain map data only, so there is no host object graph to traverse, and an
// unknown reference is a render error rather than empty output
// (missingkey=error). Before rendering, the steps map is pruned to exactly
// the prior outputs the template references, which bounds prompt size and
// keeps unrelated intermediate outputs out of the model's context.
func RenderStep(step Step, seed map[string]any, prior map[string]domain.StepResult) (string, error) {
	tpl, err := template.New(step.ID).Option("missingkey=error").Parse(step.Prompt)
	if err != nil {
		return "", fmt.Errorf("step %q: parse template: %w", step.ID, err)
	}

	steps := make(map[string]map[string]string)
	for _, id := range ReferencedSteps(step.Prompt) {
		res, ok := prior[id]
		if !ok {
			return "", fmt.Errorf("step %q: references unknown step %q", step.ID, id)
		}
		if res.Error != "" {
			return "", fmt.Errorf("step %q: referenced step %q failed", step.ID, id)
		}
		steps[id] = map[string]string{"output": res.Output}
	}

	data := map[string]any{
		"seed":  seed,
		"steps": steps,
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("step %q: render: %w", step.ID, err)
	}
	return sb.String(), nil
}
