package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Family identifies the wire format a model speaks. The set is closed:
// adding a provider family is a new constant and adapter, not a new branch
// on model-name substrings.
type Family string

const (
	// FamilyChat is a chat/messages format with role-tagged content blocks.
	FamilyChat Family = "chat"
	// FamilyCompletion is a raw-completion format with a single prompt field.
	FamilyCompletion Family = "completion"
	// FamilyGeneric is a plain prompt/max-tokens request shape.
	FamilyGeneric Family = "generic"
)

func (f Family) valid() bool {
	switch f {
	case FamilyChat, FamilyCompletion, FamilyGeneric:
		return true
	}
	return false
}

// ModelTable is the static routing table: tier aliases to concrete model
// ids, and model ids to wire-format families.
type ModelTable struct {
	Tiers    map[string]string   `yaml:"tiers"`
	Families map[Family][]string `yaml:"families"`

	byModel map[string]Family
}

// DefaultModelTable covers the models the fleet is provisioned for.
func DefaultModelTable() *ModelTable {
	t := &ModelTable{
		Tiers: map[string]string{
			"cheap":    "palette-lite-v1",
			"standard": "palette-chat-v2",
			"premium":  "palette-chat-v2-large",
		},
		Families: map[Family][]string{
			FamilyChat:       {"palette-chat-v2", "palette-chat-v2-large"},
			FamilyCompletion: {"palette-complete-v1"},
			FamilyGeneric:    {"palette-lite-v1"},
		},
	}
	t.index()
	return t
}

// LoadModelTable reads a table from a YAML file, falling back to the
// default table when path is empty.
func LoadModelTable(path string) (*ModelTable, error) {
	if path == "" {
		return DefaultModelTable(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model table: %w", err)
	}
	t := &ModelTable{}
	if err := yaml.Unmarshal(b, t); err != nil {
		return nil, fmt.Errorf("parse model table: %w", err)
	}
	for f := range t.Families {
		if !f.valid() {
			return nil, fmt.Errorf("model table: unknown family %q", f)
		}
	}
	t.index()
	return t, nil
}

func (t *ModelTable) index() {
	t.byModel = make(map[string]Family)
	for f, models := range t.Families {
		for _, m := range models {
			t.byModel[m] = f
		}
	}
}

// Resolve returns the concrete model id for a step.
func (t *ModelTable) Resolve(step Step) (string, error) {
	if step.Model != "" {
		return step.Model, nil
	}
	model, ok := t.Tiers[step.Tier]
	if !ok {
		return "", fmt.Errorf("step %q: unknown tier %q", step.ID, step.Tier)
	}
	return model, nil
}

// FamilyFor looks up the wire-format family for a model id. Models absent
// from the table default to the generic format.
func (t *ModelTable) FamilyFor(model string) Family {
	if f, ok := t.byModel[model]; ok {
		return f
	}
	return FamilyGeneric
}
