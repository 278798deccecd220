package models

import (
	"strings"
)

// MacroSpec is one declared macro as read from the macro file.
type MacroSpec struct {
	// Name is the primary invocation name (map key in the file), lower-cased.
	Name string `yaml:"-" json:"name"`

	// Description is display-only.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Permission gates invocation. Blank means anyone may run the macro.
	Permission string `yaml:"permission,omitempty" json:"permission,omitempty"`

	// Aliases are additional invocation names, lower-cased.
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`

	// Actions run in declaration order. Empty is allowed.
	Actions []ActionSpec `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// ActionSpec is one declarative step: a kind and a loosely typed option bag.
type ActionSpec struct {
	Type    string         `yaml:"type" json:"type"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// Public reports whether the macro needs no permission.
func (m *MacroSpec) Public() bool {
	return strings.TrimSpace(m.Permission) == ""
}

// Normalize trims and lower-cases names and aliases in place, dropping
// blank and duplicate aliases.
func (m *MacroSpec) Normalize() {
	m.Name = strings.ToLower(strings.TrimSpace(m.Name))
	m.Description = strings.TrimSpace(m.Description)
	m.Permission = strings.TrimSpace(m.Permission)

	seen := map[string]struct{}{m.Name: {}}
	aliases := make([]string, 0, len(m.Aliases))
	for _, alias := range m.Aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias == "" {
			continue
		}
		if _, dup := seen[alias]; dup {
			continue
		}
		seen[alias] = struct{}{}
		aliases = append(aliases, alias)
	}
	m.Aliases = aliases

	for i := range m.Actions {
		m.Actions[i].Type = strings.TrimSpace(m.Actions[i].Type)
	}
}

// Validate checks the fields the loader cannot default.
func (m *MacroSpec) Validate() error {
	validation := &ValidationErrors{}
	if m.Name == "" {
		validation.AddMessage("name", "macro name is required")
	}
	if strings.ContainsAny(m.Name, " \t\n") {
		validation.AddMessage("name", "macro name must not contain whitespace")
	}
	for _, alias := range m.Aliases {
		if strings.ContainsAny(alias, " \t\n") {
			validation.AddMessage("aliases", "alias "+alias+" must not contain whitespace")
		}
	}
	return validation.Err()
}

// Names returns the primary name followed by the aliases.
func (m *MacroSpec) Names() []string {
	names := make([]string, 0, len(m.Aliases)+1)
	names = append(names, m.Name)
	return append(names, m.Aliases...)
}
