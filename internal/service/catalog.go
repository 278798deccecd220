package service

import (
	"github.com/ourisland/litemacro/internal/macros"
)

// MacroInfo is a read-only view of one loaded macro.
type MacroInfo struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description,omitempty"`
	Permission  string   `json:"permission,omitempty"`
	Steps       []string `json:"steps"`
	Generation  uint64   `json:"generation"`
}

// Catalog describes every macro of the current generation in declaration
// order.
func (s *Service) Catalog() []MacroInfo {
	current := s.registry.Current()
	out := make([]MacroInfo, 0, current.Len())
	for _, m := range current.Macros() {
		out = append(out, MacroInfo{
			Name:        m.Name(),
			Aliases:     append([]string(nil), m.Spec.Aliases...),
			Description: m.Spec.Description,
			Permission:  m.Spec.Permission,
			Steps:       macros.Describe(m.Spec),
			Generation:  m.Generation,
		})
	}
	return out
}

// Generation is the id of the active registry generation.
func (s *Service) Generation() uint64 {
	return s.registry.Current().ID()
}
