// Package macros reads and writes the macro definition file.
package macros

import (
	"github.com/ourisland/litemacro/internal/models"
)

// File is a parsed macro definition file.
type File struct {
	// Lang selects the message bundle. Empty means the configured default.
	Lang string

	// Macros are in file order.
	Macros []models.MacroSpec

	// Warnings are non-fatal findings, such as macros without actions.
	Warnings []string

	// Source is the file path, or "builtin".
	Source string
}

// Get returns the macro with the given primary name.
func (f *File) Get(name string) (*models.MacroSpec, bool) {
	for i := range f.Macros {
		if f.Macros[i].Name == name {
			return &f.Macros[i], true
		}
	}
	return nil, false
}

// Names returns the primary names in file order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Macros))
	for _, m := range f.Macros {
		names = append(names, m.Name)
	}
	return names
}
