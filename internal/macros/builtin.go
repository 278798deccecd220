package macros

import (
	"embed"
	"fmt"
)

//go:embed builtin/command.yml
var builtinFS embed.FS

// DefaultFile returns the example macro file written on first start.
func DefaultFile() []byte {
	data, err := builtinFS.ReadFile("builtin/command.yml")
	if err != nil {
		panic(fmt.Sprintf("macros: embedded default file: %v", err))
	}
	return data
}

// LoadBuiltin parses the embedded default file.
func LoadBuiltin() (*File, error) {
	file, err := Parse(DefaultFile())
	if err != nil {
		return nil, fmt.Errorf("parse builtin macros: %w", err)
	}
	file.Source = "builtin"
	return file, nil
}
