package macros

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ourisland/litemacro/internal/models"
	"gopkg.in/yaml.v3"
)

// ErrNoMacrosFile is returned when no macro file can be located.
var ErrNoMacrosFile = errors.New("no macro file found")

// LoadFile reads a macro file from disk.
func LoadFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("macro file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read macro file %s: %w", path, err)
	}

	file, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse macro file %s: %w", path, err)
	}
	file.Source = path
	return file, nil
}

// LoadOrCreate reads path, first writing the default file there if it does
// not exist.
func LoadOrCreate(path string) (*File, bool, error) {
	created := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := WriteDefault(path); err != nil {
			return nil, false, err
		}
		created = true
	} else if err != nil {
		return nil, false, fmt.Errorf("stat macro file %s: %w", path, err)
	}

	file, err := LoadFile(path)
	if err != nil {
		return nil, created, err
	}
	return file, created, nil
}

// WriteDefault writes the example macro file to path, creating parent
// directories. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create macro dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create macro file %s: %w", path, err)
	}
	if _, err := f.Write(DefaultFile()); err != nil {
		f.Close()
		return fmt.Errorf("write macro file %s: %w", path, err)
	}
	return f.Close()
}

type rawFile struct {
	Lang   string    `yaml:"lang"`
	Macros yaml.Node `yaml:"macros"`
}

// Parse decodes macro file contents. Macro order follows the file. Step
// kinds and options are not checked here; compiling the macros does that.
func Parse(data []byte) (*File, error) {
	file := &File{Macros: []models.MacroSpec{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return file, nil
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	file.Lang = strings.TrimSpace(raw.Lang)

	node := &raw.Macros
	if node.Kind == 0 || node.Tag == "!!null" {
		return file, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: macros must be a mapping of name to macro", node.Line)
	}

	seen := make(map[string]int)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]

		var spec models.MacroSpec
		if valueNode.Tag != "!!null" {
			if err := valueNode.Decode(&spec); err != nil {
				return nil, fmt.Errorf("macro %q: %w", keyNode.Value, err)
			}
		}
		spec.Name = keyNode.Value
		spec.Normalize()

		if line, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("line %d: duplicate macro %q (first defined on line %d)", keyNode.Line, spec.Name, line)
		}
		seen[spec.Name] = keyNode.Line

		if len(spec.Actions) == 0 {
			file.Warnings = append(file.Warnings, fmt.Sprintf("macro %q has no actions", spec.Name))
		}

		file.Macros = append(file.Macros, spec)
	}

	return file, nil
}

// Marshal encodes a file in the on-disk layout.
func Marshal(f *File) ([]byte, error) {
	macros := &yaml.Node{Kind: yaml.MappingNode}
	for i := range f.Macros {
		spec := f.Macros[i]
		var value yaml.Node
		if err := value.Encode(&spec); err != nil {
			return nil, fmt.Errorf("encode macro %q: %w", spec.Name, err)
		}
		macros.Content = append(macros.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: spec.Name},
			&value,
		)
	}

	doc := &yaml.Node{Kind: yaml.MappingNode}
	if f.Lang != "" {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "lang"},
			&yaml.Node{Kind: yaml.ScalarNode, Value: f.Lang},
		)
	}
	doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: "macros"}, macros)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
