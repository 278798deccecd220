package macros

import (
	"os"
	"path/filepath"
)

// FileName is the macro file's base name.
const FileName = "command.yml"

// SearchPaths returns candidate macro files in precedence order.
func SearchPaths(projectDir string) []string {
	paths := make([]string, 0, 3)
	if projectDir != "" {
		paths = append(paths, filepath.Join(projectDir, ".litemacro", FileName))
	}

	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "litemacro", FileName))
	}

	paths = append(paths, filepath.Join(string(filepath.Separator), "usr", "share", "litemacro", FileName))
	return paths
}

// Find returns the first existing file from SearchPaths.
func Find(projectDir string) (string, error) {
	for _, path := range SearchPaths(projectDir) {
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", ErrNoMacrosFile
}
