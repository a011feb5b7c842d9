package web

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SafePath joins name onto base and fails if the result leaves base.
// Profile and subscription ids arrive in URLs and become directory names,
// so every such join goes through here.
func SafePath(base, name string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("path %q must be relative to %q", name, absBase)
	}
	resolved := filepath.Join(absBase, name)
	if resolved == absBase || !strings.HasPrefix(resolved, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory %q", name, absBase)
	}
	return resolved, nil
}
