package web

import (
	"path/filepath"
	"testing"
)

func TestSafePath(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"profile id", "p-3f2a9c", false},
		{"nested", "p-1/logs", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"parent", "..", true},
		{"traversal", "../../etc", true},
		{"hidden traversal", "p-1/../../x", true},
		{"absolute", "/etc/passwd", true},
	}
	base := filepath.Join(t.TempDir(), "profiles")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafePath(base, tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SafePath(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err == nil && got != filepath.Join(base, tt.id) {
				t.Errorf("SafePath(%q) = %q", tt.id, got)
			}
		})
	}
}
