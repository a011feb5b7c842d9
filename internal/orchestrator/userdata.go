package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// singletonFiles are left behind by a browser that did not exit cleanly and
// make the next start refuse the profile directory.
var singletonFiles = []string{"SingletonLock", "SingletonSocket", "SingletonCookie"}

func removeStaleLocks(userDataDir string) {
	for _, name := range singletonFiles {
		p := filepath.Join(userDataDir, name)
		if _, err := os.Lstat(p); err != nil {
			continue
		}
		if err := os.Remove(p); err != nil {
			slog.Warn("failed to remove stale browser lock", "path", p, "err", err)
		} else {
			slog.Debug("removed stale browser lock", "path", p)
		}
	}
}

// prepareUserDataDir readies the browser profile directory. Preferences get
// the bookmark bar pinned and any stored protection block dropped; on the
// first launch the browser profile is also named after the profile label.
func prepareUserDataDir(userDataDir, label string, firstRun bool) error {
	defaultDir := filepath.Join(userDataDir, "Default")
	if err := os.MkdirAll(defaultDir, 0o755); err != nil {
		return fmt.Errorf("create user data dir: %w", err)
	}
	removeStaleLocks(userDataDir)

	prefsPath := filepath.Join(defaultDir, "Preferences")
	prefs := map[string]any{}
	if data, err := os.ReadFile(prefsPath); err == nil {
		if err := json.Unmarshal(data, &prefs); err != nil {
			slog.Warn("browser preferences unreadable, rewriting", "path", prefsPath, "err", err)
			prefs = map[string]any{}
		}
	}

	bar, _ := prefs["bookmark_bar"].(map[string]any)
	if bar == nil {
		bar = map[string]any{}
	}
	bar["show_on_all_tabs"] = true
	prefs["bookmark_bar"] = bar
	delete(prefs, "protection")

	if firstRun && label != "" {
		profile, _ := prefs["profile"].(map[string]any)
		if profile == nil {
			profile = map[string]any{}
		}
		profile["name"] = label
		prefs["profile"] = profile
	}

	data, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	return os.WriteFile(prefsPath, data, 0o600)
}

// listExtensions returns every unpacked extension directory under root.
func listExtensions(root string) []string {
	if root == "" {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cannot read extensions dir", "path", root, "err", err)
		}
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "manifest.json")); err == nil {
			out = append(out, dir)
		}
	}
	sort.Strings(out)
	return out
}
