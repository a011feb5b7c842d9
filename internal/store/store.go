// Package store persists profiles and global settings as YAML documents.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrNodeNotFound    = errors.New("proxy node not found")
)

// Store serializes every read-modify-write of the two documents behind one
// mutex so group replacement and latency updates never interleave.
type Store struct {
	mu           sync.RWMutex
	profilesPath string
	settingsPath string
}

func Open(profilesPath, settingsPath string) *Store {
	return &Store{profilesPath: profilesPath, settingsPath: settingsPath}
}

type profilesDoc struct {
	UpdatedAt time.Time `yaml:"updated_at"`
	Profiles  []Profile `yaml:"profiles"`
}

func readYAML(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// writeYAML replaces path atomically so a crash never leaves half a document.
func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) loadProfiles() ([]Profile, error) {
	var doc profilesDoc
	if _, err := readYAML(s.profilesPath, &doc); err != nil {
		return nil, err
	}
	return doc.Profiles, nil
}

func (s *Store) saveProfiles(list []Profile) error {
	return writeYAML(s.profilesPath, profilesDoc{UpdatedAt: time.Now().UTC(), Profiles: list})
}

func (s *Store) loadSettings() (Settings, error) {
	st := DefaultSettings()
	if _, err := readYAML(s.settingsPath, &st); err != nil {
		return Settings{}, err
	}
	st.normalize()
	return st, nil
}
