package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/pinchtab/veilgate/internal/identity"
	"github.com/pinchtab/veilgate/internal/idutil"
)

// Pre-proxy override values on a profile.
const (
	OverrideDefault = "default"
	OverrideOn      = "on"
	OverrideOff     = "off"
)

type Profile struct {
	ID               string            `yaml:"id" json:"id"`
	Name             string            `yaml:"name" json:"name"`
	ProxyLink        string            `yaml:"proxyStr" json:"proxyStr"`
	Identity         identity.Identity `yaml:"fingerprint" json:"fingerprint"`
	PreProxyOverride string            `yaml:"preProxyOverride" json:"preProxyOverride"`
	WatermarkStyle   string            `yaml:"watermarkStyle,omitempty" json:"watermarkStyle,omitempty"`
	IsSetup          bool              `yaml:"isSetup" json:"isSetup"`
	CreatedAt        time.Time         `yaml:"createdAt" json:"createdAt"`
}

func NormalizeOverride(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case OverrideOn:
		return OverrideOn
	case OverrideOff:
		return OverrideOff
	default:
		return OverrideDefault
	}
}

func (s *Store) Profiles() ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadProfiles()
}

func (s *Store) Profile(id string) (Profile, error) {
	list, err := s.Profiles()
	if err != nil {
		return Profile{}, err
	}
	for _, p := range list {
		if p.ID == id {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
}

// CreateProfile stores a new profile with a fresh id and the given identity.
func (s *Store) CreateProfile(name, proxyLink string, id identity.Identity) (Profile, error) {
	if strings.TrimSpace(name) == "" {
		return Profile{}, fmt.Errorf("profile name cannot be empty")
	}
	p := Profile{
		ID:               idutil.NewProfileID(),
		Name:             strings.TrimSpace(name),
		ProxyLink:        strings.TrimSpace(proxyLink),
		Identity:         id,
		PreProxyOverride: OverrideDefault,
		CreatedAt:        time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.loadProfiles()
	if err != nil {
		return Profile{}, err
	}
	list = append(list, p)
	if err := s.saveProfiles(list); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// UpdateProfile applies fn to the stored profile and persists the result.
func (s *Store) UpdateProfile(id string, fn func(*Profile)) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.loadProfiles()
	if err != nil {
		return Profile{}, err
	}
	for i := range list {
		if list[i].ID != id {
			continue
		}
		fn(&list[i])
		list[i].ID = id
		list[i].PreProxyOverride = NormalizeOverride(list[i].PreProxyOverride)
		if err := s.saveProfiles(list); err != nil {
			return Profile{}, err
		}
		return list[i], nil
	}
	return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
}

func (s *Store) DeleteProfile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.loadProfiles()
	if err != nil {
		return err
	}
	out := list[:0]
	found := false
	for _, p := range list {
		if p.ID == id {
			found = true
			continue
		}
		out = append(out, p)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return s.saveProfiles(out)
}
