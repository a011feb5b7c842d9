package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pinchtab/veilgate/internal/identity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return Open(filepath.Join(dir, "profiles.yaml"), filepath.Join(dir, "settings.yaml"))
}

func TestSettingsDefaultsWhenMissing(t *testing.T) {
	s := newTestStore(t)
	st, err := s.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode != ModeSingle || st.EnablePreProxy || len(st.PreProxies) != 0 {
		t.Errorf("unexpected defaults: %+v", st)
	}
	if st.ActiveGroup != ManualGroup {
		t.Errorf("active group = %q", st.ActiveGroup)
	}
}

func TestSettingsNormalizeUnknownMode(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveSettings(Settings{Mode: "roundrobin", PreProxies: []ProxyNode{{ID: "a"}}}); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Settings()
	if st.Mode != ModeSingle {
		t.Errorf("mode = %q, want single", st.Mode)
	}
	if st.PreProxies[0].GroupID != ManualGroup {
		t.Errorf("group = %q, want manual", st.PreProxies[0].GroupID)
	}
}

func TestProfileLifecycle(t *testing.T) {
	s := newTestStore(t)
	id := identity.Generate("linux", "amd64", identity.Options{})

	p, err := s.CreateProfile("  Work  ", "vless://x@h:443#r", id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Work" || p.PreProxyOverride != OverrideDefault || p.ID == "" {
		t.Errorf("unexpected profile: %+v", p)
	}

	got, err := s.Profile(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Identity.UserAgent != id.UserAgent {
		t.Error("identity not persisted")
	}

	upd, err := s.UpdateProfile(p.ID, func(pp *Profile) {
		pp.PreProxyOverride = "ON"
		pp.IsSetup = true
		pp.ID = "hijack"
	})
	if err != nil {
		t.Fatal(err)
	}
	if upd.ID != p.ID || upd.PreProxyOverride != OverrideOn || !upd.IsSetup {
		t.Errorf("update = %+v", upd)
	}

	if err := s.DeleteProfile(p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Profile(p.ID); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}
	if err := s.DeleteProfile(p.ID); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestCreateProfileRejectsEmptyName(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateProfile(" ", "", identity.Identity{}); err == nil {
		t.Error("expected error")
	}
}

func TestReplaceGroupKeepsOtherGroups(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveSettings(Settings{
		PreProxies: []ProxyNode{
			{ID: "m1", GroupID: ManualGroup},
			{ID: "s1", GroupID: "sub"},
			{ID: "s2", GroupID: "sub"},
		},
		Subscriptions: []Subscription{{ID: "sub", Name: "feed"}},
	})

	st, err := s.ReplaceGroup("sub", []ProxyNode{{ID: "s3"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(st.PreProxies) != 2 || st.PreProxies[0].ID != "m1" || st.PreProxies[1].ID != "s3" {
		t.Errorf("nodes = %+v", st.PreProxies)
	}
	if st.PreProxies[1].GroupID != "sub" {
		t.Errorf("replacement group = %q", st.PreProxies[1].GroupID)
	}
	if st.Subscriptions[0].LastUpdated.IsZero() {
		t.Error("subscription timestamp not bumped")
	}
}

func TestDeleteGroupResetsActiveGroup(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveSettings(Settings{
		PreProxies:    []ProxyNode{{ID: "s1", GroupID: "sub"}, {ID: "m1"}},
		Subscriptions: []Subscription{{ID: "sub"}},
		ActiveGroup:   "sub",
	})
	if err := s.DeleteGroup("sub"); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Settings()
	if len(st.PreProxies) != 1 || len(st.Subscriptions) != 0 || st.ActiveGroup != ManualGroup {
		t.Errorf("after delete: %+v", st)
	}
}

func TestSetLatenciesAndSelect(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveSettings(Settings{PreProxies: []ProxyNode{{ID: "a"}, {ID: "b"}}})
	if err := s.SetLatencies(map[string]int{"a": 120, "b": LatencyFailed}); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Settings()
	if !st.PreProxies[0].Measured() || !st.PreProxies[1].Failed() {
		t.Errorf("latencies = %+v", st.PreProxies)
	}
	if err := s.SelectNode("zzz"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
	if err := s.SelectNode("b"); err != nil {
		t.Fatal(err)
	}
	st, _ = s.Settings()
	if st.SelectedID != "b" {
		t.Errorf("selected = %q", st.SelectedID)
	}
}

func TestCorruptFileSurfacesError(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.settingsPath, []byte("mode: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Settings(); err == nil {
		t.Error("expected parse error")
	}
}

func TestSubscriptionRefreshDue(t *testing.T) {
	now := time.Now()
	if (Subscription{}).RefreshDue(now) {
		t.Error("zero interval must not refresh")
	}
	if !(Subscription{IntervalHours: 1}).RefreshDue(now) {
		t.Error("never-updated subscription should refresh")
	}
	if (Subscription{IntervalHours: 2, LastUpdated: now.Add(-time.Hour)}).RefreshDue(now) {
		t.Error("refresh too early")
	}
}
