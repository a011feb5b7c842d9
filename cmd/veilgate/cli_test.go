package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/pinchtab/veilgate/internal/config"
	"github.com/pinchtab/veilgate/internal/identity"
	"github.com/pinchtab/veilgate/internal/route"
	"gopkg.in/yaml.v3"
)

func TestRunIdentitySeedIsDeterministic(t *testing.T) {
	cfg := &config.RuntimeConfig{}
	var a, b bytes.Buffer
	if code := runIdentity(cfg, []string{"-seed", "42", "-platform", "windows"}, &a); code != 0 {
		t.Fatalf("exit code %d: %s", code, a.String())
	}
	_ = runIdentity(cfg, []string{"-seed", "42", "-platform", "windows"}, &b)
	if a.String() != b.String() {
		t.Error("same seed produced different identities")
	}

	var id identity.Identity
	if err := yaml.Unmarshal(a.Bytes(), &id); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(id.UserAgent, "Windows NT") {
		t.Errorf("user agent %q does not match the requested platform", id.UserAgent)
	}
	if err := id.Consistent(); err != nil {
		t.Errorf("inconsistent identity: %v", err)
	}
}

func TestRunIdentityBadFlag(t *testing.T) {
	var out bytes.Buffer
	if code := runIdentity(&config.RuntimeConfig{}, []string{"-nope"}, &out); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}

func TestRunLatencyNeedsLink(t *testing.T) {
	var out bytes.Buffer
	if code := runLatency(&config.RuntimeConfig{}, nil, &out); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}

func TestFormatResult(t *testing.T) {
	color.NoColor = true
	if got := formatResult("tokyo", route.Result{Success: true, LatencyMs: 120}); !strings.HasSuffix(got, "120 ms") || !strings.HasPrefix(got, "tokyo") {
		t.Errorf("success line = %q", got)
	}
	if got := formatResult("", route.Result{Reason: "timeout"}); !strings.Contains(got, "(unnamed)") || !strings.HasSuffix(got, "FAIL timeout") {
		t.Errorf("failure line = %q", got)
	}
}
