package identity

import (
	"math/rand"
	"strings"
	"testing"
)

func TestGenerate_PlatformPartition(t *testing.T) {
	hosts := []struct {
		host     string
		platform string
		family   Family
	}{
		{"windows", PlatformWindows, FamilyWindows},
		{"win32", PlatformWindows, FamilyWindows},
		{"darwin", PlatformMac, FamilyMac},
		{"linux", PlatformLinux, FamilyLinux},
		{"freebsd", PlatformLinux, FamilyLinux},
	}

	for _, h := range hosts {
		t.Run(h.host, func(t *testing.T) {
			r := rand.New(rand.NewSource(7))
			for i := 0; i < 200; i++ {
				id := Generate(h.host, "amd64", Options{Rand: r})
				if id.Platform != h.platform {
					t.Fatalf("platform = %q, want %q", id.Platform, h.platform)
				}
				if err := id.Consistent(); err != nil {
					t.Fatalf("inconsistent identity: %v", err)
				}
				if !containsWebGL(WebGLCandidates(h.family), id.WebGL) {
					t.Fatalf("webgl %v not in %s table", id.WebGL, h.family)
				}
				if n := len(id.Fonts); n < minFonts || n > maxFonts || n > len(FontCatalog(h.family)) {
					t.Fatalf("font count %d out of range", n)
				}
			}
		})
	}
}

func TestGenerate_FieldRanges(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		id := Generate("linux", "amd64", Options{Rand: r})
		switch id.HardwareConcurrency {
		case 4, 8, 12, 16:
		default:
			t.Fatalf("hardwareConcurrency %d", id.HardwareConcurrency)
		}
		switch id.DeviceMemory {
		case 2, 4, 8:
		default:
			t.Fatalf("deviceMemory %d", id.DeviceMemory)
		}
		for _, v := range []int{id.CanvasNoise.R, id.CanvasNoise.G, id.CanvasNoise.B, id.CanvasNoise.A} {
			if v < -5 || v > 4 {
				t.Fatalf("canvas noise %d out of range", v)
			}
		}
		if id.AudioNoise < 0 || id.AudioNoise >= 0.000001 {
			t.Fatalf("audio noise %v", id.AudioNoise)
		}
		if id.Window != id.Screen {
			t.Fatalf("window %v differs from screen %v", id.Window, id.Screen)
		}
		seen := map[string]bool{}
		for _, f := range id.Fonts {
			if seen[f] {
				t.Fatalf("duplicate font %q", f)
			}
			seen[f] = true
		}
	}
}

func TestGenerate_UserAgentEmbedsVersion(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for _, host := range []string{"windows", "darwin", "linux"} {
		id := Generate(host, "amd64", Options{Rand: r})
		if !ValidChromeVersion(id.ChromeVersion) {
			t.Errorf("%s: invalid version %q", host, id.ChromeVersion)
		}
		if !strings.Contains(id.UserAgent, "Chrome/"+id.ChromeVersion) {
			t.Errorf("%s: UA %q lacks version %s", host, id.UserAgent, id.ChromeVersion)
		}
	}

	mac := Generate("darwin", "arm64", Options{Rand: r})
	if !strings.Contains(mac.UserAgent, "Macintosh") {
		t.Errorf("mac UA = %q", mac.UserAgent)
	}
	if mac.Architecture != "arm" {
		t.Errorf("architecture = %q, want arm", mac.Architecture)
	}
}

func TestGenerate_ForcedChromeVersion(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	id := Generate("windows", "amd64", Options{ChromeVersion: " 131.0.6778.86 ", Rand: r})
	if id.ChromeVersion != "131.0.6778.86" {
		t.Errorf("forced version ignored: %q", id.ChromeVersion)
	}

	for _, bad := range []string{"131", "131.0.0", "v131.0.0.0", "131.0.0.0-beta"} {
		id := Generate("windows", "amd64", Options{ChromeVersion: bad, Rand: r})
		found := false
		for _, v := range defaultChromeVersions {
			if id.ChromeVersion == v {
				found = true
			}
		}
		if !found {
			t.Errorf("malformed %q should fall back to a default, got %q", bad, id.ChromeVersion)
		}
	}
}

func TestReconcileChromeVersion(t *testing.T) {
	id := Generate("windows", "amd64", Options{ChromeVersion: "120.0.0.0", Rand: rand.New(rand.NewSource(1))})
	prefix := strings.Split(id.UserAgent, "Chrome/")[0]

	got, changed := ReconcileChromeVersion(id, "126.0.6478.55")
	if !changed {
		t.Fatal("expected change")
	}
	if got.ChromeVersion != "126.0.6478.55" {
		t.Errorf("version = %q", got.ChromeVersion)
	}
	if !strings.Contains(got.UserAgent, "Chrome/126.0.6478.55") || strings.Contains(got.UserAgent, "120.0.0.0") {
		t.Errorf("UA not rewritten: %q", got.UserAgent)
	}
	if !strings.HasPrefix(got.UserAgent, prefix) || !strings.HasSuffix(got.UserAgent, " Safari/537.36") {
		t.Errorf("UA surroundings not preserved: %q", got.UserAgent)
	}
	if id.ChromeVersion != "120.0.0.0" {
		t.Error("input identity was mutated")
	}

	again, changed := ReconcileChromeVersion(got, "126.0.6478.55")
	if changed {
		t.Error("second reconcile should be a no-op")
	}
	if again.UserAgent != got.UserAgent {
		t.Error("second reconcile altered UA")
	}
}

func TestReconcileChromeVersion_Edge(t *testing.T) {
	id := Generate("linux", "amd64", Options{Rand: rand.New(rand.NewSource(9))})

	if _, changed := ReconcileChromeVersion(id, "not-a-version"); changed {
		t.Error("malformed bundled version should be ignored")
	}

	custom := id
	custom.UserAgent = "Custom/1.0 Chrome/99.1.2.3 Extra"
	got, changed := ReconcileChromeVersion(custom, "127.0.0.1")
	if !changed || got.UserAgent != "Custom/1.0 Chrome/127.0.0.1 Extra" {
		t.Errorf("stale token not replaced in place: %q", got.UserAgent)
	}

	bare := id
	bare.UserAgent = "Mozilla/5.0"
	got, _ = ReconcileChromeVersion(bare, "127.0.0.1")
	if !strings.Contains(got.UserAgent, "X11; Linux x86_64") || !strings.Contains(got.UserAgent, "Chrome/127.0.0.1") {
		t.Errorf("UA without version token should be rebuilt: %q", got.UserAgent)
	}
}

func TestConsistent_RejectsMixedPartition(t *testing.T) {
	id := Generate("darwin", "amd64", Options{Rand: rand.New(rand.NewSource(4))})
	id.WebGL = WebGLCandidates(FamilyWindows)[0]
	if err := id.Consistent(); err == nil {
		t.Error("mac identity with windows WebGL should be rejected")
	}

	id = Generate("darwin", "amd64", Options{Rand: rand.New(rand.NewSource(4))})
	id.Fonts = append(id.Fonts, "Segoe UI")
	if err := id.Consistent(); err == nil {
		t.Error("mac identity with Segoe UI should be rejected")
	}
}

func TestParseWebRTCMode(t *testing.T) {
	tests := map[string]WebRTCMode{"": WebRTCPrivacy, "on": WebRTCPrivacy, "off": WebRTCReal, "disabled": WebRTCDisabled}
	for in, want := range tests {
		got, err := ParseWebRTCMode(in)
		if err != nil || got != want {
			t.Errorf("ParseWebRTCMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseWebRTCMode("leaky"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
