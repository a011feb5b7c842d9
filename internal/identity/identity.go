// Package identity generates the spoofed device fingerprint a profile presents.
//
// Every platform-specific field (WebGL strings, fonts, user agent) is drawn
// from the same OS partition as the platform tag. Identities are values:
// Generate and ReconcileChromeVersion never mutate their inputs.
package identity

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// Auto defers timezone, language or geolocation to IP-based inference
// performed outside this package.
const Auto = "Auto"

const DefaultTimezone = "America/Los_Angeles"

var chromeVersionRe = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)

var uaVersionRe = regexp.MustCompile(`Chrome/\d+\.\d+\.\d+\.\d+`)

type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

type CanvasNoise struct {
	R int `json:"r" yaml:"r"`
	G int `json:"g" yaml:"g"`
	B int `json:"b" yaml:"b"`
	A int `json:"a" yaml:"a"`
}

type WebGL struct {
	Vendor   string `json:"vendor" yaml:"vendor"`
	Renderer string `json:"renderer" yaml:"renderer"`
}

type Geolocation struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Accuracy  float64 `json:"accuracy" yaml:"accuracy"`
}

type Identity struct {
	Platform string `json:"platform" yaml:"platform"`
	// Architecture is the client-hint architecture ("x86" or "arm").
	Architecture        string      `json:"architecture" yaml:"architecture"`
	Screen              Size        `json:"screen" yaml:"screen"`
	Window              Size        `json:"window" yaml:"window"`
	Languages           []string    `json:"languages" yaml:"languages"`
	HardwareConcurrency int         `json:"hardwareConcurrency" yaml:"hardwareConcurrency"`
	DeviceMemory        int         `json:"deviceMemory" yaml:"deviceMemory"`
	CanvasNoise         CanvasNoise `json:"canvasNoise" yaml:"canvasNoise"`
	AudioNoise          float64     `json:"audioNoise" yaml:"audioNoise"`
	NoiseSeed           int         `json:"noiseSeed" yaml:"noiseSeed"`
	WebGL               WebGL       `json:"webgl" yaml:"webgl"`
	Fonts               []string    `json:"fonts" yaml:"fonts"`
	UserAgent           string      `json:"userAgent" yaml:"userAgent"`
	ChromeVersion       string      `json:"chromeVersion" yaml:"chromeVersion"`

	Timezone    string       `json:"timezone" yaml:"timezone"`
	Language    string       `json:"language" yaml:"language"`
	Geolocation *Geolocation `json:"geolocation,omitempty" yaml:"geolocation,omitempty"`
	Protection  Protection   `json:"protection" yaml:"protection"`
}

type Options struct {
	// ChromeVersion forces the version when it matches d.d.d.d; anything
	// else is ignored in favour of a random default.
	ChromeVersion string
	Rand          *rand.Rand
}

// ValidChromeVersion reports whether v looks like a full Chrome version.
func ValidChromeVersion(v string) bool {
	return chromeVersionRe.MatchString(strings.TrimSpace(v))
}

// FamilyForHost maps a host OS name to its partition. Both Go (windows) and
// Node (win32) spellings are accepted. Unknown hosts fall back to linux.
func FamilyForHost(hostPlatform string) Family {
	switch strings.ToLower(strings.TrimSpace(hostPlatform)) {
	case "windows", "win32":
		return FamilyWindows
	case "darwin", "macos", "mac":
		return FamilyMac
	default:
		return FamilyLinux
	}
}

// FamilyOf returns the partition of a platform tag.
func FamilyOf(platform string) Family {
	switch platform {
	case PlatformWindows:
		return FamilyWindows
	case PlatformMac:
		return FamilyMac
	default:
		return FamilyLinux
	}
}

func platformTag(f Family) string {
	switch f {
	case FamilyWindows:
		return PlatformWindows
	case FamilyMac:
		return PlatformMac
	default:
		return PlatformLinux
	}
}

func architecture(hostArch string) string {
	switch strings.ToLower(hostArch) {
	case "arm64", "arm", "aarch64":
		return "arm"
	default:
		return "x86"
	}
}

// Generate draws a fresh identity bound to the host OS and architecture.
func Generate(hostPlatform, hostArch string, opts Options) Identity {
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	fam := FamilyForHost(hostPlatform)
	res := resolutions[r.Intn(len(resolutions))]

	version := strings.TrimSpace(opts.ChromeVersion)
	if !ValidChromeVersion(version) {
		version = defaultChromeVersions[r.Intn(len(defaultChromeVersions))]
	}

	webgl := webglTable[fam]
	return Identity{
		Platform:            platformTag(fam),
		Architecture:        architecture(hostArch),
		Screen:              res,
		Window:              res,
		Languages:           []string{"en-US", "en"},
		HardwareConcurrency: hardwareConcurrencies[r.Intn(len(hardwareConcurrencies))],
		DeviceMemory:        deviceMemories[r.Intn(len(deviceMemories))],
		CanvasNoise: CanvasNoise{
			R: r.Intn(10) - 5,
			G: r.Intn(10) - 5,
			B: r.Intn(10) - 5,
			A: r.Intn(10) - 5,
		},
		AudioNoise:    r.Float64() * 0.000001,
		NoiseSeed:     r.Intn(9999999),
		WebGL:         webgl[r.Intn(len(webgl))],
		Fonts:         pickFonts(r, fontTable[fam]),
		UserAgent:     BuildUserAgent(fam, version),
		ChromeVersion: version,
		Timezone:      DefaultTimezone,
		Language:      Auto,
		Protection:    DefaultProtection(),
	}
}

// pickFonts returns a random subset of 15-24 fonts, capped by the catalog size.
func pickFonts(r *rand.Rand, catalog []string) []string {
	n := minFonts + r.Intn(maxFonts-minFonts+1)
	if n > len(catalog) {
		n = len(catalog)
	}
	shuffled := append([]string(nil), catalog...)
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}

func BuildUserAgent(f Family, chromeVersion string) string {
	tpl, ok := uaTemplates[f]
	if !ok {
		tpl = uaTemplates[FamilyLinux]
	}
	return fmt.Sprintf(tpl, chromeVersion)
}

// ReconcileChromeVersion rewrites the identity to a locally bundled browser
// version. The version token in the user agent is replaced in place so the
// rest of the string survives. changed is false when nothing differs or the
// bundled version is malformed.
func ReconcileChromeVersion(id Identity, bundledVersion string) (Identity, bool) {
	bundled := strings.TrimSpace(bundledVersion)
	if !ValidChromeVersion(bundled) || bundled == id.ChromeVersion {
		return id, false
	}

	out := id
	token := "Chrome/" + bundled
	switch {
	case id.ChromeVersion != "" && strings.Contains(id.UserAgent, "Chrome/"+id.ChromeVersion):
		out.UserAgent = strings.Replace(id.UserAgent, "Chrome/"+id.ChromeVersion, token, 1)
	case uaVersionRe.MatchString(id.UserAgent):
		out.UserAgent = uaVersionRe.ReplaceAllString(id.UserAgent, token)
	default:
		out.UserAgent = BuildUserAgent(FamilyOf(id.Platform), bundled)
	}
	out.ChromeVersion = bundled
	return out, true
}

// Consistent reports whether every platform-specific field belongs to the
// platform tag's partition. Launches refuse identities that fail it, which
// catches hand-edited records.
func (id Identity) Consistent() error {
	fam := FamilyOf(id.Platform)
	if platformTag(fam) != id.Platform {
		return fmt.Errorf("unknown platform %q", id.Platform)
	}
	if !containsWebGL(webglTable[fam], id.WebGL) {
		return fmt.Errorf("webgl renderer %q does not belong to %s", id.WebGL.Renderer, fam)
	}
	catalog := make(map[string]bool, len(fontTable[fam]))
	for _, f := range fontTable[fam] {
		catalog[f] = true
	}
	for _, f := range id.Fonts {
		if !catalog[f] {
			return fmt.Errorf("font %q does not belong to %s", f, fam)
		}
	}
	if !ValidChromeVersion(id.ChromeVersion) {
		return fmt.Errorf("invalid chrome version %q", id.ChromeVersion)
	}
	if !strings.Contains(id.UserAgent, "Chrome/"+id.ChromeVersion) {
		return fmt.Errorf("user agent does not embed chrome version %s", id.ChromeVersion)
	}
	return nil
}

func containsWebGL(list []WebGL, w WebGL) bool {
	for _, c := range list {
		if c == w {
			return true
		}
	}
	return false
}

// MajorVersion returns the leading component of the Chrome version.
func (id Identity) MajorVersion() string {
	major, _, _ := strings.Cut(id.ChromeVersion, ".")
	return major
}

// AcceptLanguage returns the language to advertise, or "" when it is Auto.
func (id Identity) AcceptLanguage() string {
	if id.Language != "" && id.Language != Auto {
		return id.Language
	}
	if len(id.Languages) > 0 {
		return strings.Join(id.Languages, ",")
	}
	return ""
}

// FixedTimezone returns the timezone override, or "" when deferred.
func (id Identity) FixedTimezone() string {
	if id.Timezone == "" || id.Timezone == Auto {
		return ""
	}
	return id.Timezone
}
