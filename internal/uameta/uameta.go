// Package uameta builds CDP UserAgentMetadata from a profile identity so
// client hints agree with the spoofed user agent.
package uameta

import (
	"github.com/chromedp/cdproto/emulation"

	"github.com/pinchtab/veilgate/internal/identity"
)

// Build creates a SetUserAgentOverride action with full UserAgentMetadata.
// Returns nil when the identity carries no user agent.
func Build(id identity.Identity) *emulation.SetUserAgentOverrideParams {
	if id.UserAgent == "" {
		return nil
	}

	major := id.MajorVersion()
	fam := identity.FamilyOf(id.Platform)
	arch := id.Architecture
	if arch == "" {
		arch = "x86"
	}

	p := emulation.SetUserAgentOverride(id.UserAgent).
		WithPlatform(id.Platform).
		WithUserAgentMetadata(&emulation.UserAgentMetadata{
			Platform:        platformName(fam),
			PlatformVersion: platformVersion(fam),
			Architecture:    arch,
			Bitness:         "64",
			Mobile:          false,
			Brands: []*emulation.UserAgentBrandVersion{
				{Brand: "Not(A:Brand", Version: "99"},
				{Brand: "Google Chrome", Version: major},
				{Brand: "Chromium", Version: major},
			},
			FullVersionList: []*emulation.UserAgentBrandVersion{
				{Brand: "Not(A:Brand", Version: "99.0.0.0"},
				{Brand: "Google Chrome", Version: id.ChromeVersion},
				{Brand: "Chromium", Version: id.ChromeVersion},
			},
		})
	if lang := id.AcceptLanguage(); lang != "" {
		p = p.WithAcceptLanguage(lang)
	}
	return p
}

func platformName(f identity.Family) string {
	switch f {
	case identity.FamilyMac:
		return "macOS"
	case identity.FamilyWindows:
		return "Windows"
	default:
		return "Linux"
	}
}

func platformVersion(f identity.Family) string {
	switch f {
	case identity.FamilyMac:
		return "14.0.0"
	case identity.FamilyWindows:
		return "15.0.0"
	default:
		return "6.5.0"
	}
}
