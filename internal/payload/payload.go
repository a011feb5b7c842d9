// Package payload seeds the embedded page script with a profile identity.
package payload

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pinchtab/veilgate/internal/assets"
	"github.com/pinchtab/veilgate/internal/identity"
)

// Watermark styles.
const (
	WatermarkEnhanced = "enhanced"
	WatermarkBanner   = "banner"
	WatermarkNone     = "none"
)

func NormalizeWatermark(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case WatermarkBanner:
		return WatermarkBanner
	case WatermarkNone:
		return WatermarkNone
	default:
		return WatermarkEnhanced
	}
}

// SanitizeLabel strips markup characters from the on-page profile label.
func SanitizeLabel(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'', '&':
			return -1
		}
		return r
	}, name)
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return "Profile"
	}
	return clean
}

// Build returns a self-contained script applying id inside a page.
func Build(id identity.Identity, label, watermark string) (string, error) {
	fp, err := json.Marshal(id)
	if err != nil {
		return "", fmt.Errorf("encode identity: %w", err)
	}
	lbl, _ := json.Marshal(SanitizeLabel(label))
	wm, _ := json.Marshal(NormalizeWatermark(watermark))

	var b strings.Builder
	b.Grow(len(assets.InjectScript) + len(fp) + 128)
	b.WriteString("(function(fp, label, watermark) {\n")
	b.WriteString(assets.InjectScript)
	b.WriteString("\n})(")
	b.Write(fp)
	b.WriteString(", ")
	b.Write(lbl)
	b.WriteString(", ")
	b.Write(wm)
	b.WriteString(");\n")
	return b.String(), nil
}
