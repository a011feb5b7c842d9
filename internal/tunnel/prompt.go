package tunnel

import (
	"regexp"
	"strings"
)

// PromptKind classifies interactive output from the ssh client.
type PromptKind int

const (
	PromptPassword PromptKind = iota + 1
	PromptHostKeyNew
	PromptHostKeyChanged
)

func (k PromptKind) String() string {
	switch k {
	case PromptPassword:
		return "password"
	case PromptHostKeyNew:
		return "hostkey-new"
	case PromptHostKeyChanged:
		return "hostkey-changed"
	default:
		return "unknown"
	}
}

type Prompt struct {
	Kind        PromptKind
	Fingerprint string
	// Raw is the client output that led up to the prompt.
	Raw string
}

const (
	markerStore  = "Store key in cache?"
	markerUpdate = "Update cached key?"
	markerBreach = "POTENTIAL SECURITY BREACH"

	maxPromptBuffer = 16 << 10
)

var (
	fingerprintRe = regexp.MustCompile(`(?i)key fingerprint is:[ \t]*\r?\n?[ \t]*([^\r\n]+)`)
	passwordRe    = regexp.MustCompile(`(?i)(password|passphrase)[^\n]*:\s*$`)
)

// PromptParser scans the client's combined output for prompts. It matches
// PuTTY/plink wording, so a change in the client's messages breaks detection
// and the session falls through to the readiness timeout.
type PromptParser struct {
	buf strings.Builder
}

// Feed appends output and returns any prompts completed by it, in order.
func (p *PromptParser) Feed(chunk []byte) []Prompt {
	p.buf.Write(chunk)
	text := p.buf.String()

	var out []Prompt
	for {
		idx, marker := earliestMarker(text)
		if idx < 0 {
			break
		}
		end := idx + len(marker)
		if nl := strings.IndexByte(text[end:], '\n'); nl >= 0 {
			end += nl + 1
		} else {
			end = len(text)
		}
		head := text[:idx]
		kind := PromptHostKeyNew
		if marker == markerUpdate || strings.Contains(head, markerBreach) {
			kind = PromptHostKeyChanged
		}
		out = append(out, Prompt{
			Kind:        kind,
			Fingerprint: lastFingerprint(head),
			Raw:         strings.TrimSpace(text[:end]),
		})
		text = text[end:]
	}

	if passwordRe.MatchString(text) {
		out = append(out, Prompt{Kind: PromptPassword, Raw: strings.TrimSpace(text)})
		text = ""
	}

	if len(text) > maxPromptBuffer {
		text = text[len(text)-maxPromptBuffer:]
	}
	p.buf.Reset()
	p.buf.WriteString(text)
	return out
}

func earliestMarker(text string) (int, string) {
	best, marker := -1, ""
	for _, m := range []string{markerStore, markerUpdate} {
		if i := strings.Index(text, m); i >= 0 && (best < 0 || i < best) {
			best, marker = i, m
		}
	}
	return best, marker
}

func lastFingerprint(text string) string {
	matches := fingerprintRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.TrimSpace(matches[len(matches)-1][1])
}
