package identity

import "fmt"

// Toggle is an on/off capability switch. The empty value means on.
type Toggle string

const (
	On  Toggle = "on"
	Off Toggle = "off"
)

func (t Toggle) Enabled() bool { return t != Off }

type WebRTCMode string

const (
	WebRTCReal     WebRTCMode = "real"
	WebRTCPrivacy  WebRTCMode = "privacy"
	WebRTCDisabled WebRTCMode = "disabled"
)

// Protection holds the per-capability switches consumed by the page payload.
type Protection struct {
	CanvasNoise  Toggle     `json:"canvasNoise" yaml:"canvasNoise"`
	WebGLNoise   Toggle     `json:"webglNoise" yaml:"webglNoise"`
	ClientRects  Toggle     `json:"clientRects" yaml:"clientRects"`
	AudioNoise   Toggle     `json:"audioNoise" yaml:"audioNoise"`
	SpeechVoices Toggle     `json:"speechVoices" yaml:"speechVoices"`
	MediaDevices Toggle     `json:"mediaDevices" yaml:"mediaDevices"`
	PortScan     Toggle     `json:"portScanProtection" yaml:"portScanProtection"`
	WebRTC       WebRTCMode `json:"webrtcMode" yaml:"webrtcMode"`
}

func DefaultProtection() Protection {
	return Protection{
		CanvasNoise:  On,
		WebGLNoise:   On,
		ClientRects:  On,
		AudioNoise:   On,
		SpeechVoices: On,
		MediaDevices: On,
		PortScan:     On,
		WebRTC:       WebRTCPrivacy,
	}
}

// ParseWebRTCMode accepts the canonical names plus the legacy "on" (privacy)
// and "off" (real) spellings.
func ParseWebRTCMode(s string) (WebRTCMode, error) {
	switch s {
	case "", "privacy", "on":
		return WebRTCPrivacy, nil
	case "real", "off":
		return WebRTCReal, nil
	case "disabled":
		return WebRTCDisabled, nil
	default:
		return "", fmt.Errorf("unknown webrtc mode %q", s)
	}
}

// ChromeFlags returns launch flags enforcing the WebRTC mode at the engine level.
func (p Protection) ChromeFlags() map[string]any {
	switch p.WebRTC {
	case WebRTCDisabled:
		return map[string]any{
			"force-webrtc-ip-handling-policy": "disable_non_proxied_udp",
			"webrtc-ip-handling-policy":       "disable_non_proxied_udp",
		}
	case WebRTCReal:
		return nil
	default:
		return map[string]any{
			"force-webrtc-ip-handling-policy": "default_public_interface_only",
			"webrtc-ip-handling-policy":       "default_public_interface_only",
		}
	}
}
