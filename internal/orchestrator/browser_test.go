package orchestrator

import (
	"testing"

	"github.com/pinchtab/veilgate/internal/identity"
)

func TestLaunchFlagsFollowWebRTCMode(t *testing.T) {
	tests := []struct {
		mode   identity.WebRTCMode
		policy any
	}{
		{identity.WebRTCReal, nil},
		{identity.WebRTCPrivacy, "default_public_interface_only"},
		{identity.WebRTCDisabled, "disable_non_proxied_udp"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			id := identity.Identity{Protection: identity.DefaultProtection()}
			id.Protection.WebRTC = tt.mode
			flags := launchFlags(BrowserOptions{Identity: id})

			for _, name := range []string{"force-webrtc-ip-handling-policy", "webrtc-ip-handling-policy"} {
				got, ok := flags[name]
				if tt.policy == nil {
					if ok {
						t.Errorf("%s = %v, want unset", name, got)
					}
					continue
				}
				if got != tt.policy {
					t.Errorf("%s = %v, want %v", name, got, tt.policy)
				}
			}
		})
	}
}

func TestLaunchFlags(t *testing.T) {
	flags := launchFlags(BrowserOptions{
		DebugPort:  9333,
		Extensions: []string{"/ext/a", "/ext/b"},
		Identity:   identity.Identity{Languages: []string{"de-DE", "de"}},
	})
	if flags["enable-automation"] != false {
		t.Errorf("enable-automation = %v", flags["enable-automation"])
	}
	if flags["headless"] != false {
		t.Errorf("headed launch has headless = %v", flags["headless"])
	}
	if flags["remote-debugging-port"] != "9333" {
		t.Errorf("remote-debugging-port = %v", flags["remote-debugging-port"])
	}
	if flags["lang"] != "de-DE,de" {
		t.Errorf("lang = %v", flags["lang"])
	}
	if flags["load-extension"] != "/ext/a,/ext/b" {
		t.Errorf("load-extension = %v", flags["load-extension"])
	}

	headless := launchFlags(BrowserOptions{Headless: true})
	if _, ok := headless["headless"]; ok {
		t.Error("headless launch should leave the default headless flag alone")
	}
	if _, ok := headless["remote-debugging-port"]; ok {
		t.Error("debug port set without a reservation")
	}
}
