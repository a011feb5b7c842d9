// Package proxylink parses share links (vmess, vless, trojan, ss, socks,
// http) into proxy-core outbounds.
package proxylink

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/pinchtab/veilgate/internal/proxycore"
)

// Scheme returns the lower-cased scheme of a link, or "".
func Scheme(link string) string {
	scheme, _, ok := strings.Cut(strings.TrimSpace(link), "://")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

// IsSSH reports whether the link must be served by an SSH tunnel rather than
// handed to the proxy core.
func IsSSH(link string) bool {
	return Scheme(link) == "ssh"
}

// Parse converts a share link into an untagged outbound.
func Parse(link string) (proxycore.Outbound, error) {
	link = strings.TrimSpace(link)
	switch s := Scheme(link); s {
	case "vmess":
		return parseVmess(link)
	case "vless":
		return parseVless(link)
	case "trojan":
		return parseTrojan(link)
	case "ss":
		return parseShadowsocks(link)
	case "socks", "socks5":
		return parseSocksOrHTTP(link, "socks")
	case "http", "https":
		return parseSocksOrHTTP(link, "http")
	case "ssh":
		return proxycore.Outbound{}, newParseError(s, "ssh links need a tunnel, not a core outbound", nil)
	case "":
		return proxycore.Outbound{}, newParseError("", "missing scheme", nil)
	default:
		return proxycore.Outbound{}, newParseError(s, "unsupported scheme", nil)
	}
}

// Remark extracts the display name: the URL fragment, or "ps" for vmess.
func Remark(link string) string {
	link = strings.TrimSpace(link)
	if Scheme(link) == "vmess" {
		if v, err := decodeVmess(link); err == nil && v.PS != "" {
			return v.PS
		}
	}
	_, frag, ok := strings.Cut(link, "#")
	if !ok {
		return ""
	}
	name, err := url.PathUnescape(frag)
	if err != nil {
		return frag
	}
	return strings.TrimSpace(name)
}

func parseVless(link string) (proxycore.Outbound, error) {
	u, err := url.Parse(link)
	if err != nil {
		return proxycore.Outbound{}, newParseError("vless", "malformed url", err)
	}
	id := u.User.Username()
	if id == "" {
		return proxycore.Outbound{}, newParseError("vless", "missing user id", nil)
	}
	host, port, err := parseHostPort(u.Host)
	if err != nil {
		return proxycore.Outbound{}, newParseError("vless", "invalid server address", err)
	}
	q := u.Query()
	enc := q.Get("encryption")
	if enc == "" {
		enc = "none"
	}
	return proxycore.Outbound{
		Protocol: "vless",
		Settings: &proxycore.OutboundSettings{Vnext: []proxycore.VnextServer{{
			Address: host,
			Port:    port,
			Users:   []proxycore.VnextUser{{ID: id, Encryption: enc, Flow: q.Get("flow")}},
		}}},
		StreamSettings: streamFromQuery(q, host),
	}, nil
}

func parseTrojan(link string) (proxycore.Outbound, error) {
	u, err := url.Parse(link)
	if err != nil {
		return proxycore.Outbound{}, newParseError("trojan", "malformed url", err)
	}
	password := u.User.Username()
	if password == "" {
		return proxycore.Outbound{}, newParseError("trojan", "missing password", nil)
	}
	host, port, err := parseHostPort(u.Host)
	if err != nil {
		return proxycore.Outbound{}, newParseError("trojan", "invalid server address", err)
	}
	q := u.Query()
	if q.Get("security") == "" {
		q.Set("security", "tls")
	}
	return proxycore.Outbound{
		Protocol: "trojan",
		Settings: &proxycore.OutboundSettings{Servers: []proxycore.Server{{
			Address: host, Port: port, Password: password,
		}}},
		StreamSettings: streamFromQuery(q, host),
	}, nil
}

func parseSocksOrHTTP(link, protocol string) (proxycore.Outbound, error) {
	u, err := url.Parse(link)
	if err != nil {
		return proxycore.Outbound{}, newParseError(protocol, "malformed url", err)
	}
	host, port, err := parseHostPort(u.Host)
	if err != nil {
		return proxycore.Outbound{}, newParseError(protocol, "invalid server address", err)
	}

	user := u.User.Username()
	pass, hasPass := u.User.Password()
	// v2rayN style: base64(user:pass) as the userinfo.
	if user != "" && !hasPass {
		if b, err := decodeB64(user); err == nil {
			if du, dp, ok := strings.Cut(string(b), ":"); ok {
				user, pass = du, dp
			}
		}
	}

	out := proxycore.SocksOutbound(host, port, user, pass)
	out.Protocol = protocol
	if Scheme(link) == "https" {
		out.StreamSettings = &proxycore.StreamSettings{
			Security:    "tls",
			TLSSettings: &proxycore.TLSSettings{ServerName: host},
		}
	}
	return out, nil
}

// streamFromQuery maps the common transport/security query parameters.
func streamFromQuery(q url.Values, host string) *proxycore.StreamSettings {
	network := q.Get("type")
	if network == "" {
		network = "tcp"
	}
	ss := &proxycore.StreamSettings{Network: network, Security: q.Get("security")}

	sni := firstNonEmpty(q.Get("sni"), q.Get("peer"), q.Get("host"), host)
	switch ss.Security {
	case "tls":
		ss.TLSSettings = &proxycore.TLSSettings{
			ServerName:    sni,
			Fingerprint:   q.Get("fp"),
			AllowInsecure: q.Get("allowInsecure") == "1" || q.Get("allowInsecure") == "true",
		}
		if alpn := q.Get("alpn"); alpn != "" {
			ss.TLSSettings.ALPN = strings.Split(alpn, ",")
		}
	case "reality":
		ss.RealitySettings = &proxycore.RealitySettings{
			ServerName:  sni,
			Fingerprint: firstNonEmpty(q.Get("fp"), "chrome"),
			PublicKey:   q.Get("pbk"),
			ShortID:     q.Get("sid"),
			SpiderX:     q.Get("spx"),
		}
	case "none":
		ss.Security = ""
	}

	switch network {
	case "ws":
		ws := &proxycore.WSSettings{Path: q.Get("path")}
		if h := q.Get("host"); h != "" {
			ws.Headers = map[string]string{"Host": h}
		}
		ss.WSSettings = ws
	case "grpc":
		ss.GRPCSettings = &proxycore.GRPCSettings{ServiceName: firstNonEmpty(q.Get("serviceName"), q.Get("path"))}
	case "tcp":
		if q.Get("headerType") == "http" {
			ss.TCPSettings = &proxycore.TCPSettings{Header: &proxycore.TCPHeader{Type: "http"}}
		}
	}
	return ss
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// flexString accepts JSON strings or numbers; vmess links use both for port and aid.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
