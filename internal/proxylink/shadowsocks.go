package proxylink

import (
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/pinchtab/veilgate/internal/proxycore"
)

// parseShadowsocks accepts both SIP002 (ss://b64(method:pass)@host:port) and
// the legacy ss://b64(method:pass@host:port) forms.
func parseShadowsocks(link string) (proxycore.Outbound, error) {
	withoutFrag, _, _ := strings.Cut(strings.TrimSpace(link), "#")
	withoutQuery, _, _ := strings.Cut(withoutFrag, "?")
	rest := strings.TrimPrefix(withoutQuery, "ss://")
	if rest == "" {
		return proxycore.Outbound{}, newParseError("ss", "missing content after ss://", nil)
	}

	var method, password, hostPort string
	if userPart, hostPart, ok := strings.Cut(rest, "@"); ok {
		m, p, err := decodeMethodPassword(userPart)
		if err != nil {
			return proxycore.Outbound{}, newParseError("ss", "userinfo decode failed", err)
		}
		method, password = m, p
		hostPort = strings.TrimSuffix(hostPart, "/")
	} else {
		decoded, err := decodeB64(rest)
		if err != nil {
			return proxycore.Outbound{}, newParseError("ss", "base64 decode failed", err)
		}
		if !utf8.Valid(decoded) {
			return proxycore.Outbound{}, newParseError("ss", "decoded content is not valid utf-8", nil)
		}
		s := string(decoded)
		at := strings.LastIndex(s, "@")
		if at < 0 {
			return proxycore.Outbound{}, newParseError("ss", "missing @ separator", nil)
		}
		m, p, ok := strings.Cut(s[:at], ":")
		if !ok || m == "" || p == "" {
			return proxycore.Outbound{}, newParseError("ss", "missing cipher:password", nil)
		}
		method, password, hostPort = m, p, s[at+1:]
	}

	host, port, err := parseHostPort(hostPort)
	if err != nil {
		return proxycore.Outbound{}, newParseError("ss", "invalid server address", err)
	}
	return proxycore.Outbound{
		Protocol: "shadowsocks",
		Settings: &proxycore.OutboundSettings{Servers: []proxycore.Server{{
			Address: host, Port: port, Method: method, Password: password,
		}}},
	}, nil
}

// decodeMethodPassword handles base64 userinfo and the plain
// method:password form some 2022-cipher links use.
func decodeMethodPassword(userinfo string) (string, string, error) {
	s, err := url.PathUnescape(userinfo)
	if err != nil {
		s = userinfo
	}
	if b, err := decodeB64(userinfo); err == nil && utf8.Valid(b) && strings.Contains(string(b), ":") {
		s = string(b)
	}
	method, password, ok := strings.Cut(s, ":")
	method = strings.TrimSpace(method)
	password = strings.TrimSpace(password)
	if !ok || method == "" || password == "" {
		return "", "", errors.New("empty method or password")
	}
	return method, password, nil
}
