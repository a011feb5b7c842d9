package proxylink

import (
	"encoding/base64"
	"errors"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"
)

// decodeB64 tries standard, URL-safe and unpadded alphabets in turn.
func decodeB64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func removeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// DecodeSubscription turns a subscription body into one link per line. A
// body without any "://" is treated as a base64-encoded list.
func DecodeSubscription(body string) ([]string, error) {
	s := strings.TrimSpace(strings.TrimPrefix(body, "\uFEFF"))
	if s == "" {
		return nil, errors.New("subscription is empty")
	}
	if !strings.Contains(s, "://") {
		b, err := decodeB64(removeWhitespace(s))
		if err != nil {
			return nil, newParseError("subscription", "base64 decode failed", err)
		}
		if !utf8.Valid(b) {
			return nil, newParseError("subscription", "decoded body is not valid utf-8", nil)
		}
		s = string(b)
	}

	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "://") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

func parseHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", 0, errors.New("empty host")
	}
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if p < 1 || p > 65535 {
		return 0, errors.New("port out of range")
	}
	return p, nil
}
