package proxylink

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/pinchtab/veilgate/internal/proxycore"
)

type vmessLink struct {
	PS   string     `json:"ps"`
	Add  string     `json:"add"`
	Port flexString `json:"port"`
	ID   string     `json:"id"`
	Aid  flexString `json:"aid"`
	Scy  string     `json:"scy"`
	Net  string     `json:"net"`
	Type string     `json:"type"`
	Host string     `json:"host"`
	Path string     `json:"path"`
	TLS  string     `json:"tls"`
	SNI  string     `json:"sni"`
	ALPN string     `json:"alpn"`
	FP   string     `json:"fp"`
}

func decodeVmess(link string) (vmessLink, error) {
	body := strings.TrimPrefix(strings.TrimSpace(link), "vmess://")
	body, _, _ = strings.Cut(body, "#")
	raw, err := decodeB64(removeWhitespace(body))
	if err != nil {
		return vmessLink{}, newParseError("vmess", "base64 decode failed", err)
	}
	var v vmessLink
	if err := json.Unmarshal(raw, &v); err != nil {
		return vmessLink{}, newParseError("vmess", "payload is not json", err)
	}
	return v, nil
}

func parseVmess(link string) (proxycore.Outbound, error) {
	v, err := decodeVmess(link)
	if err != nil {
		return proxycore.Outbound{}, err
	}
	if v.Add == "" {
		return proxycore.Outbound{}, newParseError("vmess", "missing server address", nil)
	}
	if v.ID == "" {
		return proxycore.Outbound{}, newParseError("vmess", "missing user id", nil)
	}
	port, err := parsePort(string(v.Port))
	if err != nil {
		return proxycore.Outbound{}, newParseError("vmess", "invalid port", err)
	}
	aid, _ := strconv.Atoi(string(v.Aid))
	scy := v.Scy
	if scy == "" {
		scy = "auto"
	}

	q := url.Values{}
	q.Set("type", v.Net)
	q.Set("security", v.TLS)
	q.Set("sni", v.SNI)
	q.Set("host", v.Host)
	q.Set("path", v.Path)
	q.Set("alpn", v.ALPN)
	q.Set("fp", v.FP)
	q.Set("headerType", v.Type)
	if v.Net == "grpc" {
		q.Set("serviceName", v.Path)
	}

	return proxycore.Outbound{
		Protocol: "vmess",
		Settings: &proxycore.OutboundSettings{Vnext: []proxycore.VnextServer{{
			Address: v.Add,
			Port:    port,
			Users:   []proxycore.VnextUser{{ID: v.ID, AlterID: aid, Security: scy}},
		}}},
		StreamSettings: streamFromQuery(q, v.Add),
	}, nil
}
