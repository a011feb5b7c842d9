// Package proxycore assembles and runs proxy-core (Xray) configurations.
//
// A session config always has one loopback SOCKS inbound and the outbounds
// in a fixed order: the primary upstream, a freedom "direct" outbound, then
// the optional pre-proxy the primary is chained through.
package proxycore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	TagMain   = "proxy_main"
	TagDirect = "direct"
	TagPre    = "proxy_pre"
	TagProbe  = "proxy_test"
)

type Config struct {
	Log       Log        `json:"log"`
	Inbounds  []Inbound  `json:"inbounds"`
	Outbounds []Outbound `json:"outbounds"`
	Routing   Routing    `json:"routing"`
}

type Log struct {
	LogLevel string `json:"loglevel"`
}

type Inbound struct {
	Tag      string          `json:"tag,omitempty"`
	Port     int             `json:"port"`
	Listen   string          `json:"listen"`
	Protocol string          `json:"protocol"`
	Settings InboundSettings `json:"settings"`
}

type InboundSettings struct {
	UDP bool `json:"udp"`
}

type Outbound struct {
	Tag            string            `json:"tag,omitempty"`
	Protocol       string            `json:"protocol"`
	Settings       *OutboundSettings `json:"settings,omitempty"`
	StreamSettings *StreamSettings   `json:"streamSettings,omitempty"`
	ProxySettings  *ProxySettings    `json:"proxySettings,omitempty"`
}

type OutboundSettings struct {
	Vnext   []VnextServer `json:"vnext,omitempty"`
	Servers []Server      `json:"servers,omitempty"`
}

type VnextServer struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Users   []VnextUser `json:"users"`
}

type VnextUser struct {
	ID         string `json:"id"`
	AlterID    int    `json:"alterId,omitempty"`
	Security   string `json:"security,omitempty"`
	Encryption string `json:"encryption,omitempty"`
	Flow       string `json:"flow,omitempty"`
}

type Server struct {
	Address  string      `json:"address"`
	Port     int         `json:"port"`
	Password string      `json:"password,omitempty"`
	Method   string      `json:"method,omitempty"`
	Users    []SocksUser `json:"users,omitempty"`
}

type SocksUser struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

type StreamSettings struct {
	Network         string           `json:"network,omitempty"`
	Security        string           `json:"security,omitempty"`
	TLSSettings     *TLSSettings     `json:"tlsSettings,omitempty"`
	RealitySettings *RealitySettings `json:"realitySettings,omitempty"`
	WSSettings      *WSSettings      `json:"wsSettings,omitempty"`
	GRPCSettings    *GRPCSettings    `json:"grpcSettings,omitempty"`
	TCPSettings     *TCPSettings     `json:"tcpSettings,omitempty"`
}

type TLSSettings struct {
	ServerName    string   `json:"serverName,omitempty"`
	AllowInsecure bool     `json:"allowInsecure,omitempty"`
	Fingerprint   string   `json:"fingerprint,omitempty"`
	ALPN          []string `json:"alpn,omitempty"`
}

type RealitySettings struct {
	ServerName  string `json:"serverName,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	PublicKey   string `json:"publicKey"`
	ShortID     string `json:"shortId,omitempty"`
	SpiderX     string `json:"spiderX,omitempty"`
}

type WSSettings struct {
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type GRPCSettings struct {
	ServiceName string `json:"serviceName,omitempty"`
}

type TCPSettings struct {
	Header *TCPHeader `json:"header,omitempty"`
}

type TCPHeader struct {
	Type string `json:"type"`
}

type ProxySettings struct {
	Tag string `json:"tag"`
}

type Routing struct {
	DomainStrategy string `json:"domainStrategy,omitempty"`
	Rules          []Rule `json:"rules"`
}

type Rule struct {
	Type        string `json:"type"`
	OutboundTag string `json:"outboundTag"`
	Port        string `json:"port,omitempty"`
	Network     string `json:"network,omitempty"`
}

// Build returns a session config listening on 127.0.0.1:localPort. primary
// is retagged as TagMain; when pre is non-nil it is retagged TagPre and the
// primary dials through it.
func Build(localPort int, primary Outbound, pre *Outbound) Config {
	primary.Tag = TagMain
	outbounds := []Outbound{primary, {Tag: TagDirect, Protocol: "freedom"}}
	if pre != nil {
		p := *pre
		p.Tag = TagPre
		p.ProxySettings = nil
		outbounds[0].ProxySettings = &ProxySettings{Tag: TagPre}
		outbounds = append(outbounds, p)
	}
	return Config{
		Log: Log{LogLevel: "warning"},
		Inbounds: []Inbound{{
			Tag:      "socks_in",
			Port:     localPort,
			Listen:   "127.0.0.1",
			Protocol: "socks",
			Settings: InboundSettings{UDP: true},
		}},
		Outbounds: outbounds,
		Routing: Routing{
			DomainStrategy: "AsIs",
			Rules:          []Rule{{Type: "field", OutboundTag: TagMain, Network: "tcp,udp"}},
		},
	}
}

// BuildProbe returns the minimal one-outbound config used for latency tests.
func BuildProbe(localPort int, node Outbound) Config {
	node.Tag = TagProbe
	node.ProxySettings = nil
	return Config{
		Log: Log{LogLevel: "none"},
		Inbounds: []Inbound{{
			Port:     localPort,
			Listen:   "127.0.0.1",
			Protocol: "socks",
			Settings: InboundSettings{UDP: true},
		}},
		Outbounds: []Outbound{node, {Tag: TagDirect, Protocol: "freedom"}},
		Routing: Routing{
			Rules: []Rule{{Type: "field", OutboundTag: TagProbe, Port: "0-65535"}},
		},
	}
}

// SocksOutbound dials an upstream SOCKS5 server, optionally authenticated.
func SocksOutbound(host string, port int, user, pass string) Outbound {
	srv := Server{Address: host, Port: port}
	if user != "" {
		srv.Users = []SocksUser{{User: user, Pass: pass}}
	}
	return Outbound{Protocol: "socks", Settings: &OutboundSettings{Servers: []Server{srv}}}
}

func (c Config) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// WriteFile writes the config atomically with owner-only permissions, since
// outbounds embed credentials.
func (c Config) WriteFile(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("marshal proxy-core config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write proxy-core config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write proxy-core config: %w", err)
	}
	return nil
}
