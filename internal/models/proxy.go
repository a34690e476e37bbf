package models

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ProxyMode selects between a fixed upstream proxy and direct connections.
type ProxyMode string

const (
	ModeFixed  ProxyMode = "fixed_servers"
	ModeDirect ProxyMode = "direct"
)

// Credentials authenticate against a proxy endpoint.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// IsZero reports whether no credentials are set.
func (c Credentials) IsZero() bool { return c.Username == "" && c.Password == "" }

// ProxyConfiguration is the single system-wide proxy setting.
type ProxyConfiguration struct {
	Mode        ProxyMode
	Scheme      string
	Host        string
	Port        int
	BypassList  []string
	Credentials Credentials
}

// FixedProxy builds a fixed-mode configuration.
func FixedProxy(scheme, host string, port int, bypass []string, creds Credentials) ProxyConfiguration {
	return ProxyConfiguration{
		Mode:        ModeFixed,
		Scheme:      scheme,
		Host:        host,
		Port:        port,
		BypassList:  append([]string(nil), bypass...),
		Credentials: creds,
	}
}

// DirectProxy builds the neutral direct-mode configuration.
func DirectProxy() ProxyConfiguration {
	return ProxyConfiguration{Mode: ModeDirect}
}

// Addr returns host:port of a fixed configuration.
func (p ProxyConfiguration) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL returns the proxy URL including credentials, or nil for direct mode.
func (p ProxyConfiguration) URL() *url.URL {
	if p.Mode != ModeFixed {
		return nil
	}
	u := &url.URL{Scheme: p.Scheme, Host: p.Addr()}
	if !p.Credentials.IsZero() {
		u.User = url.UserPassword(p.Credentials.Username, p.Credentials.Password)
	}
	return u
}

// Validate rejects fixed configurations without an endpoint.
func (p ProxyConfiguration) Validate() error {
	switch p.Mode {
	case ModeDirect:
		return nil
	case ModeFixed:
		if p.Host == "" || p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("invalid proxy endpoint %q", p.Addr())
		}
		return nil
	}
	return fmt.Errorf("unknown proxy mode %q", p.Mode)
}

type singleProxy struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

type proxyRules struct {
	SingleProxy singleProxy `json:"singleProxy"`
	BypassList  []string    `json:"bypassList"`
}

// proxySettings is the document shape understood by browser proxy settings.
type proxySettings struct {
	Mode  ProxyMode   `json:"mode"`
	Rules *proxyRules `json:"rules,omitempty"`
}

// MarshalJSON writes {mode, rules:{singleProxy:{scheme,host,port}, bypassList}}.
// Credentials are answered on auth challenge and never serialized.
func (p ProxyConfiguration) MarshalJSON() ([]byte, error) {
	doc := proxySettings{Mode: p.Mode}
	if p.Mode == ModeFixed {
		bypass := p.BypassList
		if bypass == nil {
			bypass = []string{}
		}
		doc.Rules = &proxyRules{
			SingleProxy: singleProxy{Scheme: p.Scheme, Host: p.Host, Port: p.Port},
			BypassList:  bypass,
		}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads the document written by MarshalJSON.
func (p *ProxyConfiguration) UnmarshalJSON(data []byte) error {
	var doc proxySettings
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*p = ProxyConfiguration{Mode: doc.Mode}
	if doc.Rules != nil {
		p.Scheme = doc.Rules.SingleProxy.Scheme
		p.Host = doc.Rules.SingleProxy.Host
		p.Port = doc.Rules.SingleProxy.Port
		p.BypassList = doc.Rules.BypassList
	}
	return nil
}
