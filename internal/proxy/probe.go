package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/Jigsaw-Code/outline-sdk/x/configurl"
	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/shared"
)

// DefaultProbeURL answers with the caller's public address as JSON.
const DefaultProbeURL = "https://api64.ipify.org?format=json"

// Prober checks that traffic flows through a configuration.
type Prober interface {
	Probe(ctx context.Context, cfg models.ProxyConfiguration) error
}

// ProbeResult is the body returned by the probe URL.
type ProbeResult struct {
	IP string `json:"ip"`
}

// HTTPProber fetches a JSON document through the proxy.
//
// The connection to the proxy itself is made with a stream dialer built from an
// outline-sdk transport config, so the probe can reach the proxy over the same
// transport the rest of the client would use. An empty config dials directly.
type HTTPProber struct {
	url     string
	timeout time.Duration
	dialer  transport.StreamDialer
}

// NewHTTPProber builds a prober for url using the given transport config.
func NewHTTPProber(url string, timeout time.Duration, transportConfig string) (*HTTPProber, error) {
	if url == "" {
		url = DefaultProbeURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer, err := configurl.NewDefaultConfigToDialer().NewStreamDialer(transportConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create probe dialer: %v", shared.ErrInvalidConfig, err)
	}
	return &HTTPProber{url: url, timeout: timeout, dialer: dialer}, nil
}

// NewHTTPProberFromConfig builds a prober from the [proxy] config section.
func NewHTTPProberFromConfig(cfg shared.ProxyConfig) (*HTTPProber, error) {
	return NewHTTPProber(cfg.ProbeURL, cfg.ProbeTimeout(), cfg.ProbeTransport)
}

func (p *HTTPProber) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("protocol not supported: %v", network)
	}
	return p.dialer.DialStream(ctx, addr)
}

func (p *HTTPProber) client(cfg models.ProxyConfiguration) *http.Client {
	tr := &http.Transport{
		DialContext:         p.dialContext,
		TLSHandshakeTimeout: p.timeout,
		DisableKeepAlives:   true,
	}
	if u := cfg.URL(); u != nil {
		tr.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Transport: tr, Timeout: p.timeout}
}

// Probe performs one GET through cfg and requires a decodable JSON body.
func (p *HTTPProber) Probe(ctx context.Context, cfg models.ProxyConfiguration) error {
	_, err := p.Check(ctx, cfg)
	return err
}

// Check is Probe returning the reported address.
func (p *HTTPProber) Check(ctx context.Context, cfg models.ProxyConfiguration) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := p.client(cfg).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrProbeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", shared.ErrProbeFailed, resp.StatusCode)
	}

	var res ProbeResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: invalid probe response: %v", shared.ErrProbeFailed, err)
	}
	return &res, nil
}
