package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "http://localhost:9000"
	defaultRevokeURL = "https://accounts.google.com/o/oauth2/revoke"
)

// Backend is the contract the session controller relies on.
type Backend interface {
	UserPackage(ctx context.Context, token string) (models.Entitlement, error)
	Servers(ctx context.Context) (models.Directory, error)
	RequestIP(ctx context.Context, id models.ID) (string, error)
	LoginChrome(ctx context.Context, accessToken string) (*LoginResult, error)
	RevokeIdentity(ctx context.Context, token string) error
}

// LoginResult is returned by POST login/chrome.
type LoginResult struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// BackendOpts configures a [BackendService].
type BackendOpts struct {
	BaseURL    string
	APIKey     string
	RevokeURL  string
	HTTPClient *http.Client
	// RateLimit is requests per second; zero disables pacing.
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

// BackendService makes JSON requests to the backend.
type BackendService struct {
	baseURL    string
	apiKey     string
	revokeURL  string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
}

// NewBackendService creates a backend client, filling defaults for empty options.
func NewBackendService(opts BackendOpts) *BackendService {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.RevokeURL == "" {
		opts.RevokeURL = defaultRevokeURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &BackendService{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		revokeURL:  opts.RevokeURL,
		httpClient: opts.HTTPClient,
		limiter:    limiter,
		timeout:    opts.Timeout,
	}
}

// NewBackendServiceFromConfig builds a [BackendService] from application config.
func NewBackendServiceFromConfig(cfg *shared.Config, client *http.Client) *BackendService {
	return NewBackendService(BackendOpts{
		BaseURL:    cfg.Backend.BaseURL,
		APIKey:     cfg.Backend.APIKey,
		RevokeURL:  cfg.Identity.RevokeURL,
		HTTPClient: client,
		RateLimit:  cfg.Backend.RateLimit,
		Burst:      cfg.Backend.Burst,
		Timeout:    cfg.Backend.Timeout(),
	})
}

// client returns the base client, or one adding the bearer token when token is set.
func (b *BackendService) client(ctx context.Context, token string) *http.Client {
	if token == "" {
		return b.httpClient
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

// envelope is the common response wrapper of the backend.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// doRequest sends a JSON request to path and decodes the body into result.
func (b *BackendService) doRequest(ctx context.Context, method, path, token string, body, result any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrTimeout, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("x-api-key", b.apiKey)
	}

	resp, err := b.client(ctx, token).Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s", shared.ErrTimeout, method, path)
		}
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", shared.ErrNotAuthenticated, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Message != "" {
			return fmt.Errorf("%w (status %d): %s", shared.ErrAPIRequest, resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("%w: status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// UserPackage fetches the entitlement for the session token. An absent
// package is not an error; callers check [models.Entitlement.Present].
func (b *BackendService) UserPackage(ctx context.Context, token string) (models.Entitlement, error) {
	if token == "" {
		return nil, shared.ErrNotAuthenticated
	}
	if err := CheckToken(token, time.Now()); err != nil {
		return nil, err
	}

	var res struct {
		UserPackage models.Entitlement `json:"userPackage"`
	}
	if err := b.doRequest(ctx, http.MethodGet, "user-package", token, nil, &res); err != nil {
		return nil, err
	}
	return res.UserPackage, nil
}

// Servers fetches the premium directory. success=false yields an empty directory.
func (b *BackendService) Servers(ctx context.Context) (models.Directory, error) {
	var env envelope
	if err := b.doRequest(ctx, http.MethodGet, "server", "", nil, &env); err != nil {
		return nil, err
	}
	if !env.Success || len(env.Data) == 0 {
		return models.Directory{}, nil
	}

	var data struct {
		Premium models.Directory `json:"premium"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode directory: %w", err)
	}
	if data.Premium == nil {
		return models.Directory{}, nil
	}
	return data.Premium, nil
}

// RequestIP asks for the live endpoint host of location id.
func (b *BackendService) RequestIP(ctx context.Context, id models.ID) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: location id", shared.ErrMissingArgument)
	}

	var env envelope
	path := "request/ip?id=" + url.QueryEscape(string(id))
	if err := b.doRequest(ctx, http.MethodGet, path, "", nil, &env); err != nil {
		return "", err
	}
	if !env.Success {
		return "", fmt.Errorf("%w: %s", shared.ErrNoAddress, env.Message)
	}

	var data struct {
		ServerURL string `json:"serverUrl"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", fmt.Errorf("failed to decode address: %w", err)
		}
	}
	host := strings.TrimSpace(data.ServerURL)
	if host == "" {
		return "", shared.ErrNoAddress
	}
	return host, nil
}

// LoginChrome exchanges an identity provider access token for a backend session.
func (b *BackendService) LoginChrome(ctx context.Context, accessToken string) (*LoginResult, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: access token", shared.ErrMissingArgument)
	}

	body := map[string]string{"provider": "google", "accessToken": accessToken}
	var res LoginResult
	if err := b.doRequest(ctx, http.MethodPost, "login/chrome", "", body, &res); err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, fmt.Errorf("%w: login returned no token", shared.ErrAPIRequest)
	}
	return &res, nil
}

// RevokeIdentity revokes the identity provider token.
func (b *BackendService) RevokeIdentity(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.revokeURL+"?token="+url.QueryEscape(token), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrRevokeFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// An already invalid token comes back as 400, which leaves nothing to revoke.
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", shared.ErrRevokeFailed, resp.StatusCode)
	}
	return nil
}
