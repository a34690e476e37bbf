package services

import (
	"context"
	"fmt"

	"github.com/desertthunder/evpn/internal/shared"
	"golang.org/x/oauth2"
)

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
)

// IdentityProvider runs the OAuth2 authorization code flow that yields the
// access token exchanged at login/chrome.
type IdentityProvider struct {
	config *oauth2.Config
}

// NewIdentityProvider builds a provider from the [identity] config section.
func NewIdentityProvider(cfg shared.IdentityConfig) (*IdentityProvider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: identity client_id", shared.ErrMissingConfig)
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("%w: identity redirect_url", shared.ErrMissingConfig)
	}

	authURL, tokenURL := cfg.AuthURL, cfg.TokenURL
	if authURL == "" {
		authURL = googleAuthURL
	}
	if tokenURL == "" {
		tokenURL = googleTokenURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	return &IdentityProvider{config: &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
	}}, nil
}

// OAuthConfig returns the underlying client configuration.
func (p *IdentityProvider) OAuthConfig() *oauth2.Config { return p.config }

// AuthURL returns the consent page URL for state.
func (p *IdentityProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for tokens.
func (p *IdentityProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange failed: %v", shared.ErrNotAuthenticated, err)
	}
	return token, nil
}
