package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/desertthunder/evpn/internal/server"
	"github.com/desertthunder/evpn/internal/services"
	"github.com/desertthunder/evpn/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// oauthTimeout bounds the wait for the browser callback.
const oauthTimeout = 2 * time.Minute

// Login exchanges an identity token for a backend session and validates the subscription.
//
// Without --access-token, runs the OAuth2 flow with a local callback server.
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	accessToken := cmd.String("access-token")
	if accessToken == "" {
		provider, err := services.NewIdentityProvider(r.config.Identity)
		if err != nil {
			return err
		}
		token, err := r.doOAuth(ctx, provider)
		if err != nil {
			return err
		}
		accessToken = token.AccessToken
	}

	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	if err := orch.Login(ctx, accessToken); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	st := orch.Snapshot().Status()
	r.writePlain("✓ Logged in as %s\n", st.User)
	if st.Entitled {
		r.writePlain("✓ Subscription: %s\n", st.Plan)
		r.writePlain("✓ %d locations available\n", st.Locations)
	} else {
		r.writePlain("⚠ No active subscription; smart location only\n")
	}
	return nil
}

// Logout disconnects, revokes the identity token and clears local state.
func (r *Runner) Logout(ctx context.Context, cmd *cli.Command) error {
	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	if err := orch.Logout(ctx); err != nil {
		if reportFailure(r, err) {
			r.writePlain("Local state was cleared. Run 'evpn retry' to revoke the token again.\n")
			return nil
		}
		return err
	}
	return r.writePlain("✓ Logged out\n")
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server
func (r *Runner) doOAuth(ctx context.Context, provider *services.IdentityProvider) (*oauth2.Token, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	cfg := provider.OAuthConfig()
	addr, path, err := callbackAddr(cfg.RedirectURL)
	if err != nil {
		return nil, err
	}

	oauthHandler := server.NewOAuthHandler(provider, state, path)
	router := server.NewBasicRouter()
	router.Handler(oauthHandler)
	httpServer := server.NewHTTPServer(addr, router)

	serverCtx, stop := context.WithCancel(ctx)
	defer stop()
	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth server at %v", addr)
		serverErrors <- server.Serve(serverCtx, httpServer, r.logger)
	}()

	authURL := provider.AuthURL(state)
	r.writePlain("→ Opening browser for sign-in...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(oauthTimeout)
	defer timeout.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		if err == nil {
			err = errors.New("server stopped")
		}
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after 2 minutes", shared.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	stop()
	if err := <-serverErrors; err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if result.Err != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Err)
	}
	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrNotAuthenticated)
	}
	return result.Token, nil
}

// callbackAddr splits the redirect URL into the local listen address and callback path.
func callbackAddr(redirectURL string) (addr, path string, err error) {
	u, err := url.Parse(redirectURL)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("%w: redirect_url %q", shared.ErrInvalidConfig, redirectURL)
	}
	if u.Port() == "" {
		return "", "", fmt.Errorf("%w: redirect_url %q needs a port", shared.ErrInvalidConfig, redirectURL)
	}
	return u.Host, u.Path, nil
}
