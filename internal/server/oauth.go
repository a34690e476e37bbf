package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// Exchanger trades an authorization code for tokens.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// OAuthResult is the outcome of one authorization attempt.
type OAuthResult struct {
	Token *oauth2.Token
	Err   error
}

// OAuthHandler serves the redirect of the identity provider's authorization
// code flow. Only the first callback is processed.
type OAuthHandler struct {
	exchanger Exchanger
	state     string
	path      string
	results   chan OAuthResult

	once sync.Once
	mu   sync.Mutex
	hit  bool
}

// NewOAuthHandler creates a callback handler on path for the given state token.
func NewOAuthHandler(exchanger Exchanger, state, path string) *OAuthHandler {
	if path == "" {
		path = "/callback"
	}
	return &OAuthHandler{
		exchanger: exchanger,
		state:     state,
		path:      path,
		results:   make(chan OAuthResult, 1),
	}
}

// Routes returns the callback path.
func (h *OAuthHandler) Routes() []string {
	return []string{h.path}
}

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html>
<head><title>evpn</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; display: flex;
       align-items: center; justify-content: center; height: 100vh; margin: 0; background: #111827; }
.card { text-align: center; background: #1F2937; color: #E5E7EB; padding: 2rem; border-radius: 8px; }
h1 { margin: 0 0 1rem 0; color: {{if .OK}}#34D399{{else}}#EF4444{{end}}; }
</style>
</head>
<body><div class="card"><h1>{{.Title}}</h1><p>{{.Detail}}</p></div></body>
</html>
`))

func renderResult(w http.ResponseWriter, status int, ok bool, title, detail string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	resultPage.Execute(w, struct {
		OK            bool
		Title, Detail string
	}{ok, title, detail})
}

// ServeHTTP validates the state, exchanges the code and delivers the result.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.hit {
		h.mu.Unlock()
		renderResult(w, http.StatusBadRequest, false, "Already signed in", "This callback was already processed.")
		return
	}
	h.hit = true
	h.mu.Unlock()

	q := r.URL.Query()
	if q.Get("state") != h.state {
		h.Send(OAuthResult{Err: fmt.Errorf("invalid state parameter")})
		renderResult(w, http.StatusBadRequest, false, "Sign-in failed", "Invalid state parameter.")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.Send(OAuthResult{Err: fmt.Errorf("authorization failed: %s - %s", q.Get("error"), q.Get("error_description"))})
		renderResult(w, http.StatusBadRequest, false, "Sign-in failed", "Authorization was not granted.")
		return
	}

	token, err := h.exchanger.Exchange(r.Context(), code)
	if err != nil {
		h.Send(OAuthResult{Err: err})
		renderResult(w, http.StatusInternalServerError, false, "Sign-in failed", "Token exchange failed.")
		return
	}

	h.Send(OAuthResult{Token: token})
	renderResult(w, http.StatusOK, true, "Signed in", "You can close this window and return to the terminal.")
}

// Send delivers result once; later calls are dropped.
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.results <- result
		close(h.results)
	})
}

// Result receives exactly one result and is then closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}
