package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/session"
	"github.com/desertthunder/evpn/internal/shared"
	tu "github.com/desertthunder/evpn/internal/testing"
	"golang.org/x/oauth2"
)

type fakeController struct {
	mu       sync.Mutex
	snap     session.SessionState
	err      error
	retried  bool
	calls    []string
	selected *models.Location
	smart    bool
	events   chan session.Event
}

func (f *fakeController) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeController) Snapshot() session.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Toggle(context.Context) error { return f.record("toggle") }

func (f *fakeController) Connect(_ context.Context, target *models.Location) error {
	f.selected = target
	return f.record("connect")
}

func (f *fakeController) Disconnect(context.Context) error { return f.record("disconnect") }

func (f *fakeController) SelectLocation(_ context.Context, loc *models.Location) error {
	f.smart = loc == nil
	return f.record("select")
}

func (f *fakeController) SelectLocationByID(_ context.Context, id models.ID) error {
	loc, ok := f.snap.Directory.Find(id)
	if !ok {
		return shared.ErrLocationNotFound
	}
	f.selected = &loc
	return f.record("select-id")
}

func (f *fakeController) RefreshDirectory(context.Context) error { return f.record("refresh") }

func (f *fakeController) Retry(context.Context) (bool, error) {
	return f.retried, f.record("retry")
}

func (f *fakeController) Events(int) (<-chan session.Event, func()) {
	return f.events, func() {}
}

type fakeHistory struct{ events []models.Event }

func (f *fakeHistory) List(_ context.Context, limit int) ([]models.Event, error) {
	if limit > 0 && limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func directory() models.Directory {
	return models.Directory{
		{CountryName: "Canada", Locations: []models.LocationEntry{{ID: "1", Name: "Toronto", IsDefault: true}}},
	}
}

func newTestRouter(ctrl Controller, history HistoryLister) http.Handler {
	return NewRouter(ctrl, history, shared.NewLogger(&tu.FWriter{}))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBasicRouter(t *testing.T) {
	t.Run("Method Filtering", func(t *testing.T) {
		router := NewBasicRouter()
		router.HandleFunc(http.MethodGet, "/thing", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("get")) })
		router.HandleFunc(http.MethodPost, "/thing", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("post")) })

		if rec := do(t, router, http.MethodGet, "/thing", ""); rec.Body.String() != "get" {
			t.Errorf("expected get handler, got %q", rec.Body.String())
		}
		if rec := do(t, router, http.MethodPost, "/thing", ""); rec.Body.String() != "post" {
			t.Errorf("expected post handler, got %q", rec.Body.String())
		}

		rec := do(t, router, http.MethodDelete, "/thing", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
		if allow := rec.Header().Get("Allow"); allow != "GET, POST" {
			t.Errorf("unexpected Allow header %q", allow)
		}
	})

	t.Run("Middleware Order", func(t *testing.T) {
		var order []string
		mw := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}
		router := NewBasicRouter()
		router.Use(mw("first"), mw("second"))
		router.HandleFunc(http.MethodGet, "/", func(w http.ResponseWriter, r *http.Request) {})

		do(t, router, http.MethodGet, "/", "")
		if strings.Join(order, ",") != "first,second" {
			t.Errorf("unexpected middleware order %v", order)
		}
	})

	t.Run("Logging And Recover", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := shared.NewLogger(buf)
		router := NewBasicRouter()
		router.Use(Logging(logger), Recover(logger))
		router.HandleFunc(http.MethodGet, "/boom", func(w http.ResponseWriter, r *http.Request) { panic("boom") })

		rec := do(t, router, http.MethodGet, "/boom", "")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if !strings.Contains(buf.String(), "handler panic") || !strings.Contains(buf.String(), "status=500") {
			t.Errorf("expected panic and request log lines, got %q", buf.String())
		}
	})
}

func TestControlHandler(t *testing.T) {
	t.Run("Status", func(t *testing.T) {
		ctrl := &fakeController{snap: session.SessionState{
			State:       session.Connected,
			Badge:       models.BadgeFor(true, "Canada"),
			Entitlement: models.Entitlement(`{"name":"Premium"}`),
			Directory:   directory(),
			Credentials: models.Credentials{Username: "user", Password: "secret"},
		}}
		rec := do(t, newTestRouter(ctrl, nil), http.MethodGet, "/status", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var st session.Status
		if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
			t.Fatalf("invalid status body: %v", err)
		}
		if !st.Connected || st.Badge.Text != "CA" || !st.Entitled || st.Plan != "Premium" || st.Locations != 1 || !st.Smart {
			t.Errorf("unexpected status %+v", st)
		}
		if strings.Contains(rec.Body.String(), "secret") {
			t.Error("credentials must not be exposed")
		}
	})

	t.Run("Toggle", func(t *testing.T) {
		ctrl := &fakeController{}
		rec := do(t, newTestRouter(ctrl, nil), http.MethodPost, "/toggle", "")
		if rec.Code != http.StatusOK || len(ctrl.calls) != 1 || ctrl.calls[0] != "toggle" {
			t.Errorf("unexpected toggle result %d %v", rec.Code, ctrl.calls)
		}
	})

	t.Run("Failure Answers 502", func(t *testing.T) {
		ctrl := &fakeController{err: &session.Failure{
			Kind: session.ProxyApplyFailed,
			Op:   session.Operation{Kind: session.OpConnect},
			Err:  shared.ErrProbeFailed,
		}}
		rec := do(t, newTestRouter(ctrl, nil), http.MethodPost, "/toggle", "")
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rec.Code)
		}
		var body errorBody
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Kind != "ProxyApplyFailed" || body.Source != "connect" || body.Message == "" {
			t.Errorf("unexpected error body %+v", body)
		}
	})

	t.Run("Error Statuses", func(t *testing.T) {
		tests := []struct {
			err  error
			want int
		}{
			{shared.ErrBusy, http.StatusConflict},
			{shared.ErrConnected, http.StatusConflict},
			{shared.ErrNotEntitled, http.StatusForbidden},
			{shared.ErrLocationNotFound, http.StatusNotFound},
			{errors.New("disk full"), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		}
	})

	t.Run("Connect To Location", func(t *testing.T) {
		ctrl := &fakeController{snap: session.SessionState{Directory: directory()}}
		router := newTestRouter(ctrl, nil)

		rec := do(t, router, http.MethodPost, "/connect", `{"id":"1"}`)
		if rec.Code != http.StatusOK || ctrl.selected == nil || ctrl.selected.LocationName != "Toronto" {
			t.Errorf("unexpected connect result %d %+v", rec.Code, ctrl.selected)
		}

		if rec := do(t, router, http.MethodPost, "/connect", `{"id":"9"}`); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 for unknown id, got %d", rec.Code)
		}
		if rec := do(t, router, http.MethodPost, "/connect", `{`); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad body, got %d", rec.Code)
		}
	})

	t.Run("Select Location", func(t *testing.T) {
		ctrl := &fakeController{snap: session.SessionState{Directory: directory()}}
		router := newTestRouter(ctrl, nil)

		if rec := do(t, router, http.MethodPost, "/locations/select", `{"smart":true}`); rec.Code != http.StatusOK || !ctrl.smart {
			t.Errorf("expected smart selection, got %d", rec.Code)
		}
		if rec := do(t, router, http.MethodPost, "/locations/select", `{"id":"1"}`); rec.Code != http.StatusOK || ctrl.selected == nil {
			t.Errorf("expected explicit selection, got %d", rec.Code)
		}
		if rec := do(t, router, http.MethodPost, "/locations/select", `{}`); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without id, got %d", rec.Code)
		}
	})

	t.Run("Locations", func(t *testing.T) {
		router := newTestRouter(&fakeController{}, nil)
		rec := do(t, router, http.MethodGet, "/locations", "")
		if strings.TrimSpace(rec.Body.String()) != "[]" {
			t.Errorf("expected empty list, got %q", rec.Body.String())
		}

		rec = do(t, newTestRouter(&fakeController{snap: session.SessionState{Directory: directory()}}, nil), http.MethodPost, "/locations/refresh", "")
		var dir models.Directory
		if err := json.Unmarshal(rec.Body.Bytes(), &dir); err != nil || dir.Len() != 1 {
			t.Errorf("unexpected refresh body %q", rec.Body.String())
		}
	})

	t.Run("Retry", func(t *testing.T) {
		ctrl := &fakeController{retried: true}
		rec := do(t, newTestRouter(ctrl, nil), http.MethodPost, "/retry", "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"retried":true`) {
			t.Errorf("unexpected retry response %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("History", func(t *testing.T) {
		history := &fakeHistory{events: []models.Event{{ID: "a", Kind: "connection"}, {ID: "b", Kind: "error"}}}
		router := newTestRouter(&fakeController{}, history)

		rec := do(t, router, http.MethodGet, "/history?limit=1", "")
		var events []models.Event
		if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil || len(events) != 1 {
			t.Errorf("unexpected history %q", rec.Body.String())
		}
		if rec := do(t, router, http.MethodGet, "/history?limit=x", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad limit, got %d", rec.Code)
		}
	})

	t.Run("Events Stream", func(t *testing.T) {
		ctrl := &fakeController{events: make(chan session.Event, 1)}
		server := httptest.NewServer(newTestRouter(ctrl, nil))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("failed to open stream: %v", err)
		}
		defer resp.Body.Close()

		if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("unexpected content type %q", ct)
		}

		ctrl.events <- session.Event{Kind: session.EventConnection, Connected: true}

		scanner := bufio.NewScanner(resp.Body)
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
			if strings.HasPrefix(scanner.Text(), "data: ") && strings.Contains(scanner.Text(), `"kind":"connection"`) {
				break
			}
		}
		joined := strings.Join(lines, "\n")
		if !strings.Contains(joined, "event: status") || !strings.Contains(joined, "event: connection") {
			t.Errorf("unexpected stream %q", joined)
		}
	})
}

type fakeExchanger struct {
	token *oauth2.Token
	err   error
}

func (f *fakeExchanger) Exchange(context.Context, string) (*oauth2.Token, error) {
	return f.token, f.err
}

func TestOAuthHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{token: &oauth2.Token{AccessToken: "google-token"}}, "state-1", "")
		router := NewBasicRouter()
		router.Handler(h)

		rec := do(t, router, http.MethodGet, "/callback?state=state-1&code=abc", "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Signed in") {
			t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
		}
		res := <-h.Result()
		if res.Err != nil || res.Token.AccessToken != "google-token" {
			t.Errorf("unexpected result %+v", res)
		}

		if rec := do(t, router, http.MethodGet, "/callback?state=state-1&code=abc", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("expected replay to be rejected, got %d", rec.Code)
		}
	})

	t.Run("Bad State", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{}, "state-1", "/cb")
		rec := do(t, h, http.MethodGet, "/cb?state=other&code=abc", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if res := <-h.Result(); res.Err == nil {
			t.Error("expected state error")
		}
	})

	t.Run("Denied", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{}, "s", "")
		do(t, h, http.MethodGet, "/callback?state=s&error=access_denied", "")
		if res := <-h.Result(); res.Err == nil || !strings.Contains(res.Err.Error(), "access_denied") {
			t.Errorf("expected denial error, got %v", res.Err)
		}
	})

	t.Run("Exchange Failure", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{err: shared.ErrNotAuthenticated}, "s", "")
		rec := do(t, h, http.MethodGet, "/callback?state=s&code=abc", "")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if res := <-h.Result(); !errors.Is(res.Err, shared.ErrNotAuthenticated) {
			t.Errorf("unexpected result %v", res.Err)
		}
	})
}
