package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/proxy"
	"github.com/desertthunder/evpn/internal/repositories"
	"github.com/desertthunder/evpn/internal/services"
	"github.com/desertthunder/evpn/internal/shared"
	tu "github.com/desertthunder/evpn/internal/testing"
	"golang.org/x/oauth2"
)

type mockBackend struct {
	mu sync.Mutex

	dir     models.Directory
	dirErr  error
	host    string
	ipErr   error
	pkg     models.Entitlement
	pkgErr  error
	login   *services.LoginResult
	revoke  error
	ipIDs   []models.ID
	servers int
	pkgs    int
	revoked []string

	// entered and gate let a test hold RequestIP open.
	entered chan struct{}
	gate    chan struct{}
}

func (m *mockBackend) UserPackage(_ context.Context, token string) (models.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pkgs++
	return m.pkg, m.pkgErr
}

func (m *mockBackend) Servers(context.Context) (models.Directory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers++
	return m.dir.Clone(), m.dirErr
}

func (m *mockBackend) RequestIP(ctx context.Context, id models.ID) (string, error) {
	m.mu.Lock()
	m.ipIDs = append(m.ipIDs, id)
	entered, gate := m.entered, m.gate
	host, err := m.host, m.ipErr
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return host, err
}

func (m *mockBackend) LoginChrome(_ context.Context, accessToken string) (*services.LoginResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.login == nil {
		return nil, shared.ErrNotAuthenticated
	}
	return m.login, nil
}

func (m *mockBackend) RevokeIdentity(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked = append(m.revoked, token)
	return m.revoke
}

func (m *mockBackend) set(fn func(m *mockBackend)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *mockBackend) ipCalls() []models.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ID(nil), m.ipIDs...)
}

// stallProber blocks until its context ends.
type stallProber struct{}

func (stallProber) Probe(ctx context.Context, _ models.ProxyConfiguration) error {
	<-ctx.Done()
	return fmt.Errorf("%w: %v", shared.ErrProbeFailed, ctx.Err())
}

// flakyState fails CommitDisconnected while disconnectErr is set.
type flakyState struct {
	StateStore

	mu            sync.Mutex
	disconnectErr error
}

func (s *flakyState) CommitDisconnected(ctx context.Context, badge models.Badge) error {
	s.mu.Lock()
	err := s.disconnectErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.StateStore.CommitDisconnected(ctx, badge)
}

func (s *flakyState) setDisconnectErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectErr = err
}

func (m *mockBackend) packageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pkgs
}

func canada() models.Directory {
	return models.Directory{
		{CountryName: "Canada", Flag: "ca.png", Locations: []models.LocationEntry{
			{ID: "1", Name: "Toronto", IsDefault: true},
			{ID: "2", Name: "Vancouver"},
		}},
	}
}

func sampleDirectory() models.Directory {
	return append(models.Directory{
		{CountryName: "Iceland", Flag: "is.png", Locations: []models.LocationEntry{}},
	}, append(canada(), models.Country{
		CountryName: "United States", Flag: "us.png", Locations: []models.LocationEntry{{ID: "3", Name: "New York"}},
	})...)
}

var entitled = models.Entitlement(`{"name":"Premium"}`)

type fixture struct {
	o         *Orchestrator
	store     *repositories.Store
	backend   *mockBackend
	facility  *tu.MockFacility
	prober    *tu.MockProber
	indicator *tu.MockIndicator
	history   *repositories.EventRepository
}

func setupTestStore(t *testing.T) *repositories.Store {
	t.Helper()

	db, err := shared.OpenDatabase(context.Background(), shared.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repositories.NewStore(db)
}

func newFixture(t *testing.T, backend *mockBackend) *fixture {
	t.Helper()
	return newFixtureWithStore(t, backend, setupTestStore(t))
}

func newFixtureWithStore(t *testing.T, backend *mockBackend, store *repositories.Store) *fixture {
	t.Helper()
	return newFixtureWith(t, backend, store, store.State, nil)
}

// newFixtureWith wires state in place of the store's state repository and,
// when prober is set, probes with it instead of the fixture's MockProber.
func newFixtureWith(t *testing.T, backend *mockBackend, store *repositories.Store, state StateStore, prober proxy.Prober) *fixture {
	t.Helper()

	f := &fixture{
		store:     store,
		backend:   backend,
		facility:  &tu.MockFacility{},
		prober:    &tu.MockProber{},
		indicator: &tu.MockIndicator{},
		history:   store.Events,
	}
	logger := shared.NewLogger(&tu.FWriter{})
	if prober == nil {
		prober = f.prober
	}
	ctrl := proxy.NewController(proxy.ControllerOpts{Facility: f.facility, Prober: prober, Logger: logger})

	o, err := New(Options{
		State:     state,
		Directory: store.Directory,
		Proxy:     ctrl,
		Backend:   backend,
		Events:    store.Events,
		Indicator: f.indicator,
		Timeout:   time.Second,
		Logger:    logger,
		intn:      func(int) int { return 0 },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.o = o
	return f
}

// seed stores a directory and hydrates the orchestrator from it.
func (f *fixture) seed(t *testing.T, dir models.Directory, ent models.Entitlement) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.Directory.Replace(ctx, dir); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if ent != nil {
		if err := f.store.State.SetEntitlement(ctx, ent); err != nil {
			t.Fatalf("SetEntitlement() error = %v", err)
		}
	}
	if err := f.o.Hydrate(ctx); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
}

func asFailure(t *testing.T, err error) *Failure {
	t.Helper()
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %T: %v", err, err)
	}
	return f
}

func TestResolve(t *testing.T) {
	t.Run("Explicit Selection Wins", func(t *testing.T) {
		sel := &models.Location{ID: "99", LocationName: "Elsewhere", CountryName: "Nowhere"}
		for _, dir := range []models.Directory{nil, {}, sampleDirectory()} {
			if got := Resolve(sel, dir); got != sel {
				t.Errorf("Resolve() = %v, want selection unchanged", got)
			}
		}
	})

	t.Run("Empty Directories Resolve To Nil", func(t *testing.T) {
		dirs := []models.Directory{
			nil,
			{},
			{{CountryName: "Iceland"}, {CountryName: "Norway", Locations: []models.LocationEntry{}}},
		}
		for _, dir := range dirs {
			if got := Resolve(nil, dir); got != nil {
				t.Errorf("Resolve(nil, %v) = %v, want nil", dir, got)
			}
		}
	})

	t.Run("Default Wins Over Random", func(t *testing.T) {
		for range 20 {
			got := Resolve(nil, sampleDirectory())
			if got == nil || got.ID != "1" {
				t.Fatalf("Resolve() = %v, want Toronto", got)
			}
			if got.CountryName != "Canada" || got.Flag != "ca.png" {
				t.Errorf("country fields not carried: %+v", got)
			}
		}
	})

	t.Run("Random Pick Stays Inside The First Country", func(t *testing.T) {
		dir := models.Directory{
			{CountryName: "Germany", Locations: []models.LocationEntry{{ID: "a"}, {ID: "b"}, {ID: "c"}}},
			{CountryName: "France", Locations: []models.LocationEntry{{ID: "d", IsDefault: true}}},
		}
		for range 50 {
			got := Resolve(nil, dir)
			if got == nil || got.CountryName != "Germany" {
				t.Fatalf("Resolve() = %v, want a German location", got)
			}
		}

		got := ResolveWith(nil, dir, func(n int) int { return n - 1 })
		if got.ID != "c" {
			t.Errorf("ResolveWith() = %v, want c", got.ID)
		}
	})

	t.Run("Endpoint ID Fallbacks", func(t *testing.T) {
		dir := models.Directory{
			{CountryName: "Germany", Locations: []models.LocationEntry{{ID: ""}, {ID: "a"}}},
			{CountryName: "France", Locations: []models.LocationEntry{{ID: "d", IsDefault: true}}},
		}
		tests := []struct {
			name     string
			selected *models.Location
			dir      models.Directory
			want     models.ID
		}{
			{"Selected ID", &models.Location{ID: "x"}, dir, "x"},
			{"First Default", &models.Location{}, dir, "d"},
			{"First Entry", nil, models.Directory{{Locations: []models.LocationEntry{{ID: "a"}, {ID: "b"}}}}, "a"},
			{"Nothing", nil, nil, ""},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := EndpointID(tt.selected, tt.dir); got != tt.want {
					t.Errorf("EndpointID() = %q, want %q", got, tt.want)
				}
			})
		}
	})
}

func TestState(t *testing.T) {
	t.Run("Allowed Transitions", func(t *testing.T) {
		allowed := [][2]State{
			{Disconnected, Connecting},
			{Connecting, Connected},
			{Connecting, Disconnected},
			{Connected, Disconnecting},
			{Disconnecting, Disconnected},
		}
		for _, tr := range allowed {
			if err := checkTransition(tr[0], tr[1]); err != nil {
				t.Errorf("%s -> %s: unexpected error %v", tr[0], tr[1], err)
			}
		}
	})

	t.Run("Rejected Transitions", func(t *testing.T) {
		rejected := [][2]State{
			{Disconnected, Connected},
			{Connected, Connecting},
			{Connected, Disconnected},
			{Disconnecting, Connecting},
		}
		for _, tr := range rejected {
			if err := checkTransition(tr[0], tr[1]); !errors.Is(err, shared.ErrInvalidState) {
				t.Errorf("%s -> %s: expected ErrInvalidState, got %v", tr[0], tr[1], err)
			}
		}
	})

	t.Run("Names", func(t *testing.T) {
		if Connecting.String() != "connecting" || State(42).String() != "unknown" {
			t.Error("unexpected state names")
		}
	})
}

func TestOperation(t *testing.T) {
	for _, k := range []OpKind{OpConnect, OpRefreshDirectory, OpValidateEntitlement, OpLogout} {
		if got := ParseOpKind(k.String()); got != k {
			t.Errorf("ParseOpKind(%q) = %v", k.String(), got)
		}
	}
	if ParseOpKind("bogus") != OpNone {
		t.Error("expected unknown source to parse as OpNone")
	}
	if ParseErrorKind(ProxyApplyFailed.String()) != ProxyApplyFailed {
		t.Error("expected error kind to round-trip")
	}

	t.Run("Failure Messages", func(t *testing.T) {
		f := &Failure{Kind: EndpointResolutionFailed, Err: shared.ErrNoEndpoints}
		if f.Message() != "No default location available, please select manually." {
			t.Errorf("unexpected message %q", f.Message())
		}
		f = &Failure{Kind: EndpointResolutionFailed, Err: shared.ErrNoAddress}
		if f.Message() == (&Failure{Kind: EndpointResolutionFailed, Err: shared.ErrNoEndpoints}).Message() {
			t.Error("expected a distinct message for a missing address")
		}
		if !errors.Is(f, shared.ErrNoAddress) {
			t.Error("expected Failure to unwrap")
		}
	})
}

func TestOrchestrator(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty Directory Fails Resolution", func(t *testing.T) {
		f := newFixture(t, &mockBackend{host: "ca-1.example.net"})
		f.seed(t, models.Directory{}, nil)

		err := f.o.Toggle(ctx)
		fail := asFailure(t, err)
		if fail.Kind != EndpointResolutionFailed || !errors.Is(err, shared.ErrNoEndpoints) {
			t.Errorf("unexpected failure %v", fail)
		}
		if f.o.Snapshot().State != Disconnected {
			t.Errorf("expected Disconnected, got %s", f.o.Snapshot().State)
		}
		if calls := f.backend.ipCalls(); len(calls) != 0 {
			t.Errorf("expected no address requests, got %v", calls)
		}
		sel, _ := f.store.State.SelectedLocation(ctx)
		if sel != nil {
			t.Errorf("expected no selection to be written, got %v", sel)
		}
		if on, _ := f.store.State.Connection(ctx); on {
			t.Error("expected connection flag to stay false")
		}
	})

	t.Run("Toggle Connects To The Default Location", func(t *testing.T) {
		f := newFixture(t, &mockBackend{host: "ca-1.example.net"})
		f.seed(t, canada(), nil)

		if err := f.o.Toggle(ctx); err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}

		if calls := f.backend.ipCalls(); len(calls) != 1 || calls[0] != "1" {
			t.Errorf("expected address request for location 1, got %v", calls)
		}

		snap := f.o.Snapshot()
		if !snap.Connected() {
			t.Fatalf("expected Connected, got %s", snap.State)
		}
		if snap.Credentials != proxy.DefaultCredentials {
			t.Errorf("unexpected credentials %+v", snap.Credentials)
		}
		if snap.Badge.Text != "CA" || snap.Badge.Color != models.BadgeColorOn {
			t.Errorf("unexpected badge %+v", snap.Badge)
		}
		if snap.Selected == nil || snap.Selected.LocationName != "Toronto" {
			t.Errorf("expected Toronto to be selected, got %v", snap.Selected)
		}
		if f.indicator.Last().Text != "CA" {
			t.Errorf("expected indicator to show CA, got %+v", f.indicator.Last())
		}

		active := f.facility.Active()
		if active == nil || active.Mode != models.ModeFixed || active.Host != "ca-1.example.net" || active.Port != 443 {
			t.Errorf("unexpected active proxy %+v", active)
		}

		if on, _ := f.store.State.Connection(ctx); !on {
			t.Error("expected connection flag to be persisted")
		}
		ep, _ := f.store.State.Endpoint(ctx)
		if ep == nil || ep.Host != "ca-1.example.net" || ep.LocationID != "1" {
			t.Errorf("unexpected persisted endpoint %+v", ep)
		}
		sel, _ := f.store.State.SelectedLocation(ctx)
		if sel == nil || sel.ID != "1" {
			t.Errorf("expected resolved selection to be persisted, got %v", sel)
		}
	})

	t.Run("Multi Word Country Badge", func(t *testing.T) {
		f := newFixture(t, &mockBackend{host: "us-1.example.net"})
		f.seed(t, models.Directory{
			{CountryName: "United States", Locations: []models.LocationEntry{{ID: "3", Name: "New York"}}},
		}, nil)

		if err := f.o.Toggle(ctx); err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}
		if got := f.o.Snapshot().Badge.Text; got != "US" {
			t.Errorf("expected US badge, got %q", got)
		}
	})

	t.Run("Override Host Uses Its Own Credentials", func(t *testing.T) {
		f := newFixture(t, &mockBackend{host: "ny-1-eeagle.duckdns.org"})
		f.seed(t, canada(), nil)

		if err := f.o.Toggle(ctx); err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}
		creds := f.o.Snapshot().Credentials
		if creds.Username != "myuser" || creds.Password != "mypassword" {
			t.Errorf("unexpected credentials %+v", creds)
		}
		if got := f.facility.Active().Credentials; got != creds {
			t.Errorf("expected proxy to carry derived credentials, got %+v", got)
		}
	})

	t.Run("Toggle While Connected Disconnects Without Backend Calls", func(t *testing.T) {
		f := newFixture(t, &mockBackend{host: "ca-1.example.net"})
		f.seed(t, canada(), nil)
		if err := f.o.Toggle(ctx); err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}
		calls := len(f.backend.ipCalls())

		if err := f.o.Toggle(ctx); err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}

		snap := f.o.Snapshot()
		if snap.State != Disconnected || !snap.Credentials.IsZero() || snap.Endpoint != nil {
			t.Errorf("unexpected state after disconnect %+v", snap)
		}
		if snap.Badge.Text != models.BadgeTextOff {
			t.Errorf("expected off badge, got %+v", snap.Badge)
		}
		if len(f.backend.ipCalls()) != calls {
			t.Error("expected no backend calls on disconnect")
		}
		if f.facility.Active() != nil {
			t.Error("expected proxy to be cleared")
		}
		if on, _ := f.store.State.Connection(ctx); on {
			t.Error("expected connection flag to be false")
		}
		if ep, _ := f.store.State.Endpoint(ctx); ep != nil {
			t.Errorf("expected endpoint to be removed, got %+v", ep)
		}
		if snap.Selected == nil || snap.Selected.ID != "1" {
			t.Error("expected selection to survive disconnect")
		}
	})

	t.Run("Disconnect While Disconnected Is Idempotent", func(t *testing.T) {
		f := newFixture(t, &mockBackend{})
		f.seed(t, canada(), entitled)
		loc, _ := canada().Find("2")
		if err := f.o.SelectLocation(ctx, &loc); err != nil {
			t.Fatalf("SelectLocation() error = %v", err)
		}

		for range 2 {
			if err := f.o.Disconnect(ctx); err != nil {
				t.Fatalf("Disconnect() error = %v", err)
			}
		}
		snap := f.o.Snapshot()
		if snap.State != Disconnected || snap.Selected == nil || snap.Selected.ID != "2" {
			t.Errorf("unexpected state %+v", snap)
		}
		if f.facility.ClearCount() != 2 {
			t.Errorf("expected two clears, got %d", f.facility.ClearCount())
		}
	})

	t.Run("Probe Failure Clears Proxy And Retry Restarts Connect", func(t *testing.T) {
		f := newFixture(t, &mockBackend{host: "ca-1.example.net"})
		f.seed(t, canada(), nil)
		f.prober.SetErr(shared.ErrProbeFailed)

		err := f.o.Toggle(ctx)
		fail := asFailure(t, err)
		if fail.Kind != ProxyApplyFailed || fail.Op.Kind != OpConnect {
			t.Errorf("unexpected failure %v", fail)
		}
		if f.o.Snapshot().State != Disconnected {
			t.Errorf("expected Disconnected, got %s", f.o.Snapshot().State)
		}
		if f.facility.Active() != nil {
			t.Error("expected committed proxy to be cleared after probe failure")
		}
		if on, _ := f.store.State.Connection(ctx); on {
			t.Error("connection flag must not be written after a failed probe")
		}
		rec, _ := f.store.State.LastFailure(ctx)
		if rec == nil || rec.Op != "connect" || rec.Kind != "ProxyApplyFailed" {
			t.Errorf("unexpected failure record %+v", rec)
		}

		f.prober.SetErr(nil)
		retried, err := f.o.Retry(ctx)
		if err != nil || !retried {
			t.Fatalf("Retry() = %v, %v", retried, err)
		}
		if !f.o.Snapshot().Connected() {
			t.Fatalf("expected Connected after retry, got %s", f.o.Snapshot().State)
		}
		if calls := f.backend.ipCalls(); len(calls) != 2 {
			t.Errorf("expected retry to request a new address, got %v", calls)
		}

		applied := f.facility.Applied
		if len(applied) < 3 || applied[len(applied)-2].Mode != models.ModeDirect {
			t.Errorf("expected a direct reset before the retried apply, got %+v", applied)
		}
		if f.o.Snapshot().LastFailure != nil {
			t.Error("expected failure record to be cleared after a successful retry")
		}
		if rec, _ := f.store.State.LastFailure(ctx); rec != nil {
			t.Errorf("expected persisted failure to be cleared, got %+v", rec)
		}
	})

	t.Run("Backend Without Address Fails Resolution", func(t *testing.T) {
		f := newFixture(t, &mockBackend{ipErr: shared.ErrNoAddress})
		f.seed(t, canada(), nil)

		fail := asFailure(t, f.o.Toggle(ctx))
		if fail.Kind != EndpointResolutionFailed || fail.Message() == "" {
			t.Errorf("unexpected failure %v", fail)
		}
		if f.facility.Active() != nil || len(f.facility.Applied) != 0 {
			t.Error("expected no proxy to be applied")
		}
	})

	t.Run("Commit Failure Leaves Nothing Applied", func(t *testing.T) {
		f := newFixture(t, &mockBackend{host: "ca-1.example.net"})
		f.seed(t, canada(), nil)
		f.facility.SetErr = errors.New("permission denied")

		fail := asFailure(t, f.o.Toggle(ctx))
		if fail.Kind != ProxyApplyFailed || !errors.Is(fail, shared.ErrProxyCommit) {
			t.Errorf("unexpected failure %v", fail)
		}
		if f.prober.Calls != 0 {
			t.Error("expected no probe after a failed commit")
		}
	})

	t.Run("Stalled Address Request Times Out", func(t *testing.T) {
		b := &mockBackend{host: "ca-1.example.net", entered: make(chan struct{}, 1), gate: make(chan struct{})}
		f := newFixture(t, b)
		f.seed(t, canada(), nil)

		start := time.Now()
		err := f.o.Toggle(ctx)
		if elapsed := time.Since(start); elapsed > 3*time.Second {
			t.Errorf("expected Toggle to give up after the timeout, took %s", elapsed)
		}

		fail := asFailure(t, err)
		if fail.Kind != EndpointResolutionFailed || !errors.Is(fail, context.DeadlineExceeded) {
			t.Errorf("unexpected failure %v", fail)
		}
		if snap := f.o.Snapshot(); snap.State != Disconnected || snap.Busy {
			t.Errorf("expected idle Disconnected state, got %s busy=%v", snap.State, snap.Busy)
		}
		if len(f.facility.Applied) != 0 {
			t.Error("expected no proxy to be applied")
		}
		rec, _ := f.store.State.LastFailure(ctx)
		if rec == nil || rec.Op != "connect" || rec.Kind != "EndpointResolutionFailed" {
			t.Errorf("unexpected failure record %+v", rec)
		}
	})

	t.Run("Stalled Probe Times Out", func(t *testing.T) {
		store := setupTestStore(t)
		f := newFixtureWith(t, &mockBackend{host: "ca-1.example.net"}, store, store.State, stallProber{})
		f.seed(t, canada(), nil)

		start := time.Now()
		err := f.o.Toggle(ctx)
		if elapsed := time.Since(start); elapsed > 3*time.Second {
			t.Errorf("expected Toggle to give up after the timeout, took %s", elapsed)
		}

		fail := asFailure(t, err)
		if fail.Kind != ProxyApplyFailed || !errors.Is(fail, shared.ErrProbeFailed) {
			t.Errorf("unexpected failure %v", fail)
		}
		if f.o.Snapshot().State != Disconnected {
			t.Errorf("expected Disconnected, got %s", f.o.Snapshot().State)
		}
		if f.facility.Active() != nil {
			t.Error("expected the unverified proxy to be cleared")
		}
		if on, _ := store.State.Connection(ctx); on {
			t.Error("connection flag must not be written after a timed out probe")
		}
		rec, _ := store.State.LastFailure(ctx)
		if rec == nil || rec.Kind != "ProxyApplyFailed" {
			t.Errorf("unexpected failure record %+v", rec)
		}
	})

	t.Run("Unsaved Disconnect Is Retried", func(t *testing.T) {
		store := setupTestStore(t)
		state := &flakyState{StateStore: store.State}
		b := &mockBackend{host: "ca-1.example.net"}
		f := newFixtureWith(t, b, store, state, nil)
		f.seed(t, canada(), nil)
		if err := f.o.Toggle(ctx); err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}

		state.setDisconnectErr(errors.New("disk I/O error"))
		fail := asFailure(t, f.o.Toggle(ctx))
		if fail.Kind != SessionTeardownFailed || fail.Op.Kind != OpDisconnect {
			t.Errorf("unexpected failure %v", fail)
		}
		if fail.Message() != "Disconnect was not saved, try again." {
			t.Errorf("unexpected message %q", fail.Message())
		}
		if f.o.Snapshot().State != Disconnected || f.facility.Active() != nil {
			t.Error("expected the proxy to be cleared and the session disconnected")
		}
		if on, _ := store.State.Connection(ctx); !on {
			t.Fatal("expected the stale connection flag to remain")
		}

		again := newFixtureWithStore(t, b, store)
		if err := again.o.Hydrate(ctx); err != nil {
			t.Fatalf("Hydrate() error = %v", err)
		}
		if snap := again.o.Snapshot(); snap.State != Disconnected || snap.Badge.Text != models.BadgeTextOff {
			t.Errorf("expected a restart to load Disconnected, got %s %s", snap.State, snap.Badge.Text)
		}

		state.setDisconnectErr(nil)
		if retried, err := f.o.Retry(ctx); err != nil || !retried {
			t.Fatalf("Retry() = %v, %v", retried, err)
		}
		if on, _ := store.State.Connection(ctx); on {
			t.Error("expected retry to save the disconnect")
		}
		if rec, _ := store.State.LastFailure(ctx); rec != nil {
			t.Errorf("expected failure record to be cleared, got %+v", rec)
		}
		if f.o.Snapshot().LastFailure != nil {
			t.Error("expected in-memory failure to be cleared")
		}
	})

	t.Run("Rejects Overlapping Toggles", func(t *testing.T) {
		b := &mockBackend{host: "ca-1.example.net", entered: make(chan struct{}), gate: make(chan struct{})}
		f := newFixture(t, b)
		f.seed(t, canada(), nil)

		done := make(chan error, 1)
		go func() { done <- f.o.Toggle(ctx) }()
		<-b.entered

		if err := f.o.Toggle(ctx); !errors.Is(err, shared.ErrBusy) {
			t.Errorf("expected ErrBusy, got %v", err)
		}
		if err := f.o.SelectLocation(ctx, nil); !errors.Is(err, shared.ErrBusy) {
			t.Errorf("expected ErrBusy from SelectLocation, got %v", err)
		}
		snap := f.o.Snapshot()
		if snap.State != Connecting || !snap.Busy {
			t.Errorf("expected busy Connecting snapshot, got %s busy=%v", snap.State, snap.Busy)
		}

		close(b.gate)
		if err := <-done; err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}
		if !f.o.Snapshot().Connected() || f.o.Snapshot().Busy {
			t.Error("expected idle Connected state")
		}
	})

	t.Run("Connect To An Explicit Target", func(t *testing.T) {
		f := newFixture(t, &mockBackend{host: "ca-2.example.net"})
		f.seed(t, canada(), nil)
		target, _ := canada().Find("2")

		if err := f.o.Connect(ctx, &target); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if calls := f.backend.ipCalls(); calls[0] != "2" {
			t.Errorf("expected request for 2, got %v", calls)
		}
		if err := f.o.Connect(ctx, nil); !errors.Is(err, shared.ErrConnected) {
			t.Errorf("expected ErrConnected, got %v", err)
		}
	})
}

func TestSelectLocation(t *testing.T) {
	ctx := context.Background()

	t.Run("Round-Trips Through Hydration", func(t *testing.T) {
		store := setupTestStore(t)
		f := newFixtureWithStore(t, &mockBackend{}, store)
		f.seed(t, canada(), entitled)

		loc, _ := canada().Find("2")
		if err := f.o.SelectLocation(ctx, &loc); err != nil {
			t.Fatalf("SelectLocation() error = %v", err)
		}

		again := newFixtureWithStore(t, &mockBackend{}, store)
		if err := again.o.Hydrate(ctx); err != nil {
			t.Fatalf("Hydrate() error = %v", err)
		}
		got := again.o.Snapshot().Selected
		if got == nil || *got != loc {
			t.Errorf("expected %+v after hydration, got %+v", loc, got)
		}
	})

	t.Run("Smart Selection", func(t *testing.T) {
		f := newFixture(t, &mockBackend{})
		f.seed(t, canada(), nil)

		if err := f.o.SelectLocation(ctx, nil); err != nil {
			t.Fatalf("SelectLocation(nil) error = %v", err)
		}
		if f.o.Snapshot().Selected != nil {
			t.Error("expected smart selection")
		}
		sel, err := f.store.State.SelectedLocation(ctx)
		if err != nil || sel != nil {
			t.Errorf("expected smart selection persisted, got %v, %v", sel, err)
		}
	})

	t.Run("Explicit Selection Needs Entitlement", func(t *testing.T) {
		f := newFixture(t, &mockBackend{})
		f.seed(t, canada(), nil)

		if err := f.o.SelectLocationByID(ctx, "2"); !errors.Is(err, shared.ErrNotEntitled) {
			t.Errorf("expected ErrNotEntitled, got %v", err)
		}
	})

	t.Run("Unknown ID", func(t *testing.T) {
		f := newFixture(t, &mockBackend{})
		f.seed(t, canada(), entitled)

		if err := f.o.SelectLocationByID(ctx, "404"); !errors.Is(err, shared.ErrLocationNotFound) {
			t.Errorf("expected ErrLocationNotFound, got %v", err)
		}
	})

	t.Run("Refused While Connected", func(t *testing.T) {
		f := newFixture(t, &mockBackend{host: "ca-1.example.net"})
		f.seed(t, canada(), entitled)
		if err := f.o.Toggle(ctx); err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}

		if err := f.o.SelectLocationByID(ctx, "2"); !errors.Is(err, shared.ErrConnected) {
			t.Errorf("expected ErrConnected, got %v", err)
		}
		if f.o.Snapshot().Selected.ID != "1" {
			t.Error("selection must not change while connected")
		}
	})
}

func TestDirectoryAndEntitlement(t *testing.T) {
	ctx := context.Background()

	t.Run("Refresh Replaces The Cache", func(t *testing.T) {
		f := newFixture(t, &mockBackend{dir: sampleDirectory()})
		f.seed(t, canada(), nil)

		if err := f.o.RefreshDirectory(ctx); err != nil {
			t.Fatalf("RefreshDirectory() error = %v", err)
		}
		if got := f.o.Snapshot().Directory.Len(); got != 3 {
			t.Errorf("expected 3 locations, got %d", got)
		}
		stored, _ := f.store.Directory.Load(ctx)
		if stored.Len() != 3 {
			t.Errorf("expected stored directory to be replaced, got %d", stored.Len())
		}
	})

	t.Run("Failed Refresh Keeps The Stale Cache", func(t *testing.T) {
		f := newFixture(t, &mockBackend{dirErr: shared.ErrServiceUnavailable})
		f.seed(t, canada(), nil)

		fail := asFailure(t, f.o.RefreshDirectory(ctx))
		if fail.Kind != DirectoryUnavailable || fail.Op.Kind != OpRefreshDirectory {
			t.Errorf("unexpected failure %v", fail)
		}
		if f.o.Snapshot().Directory.Len() != 2 {
			t.Error("expected cached directory to stay in use")
		}

		f.backend.set(func(m *mockBackend) { m.dirErr = nil; m.dir = sampleDirectory() })
		if retried, err := f.o.Retry(ctx); err != nil || !retried {
			t.Fatalf("Retry() = %v, %v", retried, err)
		}
		if f.o.Snapshot().Directory.Len() != 3 {
			t.Error("expected retry to refresh the directory")
		}
	})

	t.Run("Active Entitlement Refreshes The Directory", func(t *testing.T) {
		f := newFixture(t, &mockBackend{pkg: entitled, dir: sampleDirectory()})
		f.seed(t, nil, nil)

		if err := f.o.ValidateEntitlement(ctx); err != nil {
			t.Fatalf("ValidateEntitlement() error = %v", err)
		}
		if !f.o.Snapshot().Entitlement.Present() {
			t.Error("expected entitlement to be stored")
		}
		if f.backend.servers != 1 {
			t.Errorf("expected one directory fetch, got %d", f.backend.servers)
		}
		stored, _ := f.store.State.Entitlement(ctx)
		if !stored.Present() {
			t.Error("expected entitlement to be persisted")
		}
	})

	t.Run("Absent Entitlement", func(t *testing.T) {
		f := newFixture(t, &mockBackend{})
		f.seed(t, canada(), entitled)

		if err := f.o.ValidateEntitlement(ctx); err != nil {
			t.Fatalf("ValidateEntitlement() error = %v", err)
		}
		if f.o.Snapshot().Entitlement.Present() || f.backend.servers != 0 {
			t.Error("expected entitlement to be cleared without a refresh")
		}
	})

	t.Run("Failed Check During Connect Disconnects", func(t *testing.T) {
		b := &mockBackend{host: "ca-1.example.net", entered: make(chan struct{}), gate: make(chan struct{})}
		f := newFixture(t, b)
		f.seed(t, canada(), entitled)

		toggled := make(chan error, 1)
		go func() { toggled <- f.o.Toggle(ctx) }()
		<-b.entered

		b.set(func(m *mockBackend) { m.pkgErr = errors.New("boom") })
		validated := make(chan error, 1)
		go func() { validated <- f.o.ValidateEntitlement(ctx) }()

		deadline := time.Now().Add(2 * time.Second)
		for b.packageCalls() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if f.o.Snapshot().State != Connecting {
			t.Fatalf("expected connect to still be in flight, got %s", f.o.Snapshot().State)
		}
		close(b.gate)

		if err := <-toggled; err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}
		fail := asFailure(t, <-validated)
		if fail.Kind != EntitlementCheckFailed {
			t.Errorf("unexpected failure %v", fail)
		}

		snap := f.o.Snapshot()
		if snap.State != Disconnected || snap.Entitlement.Present() {
			t.Errorf("expected disconnected and unentitled, got %s %s", snap.State, snap.Entitlement)
		}
		if f.facility.Active() != nil {
			t.Error("expected proxy to be torn down once the connect finished")
		}
		if on, _ := f.store.State.Connection(ctx); on {
			t.Error("expected persisted connection to be cleared")
		}
	})

	t.Run("Failed Check Disconnects", func(t *testing.T) {
		f := newFixture(t, &mockBackend{host: "ca-1.example.net"})
		f.seed(t, canada(), entitled)
		if err := f.o.Toggle(ctx); err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}
		f.backend.set(func(m *mockBackend) { m.pkgErr = shared.ErrServiceUnavailable })

		fail := asFailure(t, f.o.ValidateEntitlement(ctx))
		if fail.Kind != EntitlementCheckFailed {
			t.Errorf("unexpected failure %v", fail)
		}
		snap := f.o.Snapshot()
		if snap.State != Disconnected || snap.Entitlement.Present() {
			t.Errorf("expected disconnected and unentitled, got %s %s", snap.State, snap.Entitlement)
		}
		if f.facility.Active() != nil {
			t.Error("expected proxy to be torn down")
		}
		if stored, _ := f.store.State.Entitlement(ctx); stored.Present() {
			t.Error("expected persisted entitlement to be cleared")
		}
	})
}

func TestSession(t *testing.T) {
	ctx := context.Background()

	t.Run("Login Stores The Session", func(t *testing.T) {
		b := &mockBackend{
			login: &services.LoginResult{User: models.User{Email: "a@example.com"}, Token: "session-token"},
			pkg:   entitled,
			dir:   canada(),
		}
		f := newFixture(t, b)
		f.seed(t, nil, nil)

		if err := f.o.Login(ctx, "google-token"); err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		snap := f.o.Snapshot()
		if snap.Session.Token != "session-token" || snap.Session.Identity.AccessToken != "google-token" {
			t.Errorf("unexpected session %+v", snap.Session)
		}
		if !snap.Entitlement.Present() || snap.Directory.Len() != 2 {
			t.Error("expected entitlement and directory after login")
		}
		stored, _ := f.store.State.Session(ctx)
		if stored.Token != "session-token" {
			t.Errorf("expected persisted session, got %+v", stored)
		}
	})

	t.Run("Logout Wipes Local State", func(t *testing.T) {
		b := &mockBackend{host: "ca-1.example.net"}
		f := newFixture(t, b)
		f.store.State.SetSession(ctx, models.Session{Token: "session-token", Identity: tokenOf("google-token")})
		f.seed(t, canada(), entitled)
		if err := f.o.Toggle(ctx); err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}

		if err := f.o.Logout(ctx); err != nil {
			t.Fatalf("Logout() error = %v", err)
		}
		if len(b.revoked) != 1 || b.revoked[0] != "google-token" {
			t.Errorf("expected identity token to be revoked, got %v", b.revoked)
		}
		snap := f.o.Snapshot()
		if snap.State != Disconnected || snap.Session.Authenticated() || snap.Directory.Len() != 0 {
			t.Errorf("expected wiped state, got %+v", snap)
		}
		ps, _ := f.store.State.Load(ctx)
		if ps.Session.Authenticated() || ps.Connected || ps.Entitlement.Present() {
			t.Errorf("expected wiped store, got %+v", ps)
		}
		if f.facility.Active() != nil {
			t.Error("expected proxy to be cleared")
		}
	})

	t.Run("Failed Revocation Is Retried With The Same Token", func(t *testing.T) {
		b := &mockBackend{revoke: shared.ErrRevokeFailed}
		f := newFixture(t, b)
		f.store.State.SetSession(ctx, models.Session{Token: "session-token", Identity: tokenOf("google-token")})
		f.seed(t, canada(), nil)

		fail := asFailure(t, f.o.Logout(ctx))
		if fail.Kind != SessionTeardownFailed || fail.Op.Token != "google-token" {
			t.Errorf("unexpected failure %v", fail)
		}
		if f.o.Snapshot().Session.Authenticated() {
			t.Error("expected local state to be wiped despite the failure")
		}

		b.set(func(m *mockBackend) { m.revoke = nil })
		if retried, err := f.o.Retry(ctx); err != nil || !retried {
			t.Fatalf("Retry() = %v, %v", retried, err)
		}
		if len(b.revoked) != 2 || b.revoked[1] != "google-token" {
			t.Errorf("expected second revocation with the recorded token, got %v", b.revoked)
		}
	})
}

func tokenOf(s string) *oauth2.Token {
	return &oauth2.Token{AccessToken: s, TokenType: "Bearer"}
}

func TestHydrateAndBootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("Restores A Live Connection", func(t *testing.T) {
		f := newFixture(t, &mockBackend{})
		ep := models.Endpoint{LocationID: "1", Scheme: "https", Host: "ny-1-eeagle.duckdns.org", Port: 443}
		f.store.State.CommitConnected(ctx, ep, models.BadgeFor(true, "Canada"))
		f.seed(t, canada(), nil)

		snap := f.o.Snapshot()
		if !snap.Connected() || snap.Credentials.Username != "myuser" || snap.Badge.Text != "CA" {
			t.Errorf("unexpected hydrated state %+v", snap)
		}
	})

	t.Run("Connected Flag Without Endpoint", func(t *testing.T) {
		f := newFixture(t, &mockBackend{})
		f.store.State.SetConnection(ctx, true)
		f.seed(t, canada(), nil)

		snap := f.o.Snapshot()
		if snap.State != Disconnected || snap.Badge.Text != models.BadgeTextOff {
			t.Errorf("expected Disconnected, got %+v", snap)
		}
	})

	t.Run("Failure Record Survives Restart", func(t *testing.T) {
		store := setupTestStore(t)
		b := &mockBackend{dirErr: shared.ErrServiceUnavailable}
		f := newFixtureWithStore(t, b, store)
		f.seed(t, canada(), nil)
		f.o.RefreshDirectory(ctx)

		b.set(func(m *mockBackend) { m.dirErr = nil; m.dir = sampleDirectory() })
		again := newFixtureWithStore(t, b, store)
		if err := again.o.Hydrate(ctx); err != nil {
			t.Fatalf("Hydrate() error = %v", err)
		}
		last := again.o.Snapshot().LastFailure
		if last == nil || last.Op.Kind != OpRefreshDirectory || last.Kind != DirectoryUnavailable {
			t.Fatalf("unexpected restored failure %+v", last)
		}
		if retried, err := again.o.Retry(ctx); err != nil || !retried {
			t.Fatalf("Retry() = %v, %v", retried, err)
		}
		if again.o.Snapshot().Directory.Len() != 3 {
			t.Error("expected retried refresh to land")
		}
	})

	t.Run("Retry Without A Record", func(t *testing.T) {
		f := newFixture(t, &mockBackend{})
		f.seed(t, canada(), nil)
		if retried, err := f.o.Retry(ctx); err != nil || retried {
			t.Errorf("Retry() = %v, %v, want false, nil", retried, err)
		}
		if len(f.facility.Applied) != 0 {
			t.Error("expected no proxy reset without a record")
		}
	})

	t.Run("Bootstrap Awaits Entitlement And Directory", func(t *testing.T) {
		b := &mockBackend{pkg: entitled, dir: sampleDirectory()}
		f := newFixture(t, b)
		f.store.State.SetSession(ctx, models.Session{Token: "session-token"})

		if err := f.o.Bootstrap(ctx); err != nil {
			t.Fatalf("Bootstrap() error = %v", err)
		}
		snap := f.o.Snapshot()
		if !snap.Entitlement.Present() || snap.Directory.Len() != 3 {
			t.Errorf("expected entitlement and directory, got %+v", snap)
		}
		if b.pkgs != 1 || b.servers < 1 {
			t.Errorf("expected both fetches, got pkgs=%d servers=%d", b.pkgs, b.servers)
		}
	})

	t.Run("Bootstrap Skips Entitlement When Logged Out", func(t *testing.T) {
		b := &mockBackend{dir: canada()}
		f := newFixture(t, b)
		if err := f.o.Bootstrap(ctx); err != nil {
			t.Fatalf("Bootstrap() error = %v", err)
		}
		if b.pkgs != 0 || b.servers != 1 {
			t.Errorf("unexpected calls pkgs=%d servers=%d", b.pkgs, b.servers)
		}
	})
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &mockBackend{host: "ca-1.example.net"})
	f.seed(t, models.Directory{}, nil)

	events, cancel := f.o.Events(8)
	defer cancel()

	f.o.Toggle(ctx)
	e := <-events
	if e.Kind != EventError || e.Failure == nil || e.Failure.Kind != EndpointResolutionFailed {
		t.Fatalf("unexpected event %+v", e)
	}

	f.seed(t, canada(), nil)
	if err := f.o.Toggle(ctx); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	for e = range events {
		if e.Kind == EventConnection {
			break
		}
	}
	if !e.Connected || e.Location == nil || e.Badge.Text != "CA" {
		t.Errorf("unexpected connection event %+v", e)
	}

	history, err := f.history.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(history) != 2 || history[0].Kind != "connection" || history[1].Source != "connect" {
		t.Errorf("unexpected history %+v", history)
	}

	t.Run("Cancel Closes The Channel", func(t *testing.T) {
		ch, stop := f.o.Events(1)
		stop()
		stop()
		if _, ok := <-ch; ok {
			t.Error("expected closed channel")
		}
	})
}
