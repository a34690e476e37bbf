package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/proxy"
	"github.com/desertthunder/evpn/internal/repositories"
	"github.com/desertthunder/evpn/internal/services"
	"github.com/desertthunder/evpn/internal/shared"
	"golang.org/x/oauth2"
)

// StateStore is the durable session state.
type StateStore interface {
	FailureStore
	SetSelectedLocation(ctx context.Context, loc *models.Location) error
	CommitConnected(ctx context.Context, ep models.Endpoint, badge models.Badge) error
	CommitDisconnected(ctx context.Context, badge models.Badge) error
	SetEntitlement(ctx context.Context, e models.Entitlement) error
	SetSession(ctx context.Context, s models.Session) error
	Load(ctx context.Context) (*repositories.PersistedState, error)
	Clear(ctx context.Context) error
}

// DirectoryStore is the cached location directory.
type DirectoryStore interface {
	Replace(ctx context.Context, dir models.Directory) error
	Load(ctx context.Context) (models.Directory, error)
	Clear(ctx context.Context) error
}

// ProxyController owns the active proxy configuration.
type ProxyController interface {
	Apply(ctx context.Context, cfg models.ProxyConfiguration) error
	Clear(ctx context.Context)
	Reset(ctx context.Context) error
}

// SessionState is a read snapshot of the orchestrator.
type SessionState struct {
	State       State
	Selected    *models.Location
	Credentials models.Credentials
	Endpoint    *models.Endpoint
	Badge       models.Badge
	Entitlement models.Entitlement
	Session     models.Session
	Directory   models.Directory
	LastFailure *Failure
	Busy        bool
}

// Connected reports whether traffic is routed through an endpoint.
func (s SessionState) Connected() bool { return s.State == Connected }

func (s SessionState) clone() SessionState {
	if s.Selected != nil {
		sel := *s.Selected
		s.Selected = &sel
	}
	if s.Endpoint != nil {
		ep := *s.Endpoint
		s.Endpoint = &ep
	}
	if s.Session.Identity != nil {
		tok := *s.Session.Identity
		s.Session.Identity = &tok
	}
	s.Entitlement = append(models.Entitlement(nil), s.Entitlement...)
	s.Directory = s.Directory.Clone()
	return s
}

// Options configures an [Orchestrator]. State, Directory, Proxy and Backend
// are required.
type Options struct {
	State     StateStore
	Directory DirectoryStore
	Proxy     ProxyController
	Backend   services.Backend
	// Events and Indicator are optional.
	Events    EventLog
	Indicator Indicator

	Credentials proxy.CredentialTable
	Scheme      string
	Port        int
	BypassList  []string
	// Timeout bounds every store and backend call.
	Timeout time.Duration
	Logger  *log.Logger

	now  func() time.Time
	intn func(int) int
}

// Orchestrator drives the connection state machine. Operations that change
// the proxy or the selection run one at a time; a second one started while
// another is in flight fails with [shared.ErrBusy].
type Orchestrator struct {
	mu sync.RWMutex
	st SessionState

	// seq holds a token while a sequenced operation runs.
	seq chan struct{}

	store     StateStore
	directory DirectoryStore
	proxy     ProxyController
	backend   services.Backend
	history   EventLog
	indicator Indicator
	recovery  *Recovery
	hub       *hub

	creds   proxy.CredentialTable
	scheme  string
	port    int
	bypass  []string
	timeout time.Duration
	logger  *log.Logger
	now     func() time.Time
	intn    func(int) int
}

// New creates an orchestrator in the Disconnected state. Call [Orchestrator.Hydrate]
// or [Orchestrator.Bootstrap] to load persisted state.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.State == nil:
		return nil, fmt.Errorf("%w: state store", shared.ErrMissingConfig)
	case opts.Directory == nil:
		return nil, fmt.Errorf("%w: directory store", shared.ErrMissingConfig)
	case opts.Proxy == nil:
		return nil, fmt.Errorf("%w: proxy controller", shared.ErrMissingConfig)
	case opts.Backend == nil:
		return nil, fmt.Errorf("%w: backend", shared.ErrMissingConfig)
	}

	if opts.Credentials.Default.IsZero() {
		opts.Credentials = proxy.DefaultTable
	}
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.Port <= 0 {
		opts.Port = 443
	}
	if opts.BypassList == nil {
		opts.BypassList = []string{"<local>"}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.intn == nil {
		opts.intn = rand.IntN
	}

	logger := shared.WithLogger(opts.Logger, "component", "session")
	return &Orchestrator{
		st:        SessionState{State: Disconnected, Badge: models.BadgeFor(false, "")},
		seq:       make(chan struct{}, 1),
		store:     opts.State,
		directory: opts.Directory,
		proxy:     opts.Proxy,
		backend:   opts.Backend,
		history:   opts.Events,
		indicator: opts.Indicator,
		recovery:  NewRecovery(opts.State, opts.Proxy, logger),
		hub:       newHub(),
		creds:     opts.Credentials,
		scheme:    opts.Scheme,
		port:      opts.Port,
		bypass:    opts.BypassList,
		timeout:   opts.Timeout,
		logger:    logger,
		now:       opts.now,
		intn:      opts.intn,
	}, nil
}

func (o *Orchestrator) tryBegin() error {
	select {
	case o.seq <- struct{}{}:
		return nil
	default:
		return shared.ErrBusy
	}
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	select {
	case o.seq <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) end() { <-o.seq }

func (o *Orchestrator) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.timeout)
}

// Snapshot returns a copy of the current session state.
func (o *Orchestrator) Snapshot() SessionState {
	o.mu.RLock()
	s := o.st.clone()
	o.mu.RUnlock()

	s.Busy = len(o.seq) > 0
	s.LastFailure = o.recovery.Last()
	return s
}

// Events subscribes to outcome events. cancel must be called to release the
// subscription; it closes the channel.
func (o *Orchestrator) Events(buf int) (<-chan Event, func()) {
	return o.hub.subscribe(buf)
}

func (o *Orchestrator) transition(to State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := checkTransition(o.st.State, to); err != nil {
		return err
	}
	o.st.State = to
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, e Event) {
	e.At = o.now().UTC()
	o.hub.publish(e)

	if o.history == nil {
		return
	}
	var source, message string
	switch e.Kind {
	case EventConnection:
		message = "disconnected"
		if e.Connected {
			message = "connected"
			if e.Location != nil {
				message = "connected to " + e.Location.DisplayName()
			}
		}
	case EventError:
		source = e.Failure.Source()
		message = e.Failure.Message()
	case EventSession:
		message = e.Message
	default:
		return
	}
	if _, err := o.history.Append(ctx, string(e.Kind), source, message); err != nil {
		o.logger.Warn("failed to append event", "kind", e.Kind, "error", err)
	}
}

func (o *Orchestrator) indicate(ctx context.Context, badge models.Badge) {
	if o.indicator == nil {
		return
	}
	if err := o.indicator.SetBadge(ctx, badge); err != nil {
		o.logger.Warn("failed to update badge", "text", badge.Text, "error", err)
	}
}

// fail records f for retry and surfaces it once.
func (o *Orchestrator) fail(ctx context.Context, f *Failure) *Failure {
	o.logger.Error("operation failed", "op", f.Op.Kind, "kind", f.Kind, "error", f.Err)
	o.recovery.Record(ctx, f)
	o.emit(ctx, Event{Kind: EventError, Failure: f})
	return f
}

// persistSelection awaits the durable write before updating memory.
func (o *Orchestrator) persistSelection(ctx context.Context, loc *models.Location) error {
	wctx, cancel := o.bound(ctx)
	defer cancel()
	if err := o.store.SetSelectedLocation(wctx, loc); err != nil {
		return err
	}

	var sel *models.Location
	if loc != nil {
		cp := *loc
		sel = &cp
	}
	o.mu.Lock()
	o.st.Selected = sel
	o.mu.Unlock()
	return nil
}

// Toggle connects when disconnected and disconnects when connected.
func (o *Orchestrator) Toggle(ctx context.Context) error {
	if err := o.tryBegin(); err != nil {
		return err
	}
	defer o.end()

	if o.Snapshot().State == Connected {
		return o.disconnect(ctx)
	}
	return o.connect(ctx, nil)
}

// Connect connects to target, or to the current selection when target is nil.
// A differing target replaces the persisted selection.
func (o *Orchestrator) Connect(ctx context.Context, target *models.Location) error {
	if err := o.tryBegin(); err != nil {
		return err
	}
	defer o.end()

	if o.Snapshot().State == Connected {
		return shared.ErrConnected
	}
	return o.connect(ctx, target)
}

// Disconnect clears the proxy. Disconnecting while disconnected only clears
// the proxy again and leaves the session untouched.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	if err := o.tryBegin(); err != nil {
		return err
	}
	defer o.end()
	return o.disconnect(ctx)
}

func (o *Orchestrator) connect(ctx context.Context, target *models.Location) error {
	snap := o.Snapshot()
	if err := o.transition(Connecting); err != nil {
		return err
	}

	start := snap.Selected
	if target != nil {
		start = target
	}
	op := connectOp(start)
	abort := func(kind ErrorKind, err error) error {
		o.mu.Lock()
		o.st.State = Disconnected
		o.mu.Unlock()
		return o.fail(ctx, &Failure{Kind: kind, Op: op, Err: err})
	}

	selected := snap.Selected
	if target != nil && (selected == nil || !selected.Equal(*target)) {
		if err := o.persistSelection(ctx, target); err != nil {
			return abort(EndpointResolutionFailed, err)
		}
		selected = target
	}
	if selected == nil {
		loc := ResolveWith(nil, snap.Directory, o.intn)
		if loc == nil {
			return abort(EndpointResolutionFailed, shared.ErrNoEndpoints)
		}
		if err := o.persistSelection(ctx, loc); err != nil {
			return abort(EndpointResolutionFailed, err)
		}
		selected = loc
	}

	id := EndpointID(selected, snap.Directory)
	if id == "" {
		return abort(EndpointResolutionFailed, fmt.Errorf("%w: no location id", shared.ErrNoAddress))
	}

	rctx, cancel := o.bound(ctx)
	host, err := o.backend.RequestIP(rctx, id)
	cancel()
	if err != nil {
		return abort(EndpointResolutionFailed, err)
	}

	creds := o.creds.Derive(host)
	cfg := models.FixedProxy(o.scheme, host, o.port, o.bypass, creds)
	actx, cancel := o.bound(ctx)
	err = o.proxy.Apply(actx, cfg)
	cancel()
	if err != nil {
		var ae *proxy.ApplyError
		if !errors.As(err, &ae) || ae.Committed {
			o.proxy.Clear(ctx)
		}
		return abort(ProxyApplyFailed, err)
	}

	endpoint := models.Endpoint{LocationID: id, Scheme: o.scheme, Host: host, Port: o.port}
	badge := models.BadgeFor(true, selected.CountryName)

	wctx, cancel := o.bound(ctx)
	err = o.store.CommitConnected(wctx, endpoint, badge)
	cancel()
	if err != nil {
		o.proxy.Clear(ctx)
		return abort(ProxyApplyFailed, err)
	}

	o.mu.Lock()
	o.st.State = Connected
	o.st.Credentials = creds
	o.st.Endpoint = &endpoint
	o.st.Badge = badge
	o.mu.Unlock()

	o.logger.Info("connected", "location", selected.DisplayName(), "host", host)
	o.indicate(ctx, badge)
	o.recovery.Resolved(ctx, OpConnect)
	o.recovery.Resolved(ctx, OpDisconnect)
	loc := *selected
	o.emit(ctx, Event{Kind: EventConnection, Connected: true, Location: &loc, Badge: badge})
	return nil
}

func (o *Orchestrator) disconnect(ctx context.Context) error {
	switch o.Snapshot().State {
	case Disconnected:
		o.proxy.Clear(ctx)
		return nil
	case Connected:
	default:
		return fmt.Errorf("%w: disconnect while %s", shared.ErrInvalidState, o.Snapshot().State)
	}

	if err := o.transition(Disconnecting); err != nil {
		return err
	}
	o.proxy.Clear(ctx)

	badge := models.BadgeFor(false, "")
	wctx, cancel := o.bound(ctx)
	err := o.store.CommitDisconnected(wctx, badge)
	cancel()

	o.mu.Lock()
	o.st.State = Disconnected
	o.st.Credentials = models.Credentials{}
	o.st.Endpoint = nil
	o.st.Badge = badge
	o.mu.Unlock()

	o.logger.Info("disconnected")
	o.indicate(ctx, badge)
	o.emit(ctx, Event{Kind: EventConnection, Connected: false, Badge: badge})
	if err != nil {
		return o.fail(ctx, disconnectFailure(err))
	}
	o.recovery.Resolved(ctx, OpDisconnect)
	return nil
}

func disconnectFailure(err error) *Failure {
	return &Failure{
		Kind: SessionTeardownFailed,
		Op:   Operation{Kind: OpDisconnect},
		Err:  fmt.Errorf("failed to persist disconnect: %w", err),
	}
}

// saveDisconnected rewrites the durable disconnected state after a write that
// failed during disconnect. The proxy is already cleared at that point.
func (o *Orchestrator) saveDisconnected(ctx context.Context) error {
	badge := models.BadgeFor(false, "")
	wctx, cancel := o.bound(ctx)
	err := o.store.CommitDisconnected(wctx, badge)
	cancel()
	if err != nil {
		return o.fail(ctx, disconnectFailure(err))
	}

	o.logger.Info("disconnect saved")
	o.recovery.Resolved(ctx, OpDisconnect)
	return nil
}

// SelectLocation pins loc, or returns to smart selection when loc is nil.
// Only allowed while disconnected; pinning needs an active entitlement.
func (o *Orchestrator) SelectLocation(ctx context.Context, loc *models.Location) error {
	if err := o.tryBegin(); err != nil {
		return err
	}
	defer o.end()

	snap := o.Snapshot()
	if snap.State != Disconnected {
		return shared.ErrConnected
	}
	if loc != nil && !snap.Entitlement.Present() {
		return shared.ErrNotEntitled
	}
	if err := o.persistSelection(ctx, loc); err != nil {
		return err
	}

	msg := "smart location"
	if loc != nil {
		msg = loc.DisplayName()
	}
	o.emit(ctx, Event{Kind: EventSelection, Location: loc, Message: msg})
	return nil
}

// SelectLocationByID pins the directory location with the given id.
func (o *Orchestrator) SelectLocationByID(ctx context.Context, id models.ID) error {
	loc, ok := o.Snapshot().Directory.Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrLocationNotFound, id)
	}
	return o.SelectLocation(ctx, &loc)
}

// RefreshDirectory fetches the directory and replaces the cache. On failure
// the cached directory stays in use.
func (o *Orchestrator) RefreshDirectory(ctx context.Context) error {
	rctx, cancel := o.bound(ctx)
	dir, err := o.backend.Servers(rctx)
	cancel()
	if err == nil {
		wctx, cancel := o.bound(ctx)
		err = o.directory.Replace(wctx, dir)
		cancel()
	}
	if err != nil {
		return o.fail(ctx, &Failure{Kind: DirectoryUnavailable, Op: Operation{Kind: OpRefreshDirectory}, Err: err})
	}

	o.mu.Lock()
	o.st.Directory = dir.Clone()
	o.mu.Unlock()

	o.logger.Debug("directory refreshed", "countries", len(dir), "locations", dir.Len())
	o.recovery.Resolved(ctx, OpRefreshDirectory)
	o.emit(ctx, Event{Kind: EventDirectory, Message: fmt.Sprintf("%d locations", dir.Len())})
	return nil
}

// ValidateEntitlement fetches the subscription. An active subscription
// refreshes the directory; a failed check clears the cached entitlement and
// disconnects.
func (o *Orchestrator) ValidateEntitlement(ctx context.Context) error {
	present, err := o.validateEntitlement(ctx, false)
	if err != nil || !present {
		return err
	}
	return o.RefreshDirectory(ctx)
}

// validateEntitlement checks the subscription. held reports whether the
// caller already holds the sequencing token.
func (o *Orchestrator) validateEntitlement(ctx context.Context, held bool) (bool, error) {
	token := o.Snapshot().Session.Token

	rctx, cancel := o.bound(ctx)
	pkg, err := o.backend.UserPackage(rctx, token)
	cancel()
	if err == nil {
		wctx, cancel := o.bound(ctx)
		err = o.store.SetEntitlement(wctx, pkg)
		cancel()
	}
	if err != nil {
		o.dropEntitlement(ctx)
		o.teardown(ctx, held)
		return false, o.fail(ctx, &Failure{Kind: EntitlementCheckFailed, Op: Operation{Kind: OpValidateEntitlement}, Err: err})
	}

	o.mu.Lock()
	o.st.Entitlement = append(models.Entitlement(nil), pkg...)
	o.mu.Unlock()

	o.recovery.Resolved(ctx, OpValidateEntitlement)
	msg := "No active subscription"
	if pkg.Present() {
		msg = "Subscription: " + pkg.Title()
	}
	o.emit(ctx, Event{Kind: EventEntitlement, Message: msg})
	return pkg.Present(), nil
}

func (o *Orchestrator) dropEntitlement(ctx context.Context) {
	wctx, cancel := o.bound(ctx)
	defer cancel()
	if err := o.store.SetEntitlement(wctx, nil); err != nil {
		o.logger.Warn("failed to clear entitlement", "error", err)
	}
	o.mu.Lock()
	o.st.Entitlement = nil
	o.mu.Unlock()
}

// teardown disconnects after a failed entitlement check.
//
// Without the token it waits for an in-flight toggle, so a connect that
// finishes after the failed check is still torn down.
func (o *Orchestrator) teardown(ctx context.Context, held bool) {
	if !held {
		if err := o.acquire(ctx); err != nil {
			o.logger.Warn("teardown abandoned", "error", err)
			return
		}
		defer o.end()
	}
	if o.Snapshot().State != Connected {
		return
	}
	if err := o.disconnect(ctx); err != nil {
		o.logger.Warn("teardown failed", "error", err)
	}
}

// Login exchanges an identity provider access token for a backend session,
// then validates the entitlement.
func (o *Orchestrator) Login(ctx context.Context, accessToken string) error {
	if err := o.tryBegin(); err != nil {
		return err
	}
	defer o.end()

	if o.Snapshot().State == Connected {
		return shared.ErrConnected
	}

	rctx, cancel := o.bound(ctx)
	res, err := o.backend.LoginChrome(rctx, accessToken)
	cancel()
	if err != nil {
		return err
	}

	sess := models.Session{
		User:     res.User,
		Token:    res.Token,
		Identity: &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"},
	}
	wctx, cancel := o.bound(ctx)
	err = o.store.SetSession(wctx, sess)
	cancel()
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.st.Session = sess
	o.st.Selected = nil
	o.mu.Unlock()

	o.logger.Info("logged in", "user", res.User.Email)
	o.emit(ctx, Event{Kind: EventSession, Message: "logged in as " + res.User.Email})

	if present, err := o.validateEntitlement(ctx, true); err == nil && present {
		if err := o.RefreshDirectory(ctx); err != nil {
			o.logger.Warn("directory refresh after login failed", "error", err)
		}
	}
	return nil
}

// Logout disconnects, revokes the identity token and wipes local state.
// A failed revocation is recorded for retry after the wipe.
func (o *Orchestrator) Logout(ctx context.Context) error {
	if err := o.tryBegin(); err != nil {
		return err
	}
	defer o.end()
	return o.logout(ctx, "")
}

func (o *Orchestrator) logout(ctx context.Context, token string) error {
	snap := o.Snapshot()
	if token == "" && snap.Session.Identity != nil {
		token = snap.Session.Identity.AccessToken
	}

	if snap.State == Connected {
		if err := o.disconnect(ctx); err != nil {
			o.logger.Warn("disconnect before logout failed", "error", err)
		}
	}

	rctx, cancel := o.bound(ctx)
	revokeErr := o.backend.RevokeIdentity(rctx, token)
	cancel()

	var errs []error
	wctx, cancel := o.bound(ctx)
	if err := o.store.Clear(wctx); err != nil {
		errs = append(errs, err)
	}
	if err := o.directory.Clear(wctx); err != nil {
		errs = append(errs, err)
	}
	cancel()
	o.proxy.Clear(ctx)
	o.recovery.Reset(ctx)

	badge := models.BadgeFor(false, "")
	o.mu.Lock()
	o.st = SessionState{State: Disconnected, Badge: badge}
	o.mu.Unlock()
	o.indicate(ctx, badge)

	if revokeErr != nil {
		return errors.Join(append(errs, o.fail(ctx, &Failure{
			Kind: SessionTeardownFailed,
			Op:   Operation{Kind: OpLogout, Token: token},
			Err:  revokeErr,
		}))...)
	}

	o.logger.Info("logged out")
	o.emit(ctx, Event{Kind: EventSession, Message: "logged out"})
	return errors.Join(errs...)
}

// Hydrate loads the persisted session. A stored connected flag without an
// endpoint, or one left behind by a disconnect that failed to save, is
// treated as disconnected.
func (o *Orchestrator) Hydrate(ctx context.Context) error {
	if err := o.tryBegin(); err != nil {
		return err
	}
	defer o.end()

	lctx, cancel := o.bound(ctx)
	defer cancel()

	ps, err := o.store.Load(lctx)
	if err != nil {
		return err
	}
	dir, err := o.directory.Load(lctx)
	if err != nil {
		return err
	}

	st := SessionState{
		State:       Disconnected,
		Selected:    ps.Selected,
		Badge:       ps.Badge,
		Entitlement: ps.Entitlement,
		Session:     ps.Session,
		Directory:   dir,
	}
	unsaved := ps.LastFailure != nil && ps.LastFailure.Op == OpDisconnect.String()
	if ps.Connected && unsaved {
		o.logger.Warn("stored connection was disconnected before the last exit, treating as disconnected")
		st.Badge = models.BadgeFor(false, "")
	} else if ps.Connected {
		if ps.Endpoint != nil && ps.Endpoint.Host != "" {
			st.State = Connected
			st.Endpoint = ps.Endpoint
			st.Credentials = o.creds.Derive(ps.Endpoint.Host)
		} else {
			o.logger.Warn("stored connection has no endpoint, treating as disconnected")
			st.Badge = models.BadgeFor(false, "")
		}
	} else {
		st.Badge = models.BadgeFor(false, "")
	}
	o.recovery.Restore(ps.LastFailure)

	o.mu.Lock()
	o.st = st
	o.mu.Unlock()

	o.logger.Debug("hydrated", "state", st.State, "locations", dir.Len())
	return nil
}

// Bootstrap hydrates, then validates the entitlement and refreshes the
// directory concurrently. It returns once both have finished.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	if err := o.Hydrate(ctx); err != nil {
		return err
	}

	var (
		wg             sync.WaitGroup
		entErr, dirErr error
	)
	if o.Snapshot().Session.Authenticated() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, entErr = o.validateEntitlement(ctx, false)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		dirErr = o.RefreshDirectory(ctx)
	}()
	wg.Wait()

	return errors.Join(entErr, dirErr)
}

// Retry re-runs the last failed operation after resetting the proxy to direct
// mode. A live connection is torn down first. It reports false when nothing
// was recorded.
func (o *Orchestrator) Retry(ctx context.Context) (bool, error) {
	if err := o.tryBegin(); err != nil {
		return false, err
	}
	defer o.end()

	if o.recovery.Last() == nil {
		return false, nil
	}
	if o.Snapshot().State == Connected {
		if err := o.disconnect(ctx); err != nil {
			o.logger.Warn("disconnect before retry failed", "error", err)
		}
	}
	return o.recovery.Retry(ctx, o.dispatch)
}

func (o *Orchestrator) dispatch(ctx context.Context, op Operation) error {
	switch op.Kind {
	case OpConnect:
		return o.connect(ctx, op.Location)
	case OpRefreshDirectory:
		return o.RefreshDirectory(ctx)
	case OpValidateEntitlement:
		present, err := o.validateEntitlement(ctx, true)
		if err != nil || !present {
			return err
		}
		return o.RefreshDirectory(ctx)
	case OpLogout:
		return o.logout(ctx, op.Token)
	case OpDisconnect:
		return o.saveDisconnected(ctx)
	}
	return nil
}
