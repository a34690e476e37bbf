package session

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/evpn/internal/models"
)

// OpKind names an operation that can be retried.
type OpKind int

const (
	OpNone OpKind = iota
	OpConnect
	OpRefreshDirectory
	OpValidateEntitlement
	OpLogout
	OpDisconnect
)

func (k OpKind) String() string {
	switch k {
	case OpConnect:
		return "connect"
	case OpRefreshDirectory:
		return "refresh-directory"
	case OpValidateEntitlement:
		return "validate-entitlement"
	case OpLogout:
		return "logout"
	case OpDisconnect:
		return "disconnect"
	default:
		return "none"
	}
}

// ParseOpKind is the inverse of [OpKind.String]; unknown names give OpNone.
func ParseOpKind(s string) OpKind {
	for k := OpConnect; k <= OpDisconnect; k++ {
		if k.String() == s {
			return k
		}
	}
	return OpNone
}

// Operation is a retryable operation with the payload needed to re-run it.
//
// Location is the explicit selection a connect started from (nil for smart
// selection). Token is the identity token a logout was revoking.
type Operation struct {
	Kind     OpKind
	Location *models.Location
	Token    string
}

func connectOp(loc *models.Location) Operation {
	if loc != nil {
		cp := *loc
		loc = &cp
	}
	return Operation{Kind: OpConnect, Location: loc}
}

// FailureStore persists the last failure across restarts.
type FailureStore interface {
	SetLastFailure(ctx context.Context, rec models.FailureRecord) error
	ClearLastFailure(ctx context.Context) error
}

// Resetter puts the external proxy back into direct mode.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Recovery remembers the last failed operation and re-runs it on retry.
type Recovery struct {
	mu     sync.Mutex
	last   *Failure
	store  FailureStore
	proxy  Resetter
	logger *log.Logger
	now    func() time.Time
}

// NewRecovery creates a recovery manager. store may be nil for memory only.
func NewRecovery(store FailureStore, proxy Resetter, logger *log.Logger) *Recovery {
	return &Recovery{store: store, proxy: proxy, logger: logger, now: time.Now}
}

// Record makes f the operation retry dispatches. The durable write is attempted
// first; a write error is logged and the in-memory record still replaces the old one.
func (r *Recovery) Record(ctx context.Context, f *Failure) {
	if f == nil || f.Op.Kind == OpNone {
		return
	}
	if r.store != nil {
		rec := models.FailureRecord{
			Kind:     f.Kind.String(),
			Op:       f.Op.Kind.String(),
			Location: f.Op.Location,
			Token:    f.Op.Token,
			Message:  f.Err.Error(),
			At:       r.now().UTC(),
		}
		if err := r.store.SetLastFailure(ctx, rec); err != nil {
			r.logger.Warn("failed to persist failure record", "op", f.Op.Kind, "error", err)
		}
	}

	r.mu.Lock()
	r.last = f
	r.mu.Unlock()
}

// Restore loads a persisted record into memory without writing it back.
func (r *Recovery) Restore(rec *models.FailureRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec == nil {
		r.last = nil
		return
	}
	kind := ParseOpKind(rec.Op)
	if kind == OpNone {
		r.last = nil
		return
	}
	r.last = &Failure{
		Kind: ParseErrorKind(rec.Kind),
		Op:   Operation{Kind: kind, Location: rec.Location, Token: rec.Token},
		Err:  restoredError(rec.Message),
	}
}

type restoredError string

func (e restoredError) Error() string { return string(e) }

// Last returns the recorded failure, nil when there is none.
func (r *Recovery) Last() *Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Resolved forgets the record when it names kind.
func (r *Recovery) Resolved(ctx context.Context, kind OpKind) {
	r.mu.Lock()
	match := r.last != nil && r.last.Op.Kind == kind
	if match {
		r.last = nil
	}
	r.mu.Unlock()

	if match {
		r.forget(ctx)
	}
}

// Reset forgets any record.
func (r *Recovery) Reset(ctx context.Context) {
	r.mu.Lock()
	r.last = nil
	r.mu.Unlock()
	r.forget(ctx)
}

func (r *Recovery) forget(ctx context.Context) {
	if r.store == nil {
		return
	}
	if err := r.store.ClearLastFailure(ctx); err != nil {
		r.logger.Warn("failed to clear failure record", "error", err)
	}
}

// Retry resets the proxy to direct mode and then calls dispatch with the
// recorded operation. With nothing recorded it does nothing and reports false.
func (r *Recovery) Retry(ctx context.Context, dispatch func(context.Context, Operation) error) (bool, error) {
	last := r.Last()
	if last == nil || last.Op.Kind == OpNone {
		return false, nil
	}

	if r.proxy != nil {
		if err := r.proxy.Reset(ctx); err != nil {
			r.logger.Warn("proxy reset before retry failed", "error", err)
		}
	}

	r.logger.Info("retrying", "op", last.Op.Kind, "after", last.Kind)
	return true, dispatch(ctx, last.Op)
}
