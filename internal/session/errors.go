package session

import (
	"errors"
	"fmt"

	"github.com/desertthunder/evpn/internal/shared"
)

// ErrorKind classifies a failed operation.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	DirectoryUnavailable
	EntitlementCheckFailed
	EndpointResolutionFailed
	ProxyApplyFailed
	SessionTeardownFailed
)

func (k ErrorKind) String() string {
	switch k {
	case DirectoryUnavailable:
		return "DirectoryUnavailable"
	case EntitlementCheckFailed:
		return "EntitlementCheckFailed"
	case EndpointResolutionFailed:
		return "EndpointResolutionFailed"
	case ProxyApplyFailed:
		return "ProxyApplyFailed"
	case SessionTeardownFailed:
		return "SessionTeardownFailed"
	default:
		return "Unknown"
	}
}

// ParseErrorKind is the inverse of [ErrorKind.String].
func ParseErrorKind(s string) ErrorKind {
	for k := DirectoryUnavailable; k <= SessionTeardownFailed; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}

// MarshalText renders the kind name.
func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Failure is the outcome of a failed operation. Op carries what retry re-runs.
type Failure struct {
	Kind ErrorKind
	Op   Operation
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s (%s): %v", f.Kind, f.Op.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Source names the failed operation.
func (f *Failure) Source() string { return f.Op.Kind.String() }

// Message is the notice shown to the user.
func (f *Failure) Message() string {
	switch f.Kind {
	case EndpointResolutionFailed:
		if errors.Is(f.Err, shared.ErrNoEndpoints) {
			return "No default location available, please select manually."
		}
		return "Failed to load servers, reload and try again."
	case DirectoryUnavailable:
		return "Failed to load servers."
	case ProxyApplyFailed:
		return "Unable to connect to proxy server."
	case EntitlementCheckFailed:
		if errors.Is(f.Err, shared.ErrNotAuthenticated) || errors.Is(f.Err, shared.ErrTokenExpired) {
			return "Session expired, please log in again."
		}
		return "Unable to verify subscription."
	case SessionTeardownFailed:
		if f.Op.Kind == OpDisconnect {
			return "Disconnect was not saved, try again."
		}
		return "Logout did not complete."
	}
	return "Something went wrong, try again."
}
