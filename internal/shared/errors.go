package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Authentication errors
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("session token expired")
	ErrRevokeFailed     = fmt.Errorf("identity token revocation failed")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Backend errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrNoAddress          = fmt.Errorf("backend returned no endpoint address")

	// Session errors
	ErrNoEndpoints      = fmt.Errorf("no endpoints available")
	ErrLocationNotFound = fmt.Errorf("location not found")
	ErrDuplicateID      = fmt.Errorf("duplicate location id")
	ErrBusy             = fmt.Errorf("another connection change is in progress")
	ErrConnected        = fmt.Errorf("disconnect to change location")
	ErrNotEntitled      = fmt.Errorf("no active subscription")
	ErrInvalidState     = fmt.Errorf("invalid state transition")

	// Proxy errors
	ErrProxyCommit   = fmt.Errorf("failed to apply proxy configuration")
	ErrProbeFailed   = fmt.Errorf("unable to connect to proxy server")
	ErrUnsupportedOS = fmt.Errorf("unsupported platform")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
