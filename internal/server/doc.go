// Package server exposes the session controller over a local HTTP control API.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first). [Logging] records one line
// per request and [Recover] turns handler panics into 500 responses.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Control API
//
// [ControlHandler] registers the routes presentation layers use:
//
//	GET  /status              session snapshot
//	POST /toggle              connect or disconnect
//	POST /connect             connect, optionally to {"id": "..."}
//	POST /disconnect          disconnect
//	GET  /locations           cached directory
//	POST /locations/select    {"id": "..."} or {"smart": true}
//	POST /locations/refresh   refetch the directory
//	POST /retry               re-run the last failed operation
//	GET  /history             persisted outcome history
//	GET  /events              server-sent stream of outcome events
//
// Failed operations answer 502 with the failure kind, source and message so the caller can show the
// network error view. A request arriving while another operation is in flight answers 409.
//
// # OAuth Callback Handler
//
// [OAuthHandler] completes the identity provider's authorization code flow for `evpn login`. It
// validates the state parameter, exchanges the code and delivers exactly one result.
package server
