// Package session owns the connection lifecycle.
//
// The [Orchestrator] runs the Disconnected, Connecting, Connected and
// Disconnecting state machine on top of the durable state store, the location
// directory cache, the backend and the proxy controller. Failed operations are
// remembered by [Recovery] so that a single retry action can re-run them.
package session
