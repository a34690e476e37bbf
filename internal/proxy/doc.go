// Package proxy owns the single system-wide proxy configuration.
//
// # Controller
//
// [Controller] is the only writer of the active configuration. Apply commits a configuration to a
// [Facility] and then runs a reachability [Prober] through it. A failed probe is reported as an
// [ApplyError] with Committed set; the committed configuration is left in place and the caller
// decides whether to clear it. Clear never reports failure: errors are logged and dropped, so a
// stale proxy is always attempted to be removed even when the facility misbehaves.
//
// # Facilities
//
// A [Facility] is the platform primitive that sets or clears the proxy:
//   - [FileFacility] writes the proxy settings document consumed by the browser extension host
//   - [SystemFacility] drives gsettings (linux), networksetup (darwin) or netsh winhttp (windows)
//   - [NopFacility] only records the configuration, for dry runs
//
// # Credentials
//
// [DeriveCredentials] maps an endpoint host to its credential pair through a static [CredentialTable].
package proxy
