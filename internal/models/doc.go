// Package models defines the domain values shared by the session controller, the stores and the presentation layers.
//
// The package contains three groups of types:
//
// 1. Directory values, produced by the backend and cached locally
//   - [Location] : a selectable endpoint with its country
//   - [Country] / [LocationEntry] : the grouped directory form
//   - [Directory] : the ordered catalog, replaced wholesale on refresh
//
// 2. Proxy values, consumed by the proxy controller
//   - [ProxyConfiguration] : fixed or direct mode with endpoint and [Credentials]
//
// 3. Session values
//   - [Entitlement] : the opaque subscription object, checked for presence only
//   - [User] : profile returned by login
//   - [Badge] : the indicator text and color
//
// Values are immutable once constructed; every mutation happens in the session package.
package models
