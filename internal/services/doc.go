// Package services implements the client side of the remote backend that issues endpoint addresses,
// the endpoint directory and entitlement data.
//
// # Backend
//
// [BackendService] speaks JSON to the backend. Every request carries the API key in the x-api-key header
// and waits on a [rate.Limiter] so that a user hammering connect cannot flood the backend.
// Authenticated calls wrap the base client with an [oauth2.StaticTokenSource] holding the durable
// session token, which adds the Authorization: Bearer header.
//
// Non-2xx responses are reported as [shared.ErrAPIRequest]; 401 and 403 as [shared.ErrNotAuthenticated].
// A response with success=false is a soft failure and is mapped per call (empty directory, no address).
//
// # Session tokens
//
// [CheckToken] inspects a session token without verifying its signature, only to avoid sending
// a request that is certain to be rejected. Opaque tokens are accepted as is.
//
// # Identity provider
//
// [IdentityProvider] wraps the [oauth2.Config] used by the sign-in flow; its access token is what
// login/chrome exchanges for a session. [BackendService.RevokeIdentity] calls the provider's revoke
// endpoint on logout.
package services
