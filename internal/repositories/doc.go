// Package repositories implements SQLite persistence for the session controller.
//
// Key Implementations:
//   - [StateRepository] : the durable key/value store for session flags, the cached entitlement,
//     the login session and the last failed operation
//   - [DirectoryRepository] : the endpoint directory cache, always replaced wholesale
//   - [EventRepository] : append-only outcome history
//
// Multi-key writes that describe one state change (for example connected plus endpoint plus badge)
// go through a single transaction so readers never observe half of a change.
package repositories
