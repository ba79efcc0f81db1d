// Package tokens defines the session token set shared by every other package.
//
// A Set is immutable: state transitions (login, refresh, logout, hydration from
// storage) always build a new Set and swap it in, never mutate one in place.
//
// The authentication flag is tri-state. StateUnknown is the initial state and means
// "persistent storage has not been consulted yet"; it must not be read as logged out.
package tokens
