// Package auth manages the session token lifecycle: login, transparent refresh of
// expired access tokens, logout, and persistence of the token set.
//
// Manager is the single entry point other code depends on:
//
//	m, _ := auth.NewManager(store, cache, client)
//	token, err := m.AccessToken(ctx) // "" when nobody is logged in
//
// # Token Sources
//
// TokenSource adapts a Manager to oauth2.TokenSource, so it can back an oauth2.Transport:
//
//	transport := &oauth2.Transport{Source: m.TokenSource(ctx)}
//
// Concurrent callers that find the same expired token each issue their own refresh
// request; the last swap wins.
package auth
