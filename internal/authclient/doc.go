// Package authclient talks to the backend authentication API.
//
// Three endpoints are used, with configurable paths:
//
//	GET  /auth         Basic credentials -> token response
//	POST /auth/tokens  Bearer access token, {"refresh_token"} -> token response
//	POST /auth/logout  Bearer access token, {"refresh_token"} -> invalidation
//
// Token responses have the shape {"access_token", "refresh_token", "expires_at"}, with
// expires_at in seconds since the epoch, and are returned as *oauth2.Token.
//
// # Custom Base Transport
//
// Configure a custom base transport (e.g., for proxies or TLS settings):
//
//	c, err := authclient.New(baseURL, authclient.WithTransport(customTransport))
package authclient
