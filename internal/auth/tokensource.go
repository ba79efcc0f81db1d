package auth

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// ErrNotAuthenticated is returned by TokenSource when there is no session to use.
var ErrNotAuthenticated = errors.New("not authenticated")

// managerTokenSource adapts Manager to oauth2.TokenSource.
type managerTokenSource struct {
	ctx     context.Context
	manager *Manager
}

// Compile-time check to ensure managerTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*managerTokenSource)(nil)

// TokenSource returns an oauth2.TokenSource backed by the Manager.
//
// oauth2.TokenSource.Token() has no context parameter (legacy interface limitation),
// so ctx is bound here and used for every refresh and storage access.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, manager: m}
}

// Token returns the current access token, refreshing it if expired.
func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	accessToken, err := s.manager.AccessToken(s.ctx)
	if err != nil {
		return nil, err
	}
	if accessToken == "" {
		return nil, ErrNotAuthenticated
	}

	return &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}, nil
}
