package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// ErrInvalidTokenSet is returned when a token set cannot be constructed or swapped in.
var ErrInvalidTokenSet = errors.New("invalid token set")

// AuthState is the tri-state authentication flag of a Set.
type AuthState int

const (
	// StateUnknown means storage has not been consulted yet.
	StateUnknown AuthState = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s AuthState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// Params holds the fields for New.
type Params struct {
	AccessToken  string
	RefreshToken string
	State        AuthState
	ExpiresAt    time.Time
}

// Set is an immutable snapshot of the session credentials.
type Set struct {
	accessToken  string
	refreshToken string
	state        AuthState
	expiresAt    time.Time
}

// New validates p and builds a Set from it.
func New(p Params) (*Set, error) {
	switch p.State {
	case StateUnknown, StateAuthenticated, StateUnauthenticated:
	default:
		return nil, fmt.Errorf("%w: unsupported state %d", ErrInvalidTokenSet, int(p.State))
	}
	if p.State == StateAuthenticated && p.AccessToken == "" {
		return nil, fmt.Errorf("%w: authenticated set without access token", ErrInvalidTokenSet)
	}

	return &Set{
		accessToken:  p.AccessToken,
		refreshToken: p.RefreshToken,
		state:        p.State,
		expiresAt:    p.ExpiresAt,
	}, nil
}

// Initial returns the set a process starts with: state unknown, expiring now.
func Initial(now time.Time) *Set {
	return &Set{state: StateUnknown, expiresAt: now}
}

// Unauthenticated returns a set with credentials cleared, as produced by logout.
func Unauthenticated(now time.Time) *Set {
	return &Set{state: StateUnauthenticated, expiresAt: now}
}

// FromOAuth2 converts a backend token response into an authenticated Set.
//
// A zero Expiry falls back to the exp claim of a JWT access token. Without either the
// set is considered expired right away, so the next access triggers a refresh.
func FromOAuth2(tok *oauth2.Token) (*Set, error) {
	if tok == nil {
		return nil, fmt.Errorf("%w: nil token response", ErrInvalidTokenSet)
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = jwtExpiry(tok.AccessToken)
	}

	return New(Params{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		State:        StateAuthenticated,
		ExpiresAt:    expiresAt,
	})
}

// jwtExpiry reads the exp claim without verifying the signature. The backend is the
// only party that validates these tokens; the client merely schedules refreshes.
func jwtExpiry(accessToken string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func (s *Set) AccessToken() string { return s.accessToken }
func (s *Set) RefreshToken() string { return s.refreshToken }
func (s *Set) State() AuthState { return s.state }
func (s *Set) ExpiresAt() time.Time { return s.expiresAt }

// Authenticated reports the flag and whether it is known at all.
func (s *Set) Authenticated() (authenticated bool, known bool) {
	return s.state == StateAuthenticated, s.state != StateUnknown
}

// Expired reports whether the access token is no longer usable at now.
func (s *Set) Expired(now time.Time) bool {
	return !now.Before(s.expiresAt)
}

// Valid reports whether the set holds an authenticated, unexpired access token.
func (s *Set) Valid(now time.Time) bool {
	return s.state == StateAuthenticated && !s.Expired(now)
}

// WithRefreshToken returns a copy carrying refreshToken.
func (s *Set) WithRefreshToken(refreshToken string) *Set {
	out := *s
	out.refreshToken = refreshToken
	return &out
}

// String implements fmt.Stringer with credentials redacted.
func (s *Set) String() string {
	return fmt.Sprintf(
		"TokenSet<state: %s, accessToken: %s, refreshToken: %s, expiresAt: %s>",
		s.state,
		redact(s.accessToken),
		redact(s.refreshToken),
		s.expiresAt.UTC().Format(time.RFC3339),
	)
}

func redact(v string) string {
	if v == "" {
		return "none"
	}
	return "redacted"
}
