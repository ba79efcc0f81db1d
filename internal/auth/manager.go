package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/dashauth/internal/metrics"
	"github.com/florianilch/dashauth/internal/session"
	"github.com/florianilch/dashauth/internal/tokens"
	"github.com/florianilch/dashauth/internal/tokenstore"
)

// Backend is the authentication API the Manager calls.
// *authclient.Client implements it.
type Backend interface {
	Authenticate(ctx context.Context, username, password string) (*oauth2.Token, error)
	Refresh(ctx context.Context, accessToken, refreshToken string) (*oauth2.Token, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
}

// storageTimeout bounds storage writes that outlive the caller's context.
const storageTimeout = 5 * time.Second

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics records lifecycle events on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

// Manager owns the token lifecycle of one session.
type Manager struct {
	store   *session.Store
	cache   *tokenstore.Cache
	backend Backend

	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewManager creates a Manager. The store must be the only one the process uses for
// this session; the Manager is its only writer.
func NewManager(store *session.Store, cache *tokenstore.Cache, backend Backend, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("missing session store")
	}
	if cache == nil {
		return nil, fmt.Errorf("missing token cache")
	}
	if backend == nil {
		return nil, fmt.Errorf("missing auth backend")
	}

	m := &Manager{
		store:   store,
		cache:   cache,
		backend: backend,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AccessToken returns a usable access token, refreshing an expired one first.
// It returns "" and a nil error when there is no authenticated session.
//
// A failed refresh is returned as is and leaves the session untouched; a transient
// backend failure must not log the user out.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	current := m.store.Get()

	if current.State() == tokens.StateUnknown {
		hydrated, err := m.hydrate(ctx)
		if err != nil {
			return "", err
		}
		current = hydrated
	}

	if current.State() != tokens.StateAuthenticated {
		return "", nil
	}

	if !current.Expired(m.now()) {
		return current.AccessToken(), nil
	}

	refreshed, err := m.refresh(ctx, current)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken(), nil
}

// Authenticate logs in with username and password. It does nothing when the session
// is already authenticated. On failure the session is left unchanged.
func (m *Manager) Authenticate(ctx context.Context, username, password string) error {
	if authenticated, _ := m.store.Get().Authenticated(); authenticated {
		return nil
	}

	tok, err := m.backend.Authenticate(ctx, username, password)
	m.metrics.ObserveOperation("authenticate", err)
	if err != nil {
		return fmt.Errorf("authenticating %s: %w", username, err)
	}

	next, err := tokens.FromOAuth2(tok)
	if err != nil {
		return fmt.Errorf("authenticating %s: %w", username, err)
	}

	if err := m.swap(next); err != nil {
		return err
	}
	m.persist(ctx, next)

	m.logger.InfoContext(ctx, "authenticated", "user", username, "expires_at", next.ExpiresAt())
	return nil
}

// Logout ends the session. The backend is asked to invalidate the refresh token, but
// the local session is cleared whatever the outcome. The returned error reports only
// the remote invalidation.
//
// Local storage is cleared even when ctx is already cancelled or past its deadline.
func (m *Manager) Logout(ctx context.Context) error {
	localCtx, cancel := detached(ctx)
	defer cancel()

	current := m.store.Get()
	if current.State() == tokens.StateUnknown {
		// A fresh process still holds the persisted credentials worth invalidating.
		if cached := m.cache.Retrieve(localCtx); cached != nil {
			current = cached
		}
	}

	var remoteErr error
	if current.AccessToken() != "" || current.RefreshToken() != "" {
		remoteErr = m.backend.Logout(ctx, current.AccessToken(), current.RefreshToken())
		m.metrics.ObserveOperation("logout", remoteErr)
		if remoteErr != nil {
			m.logger.WarnContext(ctx, "remote token invalidation failed", "error", remoteErr)
			remoteErr = fmt.Errorf("invalidating refresh token: %w", remoteErr)
		}
	}

	if err := m.swap(tokens.Unauthenticated(m.now())); err != nil {
		return errors.Join(remoteErr, err)
	}
	if err := m.cache.Clear(localCtx); err != nil {
		m.metrics.ObservePersistFailure()
		m.logger.ErrorContext(ctx, "failed to clear persisted tokens", "error", err)
	}

	m.logger.InfoContext(ctx, "logged out")
	return remoteErr
}

// Current returns the token set currently in memory.
func (m *Manager) Current() *tokens.Set {
	return m.store.Get()
}

// Reset forgets the in-memory session so the next AccessToken call reloads it from
// persistent storage. Used when another process changed the stored tokens.
func (m *Manager) Reset() error {
	return m.swap(tokens.Initial(m.now()))
}

// Subscribe registers l for every token set change.
func (m *Manager) Subscribe(l *session.Listener) (unsubscribe func()) {
	return m.store.Subscribe(l)
}

// Unsubscribe removes l.
func (m *Manager) Unsubscribe(l *session.Listener) {
	m.store.Unsubscribe(l)
}

// SubscribeOnce registers fn for the next token set change only.
func (m *Manager) SubscribeOnce(fn func(*tokens.Set)) (unsubscribe func()) {
	return m.store.SubscribeOnce(fn)
}

// hydrate loads the persisted session. Only authenticated sets are restored; anything
// else settles the state to unauthenticated.
func (m *Manager) hydrate(ctx context.Context) (*tokens.Set, error) {
	next := m.cache.Retrieve(ctx)
	hit := next != nil && next.State() == tokens.StateAuthenticated
	m.metrics.ObserveHydration(hit)
	if !hit {
		next = tokens.Unauthenticated(m.now())
	}

	if err := m.swap(next); err != nil {
		return nil, err
	}
	m.logger.DebugContext(ctx, "hydrated session from storage", "tokens", next.String())
	return next, nil
}

func (m *Manager) refresh(ctx context.Context, current *tokens.Set) (*tokens.Set, error) {
	tok, err := m.backend.Refresh(ctx, current.AccessToken(), current.RefreshToken())
	m.metrics.ObserveOperation("refresh", err)
	if err != nil {
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}

	next, err := tokens.FromOAuth2(tok)
	if err != nil {
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}
	// The backend may keep the refresh token and omit it from the response.
	if next.RefreshToken() == "" {
		next = next.WithRefreshToken(current.RefreshToken())
	}

	if err := m.swap(next); err != nil {
		return nil, err
	}
	m.persist(ctx, next)

	m.logger.DebugContext(ctx, "refreshed access token", "expires_at", next.ExpiresAt())
	return next, nil
}

func (m *Manager) swap(next *tokens.Set) error {
	if err := m.store.Swap(next); err != nil {
		return fmt.Errorf("swapping token set: %w", err)
	}
	m.metrics.ObserveSwap()
	return nil
}

// persist writes next to storage. In-memory state stays authoritative when storage
// is unavailable, so failures are logged rather than returned. A swapped set is
// persisted even if ctx ends meanwhile.
func (m *Manager) persist(ctx context.Context, next *tokens.Set) {
	ctx, cancel := detached(ctx)
	defer cancel()

	if err := m.cache.Persist(ctx, next); err != nil {
		m.metrics.ObservePersistFailure()
		m.logger.ErrorContext(ctx, "failed to persist tokens", "error", err)
	}
}

// detached keeps ctx's values but drops its cancellation, bounded by storageTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storageTimeout)
}
