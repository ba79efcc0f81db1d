package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/dashauth/internal/auth"
	"github.com/florianilch/dashauth/internal/authclient"
	"github.com/florianilch/dashauth/internal/metrics"
	"github.com/florianilch/dashauth/internal/proxy"
	"github.com/florianilch/dashauth/internal/session"
	"github.com/florianilch/dashauth/internal/tokens"
	"github.com/florianilch/dashauth/internal/tokenstore"
)

// watcher is implemented by token stores that can report changes made by other processes.
type watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// ErrReadOnlyStorage is returned when a session change is requested on storage that
// cannot keep it.
var ErrReadOnlyStorage = errors.New("token storage is read-only")

// App wires the session lifecycle to its storage, the backend and the gateway.
type App struct {
	cfg        *Config
	store      tokenstore.TokenStore
	closeStore func() error
	cache      *tokenstore.Cache
	manager    *auth.Manager
	metrics    *metrics.Recorder
	proxy      *proxy.Proxy
}

// New creates a new App instance. No I/O is performed until the session is first used.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, closeStore, err := cfg.Storage.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	a, err := newApp(cfg, store)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	a.closeStore = closeStore
	return a, nil
}

func newApp(cfg *Config, store tokenstore.TokenStore) (*App, error) {
	logger := slog.Default()

	cache, err := tokenstore.NewCache(store, tokenstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}

	transport := cfg.Backend.Transport()

	client, err := authclient.New(cfg.Backend.BaseURL,
		authclient.WithTransport(transport),
		authclient.WithTimeout(cfg.Backend.Timeout),
		authclient.WithPaths(cfg.Backend.AuthPath, cfg.Backend.RefreshPath, cfg.Backend.LogoutPath),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	sessions, err := session.NewStore(tokens.Initial(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	recorder := metrics.NewRecorder()

	manager, err := auth.NewManager(sessions, cache, client,
		auth.WithLogger(logger),
		auth.WithMetrics(recorder),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	gateway, err := proxy.New(manager, cfg.Backend.BaseURL,
		proxy.WithLogger(logger),
		proxy.WithTransport(transport),
		proxy.WithMetricsHandler(recorder.Handler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &App{
		cfg:        cfg,
		store:      store,
		closeStore: func() error { return nil },
		cache:      cache,
		manager:    manager,
		metrics:    recorder,
		proxy:      gateway,
	}, nil
}

// Manager returns the session manager, for one-shot CLI operations.
func (a *App) Manager() *auth.Manager {
	return a.manager
}

// RequireWritableStorage fails unless login and logout can persist their result.
func (a *App) RequireWritableStorage() error {
	if !a.cfg.Storage.Writable() {
		return fmt.Errorf("%w: storage type %q, configure file, keyring, redis or memory storage", ErrReadOnlyStorage, a.cfg.Storage.Type)
	}
	return nil
}

// Close releases storage connections.
func (a *App) Close() error {
	return a.closeStore()
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting gateway", "address", address, "backend", a.cfg.Backend.BaseURL)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("gateway startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "gateway runtime error", "error", err)
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if w, ok := a.store.(watcher); ok {
		g.Go(func() error {
			if err := w.Watch(gCtx, func() { a.syncFromStorage(gCtx) }); err != nil {
				// Cross-process sync is an optimization; the gateway keeps serving without it.
				slog.WarnContext(gCtx, "token storage watch stopped", "error", err)
			}
			return nil
		})
	}

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// syncFromStorage reloads the session after another process changed the stored tokens.
// Changes matching the in-memory session (typically our own writes) are ignored.
func (a *App) syncFromStorage(ctx context.Context) {
	if sameSession(a.cache.Retrieve(ctx), a.manager.Current()) {
		return
	}

	slog.InfoContext(ctx, "token storage changed by another process, reloading session")
	if err := a.manager.Reset(); err != nil {
		slog.ErrorContext(ctx, "failed to reset session", "error", err)
		return
	}
	// Hydrate right away so subscribers see the settled state instead of unknown.
	if _, err := a.manager.AccessToken(ctx); err != nil {
		slog.WarnContext(ctx, "failed to reload session", "error", err)
	}
}

func sameSession(stored, current *tokens.Set) bool {
	if stored == nil {
		return current.State() != tokens.StateAuthenticated
	}
	return stored.State() == current.State() && stored.AccessToken() == current.AccessToken()
}
