package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/dashauth/internal/auth"
	"github.com/florianilch/dashauth/internal/authclient"
	"github.com/florianilch/dashauth/internal/session"
	"github.com/florianilch/dashauth/internal/tokens"
)

// DefaultHeartbeat is the interval between keep-alive comments on event streams.
const DefaultHeartbeat = 30 * time.Second

// Sessions is the session lifecycle the gateway drives.
// *auth.Manager implements it.
type Sessions interface {
	AccessToken(ctx context.Context) (string, error)
	Authenticate(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
	Current() *tokens.Set
	Subscribe(l *session.Listener) (unsubscribe func())
	TokenSource(ctx context.Context) oauth2.TokenSource
}

// Option configures the gateway.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	metrics   http.Handler
	transport http.RoundTripper
	heartbeat time.Duration
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetricsHandler exposes h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(c *config) {
		c.metrics = h
	}
}

// WithTransport sets the base transport for upstream requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *config) {
		c.transport = rt
	}
}

// WithHeartbeat sets the keep-alive interval of /auth/events.
func WithHeartbeat(d time.Duration) Option {
	return func(c *config) {
		c.heartbeat = d
	}
}

// Proxy is the local gateway between the dashboard and the monitoring backend.
type Proxy struct {
	handler http.Handler
	server  *http.Server
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates a gateway that forwards to baseURL with the session's bearer token attached.
func New(sessions Sessions, baseURL string, opts ...Option) (*Proxy, error) {
	if sessions == nil {
		return nil, errors.New("sessions cannot be nil")
	}

	upstream, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL: %q must be absolute", baseURL)
	}

	cfg := &config{
		logger:    slog.Default(),
		transport: http.DefaultTransport,
		heartbeat: DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// Client headers are filtered before the bearer token is attached.
	// The token source is bound to a background context so a refresh triggered by one
	// request is not aborted when that client goes away; the backend client carries its own timeout.
	transport := &UpstreamTransport{
		Base: &oauth2.Transport{
			Source: sessions.TokenSource(context.Background()),
			Base:   cfg.transport,
		},
	}

	reverseProxyHandler := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		// FlushInterval: -1 flushes as soon as the backend does, so streamed
		// responses (subscriptions, SSE) reach the dashboard without delay.
		FlushInterval: -1,
		Transport:     transport,
		ErrorHandler:  upstreamError,
	}

	h := &handlers{sessions: sessions, heartbeat: cfg.heartbeat}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", h.login)
	mux.HandleFunc("POST /auth/logout", h.logout)
	mux.HandleFunc("GET /auth/status", h.status)
	mux.HandleFunc("GET /auth/events", h.events)
	if cfg.metrics != nil {
		mux.Handle("GET /metrics", cfg.metrics)
	}
	mux.Handle("/", reverseProxyHandler)

	return &Proxy{
		handler: applyMiddlewares(mux,
			TraceContext,
			Logging(cfg.logger),
			Recovery,
		),
	}, nil
}

// upstreamError maps transport failures to JSON responses.
func upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		writeJSONError(ctx, w, "not authenticated", http.StatusUnauthorized)
	case errors.Is(err, authclient.ErrUnauthorized):
		slog.WarnContext(ctx, "session refresh rejected", "error", err)
		writeJSONError(ctx, w, "session expired", http.StatusUnauthorized)
	case errors.Is(err, context.Canceled):
		// Client went away; nobody is left to read a response.
	default:
		slog.ErrorContext(ctx, "upstream request failed", "error", err)
		writeJSONError(ctx, w, "upstream unavailable", http.StatusBadGateway)
	}
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second, // Inbound: read entire client request
		WriteTimeout: 15 * time.Minute, // Inbound: allows long event streams, still bounded
		IdleTimeout:  90 * time.Second, // Inbound: keep-alive wait for next request
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
