package proxy_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/dashauth/internal/auth"
	"github.com/florianilch/dashauth/internal/authclient"
	"github.com/florianilch/dashauth/internal/metrics"
	"github.com/florianilch/dashauth/internal/proxy"
	"github.com/florianilch/dashauth/internal/session"
	"github.com/florianilch/dashauth/internal/tokens"
	"github.com/florianilch/dashauth/internal/tokenstore"
)

// monitoringBackend serves both the auth API and a data endpoint, like the real backend.
type monitoringBackend struct {
	mu           sync.Mutex
	authStatus   int
	logoutStatus int
	apiHeaders   []http.Header
}

func (b *monitoringBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.URL.Path {
	case "/auth":
		if b.authStatus != 0 {
			w.WriteHeader(b.authStatus)
			return
		}
		user, pass, _ := r.BasicAuth()
		if user != "admin" || pass != "P@ssw0rd!" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		future := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
		_, _ = io.WriteString(w, `{"access_token":"abc","refresh_token":"r1","expires_at":`+future+`}`)
	case "/auth/logout":
		if b.logoutStatus != 0 {
			w.WriteHeader(b.logoutStatus)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "/graphql":
		b.apiHeaders = append(b.apiHeaders, r.Header.Clone())
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"hosts":[]}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *monitoringBackend) failWith(authStatus, logoutStatus int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authStatus = authStatus
	b.logoutStatus = logoutStatus
}

func (b *monitoringBackend) recordedAPIHeaders() []http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.apiHeaders
}

type gateway struct {
	backend *monitoringBackend
	store   *session.Store
	server  *httptest.Server
}

func newGateway(t *testing.T, opts ...proxy.Option) *gateway {
	t.Helper()

	backend := &monitoringBackend{}
	backendServer := httptest.NewServer(backend)
	t.Cleanup(backendServer.Close)

	client, err := authclient.New(backendServer.URL)
	require.NoError(t, err)
	store, err := session.NewStore(tokens.Initial(time.Now()))
	require.NoError(t, err)
	cache, err := tokenstore.NewCache(tokenstore.NewMemoryStore())
	require.NoError(t, err)
	manager, err := auth.NewManager(store, cache, client)
	require.NoError(t, err)

	p, err := proxy.New(manager, backendServer.URL, opts...)
	require.NoError(t, err)

	server := httptest.NewServer(p)
	t.Cleanup(server.Close)

	return &gateway{backend: backend, store: store, server: server}
}

func (g *gateway) login(t *testing.T, username, password string) *http.Response {
	t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	res, err := http.Post(g.server.URL+"/auth/login", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func (g *gateway) status(t *testing.T) map[string]any {
	t.Helper()
	res, err := http.Get(g.server.URL + "/auth/status")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var status map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	return status
}

func TestNewRejectsRelativeUpstream(t *testing.T) {
	_, err := proxy.New(nil, "http://backend")
	assert.Error(t, err)

	store, err := session.NewStore(tokens.Initial(time.Now()))
	require.NoError(t, err)
	cache, err := tokenstore.NewCache(tokenstore.NewMemoryStore())
	require.NoError(t, err)
	client, err := authclient.New("http://backend")
	require.NoError(t, err)
	manager, err := auth.NewManager(store, cache, client)
	require.NoError(t, err)

	_, err = proxy.New(manager, "/graphql")
	assert.Error(t, err)
}

func TestStatusResolvesUnknownSession(t *testing.T) {
	g := newGateway(t)

	status := g.status(t)
	assert.Equal(t, false, status["authenticated"])
	assert.NotContains(t, status, "expires_at")
	assert.Equal(t, tokens.StateUnauthenticated, g.store.Get().State())
}

func TestLoginAttachesBearerToProxiedRequests(t *testing.T) {
	g := newGateway(t)

	res := g.login(t, "admin", "P@ssw0rd!")
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	status := g.status(t)
	assert.Equal(t, true, status["authenticated"])
	assert.Contains(t, status, "expires_at")

	req, err := http.NewRequest(http.MethodPost, g.server.URL+"/graphql", strings.NewReader(`{"query":"{hosts{id}}"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer from-browser")
	req.Header.Set("Cookie", "session=browser")

	apiRes, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer apiRes.Body.Close()
	body, err := io.ReadAll(apiRes.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, apiRes.StatusCode)
	assert.JSONEq(t, `{"data":{"hosts":[]}}`, string(body))

	headers := g.backend.recordedAPIHeaders()
	require.Len(t, headers, 1)
	assert.Equal(t, "Bearer abc", headers[0].Get("Authorization"))
	assert.Empty(t, headers[0].Get("Cookie"))
	assert.NotEmpty(t, headers[0].Get(proxy.RequestIDHeader))
	assert.Equal(t, "application/json", headers[0].Get("Content-Type"))
}

func TestProxyWithoutSessionIsUnauthorized(t *testing.T) {
	g := newGateway(t)

	res, err := http.Get(g.server.URL + "/graphql")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.JSONEq(t, `{"error":"not authenticated"}`, string(body))
	assert.Empty(t, g.backend.recordedAPIHeaders())
}

func TestLoginErrors(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		backendStatus int
		want          int
	}{
		{name: "wrong password", body: `{"username":"admin","password":"nope"}`, want: http.StatusUnauthorized},
		{name: "missing password", body: `{"username":"admin"}`, want: http.StatusBadRequest},
		{name: "malformed body", body: `{"username":`, want: http.StatusBadRequest},
		{name: "backend down", body: `{"username":"admin","password":"P@ssw0rd!"}`, backendStatus: http.StatusServiceUnavailable, want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateway(t)
			g.backend.failWith(tt.backendStatus, 0)

			res, err := http.Post(g.server.URL+"/auth/login", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tt.want, res.StatusCode)
			assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
			assert.NotEqual(t, tokens.StateAuthenticated, g.store.Get().State())
		})
	}
}

func TestLogout(t *testing.T) {
	tests := []struct {
		name          string
		logoutStatus  int
		wantRemoteHdr string
	}{
		{name: "remote invalidation succeeds"},
		{name: "remote invalidation fails", logoutStatus: http.StatusInternalServerError, wantRemoteHdr: "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateway(t)
			require.Equal(t, http.StatusNoContent, g.login(t, "admin", "P@ssw0rd!").StatusCode)
			g.backend.failWith(0, tt.logoutStatus)

			res, err := http.Post(g.server.URL+"/auth/logout", "", nil)
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, http.StatusNoContent, res.StatusCode)
			assert.Equal(t, tt.wantRemoteHdr, res.Header.Get(proxy.RemoteLogoutHeader))
			assert.Equal(t, false, g.status(t)["authenticated"])
		})
	}
}

func TestEventsStreamSessionChanges(t *testing.T) {
	g := newGateway(t, proxy.WithHeartbeat(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.server.URL+"/auth/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream;charset=utf-8", res.Header.Get("Content-Type"))

	events := bufio.NewReader(res.Body)
	nextEvent := func() string {
		for {
			line, err := events.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				return strings.TrimSpace(data)
			}
		}
	}

	assert.JSONEq(t, `{"authenticated":null}`, nextEvent())

	require.Eventually(t, func() bool { return g.store.Len() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, http.StatusNoContent, g.login(t, "admin", "P@ssw0rd!").StatusCode)

	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(nextEvent()), &status))
	assert.Equal(t, true, status["authenticated"])
	assert.Contains(t, status, "expires_at")

	// Disconnecting removes the subscription.
	cancel()
	_ = res.Body.Close()
	assert.Eventually(t, func() bool { return g.store.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	recorder := metrics.NewRecorder()
	g := newGateway(t, proxy.WithMetricsHandler(recorder.Handler()))
	recorder.ObserveSwap()

	res, err := http.Get(g.server.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "dashauth_token_swaps_total 1")
}

func TestRecoveryTurnsPanicsInto500(t *testing.T) {
	handler := proxy.Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
