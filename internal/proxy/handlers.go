package proxy

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/dashauth/internal/authclient"
	"github.com/florianilch/dashauth/internal/session"
	"github.com/florianilch/dashauth/internal/tokens"
)

// RemoteLogoutHeader is set to "failed" when the backend could not invalidate the session.
const RemoteLogoutHeader = "X-Remote-Logout"

const (
	maxLoginBody = 64 << 10
	eventBuffer  = 8
)

var validate = validator.New()

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// StatusResponse describes the session. Authenticated is null while unknown.
type StatusResponse struct {
	Authenticated *bool      `json:"authenticated"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func statusOf(set *tokens.Set) StatusResponse {
	var resp StatusResponse
	authenticated, known := set.Authenticated()
	if !known {
		return resp
	}
	resp.Authenticated = &authenticated
	if authenticated {
		expiresAt := set.ExpiresAt().UTC()
		resp.ExpiresAt = &expiresAt
	}
	return resp
}

type handlers struct {
	sessions  Sessions
	heartbeat time.Duration
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		writeJSONError(ctx, w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSONError(ctx, w, "username and password are required", http.StatusBadRequest)
		return
	}

	if err := h.sessions.Authenticate(ctx, req.Username, req.Password); err != nil {
		if errors.Is(err, authclient.ErrUnauthorized) {
			writeJSONError(ctx, w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		slog.ErrorContext(ctx, "login failed", "error", err)
		writeJSONError(ctx, w, "authentication backend unavailable", http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The local session is gone either way; only the remote part can fail.
	if err := h.sessions.Logout(ctx); err != nil {
		slog.WarnContext(ctx, "remote logout failed", "error", err)
		w.Header().Set(RemoteLogoutHeader, "failed")
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.sessions.Current().State() == tokens.StateUnknown {
		// Resolves the unknown state from storage.
		if _, err := h.sessions.AccessToken(ctx); err != nil {
			slog.WarnContext(ctx, "session check failed", "error", err)
		}
	}

	writeJSON(ctx, w, statusOf(h.sessions.Current()), http.StatusOK)
}

// events streams a StatusResponse on connect and after every token swap.
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sse, err := NewSSEWriter(w)
	if err != nil {
		writeJSONError(ctx, w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Listeners run synchronously inside Swap and must never block it.
	updates := make(chan StatusResponse, eventBuffer)
	listener := session.NewListener(func(set *tokens.Set) {
		select {
		case updates <- statusOf(set):
		default:
			slog.WarnContext(ctx, "dropping session event for slow client")
		}
	})
	unsubscribe := h.sessions.Subscribe(listener)
	defer unsubscribe()

	if err := sse.WriteData(statusOf(h.sessions.Current())); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case status := <-updates:
			if err := sse.WriteData(status); err != nil {
				return
			}
		case <-ticker.C:
			if err := sse.WriteComment("keep-alive"); err != nil {
				return
			}
		}
	}
}
