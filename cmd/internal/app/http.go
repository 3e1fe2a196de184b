package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ticketline/cmd/identity"
	authapi "ticketline/cmd/internal/auth/api"
	"ticketline/cmd/internal/auth/guard"
	"ticketline/cmd/internal/auth/session"
	"ticketline/cmd/internal/auth/state"
)

const maxLoginBodyBytes = 16 << 10

// sessionAPI serves the local session endpoints consumed by the UI.
type sessionAPI struct {
	log   *slog.Logger
	coord *session.Coordinator
	store *state.Store
}

// sessionResponse is the public session view. It never carries the access token.
type sessionResponse struct {
	state.Public
	Hydrated  bool       `json:"hydrated"`
	Decision  string     `json:"decision"`
	SessionID string     `json:"session_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func registerHTTP(
	mux *http.ServeMux,
	log *slog.Logger,
	store *state.Store,
	coord *session.Coordinator,
	dbPool *pgxpool.Pool,
	ws http.Handler,
	metrics http.Handler,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !store.Hydration().HasHydrated() {
			http.Error(w, "state not hydrated", http.StatusServiceUnavailable)
			return
		}

		if dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	api := &sessionAPI{log: log, coord: coord, store: store}
	mux.HandleFunc("GET /session", api.handleGet)
	mux.HandleFunc("POST /session/login", api.handleLogin)
	mux.HandleFunc("POST /session/refresh", api.handleRefresh)
	mux.HandleFunc("POST /session/logout", api.handleLogout)

	if ws != nil {
		mux.Handle("GET /ws/auth", ws)
	}
}

func (a *sessionAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	role, err := identity.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_role", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.view(role))
}

func (a *sessionAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	req.Email = identity.NormalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "email and password are required")
		return
	}

	if err := a.coord.Login(r.Context(), req.Email, req.Password); err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.view(identity.RoleNone))
}

func (a *sessionAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := a.coord.Refresh(r.Context()); err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.view(identity.RoleNone))
}

func (a *sessionAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	// The local session is cleared even when revocation fails.
	if err := a.coord.Logout(r.Context()); err != nil {
		a.log.Warn("http.logout.revoke_fail", "err", err)
	}
	writeJSON(w, http.StatusOK, a.view(identity.RoleNone))
}

func (a *sessionAPI) view(role identity.Role) sessionResponse {
	st := a.store.Snapshot()
	hydrated := a.store.Hydration().HasHydrated()

	resp := sessionResponse{
		Public:   st.Public(),
		Hydrated: hydrated,
		Decision: guard.Evaluate(st, hydrated, role).String(),
	}
	if d, ok := a.coord.Session(); ok {
		exp := d.ExpiresAt.UTC()
		resp.SessionID = d.ID
		resp.ExpiresAt = &exp
	}
	return resp
}

// classify maps coordinator and backend errors to an HTTP status and code.
func classify(err error) (int, string) {
	var se *authapi.StatusError
	switch {
	case errors.Is(err, session.ErrRenewalInFlight):
		return http.StatusConflict, "renewal_in_flight"
	case errors.Is(err, session.ErrNoRenewalCredential):
		return http.StatusUnauthorized, "no_renewal_credential"
	case errors.Is(err, session.ErrSessionCleared):
		return http.StatusConflict, "session_cleared"
	case authapi.IsUnauthorized(err):
		return http.StatusUnauthorized, "unauthorized"
	case identity.IsNotActive(err):
		return http.StatusForbidden, "not_active"
	case errors.Is(err, session.ErrInvalidGrant):
		return http.StatusBadGateway, "invalid_grant"
	case errors.As(err, &se) && se.Status >= 400 && se.Status < 500:
		code := se.Code
		if code == "" {
			code = "rejected"
		}
		return se.Status, code
	case errors.Is(err, authapi.ErrBackend):
		return http.StatusBadGateway, "backend_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: strings.TrimSpace(msg)}})
}
