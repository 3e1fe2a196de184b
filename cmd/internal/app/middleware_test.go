package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is a log sink shared with server goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// entries decodes the JSON log lines written so far.
func (b *lockedBuffer) entries(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func requestEntry(t *testing.T, b *lockedBuffer, path string) (map[string]any, bool) {
	t.Helper()
	for _, e := range b.entries(t) {
		if e["msg"] == "http.request" && e["path"] == path {
			return e, true
		}
	}
	return nil, false
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: http.StatusSwitchingProtocols, wantLevel: slog.LevelInfo, wantResult: "upgrade", wantClass: "1xx"},
		{status: http.StatusOK, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: http.StatusFound, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: http.StatusUnauthorized, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: http.StatusServiceUnavailable, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
		{status: 42, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "unknown"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		assert.Equal(t, tc.wantLevel, level, "status %d", tc.status)
		assert.Equal(t, tc.wantResult, result, "status %d", tc.status)
		assert.Equal(t, tc.wantClass, statusClass(tc.status), "status %d", tc.status)
	}
}

func TestWithRequestLogging_SessionRoute(t *testing.T) {
	t.Parallel()

	var sink lockedBuffer
	log := slog.New(slog.NewJSONHandler(&sink, nil))

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	}), log)

	req := httptest.NewRequest(http.MethodPost, "/session/login", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	e, ok := requestEntry(t, &sink, "/session/login")
	require.True(t, ok, "request line logged")
	assert.Equal(t, "WARN", e["level"])
	assert.Equal(t, "POST", e["method"])
	assert.EqualValues(t, http.StatusUnauthorized, e["status"])
	assert.Equal(t, "4xx", e["status_class"])
	assert.Equal(t, "client_error", e["result"])
	assert.EqualValues(t, rr.Body.Len(), e["bytes"])
}

func TestWithRequestLogging_StreamUpgrade(t *testing.T) {
	t.Parallel()

	var sink lockedBuffer
	log := slog.New(slog.NewJSONHandler(&sink, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/auth", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = c.Close(websocket.StatusNormalClosure, "bye")
	})
	srv := httptest.NewServer(WithRequestLogging(mux, log))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/auth", nil)
	require.NoError(t, err, "logging writer keeps the connection hijackable")
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	require.Eventually(t, func() bool {
		_, ok := requestEntry(t, &sink, "/ws/auth")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	e, _ := requestEntry(t, &sink, "/ws/auth")
	assert.EqualValues(t, http.StatusSwitchingProtocols, e["status"])
	assert.Equal(t, "upgrade", e["result"])
	assert.Equal(t, "1xx", e["status_class"])
}

func TestWithCORS_SessionPreflight(t *testing.T) {
	t.Parallel()

	cfg := Config{
		CORSAllowedOrigins:   []string{"https://book.ticketline.test"},
		CORSAllowCredentials: true,
		CORSMaxAgeSeconds:    600,
	}
	h := WithCORS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		assert.Fail(t, "preflight must not reach the session handler")
	}), cfg, discardLog())

	req := httptest.NewRequest(http.MethodOptions, "/session/refresh", nil)
	req.Header.Set("Origin", "https://book.ticketline.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://book.ticketline.test", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "GET, POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rr.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", rr.Header().Get("Access-Control-Max-Age"))
}

func TestWithCORS_Origins(t *testing.T) {
	t.Parallel()

	cfg := Config{CORSAllowedOrigins: []string{"https://book.ticketline.test", "http://localhost:*"}}

	cases := []struct {
		name   string
		origin string
		want   int
	}{
		{name: "no origin header passes", origin: "", want: http.StatusOK},
		{name: "listed origin", origin: "https://book.ticketline.test", want: http.StatusOK},
		{name: "dev server on any port", origin: "http://localhost:5173", want: http.StatusOK},
		{name: "wildcard port keeps scheme", origin: "https://localhost:5173", want: http.StatusForbidden},
		{name: "foreign origin", origin: "https://evil.example.com", want: http.StatusForbidden},
		{name: "malformed origin", origin: "null", want: http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			called := false
			h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}), cfg, discardLog())

			req := httptest.NewRequest(http.MethodGet, "/session?role=admin", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tc.want, rr.Code)
			assert.Equal(t, tc.want == http.StatusOK, called)
			if tc.origin != "" && tc.want == http.StatusOK {
				assert.Equal(t, tc.origin, rr.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestWithSecurityHeaders(t *testing.T) {
	t.Parallel()

	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/session", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rr.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"), "session state is never cached")
}
