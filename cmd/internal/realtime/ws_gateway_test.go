package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketline/cmd/identity"
	"ticketline/cmd/internal/auth/state"
	v1 "ticketline/shared/contracts/auth/v1"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	store *state.Store
	hub   *Hub
	srv   *httptest.Server
	url   string
}

func newHarness(t *testing.T, opts ...GatewayOption) *harness {
	t.Helper()

	store := state.NewStore(state.WithLogger(quietLogger()))
	require.NoError(t, store.Hydrate(context.Background()))

	hub := NewHub(quietLogger(), store)
	opts = append([]GatewayOption{
		WithOriginPolicy(false, []string{"http://localhost"}),
		WithHeartbeat(time.Hour, time.Second),
	}, opts...)
	gw := NewWSGateway(quietLogger(), hub, opts...)

	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})

	return &harness{
		store: store,
		hub:   hub,
		srv:   srv,
		url:   "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return data
}

func readEnv(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	var env v1.Envelope
	require.NoError(t, json.Unmarshal(readRaw(t, conn), &env))
	require.Equal(t, v1.Version, env.V)
	return env
}

func readState(t *testing.T, conn *websocket.Conn) v1.AuthStatePayload {
	t.Helper()
	env := readEnv(t, conn)
	require.Equal(t, v1.TypeAuthState, env.Type)
	var p v1.AuthStatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	env := newEnvelope(typ, payload, time.Now().UTC())
	b, err := json.Marshal(env)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, b))
}

func TestGateway_InitialStateOnConnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	conn := dial(t, h.url)
	p := readState(t, conn)

	assert.False(t, p.Authenticated)
	assert.True(t, p.Hydrated)
	assert.Nil(t, p.User)
	assert.Equal(t, "deny", p.Decision)
}

func TestGateway_StreamsStoreChangesWithoutToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	conn := dial(t, h.url+"?role=passenger")
	first := readState(t, conn)
	require.False(t, first.Authenticated)

	require.Eventually(t, func() bool { return h.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.store.Login(identity.User{
		ID:     "u1",
		Email:  "rider@example.com",
		Role:   identity.RolePassenger,
		Status: identity.StatusActive,
	}, "secret-access-token")

	raw := readRaw(t, conn)
	assert.NotContains(t, string(raw), "secret-access-token")

	var env v1.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	var p v1.AuthStatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))

	assert.True(t, p.Authenticated)
	require.NotNil(t, p.User)
	assert.Equal(t, "u1", p.User.ID)
	assert.Equal(t, []string{"passenger"}, p.Roles)
	assert.Equal(t, "content", p.Decision)
	assert.Greater(t, p.Version, first.Version)
}

func TestGateway_HelloChangesRequiredRole(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.store.Login(identity.User{
		ID:     "u1",
		Email:  "rider@example.com",
		Role:   identity.RolePassenger,
		Status: identity.StatusActive,
	}, "tok")

	conn := dial(t, h.url)
	require.Equal(t, "content", readState(t, conn).Decision)

	send(t, conn, v1.TypeHello, v1.HelloPayload{RequiredRole: "admin"})

	ack := readEnv(t, conn)
	require.Equal(t, v1.TypeHelloAck, ack.Type)
	var ap v1.HelloAckPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &ap))
	assert.Equal(t, "admin", ap.RequiredRole)
	assert.NotEmpty(t, ap.SessionID)

	assert.Equal(t, "deny", readState(t, conn).Decision)
}

func TestGateway_UnsupportedTypeReturnsError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	conn := dial(t, h.url)
	readState(t, conn)

	send(t, conn, "subscribe", map[string]string{"x": "y"})

	env := readEnv(t, conn)
	require.Equal(t, v1.TypeError, env.Type)
	var p v1.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "bad_envelope", p.Code)
}

func TestGateway_InvalidRoleQuery(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, h.url+"?role=pilot", &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_RejectsMissingSubprotocol(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, h.url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusProtocolError, websocket.CloseStatus(err))
}

func TestGateway_RejectsDisallowedOrigin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithOriginPolicy(true, []string{"http://localhost"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hdr := http.Header{}
	hdr.Set("Origin", "http://evil.example")
	_, resp, err := websocket.Dial(ctx, h.url, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   hdr,
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGateway_RateLimitClosesConnection(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithRateLimit(2, time.Minute))

	conn := dial(t, h.url)
	readState(t, conn)

	for range 3 {
		send(t, conn, v1.TypeHello, v1.HelloPayload{})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
			return
		}
	}
}

func TestGateway_LeaveOnDisconnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	conn := dial(t, h.url)
	readState(t, conn)
	require.Eventually(t, func() bool { return h.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
	require.Eventually(t, func() bool { return h.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	g := &WSGateway{originRequired: true, allowedOrigins: []string{"http://localhost", "https://app.example.com"}}

	cases := []struct {
		origin string
		ok     bool
	}{
		{"", false},
		{"http://localhost", true},
		{"http://localhost:5173", true},
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws/auth", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		err := g.enforceOrigin(r)
		assert.Equal(t, tc.ok, err == nil, "origin %q", tc.origin)
	}

	g.originRequired = false
	assert.NoError(t, g.enforceOrigin(httptest.NewRequest(http.MethodGet, "/ws/auth", nil)))
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{
		"http://localhost:3000", "http://LOCALHOST", "*", "https://app.example.com", "",
	})
	assert.Equal(t, []string{"app.example.com", "localhost"}, got)
}
