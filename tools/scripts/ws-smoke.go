// Package main provides a CI-friendly smoke test for the ticketline auth-state stream.
//
// It validates:
//   - handshake + subprotocol selection
//   - initial auth_state frame on connect
//   - hello/ack with a required role and the re-evaluated decision
//   - optional login/logout through the HTTP surface, observed on the stream
//   - credentials never appear in stream frames
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "ticketline/shared/contracts/auth/v1"
)

const maxReadBytes = 64 << 10

type frame struct {
	env v1.Envelope
	raw []byte
}

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan frame
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:7420/ws/auth", "WebSocket URL")
		httpURL  = flag.String("http", "", "Agent HTTP base URL (derived from -url when empty)")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		role     = flag.String("role", "admin", "Required role for the second client")
		email    = flag.String("email", "", "Login email (enables the login/logout round trip)")
		password = flag.String("password", "", "Login password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	base := *httpURL
	if base == "" {
		base = httpBaseFromWS(*wsURL)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, "", *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *role, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q role=%q\n", a.sessionID, b.sessionID, *origin, *role)
	}

	if *email == "" {
		fmt.Printf("OK: A=%s B=%s (handshake only)\n", a.sessionID, b.sessionID)
		return
	}

	probe := mustLogin(root, base, *origin, *email, *password, *timeout)

	sa := a.mustReadState(root, *timeout, func(p v1.AuthStatePayload) bool { return p.Authenticated }, probe)
	sb := b.mustReadState(root, *timeout, func(p v1.AuthStatePayload) bool { return p.Authenticated }, probe)
	if sa.Decision != "content" {
		fatalf("A decision after login: got=%q want=%q", sa.Decision, "content")
	}
	if *verbose {
		fmt.Printf("after login: A=%s B=%s (roles=%v)\n", sa.Decision, sb.Decision, sb.Roles)
	}

	mustPost(root, base+"/session/logout", *origin, nil, *timeout)

	a.mustReadState(root, *timeout, func(p v1.AuthStatePayload) bool { return !p.Authenticated && p.Decision == "deny" }, probe)
	b.mustReadState(root, *timeout, func(p v1.AuthStatePayload) bool { return !p.Authenticated && p.Decision == "deny" }, probe)

	fmt.Printf("OK: A=%s B=%s login/logout observed\n", a.sessionID, b.sessionID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func httpBaseFromWS(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

func mustConnect(parent context.Context, name, wsURL, origin, role string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan frame, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	// The server pushes the current state before any client message.
	c.mustReadUntilType(parent, v1.TypeAuthState, stepTimeout, nil)

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{RequiredRole: role}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	skip := map[string]struct{}{v1.TypeAuthState: {}}
	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, skip)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.env.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", name)
	}
	c.sessionID = p.SessionID

	// hello is followed by a state frame evaluated against the new role.
	c.mustReadUntilType(parent, v1.TypeAuthState, stepTimeout, nil)
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if env.V != v1.Version {
				select {
				case c.errCh <- fmt.Errorf("bad envelope version: %q", env.V):
				default:
				}
				return
			}

			select {
			case c.inbox <- frame{env: env, raw: data}:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustReadState reads auth_state frames until match holds. Every frame is
// checked for the leak probe.
func (c *smokeClient) mustReadState(parent context.Context, stepTimeout time.Duration, match func(v1.AuthStatePayload) bool, secret string) v1.AuthStatePayload {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		f := c.mustReadUntilType(ctx, v1.TypeAuthState, stepTimeout, nil)
		if secret != "" && bytes.Contains(f.raw, []byte(secret)) {
			fatalf("credential leaked in stream frame (%s)", c.name)
		}

		var p v1.AuthStatePayload
		if err := json.Unmarshal(f.env.Payload, &p); err != nil {
			fatalf("unmarshal auth_state payload (%s): %v", c.name, err)
		}
		if match(p) {
			return p
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if f.env.Type == wantType {
				return f
			}
			if f.env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(f.env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[f.env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, f.env.Type, wantType)
		}
	}
}

// mustLogin logs in through the agent and returns a probe string that must
// never appear on the stream. The agent never returns the token itself, so
// the password stands in for a secret.
func mustLogin(parent context.Context, base, origin, email, password string, stepTimeout time.Duration) string {
	body := mustJSON(map[string]string{"email": email, "password": password})
	mustPost(parent, base+"/session/login", origin, body, stepTimeout)
	if len(password) < 8 {
		return ""
	}
	return password
}

func mustPost(parent context.Context, target, origin string, body []byte, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		fatalf("build request %s: %v", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		fatalf("POST %s: status=%d body=%s", target, resp.StatusCode, strings.TrimSpace(string(b)))
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
