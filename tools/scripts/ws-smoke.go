// Package main is a CI-friendly smoke test for the folio session event stream.
//
// It validates:
//   - login over HTTP
//   - handshake + subprotocol selection on /ws/session
//   - session.hello as the first frame
//   - ping -> pong
//   - a second login pushes session.replaced and closes the first device
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "folio.session.v1"
	maxReadBytes = 64 << 10
)

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL of the folio server")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email    = flag.String("email", "reader@folio.local", "Seeded account email")
		password = flag.String("password", "", "Seeded account password (or FOLIO_SMOKE_PASSWORD)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if *password == "" {
		*password = os.Getenv("FOLIO_SMOKE_PASSWORD")
	}
	wsURL, err := sessionURL(*baseURL)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}

	root := context.Background()

	deviceA := mustLogin(root, *baseURL, *email, *password, *timeout)
	conn := mustConnect(root, wsURL, *origin, deviceA, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	hello := mustRead(root, conn, *timeout)
	if hello.Type != "session.hello" {
		fatalf("first frame: got %q want session.hello", hello.Type)
	}
	if *verbose {
		fmt.Printf("hello: %s\n", hello.Payload)
	}

	mustWrite(root, conn, envelope{V: 1, Type: "ping", TS: time.Now().UTC()}, *timeout)
	if pong := mustRead(root, conn, *timeout); pong.Type != "pong" {
		fatalf("ping: got %q want pong", pong.Type)
	}

	// Logging in again from another device replaces the session.
	_ = mustLogin(root, *baseURL, *email, *password, *timeout)

	replaced := mustRead(root, conn, *timeout)
	if replaced.Type != "session.replaced" {
		fatalf("after second login: got %q want session.replaced", replaced.Type)
	}

	ctx, cancel := context.WithTimeout(root, *timeout)
	defer cancel()
	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		fatalf("expected policy close after replace, got status=%v err=%v", got, err)
	}

	fmt.Printf("OK: email=%s replaced=%s\n", *email, replaced.ID)
}

func sessionURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(base), "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path += "/ws/session"
	return u.String(), nil
}

func mustLogin(parent context.Context, base, email, password string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/auth/login", bytes.NewReader(body))
	if err != nil {
		fatalf("login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("login: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fatalf("login: status %d", resp.StatusCode)
	}

	access := strings.TrimSpace(strings.TrimPrefix(resp.Header.Get("Authorization"), "Bearer "))
	if access == "" {
		fatalf("login: missing Authorization response header")
	}
	if resp.Header.Get("X-Refresh-Token") == "" {
		fatalf("login: missing X-Refresh-Token response header")
	}
	return access
}

func mustConnect(parent context.Context, wsURL, origin, access string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+access)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol: got %q want %q", got, subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustRead(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fatalf("decode frame: %v", err)
	}
	return env
}

func mustWrite(parent context.Context, conn *websocket.Conn, env envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("encode frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write: %v", err)
	}
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
