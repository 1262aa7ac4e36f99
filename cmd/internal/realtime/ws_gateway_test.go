package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"folio/cmd/internal/auth/session"
	"folio/cmd/security/token"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wsTestSecret = "realtime-test-secret-0123456789abcdef"

type stubDirectory struct{ p session.Principal }

func (d stubDirectory) FindByEmail(_ context.Context, email string) (session.Principal, error) {
	if email != d.p.Email {
		return session.Principal{}, session.ErrPrincipalNotFound
	}
	return d.p, nil
}

func (d stubDirectory) FindByID(_ context.Context, id string) (session.Principal, error) {
	if id != d.p.ID {
		return session.Principal{}, session.ErrPrincipalNotFound
	}
	return d.p, nil
}

func (d stubDirectory) VerifyPassword(_ context.Context, p session.Principal, plaintext string) (bool, error) {
	return plaintext == p.PasswordHash, nil
}

type authorizerFunc func(ctx context.Context, tok string) (session.Claims, error)

func (f authorizerFunc) Authorize(ctx context.Context, tok string) (session.Claims, error) {
	return f(ctx, tok)
}

type wsHarness struct {
	hub *Hub
	mgr *session.Manager
	srv *httptest.Server
	reg *prometheus.Registry
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   false,
		AllowedOrigins:   []string{"http://localhost"},
		HeartbeatEvery:   time.Hour,
		HeartbeatTimeout: time.Second,
		RateEvents:       5,
		RateWindow:       time.Minute,
	}
}

func newWSHarness(t *testing.T, auth Authorizer) *wsHarness {
	t.Helper()

	h := &wsHarness{reg: prometheus.NewRegistry()}
	h.hub = NewHub(discardLog(), h.reg)

	cfg := session.DefaultConfig()
	cfg.SigningKey = wsTestSecret
	codec, err := session.NewCodec(cfg)
	require.NoError(t, err)

	dir := stubDirectory{p: session.Principal{ID: "42", Role: "reader", Email: "r@example.com", PasswordHash: "pw"}}
	h.mgr, err = session.NewManager(cfg, codec, session.NewMemoryStore(),
		session.NewMemoryRevocationStore(token.NewHasher(nil), nil), dir,
		session.WithEventSink(h.hub))
	require.NoError(t, err)

	if auth == nil {
		auth = h.mgr
	}
	gw, err := NewWSGateway(discardLog(), h.hub, auth, testGatewayConfig())
	require.NoError(t, err)

	h.srv = httptest.NewServer(gw)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *wsHarness) dial(t *testing.T, bearer string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hdr := http.Header{}
	if bearer != "" {
		hdr.Set("Authorization", "Bearer "+bearer)
	}
	return websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.srv.URL, "http"), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   hdr,
	})
}

func readEnv(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeEnv(t *testing.T, conn *websocket.Conn, typ string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	b, err := json.Marshal(Envelope{V: Version, Type: typ})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, b))
}

func expectClose(t *testing.T, conn *websocket.Conn, want websocket.StatusCode) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			assert.Equal(t, want, websocket.CloseStatus(err), "err=%v", err)
			return
		}
	}
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
	return resp.StatusCode
}

func TestWSGateway_RejectsMissingAndInvalidTokens(t *testing.T) {
	h := newWSHarness(t, nil)

	_, resp, err := h.dial(t, "")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, statusOf(resp))

	_, resp, err = h.dial(t, "not-a-token")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, statusOf(resp))

	pair, err := h.mgr.Login(context.Background(), "r@example.com", "pw")
	require.NoError(t, err)
	_, resp, err = h.dial(t, pair.RefreshToken)
	require.Error(t, err, "refresh tokens must not open the event stream")
	assert.Equal(t, http.StatusUnauthorized, statusOf(resp))
}

func TestWSGateway_StorageFailureIsUnavailable(t *testing.T) {
	h := newWSHarness(t, authorizerFunc(func(context.Context, string) (session.Claims, error) {
		return session.Claims{}, errors.New("redis: connection refused")
	}))

	_, resp, err := h.dial(t, "anything")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(resp))
}

func TestWSGateway_HelloPingAndUnsupported(t *testing.T) {
	h := newWSHarness(t, nil)
	ctx := context.Background()

	pair, err := h.mgr.Login(ctx, "r@example.com", "pw")
	require.NoError(t, err)

	conn, _, err := h.dial(t, pair.AccessToken)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	hello := readEnv(t, conn)
	require.Equal(t, TypeHello, hello.Type)
	var hp HelloPayload
	require.NoError(t, json.Unmarshal(hello.Payload, &hp))
	assert.Equal(t, "42", hp.SubjectID)
	assert.Len(t, hp.ConnID, 26)

	writeEnv(t, conn, TypePing)
	assert.Equal(t, TypePong, readEnv(t, conn).Type)

	writeEnv(t, conn, "library.sync")
	errEnv := readEnv(t, conn)
	require.Equal(t, TypeError, errEnv.Type)
	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(errEnv.Payload, &ep))
	assert.Equal(t, "unsupported", ep.Code)

	assert.Equal(t, 1, h.hub.Connections("42"))
}

func TestWSGateway_LogoutEndsStream(t *testing.T) {
	h := newWSHarness(t, nil)
	ctx := context.Background()

	pair, err := h.mgr.Login(ctx, "r@example.com", "pw")
	require.NoError(t, err)

	conn, _, err := h.dial(t, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, TypeHello, readEnv(t, conn).Type)

	require.NoError(t, h.mgr.Logout(ctx, pair.AccessToken, pair.RefreshToken))

	ended := readEnv(t, conn)
	require.Equal(t, TypeEnded, ended.Type)
	var sp SessionPayload
	require.NoError(t, json.Unmarshal(ended.Payload, &sp))
	assert.Equal(t, SessionPayload{SubjectID: "42", Reason: "logout"}, sp)

	expectClose(t, conn, websocket.StatusPolicyViolation)
	require.Eventually(t, func() bool { return h.hub.Connections("42") == 0 }, 2*time.Second, 10*time.Millisecond)

	// The revoked access token cannot reconnect.
	_, resp, err := h.dial(t, pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, statusOf(resp))
}

func TestWSGateway_NewLoginReplacesDevice(t *testing.T) {
	h := newWSHarness(t, nil)
	ctx := context.Background()

	deviceA, err := h.mgr.Login(ctx, "r@example.com", "pw")
	require.NoError(t, err)

	conn, _, err := h.dial(t, deviceA.AccessToken)
	require.NoError(t, err)
	require.Equal(t, TypeHello, readEnv(t, conn).Type)

	_, err = h.mgr.Login(ctx, "r@example.com", "pw")
	require.NoError(t, err)

	assert.Equal(t, TypeReplaced, readEnv(t, conn).Type)
	expectClose(t, conn, websocket.StatusPolicyViolation)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.hub.delivered.WithLabelValues(TypeReplaced, "queued")))
}

func TestWSGateway_ClosesAtTokenExpiry(t *testing.T) {
	h := newWSHarness(t, authorizerFunc(func(context.Context, string) (session.Claims, error) {
		return session.Claims{SubjectID: "7", Kind: session.KindAccess, ExpiresAt: time.Now().Add(300 * time.Millisecond)}, nil
	}))

	conn, _, err := h.dial(t, "short-lived")
	require.NoError(t, err)
	require.Equal(t, TypeHello, readEnv(t, conn).Type)

	expectClose(t, conn, websocket.StatusPolicyViolation)
}

func TestWSGateway_RateLimitsInboundFrames(t *testing.T) {
	h := newWSHarness(t, nil)

	pair, err := h.mgr.Login(context.Background(), "r@example.com", "pw")
	require.NoError(t, err)
	conn, _, err := h.dial(t, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, TypeHello, readEnv(t, conn).Type)

	for i := 0; i < testGatewayConfig().RateEvents+1; i++ {
		writeEnv(t, conn, TypePing)
	}
	expectClose(t, conn, websocket.StatusPolicyViolation)
}

func TestHub_PublishDropsSlowClient(t *testing.T) {
	reg := prometheus.NewRegistry()
	hub := NewHub(discardLog(), reg)

	slow := NewClient("42", "conn-slow", 1)
	fast := NewClient("42", "conn-fast", 4)
	other := NewClient("99", "conn-other", 4)
	hub.Join(slow)
	hub.Join(fast)
	hub.Join(other)
	require.True(t, slow.offer(Envelope{Type: TypePong}))

	hub.Publish(context.Background(), session.Event{Type: session.EventEnded, SubjectID: "42", Reason: "invalidated"})

	select {
	case <-slow.Done():
	default:
		t.Fatalf("slow client must be disconnected")
	}
	require.Len(t, fast.Send, 1)
	assert.Equal(t, TypeEnded, (<-fast.Send).Type)
	assert.Empty(t, other.Send)

	assert.Equal(t, 1, hub.Connections("42"))
	assert.Equal(t, 2.0, testutil.ToFloat64(hub.connected))
	assert.Equal(t, 1.0, testutil.ToFloat64(hub.delivered.WithLabelValues(TypeEnded, "dropped")))
}

func TestHub_ConcurrentJoinLeavePublish(t *testing.T) {
	hub := NewHub(discardLog(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient("42", "conn-"+string(rune('a'+i)), 2)
			hub.Join(c)
			hub.Publish(context.Background(), session.Event{Type: session.EventReplaced, SubjectID: "42", Reason: "login"})
			hub.Leave(c)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Connections("42"))
}

func TestEnforceOrigin(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.OriginRequired = true
	cfg.AllowedOrigins = []string{"https://read.folio.example", "http://localhost:5173"}
	gw, err := NewWSGateway(discardLog(), NewHub(discardLog(), nil), authorizerFunc(nil), cfg)
	require.NoError(t, err)

	cases := map[string]bool{
		"":                                false,
		"https://read.folio.example":      true,
		"http://localhost:3000":           true,
		"https://evil.example":            false,
		"https://read.folio.example.evil": false,
	}
	for origin, ok := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws/session", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		err := gw.enforceOrigin(r)
		assert.Equal(t, ok, err == nil, "origin %q: %v", origin, err)
	}
	assert.Equal(t, []string{"localhost", "read.folio.example"}, gw.originPatterns)
}

func TestAccessTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/session?access_token=q", nil)
	assert.Equal(t, "q", accessTokenFromRequest(r))

	r.Header.Set("Authorization", "bearer  h ")
	assert.Equal(t, "h", accessTokenFromRequest(r))

	r.Header.Set("Authorization", "raw")
	assert.Equal(t, "raw", accessTokenFromRequest(r))
}
