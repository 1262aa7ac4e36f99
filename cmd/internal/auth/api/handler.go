package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"folio/cmd/identity"
	"folio/cmd/internal/auth/session"
)

// HeaderRefreshToken carries the refresh token outside the JSON body.
const HeaderRefreshToken = "X-Refresh-Token"

// Sessions is the auth session manager consumed by the HTTP layer.
type Sessions interface {
	Login(ctx context.Context, email, password string) (session.Pair, error)
	Reissue(ctx context.Context, refreshToken string) (session.Pair, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	ForceInvalidate(ctx context.Context, subjectID string) error
	Authorize(ctx context.Context, accessToken string) (session.Claims, error)
	SubjectHint(tok string) string
}

var _ Sessions = (*session.Manager)(nil)

// Handler wires HTTP auth endpoints to the session manager.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions Sessions
	throttle Throttler
	audit    Auditor
	now      func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithThrottler overrides the default in-process login throttle.
func WithThrottler(t Throttler) HandlerOption {
	return func(h *Handler) {
		if t != nil {
			h.throttle = t
		}
	}
}

// WithAuditor records auth events (login, reissue, logout, invalidation).
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.audit = a
		}
	}
}

// WithClock overrides the time source used for throttling.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, sessions Sessions, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("authapi: nil session manager")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		throttle: NewMemoryThrottler(),
		audit:    nopAuditor{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/reissue", h.handleReissue)
	mux.HandleFunc("/auth/refresh", h.handleReissue)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/me", h.handleMe)
	mux.HandleFunc("/admin/sessions/invalidate", h.handleInvalidate)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email := identity.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	ipKey, emailKey := "", "email:"+email
	if ip != nil {
		ipKey = "ip:" + ip.String()
	}

	for _, c := range []struct {
		key    string
		limit  int
		window time.Duration
	}{
		{ipKey, h.cfg.LoginIPMax, h.cfg.LoginIPWindow},
		{emailKey, h.cfg.LoginEmailMax, h.cfg.LoginEmailWindow},
	} {
		if c.key == "" {
			continue
		}
		blocked, retryAfter, err := h.throttle.Check(ctx, c.key, c.limit, c.window, now)
		if err != nil {
			h.log.Error("auth.login.throttle.fail", "err", err, "key", c.key)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return
		}
		if blocked {
			h.audit.Record(ctx, AuditEntry{Action: actionLoginRateLimited, IP: ip, UserAgent: ua, Meta: map[string]any{
				"email":         email,
				"retry_after_s": int64(retryAfter.Seconds()),
			}})
			writeRateLimited(w, retryAfter)
			return
		}
	}

	pair, err := h.sessions.Login(ctx, email, req.Password)
	if err != nil {
		if session.IsAuthFailure(err) {
			h.recordLoginFailure(ctx, ipKey, emailKey, now)
			h.audit.Record(ctx, AuditEntry{Action: actionLoginFailed, IP: ip, UserAgent: ua, Meta: map[string]any{
				"email":  email,
				"reason": session.Reason(err),
			}})
		}
		h.writeSessionError(w, "auth.login", err)
		return
	}

	if err := h.throttle.Reset(ctx, emailKey); err != nil {
		h.log.Warn("auth.login.throttle_reset.fail", "err", err)
	}
	h.audit.Record(ctx, AuditEntry{Action: actionLoginSuccess, SubjectID: pair.SubjectID, IP: ip, UserAgent: ua})

	writeTokenHeaders(w, pair)
	writeJSON(w, http.StatusOK, loginResponse{User: toUserResponse(pair), Session: toSessionResponse(pair)})
}

func (h *Handler) handleReissue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	refreshToken, ok := h.refreshTokenFromRequest(w, r)
	if !ok {
		return
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	pair, err := h.sessions.Reissue(ctx, refreshToken)
	if err != nil {
		if session.IsAuthFailure(err) {
			// The token is unverified here; the subject is attribution only.
			h.audit.Record(ctx, AuditEntry{
				Action:    actionReissueRejected,
				SubjectID: h.sessions.SubjectHint(refreshToken),
				IP:        ip,
				UserAgent: ua,
				Meta:      map[string]any{"reason": session.Reason(err)},
			})
		}
		h.writeSessionError(w, "auth.reissue", err)
		return
	}

	h.audit.Record(ctx, AuditEntry{Action: actionReissueSuccess, SubjectID: pair.SubjectID, IP: ip, UserAgent: ua})

	writeTokenHeaders(w, pair)
	writeJSON(w, http.StatusOK, loginResponse{User: toUserResponse(pair), Session: toSessionResponse(pair)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	accessToken := bearerToken(r.Header.Get("Authorization"))
	if accessToken == "" {
		writeUnauthenticated(w)
		return
	}
	refreshToken, ok := h.refreshTokenFromRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.Logout(ctx, accessToken, refreshToken); err != nil {
		h.writeSessionError(w, "auth.logout", err)
		return
	}

	h.audit.Record(ctx, AuditEntry{
		Action:    actionLogout,
		SubjectID: h.sessions.SubjectHint(accessToken),
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		User:      userResponse{ID: claims.SubjectID, Email: claims.Email, Role: claims.Role},
		ExpiresAt: claims.ExpiresAt,
	})
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if claims.Role != identity.RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return
	}

	var req invalidateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	subjectID := strings.TrimSpace(req.SubjectID)
	if subjectID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "subject_id is required")
		return
	}

	ctx := r.Context()
	if err := h.sessions.ForceInvalidate(ctx, subjectID); err != nil {
		h.writeSessionError(w, "auth.invalidate", err)
		return
	}

	h.audit.Record(ctx, AuditEntry{
		Action:    actionForceInvalidate,
		SubjectID: subjectID,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Meta:      map[string]any{"by": claims.SubjectID},
	})
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.Claims, bool) {
	tok := bearerToken(r.Header.Get("Authorization"))
	if tok == "" {
		writeUnauthenticated(w)
		return session.Claims{}, false
	}
	claims, err := h.sessions.Authorize(r.Context(), tok)
	if err != nil {
		h.writeSessionError(w, "auth.authorize", err)
		return session.Claims{}, false
	}
	return claims, true
}

// writeSessionError maps manager errors onto the wire. Token failures are
// indistinguishable to the caller; the reason only reaches the log.
func (h *Handler) writeSessionError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		h.log.Info(op+".rejected", "reason", session.Reason(err))
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case session.IsAuthFailure(err):
		h.log.Info(op+".rejected", "reason", session.Reason(err))
		writeUnauthenticated(w)
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) recordLoginFailure(ctx context.Context, ipKey, emailKey string, now time.Time) {
	if ipKey != "" {
		if err := h.throttle.Fail(ctx, ipKey, h.cfg.LoginIPWindow, now); err != nil {
			h.log.Warn("auth.login.throttle_fail.fail", "err", err)
		}
	}
	if err := h.throttle.Fail(ctx, emailKey, h.cfg.LoginEmailWindow, now); err != nil {
		h.log.Warn("auth.login.throttle_fail.fail", "err", err)
	}
}

// refreshTokenFromRequest reads refresh_token from an optional JSON body, falling
// back to the X-Refresh-Token header. It writes a 400 and returns false on a bad body.
func (h *Handler) refreshTokenFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refreshRequest
	if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return "", false
		}
	}
	if tok := strings.TrimSpace(req.RefreshToken); tok != "" {
		return tok, true
	}
	return bearerToken(r.Header.Get(HeaderRefreshToken)), true
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
}

func writeTokenHeaders(w http.ResponseWriter, p session.Pair) {
	w.Header().Set("Authorization", "Bearer "+p.AccessToken)
	w.Header().Set(HeaderRefreshToken, p.RefreshToken)
}

// bearerToken strips an optional case-insensitive "Bearer " prefix. A bare token is returned as-is.
func bearerToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > len("Bearer ") && strings.EqualFold(raw[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(raw[len("Bearer "):])
	}
	if strings.EqualFold(raw, "Bearer") {
		return ""
	}
	return raw
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
