package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"folio/cmd/security/token"
)

// Pair is the result of a login or reissue: two distinct bearer tokens.
type Pair struct {
	SubjectID string
	Role      string
	Email     string

	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Manager orchestrates login, reissue, logout, forced invalidation and authorization.
//
// Every subject has at most one live refresh token (the SessionStore row). Authorize
// deliberately does not consult the SessionStore: access tokens are checked by
// signature, expiry and revocation only.
type Manager struct {
	cfg         Config
	codec       TokenCodec
	sessions    SessionStore
	revocations RevocationStore
	users       UserDirectory

	metrics *Metrics
	events  EventSink
	now     func() time.Time
}

// ManagerOption configures optional Manager dependencies.
type ManagerOption func(*Manager)

// WithMetrics records per-operation outcomes.
func WithMetrics(m *Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithEventSink publishes session lifecycle events (e.g. to connected reader devices).
func WithEventSink(sink EventSink) ManagerOption {
	return func(mgr *Manager) {
		if sink != nil {
			mgr.events = sink
		}
	}
}

// WithNow overrides the time source used for SessionStore timestamps.
func WithNow(now func() time.Time) ManagerOption {
	return func(mgr *Manager) {
		if now != nil {
			mgr.now = now
		}
	}
}

// NewManager wires a Manager. All collaborators are required.
func NewManager(cfg Config, codec TokenCodec, sessions SessionStore, revocations RevocationStore, users UserDirectory, opts ...ManagerOption) (*Manager, error) {
	if codec == nil || sessions == nil || revocations == nil || users == nil {
		return nil, errors.New("session: nil manager dependency")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, ErrConfig
	}

	m := &Manager{
		cfg:         cfg,
		codec:       codec,
		sessions:    sessions,
		revocations: revocations,
		users:       users,
		events:      nopSink{},
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Login verifies credentials and starts a new session, replacing any previous one.
func (m *Manager) Login(ctx context.Context, email, password string) (pair Pair, err error) {
	const op = "session.Login"
	defer func() { m.metrics.observe("login", err) }()

	p, err := m.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return Pair{}, authErr(op, ErrInvalidCredentials, ErrPrincipalNotFound)
		}
		return Pair{}, fmt.Errorf("%s: find principal: %w", op, err)
	}

	ok, err := m.users.VerifyPassword(ctx, p, password)
	if err != nil {
		return Pair{}, fmt.Errorf("%s: verify password: %w", op, err)
	}
	if !ok {
		return Pair{}, authErr(op, ErrInvalidCredentials, nil)
	}

	_, err = m.sessions.Get(ctx, p.ID)
	replaced := err == nil
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}

	pair, err = m.mint(p)
	if err != nil {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := m.sessions.Put(ctx, p.ID, pair.RefreshToken, m.now()); err != nil {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}

	if replaced {
		m.events.Publish(ctx, Event{Type: EventReplaced, SubjectID: p.ID, Reason: "login"})
	}
	return pair, nil
}

// Reissue rotates both tokens for the holder of the subject's current refresh token.
//
// The presented token must verify and must equal the stored value exactly; a valid
// but superseded token fails with ErrInvalidRefreshToken.
func (m *Manager) Reissue(ctx context.Context, refreshToken string) (pair Pair, err error) {
	const op = "session.Reissue"
	defer func() { m.metrics.observe("reissue", err) }()

	refreshToken = strings.TrimSpace(refreshToken)

	claims, err := m.codec.Verify(refreshToken)
	if err != nil {
		return Pair{}, authErr(op, ErrInvalidRefreshToken, err)
	}
	if claims.Kind != KindRefresh {
		return Pair{}, authErr(op, ErrInvalidRefreshToken, ErrWrongKind)
	}

	p, err := m.users.FindByID(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return Pair{}, authErr(op, ErrPrincipalNotFound, nil)
		}
		return Pair{}, fmt.Errorf("%s: find principal: %w", op, err)
	}

	row, err := m.sessions.Get(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Pair{}, authErr(op, ErrInvalidRefreshToken, ErrSessionNotFound)
		}
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}

	// Currency check: a signed, unexpired token is still rejected unless it is the latest one.
	if !token.Equal(row.RefreshToken, refreshToken) {
		return Pair{}, authErr(op, ErrInvalidRefreshToken, nil)
	}

	pair, err = m.mint(p)
	if err != nil {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := m.sessions.Put(ctx, claims.SubjectID, pair.RefreshToken, m.now()); err != nil {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	return pair, nil
}

// Logout revokes the access token and ends the subject's session.
//
// The caller must also present the current refresh token; a mismatch fails with
// ErrInvalidRefreshToken and leaves the session in place.
func (m *Manager) Logout(ctx context.Context, accessToken, refreshToken string) (err error) {
	const op = "session.Logout"
	defer func() { m.metrics.observe("logout", err) }()

	accessToken = strings.TrimSpace(accessToken)
	refreshToken = strings.TrimSpace(refreshToken)

	claims, err := m.codec.Verify(accessToken)
	if err != nil {
		return authErr(op, ErrInvalidAccessToken, err)
	}
	if claims.Kind != KindAccess {
		return authErr(op, ErrInvalidAccessToken, ErrWrongKind)
	}

	row, err := m.sessions.Get(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return authErr(op, ErrInvalidAccessToken, ErrSessionNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if !token.Equal(row.RefreshToken, refreshToken) {
		return authErr(op, ErrInvalidRefreshToken, nil)
	}

	// A failed revoke must abort: deleting the session alone would leave the access token usable.
	// The entry outlives exp by the verification leeway, since Verify accepts the token until then.
	if err := m.revocations.Revoke(ctx, accessToken, m.revokeUntil(claims)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := m.sessions.Delete(ctx, claims.SubjectID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.events.Publish(ctx, Event{Type: EventEnded, SubjectID: claims.SubjectID, Reason: "logout"})
	return nil
}

// revokeUntil is the last instant at which Verify may still accept the token.
func (m *Manager) revokeUntil(c Claims) time.Time {
	return c.ExpiresAt.Add(m.cfg.ClockSkew)
}

// ForceInvalidate ends the subject's session without revoking outstanding access tokens.
// Used on account deletion and by administrators.
func (m *Manager) ForceInvalidate(ctx context.Context, subjectID string) (err error) {
	const op = "session.ForceInvalidate"
	defer func() { m.metrics.observe("force_invalidate", err) }()

	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return fmt.Errorf("%s: empty subject", op)
	}
	if err := m.sessions.Delete(ctx, subjectID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.events.Publish(ctx, Event{Type: EventEnded, SubjectID: subjectID, Reason: "invalidated"})
	return nil
}

// Authorize verifies an access token for a protected request and returns its claims.
//
// Every authentication failure matches ErrUnauthenticated; the concrete cause
// (ErrExpired, ErrRevoked, ...) also matches for logging. Storage failures are
// returned as-is and do not match ErrUnauthenticated.
func (m *Manager) Authorize(ctx context.Context, accessToken string) (claims Claims, err error) {
	const op = "session.Authorize"
	defer func() { m.metrics.observe("authorize", err) }()

	accessToken = strings.TrimSpace(accessToken)

	claims, err = m.codec.Verify(accessToken)
	if err != nil {
		return Claims{}, authErr(op, ErrUnauthenticated, err)
	}
	if claims.Kind != KindAccess {
		return Claims{}, authErr(op, ErrUnauthenticated, ErrWrongKind)
	}

	revoked, err := m.revocations.IsRevoked(ctx, accessToken)
	if err != nil {
		return Claims{}, fmt.Errorf("%s: %w", op, err)
	}
	if revoked {
		return Claims{}, authErr(op, ErrUnauthenticated, ErrRevoked)
	}
	return claims, nil
}

// SubjectHint returns the unverified subject of a token for audit attribution.
// It returns "" when the token cannot be decoded.
func (m *Manager) SubjectHint(tok string) string {
	sub, err := m.codec.SubjectIDOf(tok)
	if err != nil {
		return ""
	}
	return sub
}

func (m *Manager) mint(p Principal) (Pair, error) {
	access, accessExp, err := m.codec.Issue(KindAccess, p.ID, p.Role, p.Email, m.cfg.AccessTokenTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := m.codec.Issue(KindRefresh, p.ID, p.Role, p.Email, m.cfg.RefreshTokenTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		SubjectID:        p.ID,
		Role:             p.Role,
		Email:            p.Email,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}
