package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	actionLoginSuccess     = "auth.login.success"
	actionLoginFailed      = "auth.login.failed"
	actionLoginRateLimited = "auth.login.rate_limited"
	actionReissueSuccess   = "auth.reissue.success"
	actionReissueRejected  = "auth.reissue.rejected"
	actionLogout           = "auth.logout"
	actionForceInvalidate  = "auth.session.invalidated"
)

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	Action    string
	SubjectID string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// Auditor records auth events. Record must not fail the request.
type Auditor interface {
	Record(ctx context.Context, e AuditEntry)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, AuditEntry) {}

// PostgresAuditor appends entries to folio.audit_log.
type PostgresAuditor struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresAuditor constructs a PostgresAuditor.
func NewPostgresAuditor(pool *pgxpool.Pool, log *slog.Logger) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, errors.New("authapi: nil db pool")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{pool: pool, log: log}, nil
}

func (a *PostgresAuditor) Record(ctx context.Context, e AuditEntry) {
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return
	}

	var ipVal any
	if e.IP != nil {
		ipVal = e.IP.String()
	}

	var metaVal *string
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO folio.audit_log (
			subject_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, now(), $3, $4, $5::jsonb)
	`, trimOrNil(e.SubjectID), action, ipVal, trimOrNil(e.UserAgent), metaVal)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
