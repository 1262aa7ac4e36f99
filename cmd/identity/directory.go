package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"folio/cmd/internal/auth/session"
	"folio/cmd/security/password"
)

// Directory adapts a Store to session.UserDirectory.
//
// Unknown emails still pay for one password verification against a dummy hash,
// so login latency does not reveal whether an account exists.
type Directory struct {
	store     Store
	passwords password.Config
	log       *slog.Logger
	now       func() time.Time

	dummyHash string
}

var _ session.UserDirectory = (*Directory)(nil)

// NewDirectory builds a Directory. The dummy hash is computed once with cfg's parameters.
func NewDirectory(store Store, cfg password.Config, log *slog.Logger) (*Directory, error) {
	if store == nil {
		return nil, fmt.Errorf("identity: nil store")
	}
	if log == nil {
		log = slog.Default()
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("identity: dummy secret: %w", err)
	}
	dummyCfg := cfg
	dummyCfg.Policy = password.Policy{MinLength: 1, MaxLength: 1024}
	dummy, err := dummyCfg.Hash(base64.RawURLEncoding.EncodeToString(buf))
	if err != nil {
		return nil, fmt.Errorf("identity: dummy hash: %w", err)
	}

	return &Directory{store: store, passwords: cfg, log: log, now: time.Now, dummyHash: dummy}, nil
}

// FindByEmail returns the principal for email, or session.ErrPrincipalNotFound.
func (d *Directory) FindByEmail(ctx context.Context, email string) (session.Principal, error) {
	u, err := d.store.GetUserByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) || IsInvalidInput(err) {
			_, _ = d.passwords.Verify(d.dummyHash, "")
			return session.Principal{}, fmt.Errorf("identity.FindByEmail: %w", session.ErrPrincipalNotFound)
		}
		return session.Principal{}, err
	}
	return toPrincipal(u), nil
}

// FindByID returns the principal for id, or session.ErrPrincipalNotFound.
func (d *Directory) FindByID(ctx context.Context, id string) (session.Principal, error) {
	u, err := d.store.GetUserByID(ctx, id)
	if err != nil {
		if IsNotFound(err) || IsInvalidInput(err) {
			return session.Principal{}, fmt.Errorf("identity.FindByID: %w", session.ErrPrincipalNotFound)
		}
		return session.Principal{}, err
	}
	return toPrincipal(u), nil
}

// VerifyPassword checks plaintext against the principal's stored hash.
// A stored hash that cannot be parsed counts as a mismatch and is logged.
// After a match, legacy or weaker hashes are upgraded; a failed upgrade is only logged.
func (d *Directory) VerifyPassword(ctx context.Context, p session.Principal, plaintext string) (bool, error) {
	ok, err := d.passwords.Verify(p.PasswordHash, plaintext)
	if err != nil {
		d.log.Warn("identity.password.unusable_hash", "subject_id", p.ID, "scheme", string(password.SchemeOf(p.PasswordHash)))
		return false, nil
	}
	if !ok {
		return false, nil
	}

	if d.passwords.NeedsRehash(p.PasswordHash) {
		d.rehash(ctx, p.ID, plaintext)
	}
	return true, nil
}

func (d *Directory) rehash(ctx context.Context, id, plaintext string) {
	cfg := d.passwords
	// The password already authenticated; policy applies to new passwords only.
	cfg.Policy = password.Policy{MinLength: 1, MaxLength: 4096}

	h, err := cfg.Hash(plaintext)
	if err != nil {
		d.log.Warn("identity.password.rehash_fail", "subject_id", id, "err", err)
		return
	}
	if err := d.store.UpdatePasswordHash(ctx, id, h, d.now()); err != nil {
		d.log.Warn("identity.password.rehash_fail", "subject_id", id, "err", err)
		return
	}
	d.log.Info("identity.password.rehashed", "subject_id", id)
}

// Register hashes plaintext under the current policy and creates the account.
func (d *Directory) Register(ctx context.Context, email, plaintext, role string) (User, error) {
	h, err := d.passwords.Hash(plaintext)
	if err != nil {
		return User{}, OpError{Op: "identity.Register", Kind: ErrInvalidInput, Msg: err.Error()}
	}
	return d.store.CreateUser(ctx, CreateUserInput{Email: email, Role: role, PasswordHash: h, Now: d.now()})
}

func toPrincipal(u User) session.Principal {
	return session.Principal{ID: u.ID, Role: u.Role, Email: u.Email, PasswordHash: u.PasswordHash}
}
