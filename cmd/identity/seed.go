package identity

import (
	"context"
	"fmt"
	"strings"
)

// SeedUser is one entry of a seed list.
type SeedUser struct {
	Email    string
	Password string
	Role     string
}

// ParseSeedUsers parses "email:password:role,..." (role optional, defaults to reader).
func ParseSeedUsers(raw string) ([]SeedUser, error) {
	var out []SeedUser
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || parts[1] == "" {
			return nil, fmt.Errorf("identity: seed entry %q: want email:password[:role]", redactSeed(entry))
		}
		su := SeedUser{Email: strings.TrimSpace(parts[0]), Password: parts[1]}
		if len(parts) == 3 {
			su.Role = parts[2]
		}
		if _, ok := NormalizeRole(su.Role); !ok {
			return nil, fmt.Errorf("identity: seed entry for %s: unknown role %q", su.Email, su.Role)
		}
		out = append(out, su)
	}
	return out, nil
}

// Seed creates each user that does not exist yet. Existing accounts are left alone.
func (d *Directory) Seed(ctx context.Context, users []SeedUser) (created int, err error) {
	for _, su := range users {
		_, err := d.store.GetUserByEmail(ctx, su.Email)
		if err == nil {
			continue
		}
		if !IsNotFound(err) {
			return created, err
		}

		u, err := d.Register(ctx, su.Email, su.Password, su.Role)
		if err != nil {
			if IsConflict(err) {
				continue
			}
			return created, fmt.Errorf("identity: seed %s: %w", su.Email, err)
		}
		created++
		d.log.Info("identity.seed.created", "subject_id", u.ID, "email", u.Email, "role", u.Role)
	}
	return created, nil
}

func redactSeed(entry string) string {
	if i := strings.IndexByte(entry, ':'); i >= 0 {
		return entry[:i] + ":***"
	}
	return entry
}
