package identity

import "strings"

// Roles carried in tokens.
const (
	RoleReader = "reader"
	RoleAdmin  = "admin"
)

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeRole lower-cases r and reports whether it is a known role.
// An empty role defaults to RoleReader.
func NormalizeRole(r string) (string, bool) {
	switch r = strings.ToLower(strings.TrimSpace(r)); r {
	case "":
		return RoleReader, true
	case RoleReader, RoleAdmin:
		return r, true
	default:
		return r, false
	}
}

func validEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1 && strings.Count(s, "@") == 1 && !strings.ContainsAny(s, " \t\r\n")
}
