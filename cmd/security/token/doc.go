// Package token derives storage identifiers from bearer tokens.
//
// Revocation entries are keyed by a digest of the token so a leaked table or
// Redis keyspace never contains usable credentials.
//
// Modes:
//   - SHA-256(token) when no key is configured (dev).
//   - HMAC-SHA256(token, key) when FOLIO_TOKEN_HMAC_KEY is set.
//
// Output is always 64 hex chars.
package token
