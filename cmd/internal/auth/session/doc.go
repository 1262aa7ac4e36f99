// Package session implements folio's auth session lifecycle.
//
// A subject holds at most one live refresh token. Login and reissue overwrite the
// stored value, so any older refresh token fails the currency check on its next use.
// Access tokens are short-lived HS256 JWTs; logout moves the presented access token
// into a revocation store until its own expiry.
//
// Transport (HTTP/WS) lives in authapi and realtime.
package session
