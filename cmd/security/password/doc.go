// Package password hashes and verifies reader account passwords.
//
// New hashes are Argon2id in the PHC string format. Hashes imported from the
// previous storefront are bcrypt ($2a$, $2b$, $2y$) and remain verifiable; callers
// use NeedsRehash to upgrade them after a successful login.
//
// Encoded hashes are untrusted input: Verify refuses parameters far above the
// configured cost so a tampered row cannot pin a CPU.
package password
