// Package identity owns reader accounts: the users table, email normalization and
// the password check behind login.
//
// Directory adapts a Store to the session manager's UserDirectory port.
package identity
