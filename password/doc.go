// Package password hashes and verifies admin passwords with Argon2id,
// serialized in PHC string format so parameters travel with the hash.
package password
