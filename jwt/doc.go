// Package jwt issues and validates the stateless admin session tokens.
package jwt
