// Package httpapi exposes the authentication engine over HTTP: login,
// the two-factor lifecycle, password change, and the sensitive-operation
// proof check, with the engine's sentinel errors mapped onto status codes
// (202 second factor outstanding, 423 locked, 429 rate limited).
package httpapi
