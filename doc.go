// Package adminauth is the authentication-security core for a multi-tenant
// RWA tokenization back office: password login, TOTP two-factor enrollment
// and verification, single-use backup codes, progressive lockout with
// decaying attempt counters, fixed-window rate limits, and a fresh-proof
// guard for destructive admin operations.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// adminauth is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (LoginResult, TwoFactorSetup, MetricsSnapshot). Rate
// limiting primitives and the pending-enrollment store live under internal/
// and are never exported. Account persistence is injected through
// [AccountStore]; session tokens through [TokenIssuer].
//
// # What this package must NOT do
//
//   - Expose Redis clients, store encodings, or raw TOTP secrets beyond the
//     one-time setup response.
//   - Distinguish unknown identifiers from wrong passwords in any
//     caller-visible way.
//   - Block a request on audit delivery (events flow through a buffered
//     dispatcher and are dropped, counted, under backpressure).
package adminauth
