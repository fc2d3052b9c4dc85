// Package rate provides Redis-backed fixed-window counters for the
// authentication endpoints.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Only
// failed attempts are counted; a request that passes the check does not
// consume budget until it fails. Key prefixes (under the module key
// prefix):
//   - rl:login: login per identifier+IP
//   - rl:2fa:   two-factor endpoints per identifier+IP
//
// # What this package must NOT do
//
//   - Implement lockout escalation (that lives in the attempt tracker).
//   - Be imported outside the adminauth module.
package rate
