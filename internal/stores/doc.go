// Package stores provides Redis-backed state for in-flight two-factor
// enrollment. Records are binary-encoded with a leading version byte so
// the layout can evolve without flag days.
package stores
