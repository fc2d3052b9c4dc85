// Package middleware provides net/http middleware for the admin API:
// session authentication, role restriction, and the fresh two-factor
// proof required in front of destructive operations.
package middleware
