// Package postgres implements adminauth.AccountStore over pgx. The
// expected schema lives in schema.sql next to this file.
package postgres
