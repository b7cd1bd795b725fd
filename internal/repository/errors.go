// Package repository defines the persistence layer for poster positions,
// their responsibilities and the identity records they reference.  The
// sentinel values below allow higher layers to tell a missing row apart
// from a database failure without inspecting driver errors.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// ErrPositionNotFound is returned when no poster_positions row matches.
var ErrPositionNotFound = errors.New("poster position not found")

// ErrUserNotFound is returned when a referenced user does not exist.
var ErrUserNotFound = errors.New("user not found")

// ErrEmailExists is returned by UserRepo.Create on a duplicate email.
var ErrEmailExists = errors.New("email already exists")

// placeholders returns "?, ?, ?" with n markers for IN clauses.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
