package model

import (
	"time"

	"github.com/google/uuid"
)

// Role names stored in users.role.
const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// User represents a club member as stored in the `users` table.
// Only identity fields are used by the poster service; the password
// hash exists for the login endpoint.
//
// Fields:
//  ID           – primary key identifier.
//  Name         – display name shown as the poster's "posted by".
//  Email        – unique email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – ADMIN or MEMBER.
//  CreatedAt    – timestamp of creation.
type User struct {
	ID           uuid.UUID // users.id
	Name         string    // users.name
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	CreatedAt    time.Time // users.created_at
}

// Identity is the public projection of a user.
type Identity struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Identity returns the public projection of u.
func (u User) Identity() Identity { return Identity{ID: u.ID, Name: u.Name} }
