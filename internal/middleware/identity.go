package middleware

// identity.go holds helpers shared across middleware files for reading the
// authenticated caller that JWTAuth stored in the Echo context.

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// UserID returns the authenticated caller.  ok is false when JWTAuth did
// not run or rejected the request.
func UserID(c echo.Context) (id uuid.UUID, ok bool) {
	id, ok = c.Get("user_id").(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// userKey is the caller as used in rate-limit keys; "anon" when no user
// is authenticated.
func userKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return id.String()
	}
	return "anon"
}
