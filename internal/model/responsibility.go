package model

import (
	"time"

	"github.com/google/uuid"
)

// Responsibility links a user to a poster position.  A user listed
// here is allowed to hang, take down and report damage for the
// position.  The pair (UserID, PositionID) is unique.
type Responsibility struct {
	ID         uuid.UUID // poster_position_responsibilities.id
	UserID     uuid.UUID // poster_position_responsibilities.user_id
	PositionID uuid.UUID // poster_position_responsibilities.position_id
	CreatedAt  time.Time // poster_position_responsibilities.created_at
}
