package model

import (
	"time"

	"github.com/google/uuid"
)

// Poster is the campaign poster that positions belong to.  Posters are
// managed elsewhere; this service only checks that one exists.
type Poster struct {
	ID        uuid.UUID // posters.id
	Title     string    // posters.title
	CreatedAt time.Time // posters.created_at
}
