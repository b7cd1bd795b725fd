package model

import (
	"time"

	"github.com/google/uuid"
)

// PosterPosition is one physical location where a single poster
// instance may be displayed.  The lifecycle state is not stored; it is
// derived from the timestamps and the damaged flag on every read.
//
// Fields:
//  ID        – primary key identifier, immutable.
//  PosterID  – poster displayed at this position.
//  Latitude  – rounded to 6 decimals on every write.
//  Longitude – rounded to 6 decimals on every write.
//  ExpiresAt – after this instant a still hanging poster is overdue.
//  PostedAt  – last time the poster was hung (nil if never hung).
//  PostedBy  – user who last hung it (nil iff PostedAt is nil).
//  RemovedAt – last take-down (nil while hanging).
//  RemovedBy – user who took it down (nil iff RemovedAt is nil).
//  Damaged   – set by damage reports, cleared when hung again.
//  Image     – storage key of the latest confirmation photo.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type PosterPosition struct {
	ID        uuid.UUID  // poster_positions.id
	PosterID  uuid.UUID  // poster_positions.poster_id
	Latitude  float64    // poster_positions.latitude
	Longitude float64    // poster_positions.longitude
	ExpiresAt time.Time  // poster_positions.expires_at
	PostedAt  *time.Time // poster_positions.posted_at (nullable)
	PostedBy  *uuid.UUID // poster_positions.posted_by (nullable)
	RemovedAt *time.Time // poster_positions.removed_at (nullable)
	RemovedBy *uuid.UUID // poster_positions.removed_by (nullable)
	Damaged   bool       // poster_positions.damaged
	Image     *string    // poster_positions.image (nullable)
	CreatedAt time.Time  // poster_positions.created_at
	UpdatedAt time.Time  // poster_positions.updated_at
}

// IsHanging reports whether the poster is physically up and intact.
// Expiry does not matter here: an overdue poster is still hanging.
func (p *PosterPosition) IsHanging() bool {
	return p.PostedAt != nil && p.RemovedAt == nil && !p.Damaged
}

// IsRemoved reports whether the last recorded action was a take-down.
func (p *PosterPosition) IsRemoved() bool {
	return p.RemovedAt != nil || p.RemovedBy != nil
}
