// Package queue defines message payloads exchanged over the message broker.
package queue

import "time"

// Event types published for poster position changes.
const (
	EventPositionCreated        = "position.created"
	EventPositionHung           = "position.hung"
	EventPositionTakenDown      = "position.taken_down"
	EventPositionDamageReported = "position.damage_reported"
	EventPositionUpdated        = "position.updated"
)

// PositionEvent is published after a lifecycle change has been
// committed.  It carries enough for downstream consumers (audit log,
// notifications) to act without querying the primary database.
type PositionEvent struct {
	Type       string    `json:"type"`
	PositionID string    `json:"position_id"`
	PosterID   string    `json:"poster_id"`
	ActorID    string    `json:"actor_id,omitempty"`
	Status     string    `json:"status"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Image      string    `json:"image,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
