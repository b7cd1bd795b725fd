package service

import (
	"time"

	"github.com/iliyamo/poster-tracker/internal/model"
)

// Status is the display state of a poster position.  It is never
// stored; DeriveStatus computes it from the persisted fields.
type Status string

const (
	StatusToHang    Status = "toHang"
	StatusHangs     Status = "hangs"
	StatusOverdue   Status = "overdue"
	StatusDamaged   Status = "damaged"
	StatusTakenDown Status = "takenDown"
)

// DeriveStatus applies the fixed priority damaged > toHang > takenDown >
// overdue > hangs.  now is the read time, so a hanging poster turns
// overdue without any write.
func DeriveStatus(p *model.PosterPosition, now time.Time) Status {
	switch {
	case p.Damaged:
		return StatusDamaged
	case p.PostedAt == nil:
		return StatusToHang
	case p.RemovedAt != nil:
		return StatusTakenDown
	case now.After(p.ExpiresAt):
		return StatusOverdue
	default:
		return StatusHangs
	}
}
