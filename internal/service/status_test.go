package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/poster-tracker/internal/model"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Minute), now.Add(time.Minute)
	user := uuid.New()

	cases := []struct {
		name     string
		posted   bool
		removed  bool
		damaged  bool
		expires  time.Time
		expected Status
	}{
		{"never posted", false, false, false, future, StatusToHang},
		{"never posted and expired", false, false, false, past, StatusToHang},
		{"never posted but damaged", false, false, true, future, StatusDamaged},
		{"hanging", true, false, false, future, StatusHangs},
		{"hanging exactly at expiry", true, false, false, now, StatusHangs},
		{"hanging and expired", true, false, false, past, StatusOverdue},
		{"hanging, expired and damaged", true, false, true, past, StatusDamaged},
		{"hanging and damaged", true, false, true, future, StatusDamaged},
		{"taken down", true, true, false, future, StatusTakenDown},
		{"taken down after expiry", true, true, false, past, StatusTakenDown},
		{"taken down and damaged", true, true, true, past, StatusDamaged},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &model.PosterPosition{ExpiresAt: tc.expires, Damaged: tc.damaged}
			if tc.posted {
				p.PostedAt, p.PostedBy = &past, &user
			}
			if tc.removed {
				p.RemovedAt, p.RemovedBy = &now, &user
			}
			assert.Equal(t, tc.expected, DeriveStatus(p, now))
		})
	}
}

func TestDeriveStatus_IsPure(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	posted := now.Add(-time.Hour)
	p := &model.PosterPosition{ExpiresAt: now.Add(time.Hour), PostedAt: &posted}
	snapshot := *p

	assert.Equal(t, StatusHangs, DeriveStatus(p, now))
	assert.Equal(t, StatusOverdue, DeriveStatus(p, now.Add(2*time.Hour)))
	assert.Equal(t, StatusHangs, DeriveStatus(p, now))
	assert.Equal(t, snapshot, *p)
}
