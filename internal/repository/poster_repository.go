package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/poster-tracker/internal/model"
)

// PosterRepo gives read access to posters.  Posters are owned by
// another part of the product; this service only needs to verify that a
// referenced poster exists and, for local setups, to create one.
type PosterRepo struct {
	db *sql.DB
}

// NewPosterRepo returns a PosterRepo bound to db.
func NewPosterRepo(db *sql.DB) *PosterRepo { return &PosterRepo{db: db} }

// Create inserts a poster with the given title.
func (r *PosterRepo) Create(ctx context.Context, title string) (model.Poster, error) {
	p := model.Poster{ID: uuid.New(), Title: title, CreatedAt: time.Now().UTC()}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posters (id, title, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Title, p.CreatedAt)
	if err != nil {
		return model.Poster{}, err
	}
	return p, nil
}

// ExistsTx reports whether a poster with id exists.
func (r *PosterRepo) ExistsTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM posters WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
