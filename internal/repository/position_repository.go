package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/poster-tracker/internal/model"
)

// PositionRepo provides CRUD access to the poster_positions table.  All
// timestamps are stored in UTC.  Methods ending in Tx run inside a
// transaction owned by the caller, who is responsible for committing or
// rolling it back.
type PositionRepo struct {
	db *sql.DB
}

// NewPositionRepo returns a PositionRepo bound to the given database.
func NewPositionRepo(db *sql.DB) *PositionRepo { return &PositionRepo{db: db} }

// PositionFilter narrows List and Count.  A zero Limit means no paging.
type PositionFilter struct {
	PosterID *uuid.UUID
	Limit    int
	Offset   int
}

const positionColumns = `id, poster_id, latitude, longitude, expires_at, posted_at, posted_by,
	removed_at, removed_by, damaged, image, created_at, updated_at`

func scanPosition(s rowScanner) (*model.PosterPosition, error) {
	var p model.PosterPosition
	err := s.Scan(&p.ID, &p.PosterID, &p.Latitude, &p.Longitude, &p.ExpiresAt,
		&p.PostedAt, &p.PostedBy, &p.RemovedAt, &p.RemovedBy, &p.Damaged, &p.Image,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID loads a single position.  It returns ErrPositionNotFound when
// no row exists.
func (r *PositionRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.PosterPosition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM poster_positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPositionNotFound
	}
	return p, err
}

// GetForUpdateTx loads a position and takes a row lock on it for the
// remainder of tx.  Concurrent lifecycle operations on the same position
// queue behind this lock, so a precondition evaluated on the returned
// row still holds when the update is written.
func (r *PositionRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.PosterPosition, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM poster_positions WHERE id = ? FOR UPDATE`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPositionNotFound
	}
	return p, err
}

// CreateTx inserts p.  ID, CreatedAt and UpdatedAt must already be set.
func (r *PositionRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.PosterPosition) error {
	const q = `INSERT INTO poster_positions
		(id, poster_id, latitude, longitude, expires_at, posted_at, posted_by,
		 removed_at, removed_by, damaged, image, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		p.ID, p.PosterID, p.Latitude, p.Longitude, p.ExpiresAt.UTC(),
		nullTime(p.PostedAt), nullUUID(p.PostedBy), nullTime(p.RemovedAt), nullUUID(p.RemovedBy),
		p.Damaged, nullString(p.Image), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return err
}

// UpdateTx writes every mutable column of p.  It returns
// ErrPositionNotFound if the row vanished.
func (r *PositionRepo) UpdateTx(ctx context.Context, tx *sql.Tx, p *model.PosterPosition) error {
	const q = `UPDATE poster_positions SET
		poster_id = ?, latitude = ?, longitude = ?, expires_at = ?,
		posted_at = ?, posted_by = ?, removed_at = ?, removed_by = ?,
		damaged = ?, image = ?, updated_at = ?
		WHERE id = ?`
	res, err := tx.ExecContext(ctx, q,
		p.PosterID, p.Latitude, p.Longitude, p.ExpiresAt.UTC(),
		nullTime(p.PostedAt), nullUUID(p.PostedBy), nullTime(p.RemovedAt), nullUUID(p.RemovedBy),
		p.Damaged, nullString(p.Image), p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return err
	}
	// The DSN sets clientFoundRows, so matched rows are counted even when
	// no column value changed.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrPositionNotFound
	}
	return nil
}

// List returns positions ordered by creation time, oldest first.
func (r *PositionRepo) List(ctx context.Context, f PositionFilter) ([]model.PosterPosition, error) {
	q := `SELECT ` + positionColumns + ` FROM poster_positions`
	args := []any{}
	if f.PosterID != nil {
		q += ` WHERE poster_id = ?`
		args = append(args, *f.PosterID)
	}
	q += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.PosterPosition{}
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Count returns the number of positions matching f, ignoring paging.
func (r *PositionRepo) Count(ctx context.Context, f PositionFilter) (int, error) {
	q := `SELECT COUNT(*) FROM poster_positions`
	args := []any{}
	if f.PosterID != nil {
		q += ` WHERE poster_id = ?`
		args = append(args, *f.PosterID)
	}
	var n int
	err := r.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
