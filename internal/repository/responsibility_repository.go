package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/iliyamo/poster-tracker/internal/model"
)

// ResponsibilityRepo manages poster_position_responsibilities, the join
// table between users and poster positions.  A unique index on
// (user_id, position_id) backs the one-row-per-pair rule.
type ResponsibilityRepo struct {
	db *sql.DB
}

// NewResponsibilityRepo returns a ResponsibilityRepo bound to db.
func NewResponsibilityRepo(db *sql.DB) *ResponsibilityRepo { return &ResponsibilityRepo{db: db} }

const responsibilityColumns = `id, user_id, position_id, created_at`

func scanResponsibilities(rows *sql.Rows) ([]model.Responsibility, error) {
	defer rows.Close()
	out := []model.Responsibility{}
	for rows.Next() {
		var r model.Responsibility
		if err := rows.Scan(&r.ID, &r.UserID, &r.PositionID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListByPositionTx returns the rows of one position inside tx.
func (r *ResponsibilityRepo) ListByPositionTx(ctx context.Context, tx *sql.Tx, positionID uuid.UUID) ([]model.Responsibility, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+responsibilityColumns+` FROM poster_position_responsibilities WHERE position_id = ? ORDER BY created_at, id`,
		positionID)
	if err != nil {
		return nil, err
	}
	return scanResponsibilities(rows)
}

// ListByPositions returns the rows of several positions grouped by
// position id.  Positions without rows are absent from the map.
func (r *ResponsibilityRepo) ListByPositions(ctx context.Context, positionIDs []uuid.UUID) (map[uuid.UUID][]model.Responsibility, error) {
	out := make(map[uuid.UUID][]model.Responsibility, len(positionIDs))
	if len(positionIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(positionIDs))
	for _, id := range positionIDs {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+responsibilityColumns+` FROM poster_position_responsibilities
		 WHERE position_id IN (`+placeholders(len(args))+`) ORDER BY created_at, id`,
		args...)
	if err != nil {
		return nil, err
	}
	list, err := scanResponsibilities(rows)
	if err != nil {
		return nil, err
	}
	for _, rr := range list {
		out[rr.PositionID] = append(out[rr.PositionID], rr)
	}
	return out, nil
}

// ExistsTx reports whether userID is responsible for positionID.
func (r *ResponsibilityRepo) ExistsTx(ctx context.Context, tx *sql.Tx, positionID, userID uuid.UUID) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM poster_position_responsibilities WHERE position_id = ? AND user_id = ?`,
		positionID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateManyTx inserts rows in a single statement.  An empty slice is a
// no-op.
func (r *ResponsibilityRepo) CreateManyTx(ctx context.Context, tx *sql.Tx, rows []model.Responsibility) error {
	if len(rows) == 0 {
		return nil
	}
	query := `INSERT INTO poster_position_responsibilities (id, user_id, position_id, created_at) VALUES `
	args := make([]any, 0, len(rows)*4)
	for i, rr := range rows {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, rr.ID, rr.UserID, rr.PositionID, rr.CreatedAt.UTC())
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// DeleteByPositionAndUsersTx removes the rows linking positionID to any
// of userIDs and returns how many were deleted.  Both filters are always
// applied; an empty userIDs slice deletes nothing.
func (r *ResponsibilityRepo) DeleteByPositionAndUsersTx(ctx context.Context, tx *sql.Tx, positionID uuid.UUID, userIDs []uuid.UUID) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(userIDs)+1)
	args = append(args, positionID)
	for _, id := range userIDs {
		args = append(args, id)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM poster_position_responsibilities WHERE position_id = ? AND user_id IN (`+placeholders(len(userIDs))+`)`,
		args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
