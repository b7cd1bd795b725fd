package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/poster-tracker/internal/model"
)

// ResponsibilityStore is the persistence the ResponsibilityManager needs.
// *repository.ResponsibilityRepo implements it.
type ResponsibilityStore interface {
	ListByPositionTx(ctx context.Context, tx *sql.Tx, positionID uuid.UUID) ([]model.Responsibility, error)
	ListByPositions(ctx context.Context, positionIDs []uuid.UUID) (map[uuid.UUID][]model.Responsibility, error)
	ExistsTx(ctx context.Context, tx *sql.Tx, positionID, userID uuid.UUID) (bool, error)
	CreateManyTx(ctx context.Context, tx *sql.Tx, rows []model.Responsibility) error
	DeleteByPositionAndUsersTx(ctx context.Context, tx *sql.Tx, positionID uuid.UUID, userIDs []uuid.UUID) (int64, error)
}

// UserStore is the identity lookup.  *repository.UserRepo implements it.
type UserStore interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.User, error)
	GetByIDsTx(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) (map[uuid.UUID]model.User, error)
}

// ResponsibilityManager maintains the set of users allowed to change a
// position's physical state.  Every method runs inside the caller's
// transaction.
type ResponsibilityManager struct {
	store ResponsibilityStore
	users UserStore
	now   func() time.Time
}

// NewResponsibilityManager wires a manager over the given stores.
func NewResponsibilityManager(store ResponsibilityStore, users UserStore, now func() time.Time) *ResponsibilityManager {
	if now == nil {
		now = time.Now
	}
	return &ResponsibilityManager{store: store, users: users, now: now}
}

// ReconcileResult lists the user ids whose rows were inserted or deleted.
type ReconcileResult struct {
	Added   []uuid.UUID
	Removed []uuid.UUID
}

// Changed reports whether reconciliation wrote anything.
func (r ReconcileResult) Changed() bool { return len(r.Added) > 0 || len(r.Removed) > 0 }

// IsResponsible reports whether userID may change the state of positionID.
func (m *ResponsibilityManager) IsResponsible(ctx context.Context, tx *sql.Tx, positionID, userID uuid.UUID) (bool, error) {
	return m.store.ExistsTx(ctx, tx, positionID, userID)
}

// Create inserts one row per distinct user in userIDs.  Every id must
// resolve to an existing user; the first unknown id fails the call with
// a BadRequest naming it.  The resolved users are returned in input
// order.
func (m *ResponsibilityManager) Create(ctx context.Context, tx *sql.Tx, positionID uuid.UUID, userIDs []uuid.UUID) ([]model.User, error) {
	ids := dedupe(userIDs)
	users, err := m.resolve(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateManyTx(ctx, tx, m.rows(positionID, ids)); err != nil {
		return nil, internal("failed to create responsibilities", err)
	}
	return users, nil
}

// Reconcile brings the rows of positionID in line with newUserIDs by
// inserting the missing pairs and deleting the surplus ones.  Rows that
// stay are left untouched, so the position never passes through a state
// with no responsible user.  An unchanged set writes nothing.
func (m *ResponsibilityManager) Reconcile(ctx context.Context, tx *sql.Tx, positionID uuid.UUID, newUserIDs []uuid.UUID) (ReconcileResult, error) {
	current, err := m.store.ListByPositionTx(ctx, tx, positionID)
	if err != nil {
		return ReconcileResult{}, internal("failed to load responsibilities", err)
	}
	wanted := dedupe(newUserIDs)

	have := make(map[uuid.UUID]struct{}, len(current))
	for _, r := range current {
		have[r.UserID] = struct{}{}
	}
	want := make(map[uuid.UUID]struct{}, len(wanted))
	for _, id := range wanted {
		want[id] = struct{}{}
	}

	var res ReconcileResult
	for _, id := range wanted {
		if _, ok := have[id]; !ok {
			res.Added = append(res.Added, id)
		}
	}
	for _, r := range current {
		if _, ok := want[r.UserID]; !ok {
			res.Removed = append(res.Removed, r.UserID)
		}
	}

	if len(res.Added) > 0 {
		if _, err := m.resolve(ctx, tx, res.Added); err != nil {
			return ReconcileResult{}, err
		}
		if err := m.store.CreateManyTx(ctx, tx, m.rows(positionID, res.Added)); err != nil {
			return ReconcileResult{}, internal("failed to add responsibilities", err)
		}
	}
	if len(res.Removed) > 0 {
		if _, err := m.store.DeleteByPositionAndUsersTx(ctx, tx, positionID, res.Removed); err != nil {
			return ReconcileResult{}, internal("failed to remove responsibilities", err)
		}
	}
	return res, nil
}

func (m *ResponsibilityManager) resolve(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) ([]model.User, error) {
	found, err := m.users.GetByIDsTx(ctx, tx, ids)
	if err != nil {
		return nil, internal("failed to look up users", err)
	}
	users := make([]model.User, 0, len(ids))
	for _, id := range ids {
		u, ok := found[id]
		if !ok {
			return nil, badRequest("unknown user %s", id)
		}
		users = append(users, u)
	}
	return users, nil
}

func (m *ResponsibilityManager) rows(positionID uuid.UUID, userIDs []uuid.UUID) []model.Responsibility {
	now := m.now().UTC()
	rows := make([]model.Responsibility, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, model.Responsibility{
			ID:         uuid.New(),
			UserID:     id,
			PositionID: positionID,
			CreatedAt:  now,
		})
	}
	return rows
}

// dedupe drops repeated ids, keeping the first occurrence.
func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
