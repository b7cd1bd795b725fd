package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/iliyamo/poster-tracker/internal/model"
	"github.com/iliyamo/poster-tracker/internal/queue"
	"github.com/iliyamo/poster-tracker/internal/repository"
	"github.com/iliyamo/poster-tracker/internal/storage"
)

// memDB is an in-memory stand-in for every store the engine uses.  InTx
// serializes transactions the way a row lock would and restores a
// snapshot when fn fails, so rollback behaviour is observable.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	positions map[uuid.UUID]model.PosterPosition
	posters   map[uuid.UUID]bool
	users     map[uuid.UUID]model.User
	resp      []model.Responsibility

	inserted int
	deleted  int
	updates  int
	txs      int

	failUpdate error
}

func newMemDB() *memDB {
	return &memDB{
		positions: map[uuid.UUID]model.PosterPosition{},
		posters:   map[uuid.UUID]bool{},
		users:     map[uuid.UUID]model.User{},
	}
}

func (m *memDB) addUser(name string) uuid.UUID {
	id := uuid.New()
	m.users[id] = model.User{ID: id, Name: name, Email: name + "@example.org", Role: model.RoleMember}
	return id
}

func (m *memDB) addPoster() uuid.UUID {
	id := uuid.New()
	m.posters[id] = true
	return id
}

func (m *memDB) position(id uuid.UUID) model.PosterPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[id]
}

func (m *memDB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	positions := make(map[uuid.UUID]model.PosterPosition, len(m.positions))
	for k, v := range m.positions {
		positions[k] = v
	}
	resp := append([]model.Responsibility(nil), m.resp...)
	m.txs++
	m.mu.Unlock()

	if err := fn(nil); err != nil {
		m.mu.Lock()
		m.positions, m.resp = positions, resp
		m.mu.Unlock()
		return err
	}
	return nil
}

// PositionStore

func (m *memDB) GetByID(_ context.Context, id uuid.UUID) (*model.PosterPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	return &p, nil
}

func (m *memDB) GetForUpdateTx(ctx context.Context, _ *sql.Tx, id uuid.UUID) (*model.PosterPosition, error) {
	return m.GetByID(ctx, id)
}

func (m *memDB) CreateTx(_ context.Context, _ *sql.Tx, p *model.PosterPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = *p
	return nil
}

func (m *memDB) UpdateTx(_ context.Context, _ *sql.Tx, p *model.PosterPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return m.failUpdate
	}
	if _, ok := m.positions[p.ID]; !ok {
		return repository.ErrPositionNotFound
	}
	m.positions[p.ID] = *p
	m.updates++
	return nil
}

func (m *memDB) filtered(f repository.PositionFilter) []model.PosterPosition {
	var out []model.PosterPosition
	for _, p := range m.positions {
		if f.PosterID != nil && p.PosterID != *f.PosterID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (m *memDB) List(_ context.Context, f repository.PositionFilter) ([]model.PosterPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filtered(f)
	if f.Limit > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		end := f.Offset + f.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[f.Offset:end]
	}
	return out, nil
}

func (m *memDB) Count(_ context.Context, f repository.PositionFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.filtered(f)), nil
}

// PosterStore

type memPosters struct{ db *memDB }

func (p memPosters) ExistsTx(_ context.Context, _ *sql.Tx, id uuid.UUID) (bool, error) {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	return p.db.posters[id], nil
}

// UserStore

func (m *memDB) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]model.User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (m *memDB) GetByIDsTx(ctx context.Context, _ *sql.Tx, ids []uuid.UUID) (map[uuid.UUID]model.User, error) {
	return m.GetByIDs(ctx, ids)
}

// ResponsibilityStore

type memResp struct{ db *memDB }

func (r memResp) ListByPositionTx(_ context.Context, _ *sql.Tx, positionID uuid.UUID) ([]model.Responsibility, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.Responsibility
	for _, row := range r.db.resp {
		if row.PositionID == positionID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r memResp) ListByPositions(ctx context.Context, positionIDs []uuid.UUID) (map[uuid.UUID][]model.Responsibility, error) {
	out := make(map[uuid.UUID][]model.Responsibility, len(positionIDs))
	for _, id := range positionIDs {
		rows, _ := r.ListByPositionTx(ctx, nil, id)
		out[id] = rows
	}
	return out, nil
}

func (r memResp) ExistsTx(_ context.Context, _ *sql.Tx, positionID, userID uuid.UUID) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, row := range r.db.resp {
		if row.PositionID == positionID && row.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r memResp) CreateManyTx(_ context.Context, _ *sql.Tx, rows []model.Responsibility) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, n := range rows {
		for _, row := range r.db.resp {
			if row.PositionID == n.PositionID && row.UserID == n.UserID {
				return errors.New("duplicate responsibility")
			}
		}
	}
	r.db.resp = append(r.db.resp, rows...)
	r.db.inserted += len(rows)
	return nil
}

func (r memResp) DeleteByPositionAndUsersTx(_ context.Context, _ *sql.Tx, positionID uuid.UUID, userIDs []uuid.UUID) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	drop := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		drop[id] = true
	}
	kept := r.db.resp[:0:0]
	var n int64
	for _, row := range r.db.resp {
		if row.PositionID == positionID && drop[row.UserID] {
			n++
			continue
		}
		kept = append(kept, row)
	}
	r.db.resp = kept
	r.db.deleted += int(n)
	return n, nil
}

// ImageStore

type memImages struct {
	mu    sync.Mutex
	saved map[string][]byte
	saves int
}

func newMemImages() *memImages { return &memImages{saved: map[string][]byte{}} }

func (s *memImages) Save(_ context.Context, data []byte) (string, error) {
	if string(data) == "not-an-image" {
		return "", storage.ErrNotImage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	key := uuid.NewString() + ".png"
	s.saved[key] = data
	return key, nil
}

func (s *memImages) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, key)
	return nil
}

func (s *memImages) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// EventPublisher

type memEvents struct {
	mu     sync.Mutex
	events []queue.PositionEvent
}

func (e *memEvents) Publish(_ context.Context, ev queue.PositionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *memEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
