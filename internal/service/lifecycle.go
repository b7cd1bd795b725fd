// Package service implements the poster position lifecycle: status
// derivation, the hang / take-down / damage-report transitions, creation
// and administrative edits, and the responsibility rules that decide who
// may perform them.
package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/poster-tracker/internal/geo"
	"github.com/iliyamo/poster-tracker/internal/model"
	"github.com/iliyamo/poster-tracker/internal/queue"
	"github.com/iliyamo/poster-tracker/internal/repository"
	"github.com/iliyamo/poster-tracker/internal/storage"
)

// PositionStore is the position persistence.  *repository.PositionRepo
// implements it.
type PositionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.PosterPosition, error)
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.PosterPosition, error)
	CreateTx(ctx context.Context, tx *sql.Tx, p *model.PosterPosition) error
	UpdateTx(ctx context.Context, tx *sql.Tx, p *model.PosterPosition) error
	List(ctx context.Context, f repository.PositionFilter) ([]model.PosterPosition, error)
	Count(ctx context.Context, f repository.PositionFilter) (int, error)
}

// PosterStore checks poster references.
type PosterStore interface {
	ExistsTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error)
}

// ImageStore persists confirmation photos.
type ImageStore interface {
	Save(ctx context.Context, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// EventPublisher receives an event after every committed change.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.PositionEvent) error
}

// Deps bundles the collaborators of an Engine.  Clock defaults to
// time.Now, Events to a no-op publisher and Log to the standard logger.
type Deps struct {
	Positions        PositionStore
	Posters          PosterStore
	Users            UserStore
	Responsibilities ResponsibilityStore
	Tx               TxRunner
	Images           ImageStore
	Events           EventPublisher
	Log              *logrus.Entry
	Clock            func() time.Time
}

// Engine runs the lifecycle operations.  It holds no per-request state;
// every call re-reads what it needs and all concurrency control is the
// row lock taken inside the transaction.
type Engine struct {
	positions PositionStore
	posters   PosterStore
	users     UserStore
	resp      *ResponsibilityManager
	tx        TxRunner
	images    ImageStore
	events    EventPublisher
	log       *logrus.Entry
	now       func() time.Time
}

// NewEngine wires an Engine.
func NewEngine(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Events == nil {
		d.Events = queue.NopPublisher{}
	}
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		positions: d.Positions,
		posters:   d.Posters,
		users:     d.Users,
		resp:      NewResponsibilityManager(d.Responsibilities, d.Users, d.Clock),
		tx:        d.Tx,
		images:    d.Images,
		events:    d.Events,
		log:       d.Log,
		now:       d.Clock,
	}
}

// Coordinates is a latitude/longitude pair as supplied by a client.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// CreateInput describes a new position.
type CreateInput struct {
	PosterID         uuid.UUID
	Coordinates      Coordinates
	ExpiresAt        time.Time
	ResponsibleUsers []uuid.UUID
}

// EditInput is an administrative partial update.  Nil fields are left
// unchanged; Image nil keeps the current photo.
type EditInput struct {
	Latitude         *float64
	Longitude        *float64
	ExpiresAt        *time.Time
	PosterID         *uuid.UUID
	ResponsibleUsers *[]uuid.UUID
	Image            []byte
}

// PositionView is a position together with everything needed to render
// it: the status at read time and the identities it references.
type PositionView struct {
	Position    model.PosterPosition
	Status      Status
	PostedBy    *model.Identity
	RemovedBy   *model.Identity
	Responsible []model.Identity
}

// ListFilter selects positions for List.  Per == 0 disables paging.
type ListFilter struct {
	PosterID *uuid.UUID
	Page     int
	Per      int
}

// Status derives the current display status of p.
func (e *Engine) Status(p *model.PosterPosition) Status {
	return DeriveStatus(p, e.now())
}

// Create validates the input and inserts the position together with its
// responsibility rows in one transaction.
func (e *Engine) Create(ctx context.Context, in CreateInput) (view *PositionView, err error) {
	defer func() { recordOperation("create", err) }()

	lat, lon, err := geo.Validate(in.Coordinates.Latitude, in.Coordinates.Longitude)
	if err != nil {
		return nil, badRequest("%s", err.Error())
	}
	if in.ExpiresAt.IsZero() {
		return nil, badRequest("expires_at is required")
	}
	if len(dedupe(in.ResponsibleUsers)) == 0 {
		return nil, badRequest("at least one responsible user is required")
	}

	now := e.now().UTC()
	p := &model.PosterPosition{
		ID:        uuid.New(),
		PosterID:  in.PosterID,
		Latitude:  lat,
		Longitude: lon,
		ExpiresAt: in.ExpiresAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = e.tx.InTx(ctx, func(tx *sql.Tx) error {
		if err := e.requirePoster(ctx, tx, in.PosterID); err != nil {
			return err
		}
		if err := e.positions.CreateTx(ctx, tx, p); err != nil {
			return internal("failed to create poster position", err)
		}
		if _, err := e.resp.Create(ctx, tx, p.ID, in.ResponsibleUsers); err != nil {
			return err
		}
		v, err := e.viewTx(ctx, tx, p)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.afterCommit(ctx, queue.EventPositionCreated, nil, view)
	return view, nil
}

// Hang records that userID put the poster up at positionID.  The caller
// must be responsible for the position and the position must not
// already be hanging.  Supplied coordinates replace the stored ones.
func (e *Engine) Hang(ctx context.Context, userID, positionID uuid.UUID, image []byte, coords *Coordinates) (view *PositionView, err error) {
	defer func() { recordOperation("hang", err) }()

	var lat, lon float64
	if coords != nil {
		if lat, lon, err = geo.Validate(coords.Latitude, coords.Longitude); err != nil {
			return nil, badRequest("%s", err.Error())
		}
	}
	return e.transition(ctx, "hang", queue.EventPositionHung, userID, positionID, image,
		func(p *model.PosterPosition, now time.Time) error {
			if p.IsHanging() {
				return badRequest("poster position already hung")
			}
			p.RemovedAt, p.RemovedBy = nil, nil
			p.PostedAt, p.PostedBy = &now, &userID
			p.Damaged = false
			if coords != nil {
				p.Latitude, p.Longitude = lat, lon
			}
			return nil
		})
}

// TakeDown records that userID removed the poster.  A position that was
// never hung cannot be taken down.  Damage is left as it is and the last
// posting stays on record, which is what makes the status takenDown
// rather than toHang.
func (e *Engine) TakeDown(ctx context.Context, userID, positionID uuid.UUID, image []byte) (view *PositionView, err error) {
	defer func() { recordOperation("take_down", err) }()

	return e.transition(ctx, "take_down", queue.EventPositionTakenDown, userID, positionID, image,
		func(p *model.PosterPosition, now time.Time) error {
			if p.PostedAt == nil {
				return badRequest("poster position not hung")
			}
			if p.IsRemoved() {
				return badRequest("poster position already taken down")
			}
			p.RemovedAt, p.RemovedBy = &now, &userID
			return nil
		})
}

// ReportDamage flags the poster as damaged regardless of whether it is
// hanging or removed.
func (e *Engine) ReportDamage(ctx context.Context, userID, positionID uuid.UUID, image []byte) (view *PositionView, err error) {
	defer func() { recordOperation("report_damage", err) }()

	return e.transition(ctx, "report_damage", queue.EventPositionDamageReported, userID, positionID, image,
		func(p *model.PosterPosition, _ time.Time) error {
			p.Damaged = true
			return nil
		})
}

// transition is the shared shape of the three physical-state changes:
// store the photo, lock the row, check existence and responsibility,
// apply mutate, write, and build the response view, all in one
// transaction.  The new photo is discarded if anything fails and the
// replaced one is deleted once the change is committed.
func (e *Engine) transition(ctx context.Context, op, eventType string, userID, positionID uuid.UUID, image []byte,
	mutate func(p *model.PosterPosition, now time.Time) error) (*PositionView, error) {
	if len(image) == 0 {
		return nil, badRequest("image is required")
	}
	key, err := e.saveImage(ctx, image)
	if err != nil {
		return nil, err
	}

	var (
		view     *PositionView
		oldImage *string
	)
	err = e.tx.InTx(ctx, func(tx *sql.Tx) error {
		p, err := e.lock(ctx, tx, positionID)
		if err != nil {
			return err
		}
		ok, err := e.resp.IsResponsible(ctx, tx, positionID, userID)
		if err != nil {
			return internal("failed to check responsibility", err)
		}
		if !ok {
			return forbidden("user is not responsible for this poster position")
		}
		now := e.now().UTC()
		if err := mutate(p, now); err != nil {
			return err
		}
		oldImage = p.Image
		p.Image = &key
		p.UpdatedAt = now
		if err := e.positions.UpdateTx(ctx, tx, p); err != nil {
			return asServiceError("failed to update poster position", translate(err))
		}
		v, err := e.viewTx(ctx, tx, p)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		e.discardImage(ctx, key)
		e.log.WithError(err).WithFields(logrus.Fields{
			"operation": op, "position_id": positionID, "user_id": userID,
		}).Debug("poster position transition rejected")
		return nil, err
	}
	e.afterCommit(ctx, eventType, &userID, view)
	if oldImage != nil {
		e.discardImage(ctx, *oldImage)
	}
	return view, nil
}

// Edit applies an administrative update.  No responsibility check is
// made here; the route is restricted to administrators.
func (e *Engine) Edit(ctx context.Context, positionID uuid.UUID, in EditInput) (view *PositionView, err error) {
	defer func() { recordOperation("edit", err) }()

	if in.ResponsibleUsers != nil && len(dedupe(*in.ResponsibleUsers)) == 0 {
		return nil, badRequest("at least one responsible user is required")
	}
	if in.ExpiresAt != nil && in.ExpiresAt.IsZero() {
		return nil, badRequest("expires_at must not be empty")
	}
	coords, err := editCoordinates(in)
	if err != nil {
		return nil, err
	}

	var key string
	if in.Image != nil {
		if key, err = e.saveImage(ctx, in.Image); err != nil {
			return nil, err
		}
	}

	var oldImage *string
	err = e.tx.InTx(ctx, func(tx *sql.Tx) error {
		p, err := e.lock(ctx, tx, positionID)
		if err != nil {
			return err
		}
		switch {
		case coords != nil:
			p.Latitude, p.Longitude = coords.Latitude, coords.Longitude
		case in.Latitude != nil || in.Longitude != nil:
			lat, lon := p.Latitude, p.Longitude
			if in.Latitude != nil {
				lat = *in.Latitude
			}
			if in.Longitude != nil {
				lon = *in.Longitude
			}
			if p.Latitude, p.Longitude, err = geo.Validate(lat, lon); err != nil {
				return badRequest("%s", err.Error())
			}
		}
		if in.PosterID != nil && *in.PosterID != p.PosterID {
			if err := e.requirePoster(ctx, tx, *in.PosterID); err != nil {
				return err
			}
			p.PosterID = *in.PosterID
		}
		if in.ExpiresAt != nil {
			p.ExpiresAt = in.ExpiresAt.UTC()
		}
		if in.Image != nil {
			oldImage = p.Image
			p.Image = &key
		}
		p.UpdatedAt = e.now().UTC()
		if err := e.positions.UpdateTx(ctx, tx, p); err != nil {
			return asServiceError("failed to update poster position", translate(err))
		}
		if in.ResponsibleUsers != nil {
			if _, err := e.resp.Reconcile(ctx, tx, positionID, *in.ResponsibleUsers); err != nil {
				return err
			}
		}
		v, err := e.viewTx(ctx, tx, p)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		if key != "" {
			e.discardImage(ctx, key)
		}
		return nil, err
	}
	e.afterCommit(ctx, queue.EventPositionUpdated, nil, view)
	if oldImage != nil {
		e.discardImage(ctx, *oldImage)
	}
	return view, nil
}

// editCoordinates range-checks the supplied coordinates before anything
// is written.  When both are present the rounded pair is returned; a
// single coordinate is only checked here and merged with the stored
// value under the row lock.
func editCoordinates(in EditInput) (*Coordinates, error) {
	switch {
	case in.Latitude != nil && in.Longitude != nil:
		lat, lon, err := geo.Validate(*in.Latitude, *in.Longitude)
		if err != nil {
			return nil, badRequest("%s", err.Error())
		}
		return &Coordinates{Latitude: lat, Longitude: lon}, nil
	case in.Latitude != nil:
		if _, _, err := geo.Validate(*in.Latitude, 0); err != nil {
			return nil, badRequest("%s", err.Error())
		}
	case in.Longitude != nil:
		if _, _, err := geo.Validate(0, *in.Longitude); err != nil {
			return nil, badRequest("%s", err.Error())
		}
	}
	return nil, nil
}

// Get loads one position for display.
func (e *Engine) Get(ctx context.Context, positionID uuid.UUID) (*PositionView, error) {
	p, err := e.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, asServiceError("failed to load poster position", translate(err))
	}
	views, err := e.views(ctx, []model.PosterPosition{*p})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// List returns the positions matching f and the total number of matches
// ignoring paging.
func (e *Engine) List(ctx context.Context, f ListFilter) ([]PositionView, int, error) {
	rf := repository.PositionFilter{PosterID: f.PosterID}
	if f.Per > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		rf.Limit = f.Per
		rf.Offset = (page - 1) * f.Per
	}
	positions, err := e.positions.List(ctx, rf)
	if err != nil {
		return nil, 0, internal("failed to list poster positions", err)
	}
	total := len(positions)
	if f.Per > 0 {
		if total, err = e.positions.Count(ctx, rf); err != nil {
			return nil, 0, internal("failed to count poster positions", err)
		}
	}
	views, err := e.views(ctx, positions)
	if err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

func (e *Engine) lock(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.PosterPosition, error) {
	p, err := e.positions.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, asServiceError("failed to load poster position", translate(err))
	}
	return p, nil
}

func (e *Engine) requirePoster(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	ok, err := e.posters.ExistsTx(ctx, tx, id)
	if err != nil {
		return internal("failed to look up poster", err)
	}
	if !ok {
		return badRequest("unknown poster %s", id)
	}
	return nil
}

func (e *Engine) saveImage(ctx context.Context, data []byte) (string, error) {
	key, err := e.images.Save(ctx, data)
	if errors.Is(err, storage.ErrNotImage) {
		return "", badRequest("image must be a JPEG, PNG, WebP or HEIC photo")
	}
	if err != nil {
		return "", internal("failed to store image", err)
	}
	return key, nil
}

func (e *Engine) discardImage(ctx context.Context, key string) {
	if err := e.images.Delete(ctx, key); err != nil {
		e.log.WithError(err).WithField("image", key).Warn("failed to delete image")
	}
}

// viewTx builds the response view inside tx.  A failure here rolls the
// whole change back.
func (e *Engine) viewTx(ctx context.Context, tx *sql.Tx, p *model.PosterPosition) (*PositionView, error) {
	rows, err := e.resp.store.ListByPositionTx(ctx, tx, p.ID)
	if err != nil {
		return nil, internal("failed to load responsibilities", err)
	}
	users, err := e.users.GetByIDsTx(ctx, tx, referencedUsers([]model.PosterPosition{*p}, map[uuid.UUID][]model.Responsibility{p.ID: rows}))
	if err != nil {
		return nil, internal("failed to load users", err)
	}
	v, err := e.assemble(p, rows, users)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (e *Engine) views(ctx context.Context, positions []model.PosterPosition) ([]PositionView, error) {
	ids := make([]uuid.UUID, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.ID)
	}
	rows, err := e.resp.store.ListByPositions(ctx, ids)
	if err != nil {
		return nil, internal("failed to load responsibilities", err)
	}
	users, err := e.users.GetByIDs(ctx, referencedUsers(positions, rows))
	if err != nil {
		return nil, internal("failed to load users", err)
	}
	out := make([]PositionView, 0, len(positions))
	for i := range positions {
		v, err := e.assemble(&positions[i], rows[positions[i].ID], users)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Engine) assemble(p *model.PosterPosition, rows []model.Responsibility, users map[uuid.UUID]model.User) (PositionView, error) {
	v := PositionView{Position: *p, Status: e.Status(p), Responsible: make([]model.Identity, 0, len(rows))}
	identity := func(id uuid.UUID) (*model.Identity, error) {
		u, ok := users[id]
		if !ok {
			return nil, internal("referenced user is missing", repository.ErrUserNotFound)
		}
		ident := u.Identity()
		return &ident, nil
	}
	var err error
	if p.PostedBy != nil {
		if v.PostedBy, err = identity(*p.PostedBy); err != nil {
			return v, err
		}
	}
	if p.RemovedBy != nil {
		if v.RemovedBy, err = identity(*p.RemovedBy); err != nil {
			return v, err
		}
	}
	for _, r := range rows {
		ident, err := identity(r.UserID)
		if err != nil {
			return v, err
		}
		v.Responsible = append(v.Responsible, *ident)
	}
	return v, nil
}

func (e *Engine) afterCommit(ctx context.Context, eventType string, actor *uuid.UUID, v *PositionView) {
	p := v.Position
	ev := queue.PositionEvent{
		Type:       eventType,
		PositionID: p.ID.String(),
		PosterID:   p.PosterID.String(),
		Status:     string(v.Status),
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		OccurredAt: p.UpdatedAt,
	}
	if actor != nil {
		ev.ActorID = actor.String()
	}
	if p.Image != nil {
		ev.Image = *p.Image
	}
	fields := logrus.Fields{"event": eventType, "position_id": ev.PositionID, "status": ev.Status}
	e.log.WithFields(fields).Info("poster position changed")
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.WithError(err).WithFields(fields).Warn("failed to publish poster position event")
	}
}

// referencedUsers collects every user id a set of views will render.
func referencedUsers(positions []model.PosterPosition, rows map[uuid.UUID][]model.Responsibility) []uuid.UUID {
	var ids []uuid.UUID
	for _, p := range positions {
		if p.PostedBy != nil {
			ids = append(ids, *p.PostedBy)
		}
		if p.RemovedBy != nil {
			ids = append(ids, *p.RemovedBy)
		}
		for _, r := range rows[p.ID] {
			ids = append(ids, r.UserID)
		}
	}
	return dedupe(ids)
}

// translate maps repository sentinels onto service errors.
func translate(err error) error {
	if errors.Is(err, repository.ErrPositionNotFound) {
		return notFound("poster position not found")
	}
	return err
}
