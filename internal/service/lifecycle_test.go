package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/poster-tracker/internal/queue"
)

var photo = []byte("\x89PNG\r\n\x1a\nphoto")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	db     *memDB
	images *memImages
	events *memEvents
	clock  *clock
	engine *Engine
	poster uuid.UUID
	alice  uuid.UUID
	bob    uuid.UUID
	carol  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	f := &fixture{
		db:     newMemDB(),
		images: newMemImages(),
		events: &memEvents{},
		clock:  &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.poster = f.db.addPoster()
	f.alice = f.db.addUser("alice")
	f.bob = f.db.addUser("bob")
	f.carol = f.db.addUser("carol")
	f.engine = NewEngine(Deps{
		Positions:        f.db,
		Posters:          memPosters{f.db},
		Users:            f.db,
		Responsibilities: memResp{f.db},
		Tx:               f.db,
		Images:           f.images,
		Events:           f.events,
		Log:              logrus.NewEntry(logger),
		Clock:            f.clock.Now,
	})
	return f
}

func (f *fixture) create(t *testing.T, users ...uuid.UUID) *PositionView {
	t.Helper()
	v, err := f.engine.Create(context.Background(), CreateInput{
		PosterID:         f.poster,
		Coordinates:      Coordinates{Latitude: 48.13743123, Longitude: 11.57549}, // rounded on write
		ExpiresAt:        f.clock.Now().Add(time.Hour),
		ResponsibleUsers: users,
	})
	require.NoError(t, err)
	return v
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	var se *Error
	require.True(t, errors.As(err, &se), "expected *service.Error, got %T", err)
	require.Equal(t, kind, se.Kind, "reason: %s", se.Reason)
}

func TestCreate_RoundsCoordinatesAndStoresResponsibilities(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice, f.bob, f.alice)

	assert.Equal(t, StatusToHang, v.Status)
	assert.Equal(t, 48.137431, v.Position.Latitude)
	assert.Equal(t, 11.57549, v.Position.Longitude)
	assert.Nil(t, v.PostedBy)
	assert.Nil(t, v.Position.Image)
	require.Len(t, v.Responsible, 2)
	assert.Equal(t, "alice", v.Responsible[0].Name)
	assert.Equal(t, "bob", v.Responsible[1].Name)
	assert.Equal(t, []string{queue.EventPositionCreated}, f.events.types())
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := CreateInput{
		PosterID:         f.poster,
		Coordinates:      Coordinates{Latitude: 1, Longitude: 1},
		ExpiresAt:        f.clock.Now().Add(time.Hour),
		ResponsibleUsers: []uuid.UUID{f.alice},
	}

	cases := map[string]func(in *CreateInput){
		"latitude out of range":  func(in *CreateInput) { in.Coordinates.Latitude = 90.5 },
		"longitude out of range": func(in *CreateInput) { in.Coordinates.Longitude = -180.000001 },
		"no responsible users":   func(in *CreateInput) { in.ResponsibleUsers = nil },
		"unknown user":           func(in *CreateInput) { in.ResponsibleUsers = []uuid.UUID{f.alice, uuid.New()} },
		"unknown poster":         func(in *CreateInput) { in.PosterID = uuid.New() },
		"missing expiry":         func(in *CreateInput) { in.ExpiresAt = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			_, err := f.engine.Create(ctx, in)
			requireKind(t, err, KindBadRequest)
		})
	}

	assert.Empty(t, f.db.positions, "failed creates must leave no position behind")
	assert.Empty(t, f.db.resp, "failed creates must leave no responsibility behind")
}

func TestCreate_UnknownUserNamedInReason(t *testing.T) {
	f := newFixture(t)
	ghost := uuid.New()
	_, err := f.engine.Create(context.Background(), CreateInput{
		PosterID:         f.poster,
		Coordinates:      Coordinates{Latitude: 1, Longitude: 1},
		ExpiresAt:        f.clock.Now().Add(time.Hour),
		ResponsibleUsers: []uuid.UUID{ghost},
	})
	requireKind(t, err, KindBadRequest)
	assert.Contains(t, ReasonOf(err), ghost.String())
}

func TestHang_SetsPostingAndReplacesCoordinates(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice)

	got, err := f.engine.Hang(context.Background(), f.alice, v.Position.ID, photo,
		&Coordinates{Latitude: -33.8688197, Longitude: 151.2092957})
	require.NoError(t, err)

	assert.Equal(t, StatusHangs, got.Status)
	require.NotNil(t, got.PostedBy)
	assert.Equal(t, f.alice, got.PostedBy.ID)
	assert.Equal(t, "alice", got.PostedBy.Name)
	require.NotNil(t, got.Position.PostedAt)
	assert.True(t, got.Position.PostedAt.Equal(f.clock.Now()))
	assert.Equal(t, -33.86882, got.Position.Latitude)
	assert.Equal(t, 151.209296, got.Position.Longitude)
	require.NotNil(t, got.Position.Image)
	assert.Equal(t, 1, f.images.count())
}

func TestHang_AlreadyHangingLeavesFieldsUnchanged(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice, f.bob)
	ctx := context.Background()

	_, err := f.engine.Hang(ctx, f.alice, v.Position.ID, photo, nil)
	require.NoError(t, err)
	before := f.db.position(v.Position.ID)

	f.clock.Advance(time.Minute)
	_, err = f.engine.Hang(ctx, f.bob, v.Position.ID, photo, &Coordinates{Latitude: 10, Longitude: 10})
	requireKind(t, err, KindBadRequest)
	assert.Equal(t, "poster position already hung", ReasonOf(err))

	assert.Equal(t, before, f.db.position(v.Position.ID))
	assert.Equal(t, 1, f.images.count(), "rejected photo must be discarded")
}

func TestHang_OverdueCountsAsHanging(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice)
	ctx := context.Background()

	_, err := f.engine.Hang(ctx, f.alice, v.Position.ID, photo, nil)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	_, err = f.engine.Hang(ctx, f.alice, v.Position.ID, photo, nil)
	requireKind(t, err, KindBadRequest)
}

func TestHang_NotResponsibleHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice)
	before := f.db.position(v.Position.ID)
	updates := f.db.updates

	_, err := f.engine.Hang(context.Background(), f.carol, v.Position.ID, photo, nil)
	requireKind(t, err, KindForbidden)

	assert.Equal(t, before, f.db.position(v.Position.ID))
	assert.Equal(t, updates, f.db.updates)
	assert.Zero(t, f.images.count())
	assert.Equal(t, []string{queue.EventPositionCreated}, f.events.types())
}

func TestHang_MissingPositionAndImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Hang(ctx, f.alice, uuid.New(), photo, nil)
	requireKind(t, err, KindNotFound)

	v := f.create(t, f.alice)
	_, err = f.engine.Hang(ctx, f.alice, v.Position.ID, nil, nil)
	requireKind(t, err, KindBadRequest)

	_, err = f.engine.Hang(ctx, f.alice, v.Position.ID, []byte("not-an-image"), nil)
	requireKind(t, err, KindBadRequest)

	_, err = f.engine.Hang(ctx, f.alice, v.Position.ID, photo, &Coordinates{Latitude: 91, Longitude: 0})
	requireKind(t, err, KindBadRequest)
	assert.Zero(t, f.images.count())
}

func TestTakeDown(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice, f.bob)
	ctx := context.Background()

	_, err := f.engine.Hang(ctx, f.alice, v.Position.ID, photo, nil)
	require.NoError(t, err)
	_, err = f.engine.ReportDamage(ctx, f.alice, v.Position.ID, photo)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	got, err := f.engine.TakeDown(ctx, f.bob, v.Position.ID, photo)
	require.NoError(t, err)
	require.NotNil(t, got.RemovedBy)
	assert.Equal(t, f.bob, got.RemovedBy.ID)
	assert.True(t, got.Position.Damaged, "take-down leaves damage alone")
	assert.NotNil(t, got.Position.PostedAt, "take-down keeps the last posting")
	assert.Equal(t, StatusDamaged, got.Status)
	assert.Equal(t, 1, f.images.count(), "replaced photos are deleted")

	_, err = f.engine.TakeDown(ctx, f.bob, v.Position.ID, photo)
	requireKind(t, err, KindBadRequest)

	_, err = f.engine.TakeDown(ctx, f.carol, v.Position.ID, photo)
	requireKind(t, err, KindForbidden)
}

func TestTakeDownThenHangClearsRemovalAndDamage(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice)
	ctx := context.Background()
	id := v.Position.ID

	_, err := f.engine.Hang(ctx, f.alice, id, photo, nil)
	require.NoError(t, err)
	_, err = f.engine.ReportDamage(ctx, f.alice, id, photo)
	require.NoError(t, err)
	got, err := f.engine.TakeDown(ctx, f.alice, id, photo)
	require.NoError(t, err)
	assert.Equal(t, StatusDamaged, got.Status)

	got, err = f.engine.Hang(ctx, f.alice, id, photo, nil)
	require.NoError(t, err)
	assert.Nil(t, got.Position.RemovedAt)
	assert.Nil(t, got.Position.RemovedBy)
	assert.Nil(t, got.RemovedBy)
	assert.False(t, got.Position.Damaged)
	assert.Equal(t, StatusHangs, got.Status)
}

func TestTakeDown_NeverHungIsRejected(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice)
	before := f.db.position(v.Position.ID)

	_, err := f.engine.TakeDown(context.Background(), f.alice, v.Position.ID, photo)
	requireKind(t, err, KindBadRequest)
	assert.Equal(t, "poster position not hung", ReasonOf(err))

	assert.Equal(t, before, f.db.position(v.Position.ID))
	assert.Zero(t, f.db.updates)
	assert.Zero(t, f.images.count(), "the uploaded photo is discarded")
	assert.Equal(t, []string{queue.EventPositionCreated}, f.events.types())
}

func TestReportDamage_AnyStateButResponsibleOnly(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice)
	ctx := context.Background()

	got, err := f.engine.ReportDamage(ctx, f.alice, v.Position.ID, photo)
	require.NoError(t, err)
	assert.True(t, got.Position.Damaged)
	assert.Nil(t, got.Position.PostedAt)
	assert.Equal(t, StatusDamaged, got.Status)

	_, err = f.engine.ReportDamage(ctx, f.bob, v.Position.ID, photo)
	requireKind(t, err, KindForbidden)

	_, err = f.engine.ReportDamage(ctx, f.alice, uuid.New(), photo)
	requireKind(t, err, KindNotFound)
}

func TestLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t, f.alice, f.bob)
	id := v.Position.ID
	require.Equal(t, StatusToHang, v.Status)

	got, err := f.engine.Hang(ctx, f.alice, id, photo, nil)
	require.NoError(t, err)
	require.Equal(t, StatusHangs, got.Status)
	require.Equal(t, f.alice, got.PostedBy.ID)

	f.clock.Advance(time.Hour + time.Second)
	got, err = f.engine.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, got.Status)

	got, err = f.engine.ReportDamage(ctx, f.bob, id, photo)
	require.NoError(t, err)
	require.Equal(t, StatusDamaged, got.Status)

	got, err = f.engine.Hang(ctx, f.bob, id, photo, nil)
	require.NoError(t, err)
	assert.False(t, got.Position.Damaged)
	assert.Equal(t, f.bob, got.PostedBy.ID)
	// expiry has passed, so a fresh hang displays as overdue until edited
	assert.Equal(t, StatusOverdue, got.Status)

	later := f.clock.Now().Add(24 * time.Hour)
	got, err = f.engine.Edit(ctx, id, EditInput{ExpiresAt: &later})
	require.NoError(t, err)
	assert.Equal(t, StatusHangs, got.Status)

	assert.Equal(t, []string{
		queue.EventPositionCreated,
		queue.EventPositionHung,
		queue.EventPositionDamageReported,
		queue.EventPositionHung,
		queue.EventPositionUpdated,
	}, f.events.types())
}

func TestConcurrentHang_ExactlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice, f.bob)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		kinds     []Kind
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		user := f.alice
		if i%2 == 1 {
			user = f.bob
		}
		wg.Add(1)
		go func(user uuid.UUID) {
			defer wg.Done()
			<-start
			_, err := f.engine.Hang(context.Background(), user, v.Position.ID, photo, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			kinds = append(kinds, KindOf(err))
		}(user)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, kinds, n-1)
	for _, k := range kinds {
		assert.Equal(t, KindBadRequest, k)
	}
	assert.Equal(t, 1, f.images.count())
}

func TestEdit_PartialUpdate(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice, f.bob)
	ctx := context.Background()
	otherPoster := f.db.addPoster()

	lat := 52.5200066
	got, err := f.engine.Edit(ctx, v.Position.ID, EditInput{
		Latitude:         &lat,
		PosterID:         &otherPoster,
		ResponsibleUsers: &[]uuid.UUID{f.bob, f.carol},
		Image:            photo,
	})
	require.NoError(t, err)

	assert.Equal(t, 52.520007, got.Position.Latitude)
	assert.Equal(t, v.Position.Longitude, got.Position.Longitude)
	assert.Equal(t, otherPoster, got.Position.PosterID)
	assert.True(t, got.Position.ExpiresAt.Equal(v.Position.ExpiresAt))
	require.NotNil(t, got.Position.Image)

	names := make([]string, 0, len(got.Responsible))
	for _, r := range got.Responsible {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{"bob", "carol"}, names)
}

func TestEdit_RollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice)
	ctx := context.Background()
	before := f.db.position(v.Position.ID)

	lat := 10.0
	_, err := f.engine.Edit(ctx, v.Position.ID, EditInput{
		Latitude:         &lat,
		ResponsibleUsers: &[]uuid.UUID{f.bob, uuid.New()},
		Image:            photo,
	})
	requireKind(t, err, KindBadRequest)

	assert.Equal(t, before, f.db.position(v.Position.ID))
	rows, _ := memResp{f.db}.ListByPositionTx(ctx, nil, v.Position.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, f.alice, rows[0].UserID)
	assert.Zero(t, f.images.count())
}

func TestEdit_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice)
	f.db.failUpdate = errors.New("connection reset")

	lat := 10.0
	_, err := f.engine.Edit(context.Background(), v.Position.ID, EditInput{Latitude: &lat})
	requireKind(t, err, KindInternal)
	assert.NotContains(t, ReasonOf(err), "connection reset")
}

func TestEdit_Rejections(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice)
	ctx := context.Background()

	_, err := f.engine.Edit(ctx, v.Position.ID, EditInput{ResponsibleUsers: &[]uuid.UUID{}})
	requireKind(t, err, KindBadRequest)

	lon := 181.0
	_, err = f.engine.Edit(ctx, v.Position.ID, EditInput{Longitude: &lon})
	requireKind(t, err, KindBadRequest)

	unknown := uuid.New()
	_, err = f.engine.Edit(ctx, v.Position.ID, EditInput{PosterID: &unknown})
	requireKind(t, err, KindBadRequest)

	_, err = f.engine.Edit(ctx, uuid.New(), EditInput{})
	requireKind(t, err, KindNotFound)
}

func TestEdit_InvalidCoordinatesRejectedBeforeWriting(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, f.alice)
	ctx := context.Background()
	txs, saves := f.db.txs, f.images.saves

	cases := map[string]EditInput{
		"both out of range": {Latitude: ptr(95.0), Longitude: ptr(200.0), Image: photo},
		"latitude only":     {Latitude: ptr(-90.5), Image: photo},
		"longitude only":    {Longitude: ptr(180.5), Image: photo},
		"valid lon bad lat": {Latitude: ptr(100.0), Longitude: ptr(10.0), Image: photo},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.Edit(ctx, v.Position.ID, in)
			requireKind(t, err, KindBadRequest)
		})
	}

	assert.Equal(t, txs, f.db.txs, "no transaction is opened")
	assert.Equal(t, saves, f.images.saves, "no photo is stored")
	assert.Zero(t, f.db.updates)
}

func TestList_PagingAndFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.create(t, f.alice)
		f.clock.Advance(time.Second)
	}
	other := f.db.addPoster()
	_, err := f.engine.Create(ctx, CreateInput{
		PosterID:         other,
		Coordinates:      Coordinates{Latitude: 1, Longitude: 2},
		ExpiresAt:        f.clock.Now().Add(time.Hour),
		ResponsibleUsers: []uuid.UUID{f.bob},
	})
	require.NoError(t, err)

	all, total, err := f.engine.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, 6, total)

	page, total, err := f.engine.List(ctx, ListFilter{Page: 2, Per: 4})
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, 6, total)

	filtered, total, err := f.engine.List(ctx, ListFilter{PosterID: &other})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "bob", filtered[0].Responsible[0].Name)
}
