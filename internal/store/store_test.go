package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kataras/figma-slides/internal/apperr"
	"github.com/kataras/figma-slides/internal/store"
	"github.com/kataras/figma-slides/internal/testutil"
)

var t0 = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func linked(id, file, frame, hash string) *store.Slide {
	return &store.Slide{
		ID:            id,
		Name:          "Frame " + frame,
		RemoteFileID:  file,
		RemoteFrameID: frame,
		RemoteFileURL: "https://www.figma.com/design/" + file + "/Deck",
		ContentHash:   hash,
		LastSyncedAt:  t0,
		ImageKey:      "slides/" + id + ".png",
		ContentType:   "image/png",
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

func TestCreateGetDelete(t *testing.T) {
	st := testutil.TestStore(t)
	ctx := context.Background()

	manual := &store.Slide{ID: "m1", Name: "Upload", ImageKey: "slides/m1.png", ContentType: "image/png", CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, st.Create(ctx, manual))
	assert.Equal(t, 1, manual.Position)

	got, err := st.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Upload", got.Name)
	assert.False(t, got.Linked())
	assert.True(t, got.LastSyncedAt.IsZero(), "manual upload has never been synced")
	assert.True(t, got.CreatedAt.Equal(t0))

	err = st.Create(ctx, &store.Slide{ID: "m1", CreatedAt: t0, UpdatedAt: t0})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, st.Delete(ctx, "m1"))
	_, err = st.Get(ctx, "m1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, st.Delete(ctx, "m1"), apperr.ErrNotFound)
}

func TestRemoteFrameIsUnique(t *testing.T) {
	st := testutil.TestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, linked("a", "F1", "1:1", "h1")))
	err := st.Create(ctx, linked("b", "F1", "1:1", "h2"))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// The same frame ID in another file is a different slide.
	require.NoError(t, st.Create(ctx, linked("c", "F2", "1:1", "h3")))

	// Any number of unlinked slides.
	require.NoError(t, st.Create(ctx, &store.Slide{ID: "m1", CreatedAt: t0, UpdatedAt: t0}))
	require.NoError(t, st.Create(ctx, &store.Slide{ID: "m2", CreatedAt: t0, UpdatedAt: t0}))
}

func TestUpsertRemote(t *testing.T) {
	st := testutil.TestStore(t)
	ctx := context.Background()

	first := []*store.Slide{linked("a", "F1", "1:1", "h1"), linked("b", "F1", "1:2", "h2")}
	require.NoError(t, st.UpsertRemote(ctx, first))
	assert.Equal(t, 1, first[0].Position)
	assert.Equal(t, 2, first[1].Position)

	later := t0.Add(time.Hour)
	again := linked("new-id", "F1", "1:1", "h1-changed")
	again.Name = "Renamed"
	again.LastSyncedAt = later
	again.CreatedAt = later
	again.UpdatedAt = later
	third := linked("c", "F1", "1:3", "h3")
	require.NoError(t, st.UpsertRemote(ctx, []*store.Slide{again, third}))

	assert.Equal(t, "a", again.ID, "existing frame keeps its slide ID")
	assert.Equal(t, 1, again.Position)
	assert.Equal(t, "h1-changed", again.ContentHash)
	assert.Equal(t, "Renamed", again.Name)
	assert.True(t, again.LastSyncedAt.Equal(later))
	assert.True(t, again.CreatedAt.Equal(t0), "creation time is preserved")
	assert.Equal(t, 3, third.Position)

	all, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestUpsertRemoteRejectsUnlinked(t *testing.T) {
	st := testutil.TestStore(t)
	err := st.UpsertRemote(context.Background(), []*store.Slide{{ID: "x", Name: "manual"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestUpsertRemoteIsAtomic(t *testing.T) {
	st := testutil.TestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, &store.Slide{ID: "taken", CreatedAt: t0, UpdatedAt: t0}))

	// The second slide collides on the primary key; the first must not persist.
	err := st.UpsertRemote(ctx, []*store.Slide{linked("ok", "F1", "1:1", "h"), linked("taken", "F1", "1:2", "h")})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = st.FindByFrame(ctx, "F1", "1:1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListByFileAndLinkedFiles(t *testing.T) {
	st := testutil.TestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRemote(ctx, []*store.Slide{
		linked("a", "F2", "1:1", "h"),
		linked("b", "F1", "1:1", "h"),
		linked("c", "F2", "1:2", "h"),
	}))
	require.NoError(t, st.Create(ctx, &store.Slide{ID: "m", CreatedAt: t0, UpdatedAt: t0}))

	files, err := st.LinkedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"F1", "F2"}, files)

	f2, err := st.ListByFile(ctx, "F2")
	require.NoError(t, err)
	require.Len(t, f2, 2)
	assert.Equal(t, "a", f2[0].ID)
	assert.Equal(t, "c", f2[1].ID)

	recs := store.Records(f2)
	assert.Equal(t, "1:2", recs[1].RemoteFrameID)
	assert.Equal(t, "F2", recs[1].RemoteFileID)
	assert.True(t, recs[1].Linked())

	found, err := st.FindByFrame(ctx, "F1", "1:1")
	require.NoError(t, err)
	assert.Equal(t, "b", found.ID)

	none, err := st.ListByFile(ctx, "F3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNextPosition(t *testing.T) {
	st := testutil.TestStore(t)
	ctx := context.Background()

	pos, err := st.NextPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	require.NoError(t, st.Create(ctx, &store.Slide{ID: "m", Position: 7, CreatedAt: t0, UpdatedAt: t0}))
	pos, err = st.NextPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, pos)
}

func TestOpenInMemoryIsMigrated(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.Ping(context.Background()))
	files, err := st.LinkedFiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestReopenKeepsSchemaVersion(t *testing.T) {
	path := t.TempDir() + "/slides.db"
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Create(context.Background(), &store.Slide{ID: "m", CreatedAt: t0, UpdatedAt: t0}))
	require.NoError(t, st.Close())

	st, err = store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.Get(context.Background(), "m")
	require.NoError(t, err)
}
