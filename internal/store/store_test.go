package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexmurav/docsearch/internal/models"
	"github.com/alexmurav/docsearch/internal/store"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.New(path)
	require.NoError(t, err)
	require.NotNil(t, st)

	t.Cleanup(func() {
		assert.NoError(t, st.Close())
	})
	return st
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	st, err := store.New(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = store.New(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

func TestRegisterCreatesAtVersionOne(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	version, err := st.Register(ctx, models.Document{ID: "a", Title: "Alpha", Content: "cat dog"})
	require.NoError(t, err)
	require.Equal(t, int64(1), version)

	doc, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "Alpha", doc.Title)
	require.Equal(t, "cat dog", doc.Content)
	require.Equal(t, models.StatusUploaded, doc.Status)
	require.Equal(t, int64(1), doc.Version)
	require.False(t, doc.CreatedAt.IsZero())
}

func TestRegisterReplaceBumpsVersion(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	_, err := st.Register(ctx, models.Document{ID: "a", Title: "Alpha", Content: "one"})
	require.NoError(t, err)
	require.NoError(t, st.SetStatus(ctx, "a", models.StatusIndexed))

	version, err := st.Register(ctx, models.Document{ID: "a", Title: "Alpha v2", Content: "two"})
	require.NoError(t, err)
	require.Equal(t, int64(2), version)

	doc, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "Alpha v2", doc.Title)
	require.Equal(t, "two", doc.Content)
	require.Equal(t, models.StatusUploaded, doc.Status)

	// Version keeps increasing across cycles and never resets.
	version, err = st.Register(ctx, models.Document{ID: "a", Title: "Alpha v3", Content: "three"})
	require.NoError(t, err)
	require.Equal(t, int64(3), version)
}

func TestGetMissing(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetStatus(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	_, err := st.Register(ctx, models.Document{ID: "a", Content: "x"})
	require.NoError(t, err)

	require.NoError(t, st.SetStatus(ctx, "a", models.StatusExtracting))
	doc, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, models.StatusExtracting, doc.Status)

	require.ErrorIs(t, st.SetStatus(ctx, "ghost", models.StatusFailed), store.ErrNotFound)
}

func TestBumpVersionAndUpdate(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	_, err := st.Register(ctx, models.Document{ID: "a", Title: "Alpha", Content: "one"})
	require.NoError(t, err)

	version, err := st.BumpVersionAndUpdate(ctx, "a", "Alpha v2", "two")
	require.NoError(t, err)
	require.Equal(t, int64(2), version)

	doc, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, models.StatusIndexed, doc.Status)
	require.Equal(t, "two", doc.Content)

	_, err = st.BumpVersionAndUpdate(ctx, "ghost", "t", "c")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListOrdersByID(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		_, err := st.Register(ctx, models.Document{ID: id, Content: id})
		require.NoError(t, err)
	}

	docs, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	require.Equal(t, "alpha", docs[0].ID)
	require.Equal(t, "bravo", docs[1].ID)
	require.Equal(t, "charlie", docs[2].ID)

	docs, err = st.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestStatusIncludesTermsCount(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	_, err := st.Register(ctx, models.Document{ID: "a", Title: "Alpha", Content: "cat dog cat"})
	require.NoError(t, err)

	require.NoError(t, st.ReplaceIndexEntries(ctx, "a", 1, "Alpha", "cat dog cat", map[string][]int{
		"cat": {0, 2},
		"dog": {1},
	}))

	status, err := st.Status(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "a", status.ID)
	require.Equal(t, 2, status.TermsCount)

	_, err = st.Status(ctx, "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}
