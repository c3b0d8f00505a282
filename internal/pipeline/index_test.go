package pipeline_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/alexmurav/docsearch/internal/dedupe"
	"github.com/alexmurav/docsearch/internal/models"
	"github.com/alexmurav/docsearch/internal/pipeline"
	"github.com/alexmurav/docsearch/internal/queue"
	"github.com/alexmurav/docsearch/internal/store"
)

func indexMsg(t *testing.T, m models.IndexMessage) kafka.Message {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

func TestIndexHappyPath(t *testing.T) {
	st := setupStore(t)
	ix := pipeline.NewIndexer(st, nil, testLogger())
	ctx := context.Background()

	_, err := st.Register(ctx, models.Document{ID: "c", Title: "C", Content: "Cat cat dog"})
	require.NoError(t, err)

	msg := indexMsg(t, models.IndexMessage{ID: "c", Extracted: "cat cat dog", Version: 1})
	require.NoError(t, ix.Handle(ctx, msg))

	doc, err := st.Get(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, models.StatusIndexed, doc.Status)

	status, err := st.Status(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, 2, status.TermsCount) // distinct tokens: cat, dog

	postings, err := st.TermPostings(ctx, "cat")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"c": 2}, postings)
}

func TestIndexDuplicateDeliveryDoesNotDuplicateRows(t *testing.T) {
	st := setupStore(t)
	ix := pipeline.NewIndexer(st, nil, testLogger())
	ctx := context.Background()

	_, err := st.Register(ctx, models.Document{ID: "a", Title: "A", Content: "cat dog"})
	require.NoError(t, err)

	msg := indexMsg(t, models.IndexMessage{ID: "a", Extracted: "cat dog", Version: 1})
	require.NoError(t, ix.Handle(ctx, msg))
	require.NoError(t, ix.Handle(ctx, msg))

	rows, err := st.RawIndexEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestIndexDedupeCacheSkipsSecondDelivery(t *testing.T) {
	st := setupStore(t)
	cache := dedupe.NewCache(10, time.Hour)
	ix := pipeline.NewIndexer(st, cache, testLogger())
	ctx := context.Background()

	_, err := st.Register(ctx, models.Document{ID: "a", Title: "A", Content: "cat"})
	require.NoError(t, err)

	msg := indexMsg(t, models.IndexMessage{ID: "a", Extracted: "cat", Version: 1})
	require.NoError(t, ix.Handle(ctx, msg))
	// Second delivery is a no-op; state stays indexed.
	require.NoError(t, ix.Handle(ctx, msg))

	doc, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, models.StatusIndexed, doc.Status)
}

func TestIndexMissingDocumentIsPermanent(t *testing.T) {
	st := setupStore(t)
	ix := pipeline.NewIndexer(st, nil, testLogger())

	err := ix.Handle(context.Background(), indexMsg(t, models.IndexMessage{ID: "ghost", Extracted: "x", Version: 1}))
	require.Error(t, err)
	require.True(t, queue.IsPermanent(err))
}

func TestIndexStaleVersionIsDropped(t *testing.T) {
	st := setupStore(t)
	ix := pipeline.NewIndexer(st, nil, testLogger())
	ctx := context.Background()

	_, err := st.Register(ctx, models.Document{ID: "a", Title: "A", Content: "old"})
	require.NoError(t, err)
	version, err := st.Register(ctx, models.Document{ID: "a", Title: "A", Content: "new"})
	require.NoError(t, err)
	require.Equal(t, int64(2), version)

	require.NoError(t, ix.Handle(ctx, indexMsg(t, models.IndexMessage{ID: "a", Extracted: "new", Version: 2})))

	// A message produced against version 1 arrives late; it must not
	// clobber the version-2 index.
	err = ix.Handle(ctx, indexMsg(t, models.IndexMessage{ID: "a", Extracted: "old", Version: 1}))
	require.Error(t, err)
	require.True(t, queue.IsPermanent(err))

	postings, err := st.TermPostings(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 1}, postings)

	postings, err = st.TermPostings(ctx, "old")
	require.NoError(t, err)
	require.Empty(t, postings)
}

func TestIndexTransactionFailureSetsFailed(t *testing.T) {
	st := setupStore(t)
	ix := pipeline.NewIndexer(st, nil, testLogger())
	ctx := context.Background()

	_, err := st.Register(ctx, models.Document{ID: "a", Title: "A", Content: "cat dog"})
	require.NoError(t, err)

	// Sabotage the snapshot table through a second connection so the
	// rebuild transaction fails partway.
	db, err := sql.Open("sqlite", st.Path())
	require.NoError(t, err)
	_, err = db.Exec("DROP TABLE fts_documents")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = ix.Handle(ctx, indexMsg(t, models.IndexMessage{ID: "a", Extracted: "cat dog", Version: 1}))
	require.Error(t, err)
	require.True(t, queue.IsPermanent(err))

	doc, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, doc.Status)

	rows, err := st.RawIndexEntries(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestReindexNowMatchesQueuedSemantics(t *testing.T) {
	st := setupStore(t)
	ix := pipeline.NewIndexer(st, nil, testLogger())
	ctx := context.Background()

	_, err := st.Register(ctx, models.Document{ID: "a", Title: "A", Content: "old text"})
	require.NoError(t, err)

	version, err := ix.ReindexNow(ctx, "a", "A v2", "Cat CAT dog")
	require.NoError(t, err)
	require.Equal(t, int64(2), version)

	doc, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, models.StatusIndexed, doc.Status)
	require.Equal(t, "Cat CAT dog", doc.Content)

	postings, err := st.TermPostings(ctx, "cat")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 2}, postings)

	texts, err := st.RawExtractedText(ctx, 10)
	require.NoError(t, err)
	require.Len(t, texts, 1)
	require.Equal(t, "cat cat dog", texts[0].Text)
	require.Equal(t, int64(2), texts[0].Version)

	_, err = ix.ReindexNow(ctx, "ghost", "t", "c")
	require.ErrorIs(t, err, store.ErrNotFound)
}
