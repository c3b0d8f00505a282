package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/alexmurav/docsearch/internal/dedupe"
	"github.com/alexmurav/docsearch/internal/models"
	"github.com/alexmurav/docsearch/internal/queue"
	"github.com/alexmurav/docsearch/internal/store"
)

// Indexer is the second pipeline stage: it tokenizes extracted text and
// rebuilds the document's inverted-index entries transactionally.
type Indexer struct {
	store *store.Store
	seen  *dedupe.Cache
	log   *slog.Logger
}

// NewIndexer wires the indexing stage. seen may be nil to disable the
// duplicate-delivery shortcut; correctness does not depend on it since
// rebuilds upsert by (term, doc_id, version).
func NewIndexer(st *store.Store, seen *dedupe.Cache, log *slog.Logger) *Indexer {
	return &Indexer{store: st, seen: seen, log: log}
}

// Handle processes one indexing message.
func (ix *Indexer) Handle(ctx context.Context, msg kafka.Message) error {
	var payload models.IndexMessage
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return queue.Permanent(fmt.Errorf("decoding index message: %w", err))
	}
	if payload.ID == "" {
		return queue.Permanent(errors.New("index message without id"))
	}

	key := payload.ID + "@" + strconv.FormatInt(payload.Version, 10)
	if ix.seen != nil && ix.seen.IsSeen(key) {
		ix.log.Debug("duplicate index message", slog.String("id", payload.ID))
		return nil
	}

	doc, err := ix.store.Get(ctx, payload.ID)
	if errors.Is(err, store.ErrNotFound) {
		ix.log.Warn("document missing at indexing", slog.String("id", payload.ID))
		return queue.Permanent(err)
	}
	if err != nil {
		return err
	}

	// Optimistic concurrency: a message extracted against an older
	// version must not overwrite the index of a newer one.
	if payload.Version != 0 && payload.Version != doc.Version {
		ix.log.Warn("stale index message dropped",
			slog.String("id", doc.ID),
			slog.Int64("message_version", payload.Version),
			slog.Int64("current_version", doc.Version),
		)
		return queue.Permanent(fmt.Errorf("stale version %d for %s (current %d)",
			payload.Version, doc.ID, doc.Version))
	}

	if err := ix.store.SetStatus(ctx, doc.ID, models.StatusIndexing); err != nil {
		return err
	}

	positions := BuildTermPositions(Tokenize(payload.Extracted))

	if err := ix.store.ReplaceIndexEntries(ctx, doc.ID, doc.Version, doc.Title, doc.Content, positions); err != nil {
		if serr := ix.store.SetStatus(ctx, doc.ID, models.StatusFailed); serr != nil {
			ix.log.Error("mark document failed", slog.String("id", doc.ID), slog.Any("err", serr))
		}
		return queue.Permanent(fmt.Errorf("rebuilding index of %s: %w", doc.ID, err))
	}

	if err := ix.store.SetStatus(ctx, doc.ID, models.StatusIndexed); err != nil {
		return err
	}
	if ix.seen != nil {
		ix.seen.MarkSeen(key)
	}

	ix.log.Info("document indexed",
		slog.String("id", doc.ID),
		slog.Int64("version", doc.Version),
		slog.Int("terms", len(positions)),
	)
	return nil
}

// ReindexNow is the synchronous bypass path: version bump, extraction
// and index rebuild inline within one call, with the same tokenizer and
// upsert keying as the queued path. Returns the new version.
func (ix *Indexer) ReindexNow(ctx context.Context, id, title, content string) (int64, error) {
	version, err := ix.store.BumpVersionAndUpdate(ctx, id, title, content)
	if err != nil {
		return 0, err
	}

	extracted := Normalize(content)
	if err := ix.store.InsertExtractedText(ctx, id, extracted, version); err != nil {
		return 0, err
	}

	positions := BuildTermPositions(Tokenize(extracted))
	if err := ix.store.ReplaceIndexEntries(ctx, id, version, title, content, positions); err != nil {
		if serr := ix.store.SetStatus(ctx, id, models.StatusFailed); serr != nil {
			ix.log.Error("mark document failed", slog.String("id", id), slog.Any("err", serr))
		}
		return 0, fmt.Errorf("rebuilding index of %s: %w", id, err)
	}

	ix.log.Info("document reindexed synchronously",
		slog.String("id", id),
		slog.Int64("version", version),
		slog.Int("terms", len(positions)),
	)
	return version, nil
}
