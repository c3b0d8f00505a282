// Package search evaluates multi-term AND queries against the inverted
// index and ranks the matches by summed term frequency.
package search

import (
	"context"
	"errors"
	"sort"

	"github.com/alexmurav/docsearch/internal/models"
	"github.com/alexmurav/docsearch/internal/pipeline"
	"github.com/alexmurav/docsearch/internal/store"
)

// Engine reads the registry and inverted index; it has no coupling to
// the pipeline.
type Engine struct {
	store *store.Store
}

// NewEngine builds a search engine over the shared store.
func NewEngine(st *store.Store) *Engine {
	return &Engine{store: st}
}

// Search tokenizes the query exactly like indexing does, intersects the
// posting sets of all distinct terms, scores each survivor by summed
// term frequency and returns the top limit documents. Ties order by
// ascending document id.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	terms := distinct(pipeline.Tokenize(pipeline.Normalize(query)))
	if len(terms) == 0 {
		return nil, nil
	}

	scores := make(map[string]int)
	matched := make(map[string]int)
	for _, term := range terms {
		postings, err := e.store.TermPostings(ctx, term)
		if err != nil {
			return nil, err
		}
		for docID, tf := range postings {
			scores[docID] += tf
			matched[docID]++
		}
	}

	// AND semantics: keep only documents that contain every term.
	ids := make([]string, 0, len(matched))
	for docID, count := range matched {
		if count == len(terms) {
			ids = append(ids, docID)
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] == scores[ids[j]] {
			return ids[i] < ids[j]
		}
		return scores[ids[i]] > scores[ids[j]]
	})

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	results := make([]models.SearchResult, 0, len(ids))
	for _, id := range ids {
		doc, err := e.store.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, models.SearchResult{
			ID:      id,
			Title:   doc.Title,
			Content: doc.Content,
			Score:   scores[id],
		})
	}
	return results, nil
}

func distinct(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}
