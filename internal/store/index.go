package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alexmurav/docsearch/internal/models"
)

// InsertExtractedText records the normalized text for one document
// version, overwriting on duplicate delivery of the same version. Rows
// for earlier versions are kept; only the row matching the document's
// current version is authoritative.
func (s *Store) InsertExtractedText(ctx context.Context, docID, text string, version int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extracted_text (doc_id, text, version) VALUES (?, ?, ?)
		ON CONFLICT(doc_id, version) DO UPDATE SET text = excluded.text
	`, docID, text, version)
	if err != nil {
		return fmt.Errorf("inserting extracted text for %s: %w", docID, err)
	}
	return nil
}

// ReplaceIndexEntries rebuilds the inverted index for one document
// version and refreshes the full-text snapshot, in a single transaction.
// Entries are upserted by (term, doc_id, version), so a duplicate rebuild
// replaces rather than appends. Any failure rolls the whole rebuild back.
func (s *Store) ReplaceIndexEntries(ctx context.Context, docID string, version int64, title, content string, positions map[string][]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index transaction for %s: %w", docID, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO inverted_index (term, doc_id, positions, version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(term, doc_id, version) DO UPDATE SET positions = excluded.positions
	`)
	if err != nil {
		return fmt.Errorf("preparing index upsert for %s: %w", docID, err)
	}
	defer stmt.Close()

	for term, offsets := range positions {
		encoded, err := json.Marshal(offsets)
		if err != nil {
			return fmt.Errorf("encoding positions of %q: %w", term, err)
		}
		if _, err := stmt.ExecContext(ctx, term, docID, string(encoded), version); err != nil {
			return fmt.Errorf("upserting term %q for %s: %w", term, docID, err)
		}
	}

	// FTS5 has no unique constraint, so the snapshot refresh is a
	// delete plus insert inside the same transaction.
	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_documents WHERE id = ?`, docID); err != nil {
		return fmt.Errorf("clearing full-text snapshot of %s: %w", docID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fts_documents (id, title, content) VALUES (?, ?, ?)
	`, docID, title, content); err != nil {
		return fmt.Errorf("writing full-text snapshot of %s: %w", docID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index rebuild for %s: %w", docID, err)
	}
	return nil
}

// TermPostings returns doc_id -> term frequency for one term, joined
// against each document's current version so superseded index rows never
// match.
func (s *Store) TermPostings(ctx context.Context, term string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.doc_id, i.positions
		FROM inverted_index i
		JOIN documents d ON d.id = i.doc_id AND d.version = i.version
		WHERE i.term = ?
	`, term)
	if err != nil {
		return nil, fmt.Errorf("fetching postings of %q: %w", term, err)
	}
	defer rows.Close()

	postings := make(map[string]int)
	for rows.Next() {
		var (
			docID   string
			encoded string
		)
		if err := rows.Scan(&docID, &encoded); err != nil {
			return nil, fmt.Errorf("fetching postings of %q: %w", term, err)
		}
		var offsets []int
		if err := json.Unmarshal([]byte(encoded), &offsets); err != nil {
			return nil, fmt.Errorf("decoding positions of %q in %s: %w", term, docID, err)
		}
		postings[docID] = len(offsets)
	}
	return postings, rows.Err()
}

// PruneStale garbage-collects inverted-index and extracted-text rows
// whose version has been superseded by a newer registry version. At most
// batch rows are removed from each table per call; returns the total
// deleted.
func (s *Store) PruneStale(ctx context.Context, batch int) (int64, error) {
	var total int64

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM inverted_index WHERE rowid IN (
			SELECT i.rowid
			FROM inverted_index i
			JOIN documents d ON d.id = i.doc_id
			WHERE i.version < d.version
			LIMIT ?
		)
	`, batch)
	if err != nil {
		return 0, fmt.Errorf("pruning inverted index: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM extracted_text WHERE id IN (
			SELECT e.id
			FROM extracted_text e
			JOIN documents d ON d.id = e.doc_id
			WHERE e.version < d.version
			LIMIT ?
		)
	`, batch)
	if err != nil {
		return total, fmt.Errorf("pruning extracted text: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

// RawExtractedText dumps extracted-text rows for the debug endpoint.
func (s *Store) RawExtractedText(ctx context.Context, limit int) ([]models.ExtractedText, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, text, version FROM extracted_text ORDER BY id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("dumping extracted text: %w", err)
	}
	defer rows.Close()

	var out []models.ExtractedText
	for rows.Next() {
		var rec models.ExtractedText
		if err := rows.Scan(&rec.DocID, &rec.Text, &rec.Version); err != nil {
			return nil, fmt.Errorf("dumping extracted text: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RawIndexEntries dumps inverted-index rows for the debug endpoint.
func (s *Store) RawIndexEntries(ctx context.Context, limit int) ([]models.IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT term, doc_id, positions, version
		FROM inverted_index
		ORDER BY term, doc_id, version
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("dumping inverted index: %w", err)
	}
	defer rows.Close()

	var out []models.IndexEntry
	for rows.Next() {
		var (
			rec     models.IndexEntry
			encoded string
		)
		if err := rows.Scan(&rec.Term, &rec.DocID, &encoded, &rec.Version); err != nil {
			return nil, fmt.Errorf("dumping inverted index: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &rec.Positions); err != nil {
			return nil, fmt.Errorf("decoding positions of %q in %s: %w", rec.Term, rec.DocID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
