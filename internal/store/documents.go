package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexmurav/docsearch/internal/models"
)

// Register creates the document if it does not exist, otherwise replaces
// title, content and file_path, resets the status to uploaded and bumps
// the version. A fresh insert stays at version 1. The version is never
// reset. Returns the version now on record.
func (s *Store) Register(ctx context.Context, doc models.Document) (int64, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, title, content, version, status, file_path, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			file_path = excluded.file_path,
			status = excluded.status,
			version = documents.version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`, doc.ID, doc.Title, doc.Content, models.StatusUploaded, nullString(doc.FilePath), now, now)

	var version int64
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("registering document %s: %w", doc.ID, err)
	}
	return version, nil
}

// Get fetches one document by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, version, status, file_path, created_at, updated_at
		FROM documents
		WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	return doc, nil
}

// SetStatus performs a single-row, atomically-committed status update.
func (s *Store) SetStatus(ctx context.Context, id string, status models.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// BumpVersionAndUpdate increments the version, replaces the content and
// marks the document indexed. It serves the synchronous reindex path and
// requires an existing row. Returns the new version.
func (s *Store) BumpVersionAndUpdate(ctx context.Context, id, title, content string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET title = ?, content = ?, version = version + 1, status = ?, updated_at = ?
		WHERE id = ?
		RETURNING version
	`, title, content, models.StatusIndexed, time.Now().UTC(), id)

	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("bumping version of %s: %w", id, err)
	}
	return version, nil
}

// List returns up to limit documents with full metadata, ordered by id.
func (s *Store) List(ctx context.Context, limit int) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, version, status, file_path, created_at, updated_at
		FROM documents
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("listing documents: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// Status builds the polling view for one document. TermsCount counts all
// inverted-index rows for the id, deliberately not filtered by version.
func (s *Store) Status(ctx context.Context, id string) (*models.DocumentStatus, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var terms int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inverted_index WHERE doc_id = ?`, id)
	if err := row.Scan(&terms); err != nil {
		return nil, fmt.Errorf("counting terms of %s: %w", id, err)
	}

	return &models.DocumentStatus{
		ID:         doc.ID,
		Title:      doc.Title,
		Status:     doc.Status,
		Version:    doc.Version,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
		TermsCount: terms,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc      models.Document
		filePath sql.NullString
	)
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.Version, &doc.Status,
		&filePath, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.FilePath = filePath.String
	return &doc, nil
}
