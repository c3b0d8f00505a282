package models

import "time"

// Status tracks a document's position in the processing pipeline.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusExtracting Status = "extracting"
	StatusIndexing   Status = "indexing"
	StatusIndexed    Status = "indexed"
	StatusFailed     Status = "failed"
)

// Document is the canonical registry record. The version starts at 1 and
// only ever increases; it tags every downstream artifact produced for
// this document.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Version   int64     `json:"version"`
	Status    Status    `json:"status"`
	FilePath  string    `json:"file_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExtractedText is the normalized text produced for one document version.
// Rows are append-only; only the row matching the document's current
// version is authoritative.
type ExtractedText struct {
	DocID   string `json:"doc_id"`
	Text    string `json:"text"`
	Version int64  `json:"version"`
}

// IndexEntry records that a term occurs in a document at the given
// zero-based token positions, as of one version.
type IndexEntry struct {
	Term      string `json:"term"`
	DocID     string `json:"doc_id"`
	Positions []int  `json:"positions"`
	Version   int64  `json:"version"`
}

// DocumentStatus is the polling view exposed by the status endpoint.
// TermsCount counts all inverted-index rows for the document, across
// versions.
type DocumentStatus struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Status     Status    `json:"status"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	TermsCount int       `json:"terms_count"`
}

// SearchResult is one ranked hit. Score is the summed term frequency of
// the query terms within the document.
type SearchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Score   int    `json:"score"`
}
