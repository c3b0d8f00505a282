package models

// ExtractMessage asks the extraction stage to process a document. Title
// and Content are set only on the direct-publish path; uploads reference
// the stored file through the registry instead.
type ExtractMessage struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

// IndexMessage carries normalized text from extraction to indexing.
// Version is the registry version the text was extracted against; the
// indexing stage drops messages whose version is no longer current.
type IndexMessage struct {
	ID        string `json:"id"`
	Extracted string `json:"extracted"`
	Version   int64  `json:"version"`
}
