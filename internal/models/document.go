package models

import "time"

// Document describes a file held in the knowledge base directory.
type Document struct {
	ID         string    `json:"id,omitempty"`
	Filename   string    `json:"filename"`
	Extension  string    `json:"extension"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Chunk is a catalogued slice of a document used to build the retrieval index.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Seq        int    `json:"seq"`
	Source     string `json:"source"`
	Content    string `json:"content"`
}
