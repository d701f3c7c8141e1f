package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"securerag/internal/models"
)

// Catalog persists the documents and chunks behind the current index.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// Replace swaps the whole catalog for docs and chunks in one transaction.
func (c *Catalog) Replace(ctx context.Context, docs []models.Document, chunks []models.Chunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}

	now := time.Now().UTC()
	docStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (id, filename, extension, size, uploaded_at, indexed_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare document insert: %w", err)
	}
	defer docStmt.Close()
	for _, d := range docs {
		if _, err := docStmt.ExecContext(ctx, d.ID, d.Filename, d.Extension, d.Size, d.UploadedAt.UTC(), now); err != nil {
			return fmt.Errorf("insert document %s: %w", d.Filename, err)
		}
	}

	chunkStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, seq, source, content) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer chunkStmt.Close()
	for _, ch := range chunks {
		if _, err := chunkStmt.ExecContext(ctx, ch.ID, ch.DocumentID, ch.Seq, ch.Source, ch.Content); err != nil {
			return fmt.Errorf("insert chunk %s: %w", ch.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog: %w", err)
	}
	return nil
}

// Documents lists catalogued documents ordered by filename.
func (c *Catalog) Documents(ctx context.Context) ([]models.Document, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, filename, extension, size, uploaded_at FROM documents ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.Extension, &d.Size, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Chunks returns every chunk in index order: by document filename, then seq.
func (c *Catalog) Chunks(ctx context.Context) ([]models.Chunk, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.seq, c.source, c.content
		FROM chunks c JOIN documents d ON d.id = c.document_id
		ORDER BY d.filename, c.seq`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Seq, &ch.Source, &ch.Content); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}
