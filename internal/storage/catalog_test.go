package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securerag/internal/config"
	"securerag/internal/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := config.Default()
	cfg.Databases["sqlite3"] = config.DatabaseConfig{DSN: ":memory:"}
	db, err := Open("sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db, "sqlite3"))
	return db
}

func TestCatalogReplaceAndRead(t *testing.T) {
	catalog := NewCatalog(newTestDB(t))
	ctx := context.Background()
	uploaded := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	docs := []models.Document{
		{ID: "d2", Filename: "zeta.md", Extension: ".md", Size: 10, UploadedAt: uploaded},
		{ID: "d1", Filename: "alpha.txt", Extension: ".txt", Size: 20, UploadedAt: uploaded},
	}
	chunks := []models.Chunk{
		{ID: "c3", DocumentID: "d2", Seq: 0, Source: "zeta.md", Content: "zeta"},
		{ID: "c2", DocumentID: "d1", Seq: 1, Source: "alpha.txt", Content: "alpha two"},
		{ID: "c1", DocumentID: "d1", Seq: 0, Source: "alpha.txt", Content: "alpha one"},
	}
	require.NoError(t, catalog.Replace(ctx, docs, chunks))

	gotDocs, err := catalog.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, gotDocs, 2)
	assert.Equal(t, "alpha.txt", gotDocs[0].Filename)
	assert.True(t, uploaded.Equal(gotDocs[0].UploadedAt))

	gotChunks, err := catalog.Chunks(ctx)
	require.NoError(t, err)
	var ids []string
	for _, c := range gotChunks {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)

	require.NoError(t, catalog.Replace(ctx, docs[:1], chunks[:1]))
	gotChunks, err = catalog.Chunks(ctx)
	require.NoError(t, err)
	assert.Len(t, gotChunks, 1)
}

func TestCatalogReplaceRollsBackOnFailure(t *testing.T) {
	catalog := NewCatalog(newTestDB(t))
	ctx := context.Background()
	doc := models.Document{ID: "d1", Filename: "a.txt", Extension: ".txt", UploadedAt: time.Now()}
	require.NoError(t, catalog.Replace(ctx, []models.Document{doc}, nil))

	dup := []models.Document{doc, {ID: "d2", Filename: "a.txt", Extension: ".txt", UploadedAt: time.Now()}}
	require.Error(t, catalog.Replace(ctx, dup, nil))

	gotDocs, err := catalog.Documents(ctx)
	require.NoError(t, err)
	assert.Len(t, gotDocs, 1)
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := config.Default()
	_, err := Open("postgres", cfg)
	require.Error(t, err)

	cfg.Databases["oracle"] = config.DatabaseConfig{}
	_, err = Open("oracle", cfg)
	require.Error(t, err)
}
