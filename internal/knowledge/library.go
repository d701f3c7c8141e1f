package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"securerag/internal/models"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNotFound        = errors.New("document not found")
	ErrInvalidName     = errors.New("invalid document name")
)

// AllowedExtensions lists the file types the library indexes.
var AllowedExtensions = map[string]bool{
	".txt": true,
	".md":  true,
	".pdf": true,
}

const sampleDocument = "sample.txt"

const sampleContent = "Guardrails AI ensures LLMs follow strict validation rules. LangChain orchestrates the logic."

// Catalog persists the chunks behind the current index.
type Catalog interface {
	Replace(ctx context.Context, docs []models.Document, chunks []models.Chunk) error
	Chunks(ctx context.Context) ([]models.Chunk, error)
}

type LibraryOptions struct {
	Dir      string
	Splitter *Splitter
	Loader   Loader
	// Catalog may be nil, in which case Load always rebuilds from disk.
	Catalog Catalog
	Logger  *zap.Logger
}

// Library manages the document folder and builds retrieval indexes from it.
type Library struct {
	dir      string
	splitter *Splitter
	loader   Loader
	catalog  Catalog
	logger   *zap.Logger
}

func NewLibrary(opts LibraryOptions) (*Library, error) {
	if opts.Dir == "" {
		return nil, errors.New("documents directory required")
	}
	if opts.Loader == nil {
		return nil, errors.New("document loader required")
	}
	if opts.Splitter == nil {
		splitter, err := NewSplitter(context.Background(), 1000, 200)
		if err != nil {
			return nil, err
		}
		opts.Splitter = splitter
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Library{
		dir:      opts.Dir,
		splitter: opts.Splitter,
		loader:   opts.Loader,
		catalog:  opts.Catalog,
		logger:   opts.Logger,
	}, nil
}

// List returns the indexable files in the documents directory, by name.
func (l *Library) List() ([]models.Document, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read documents dir: %w", err)
	}
	docs := make([]models.Document, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !AllowedExtensions[ext] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		docs = append(docs, models.Document{
			Filename:   entry.Name(),
			Extension:  ext,
			Size:       info.Size(),
			UploadedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })
	return docs, nil
}

// Save stores r under name, replacing any file with the same name.
func (l *Library) Save(name string, r io.Reader) (models.Document, error) {
	clean, err := cleanName(name)
	if err != nil {
		return models.Document{}, err
	}
	ext := strings.ToLower(filepath.Ext(clean))
	if !AllowedExtensions[ext] {
		return models.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return models.Document{}, fmt.Errorf("create documents dir: %w", err)
	}

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return models.Document{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("write upload: %w", err)
	}
	target := filepath.Join(l.dir, clean)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return models.Document{}, fmt.Errorf("store upload: %w", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return models.Document{}, fmt.Errorf("stat upload: %w", err)
	}
	l.logger.Info("document saved", zap.String("filename", clean), zap.Int64("size", size))
	return models.Document{
		Filename:   clean,
		Extension:  ext,
		Size:       size,
		UploadedAt: info.ModTime().UTC(),
	}, nil
}

// Delete removes the named document.
func (l *Library) Delete(name string) error {
	clean, err := cleanName(name)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(l.dir, clean)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return fmt.Errorf("delete document: %w", err)
	}
	l.logger.Info("document deleted", zap.String("filename", clean))
	return nil
}

// Build reads every document, splits it, replaces the catalog and returns a
// fresh index. A missing documents directory is created with a sample file.
func (l *Library) Build(ctx context.Context) (*Index, error) {
	if err := l.ensureDir(); err != nil {
		return nil, err
	}
	docs, err := l.List()
	if err != nil {
		return nil, err
	}

	var chunks []models.Chunk
	for i := range docs {
		doc := &docs[i]
		doc.ID = uuid.NewString()
		text, err := l.loader.LoadText(ctx, filepath.Join(l.dir, doc.Filename))
		if err != nil {
			l.logger.Error("skip unreadable document", zap.String("filename", doc.Filename), zap.Error(err))
			continue
		}
		pieces, err := l.splitter.Split(ctx, text)
		if err != nil {
			l.logger.Error("skip unsplittable document", zap.String("filename", doc.Filename), zap.Error(err))
			continue
		}
		for seq, piece := range pieces {
			chunks = append(chunks, models.Chunk{
				ID:         uuid.NewString(),
				DocumentID: doc.ID,
				Seq:        seq,
				Source:     doc.Filename,
				Content:    piece,
			})
		}
	}
	if len(docs) == 0 {
		l.logger.Warn("no documents to index", zap.String("dir", l.dir))
	}

	if l.catalog != nil {
		if err := l.catalog.Replace(ctx, docs, chunks); err != nil {
			return nil, fmt.Errorf("persist catalog: %w", err)
		}
	}
	l.logger.Info("index built", zap.Int("documents", len(docs)), zap.Int("chunks", len(chunks)))
	return NewIndex(chunks), nil
}

// Load restores the index from the catalog, building from disk when the
// catalog is empty or absent.
func (l *Library) Load(ctx context.Context) (*Index, error) {
	if l.catalog == nil {
		return l.Build(ctx)
	}
	chunks, err := l.catalog.Chunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if len(chunks) == 0 {
		return l.Build(ctx)
	}
	l.logger.Info("index loaded from catalog", zap.Int("chunks", len(chunks)))
	return NewIndex(chunks), nil
}

func (l *Library) ensureDir() error {
	_, err := os.Stat(l.dir)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat documents dir: %w", err)
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create documents dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, sampleDocument), []byte(sampleContent), 0o644); err != nil {
		return fmt.Errorf("seed sample document: %w", err)
	}
	l.logger.Info("documents dir created with sample document", zap.String("dir", l.dir))
	return nil
}

func cleanName(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == ".." || base == string(filepath.Separator) || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}
