package knowledge

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

// Paragraph, line and word boundaries, then single characters.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts text into chunks of at most Size runes with the eino
// recursive transformer. Neighbouring chunks share up to Overlap runes.
type Splitter struct {
	Size    int
	Overlap int

	transformer document.Transformer
}

func NewSplitter(ctx context.Context, size, overlap int) (*Splitter, error) {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	transformer, err := recursive.NewSplitter(ctx, &recursive.Config{
		ChunkSize:   size,
		OverlapSize: overlap,
		Separators:  defaultSeparators,
		LenFunc:     utf8.RuneCountInString,
		KeepType:    recursive.KeepTypeEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("init recursive splitter: %w", err)
	}
	return &Splitter{Size: size, Overlap: overlap, transformer: transformer}, nil
}

// Split returns the non-empty, whitespace-trimmed chunks of text.
func (s *Splitter) Split(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	docs, err := s.transformer.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		if chunk := strings.TrimSpace(doc.Content); chunk != "" {
			out = append(out, chunk)
		}
	}
	return out, nil
}
