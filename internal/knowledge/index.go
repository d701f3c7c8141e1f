package knowledge

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"securerag/internal/models"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

type indexedChunk struct {
	passage models.Passage
	terms   map[string]int
	length  int
}

// Index is an immutable BM25 index over chunks.
type Index struct {
	chunks []indexedChunk
	df     map[string]int
	avgLen float64
}

// NewIndex indexes chunks in the given order; that order breaks score ties.
func NewIndex(chunks []models.Chunk) *Index {
	idx := &Index{
		chunks: make([]indexedChunk, 0, len(chunks)),
		df:     make(map[string]int),
	}
	totalLen := 0
	for _, ch := range chunks {
		tokens := tokenize(ch.Content)
		terms := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			terms[tok]++
		}
		for term := range terms {
			idx.df[term]++
		}
		totalLen += len(tokens)
		idx.chunks = append(idx.chunks, indexedChunk{
			passage: models.Passage{Text: ch.Content, Source: ch.Source},
			terms:   terms,
			length:  len(tokens),
		})
	}
	if len(idx.chunks) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(idx.chunks))
	}
	return idx
}

// Len is the number of indexed chunks.
func (idx *Index) Len() int { return len(idx.chunks) }

// Retrieve returns up to k passages with a positive BM25 score, best first.
func (idx *Index) Retrieve(ctx context.Context, query string, k int) ([]models.Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(idx.chunks) == 0 {
		return []models.Passage{}, nil
	}

	terms := uniqueTokens(query)
	n := float64(len(idx.chunks))
	type hit struct {
		pos   int
		score float64
	}
	var hits []hit
	for i, ch := range idx.chunks {
		score := 0.0
		for _, term := range terms {
			tf := float64(ch.terms[term])
			if tf == 0 {
				continue
			}
			df := float64(idx.df[term])
			idf := math.Log((n-df+0.5)/(df+0.5) + 1)
			norm := 1 - bm25B + bm25B*float64(ch.length)/idx.avgLen
			score += idf * tf * (bm25K1 + 1) / (tf + bm25K1*norm)
		}
		if score > 0 {
			hits = append(hits, hit{pos: i, score: score})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]models.Passage, len(hits))
	for i, h := range hits {
		out[i] = idx.chunks[h.pos].passage
	}
	return out, nil
}

func uniqueTokens(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokenize(text) {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}
