package guard

import (
	"regexp"
	"strings"
)

// ToxicityScorer rates text in [0,1]; higher is more toxic.
type ToxicityScorer interface {
	Score(text string) float64
}

var wordPattern = regexp.MustCompile(`[a-z]+`)

// LexiconScorer sums per-term weights and caps the total at 1. The score
// only depends on which terms occur, so shortening text never raises it.
// The lexicon holds insults only; words like kill or die are ordinary in
// operational documents.
type LexiconScorer struct {
	weights map[string]float64
}

var defaultLexicon = map[string]float64{
	"idiot":     0.6,
	"idiots":    0.6,
	"moron":     0.6,
	"morons":    0.6,
	"stupid":    0.3,
	"dumb":      0.3,
	"loser":     0.3,
	"pathetic":  0.3,
	"worthless": 0.4,
	"scum":      0.6,
	"bastard":   0.6,
}

// NewLexiconScorer uses the built-in lexicon merged with extra.
func NewLexiconScorer(extra map[string]float64) *LexiconScorer {
	weights := make(map[string]float64, len(defaultLexicon)+len(extra))
	for k, v := range defaultLexicon {
		weights[k] = v
	}
	for k, v := range extra {
		weights[strings.ToLower(k)] = v
	}
	return &LexiconScorer{weights: weights}
}

func (s *LexiconScorer) Score(text string) float64 {
	total := 0.0
	seen := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if seen[w] {
			continue
		}
		seen[w] = true
		total += s.weights[w]
		if total >= 1 {
			return 1
		}
	}
	return total
}
