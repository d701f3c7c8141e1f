package guard

import (
	"encoding/json"
	"fmt"

	"securerag/internal/models"
)

// Candidate is the loosely shaped record produced by Extract. Values come
// straight from JSON decoding, so sources is usually []any.
type Candidate map[string]any

const (
	keyAnswer     = "answer"
	keyConfidence = "confidence"
	keySources    = "sources"
)

// FromResult turns a validated result back into a candidate.
func FromResult(r models.QueryResult) Candidate {
	sources := make([]string, len(r.Sources))
	copy(sources, r.Sources)
	return Candidate{
		keyAnswer:     r.Answer,
		keyConfidence: string(r.Confidence),
		keySources:    sources,
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
