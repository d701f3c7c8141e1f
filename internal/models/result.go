package models

// Confidence is the coarse self-assessment attached to an answer.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether c is one of the three accepted levels.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// QueryResult is the only shape returned to callers of the query pipeline.
type QueryResult struct {
	Answer     string     `json:"answer"`
	Confidence Confidence `json:"confidence"`
	Sources    []string   `json:"sources"`
}

// LowConfidence builds a result with no sources at low confidence.
func LowConfidence(answer string) QueryResult {
	return QueryResult{Answer: answer, Confidence: ConfidenceLow, Sources: []string{}}
}
