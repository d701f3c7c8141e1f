package models

// Passage is one retrieved context unit.
type Passage struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}
