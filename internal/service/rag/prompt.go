package rag

import (
	"fmt"
	"strings"

	"securerag/internal/models"
)

// BuildContext renders passages in retrieval order.
func BuildContext(passages []models.Passage) string {
	var sb strings.Builder
	for _, p := range passages {
		fmt.Fprintf(&sb, "Source: %s\nContent: %s\n\n", p.Source, p.Text)
	}
	return sb.String()
}

const systemPromptTemplate = `You are a secure assistant for a private document collection.
Answer the user's question using ONLY the context below.

Context:
%s
Rules:
1. When the context contains the answer, answer it, list every source you used and set confidence to "high" (or "medium" if the context only partly answers it).
2. When the context does not contain the answer, the answer must be exactly "%s" with confidence "low" and no sources.
3. Reply with a single JSON object and nothing else: {"answer": string, "confidence": "high" | "medium" | "low", "sources": [string]}.`

// SystemPrompt grounds the generator on context and fixes the reply shape.
func SystemPrompt(context, refusal string) string {
	return fmt.Sprintf(systemPromptTemplate, context, refusal)
}
