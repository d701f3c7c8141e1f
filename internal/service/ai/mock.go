package ai

import (
	"context"
	"encoding/json"
	"io"
	"regexp"
	"sync"
)

var sourceLine = regexp.MustCompile(`(?m)^Source: (.+)$`)

// MockGenerator answers without calling a model. Response overrides the
// synthesized answer; Err fails the call; StreamErr is returned after
// FailAfter fragments have been streamed.
type MockGenerator struct {
	Response  string
	Err       error
	StreamErr error
	FailAfter int
	ChunkSize int

	mu    sync.Mutex
	calls int
}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{ChunkSize: 16}
}

// Calls reports how many Complete or Stream calls were made.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockGenerator) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.respond(systemPrompt, userText), nil
}

func (m *MockGenerator) Stream(ctx context.Context, systemPrompt, userText string) (FragmentReader, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	size := m.ChunkSize
	if size <= 0 {
		size = 16
	}
	runes := []rune(m.respond(systemPrompt, userText))
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return &mockReader{ctx: ctx, chunks: chunks, err: m.StreamErr, failAfter: m.FailAfter}, nil
}

func (m *MockGenerator) respond(systemPrompt, userText string) string {
	if m.Response != "" {
		return m.Response
	}
	sources := []string{}
	seen := map[string]bool{}
	for _, match := range sourceLine.FindAllStringSubmatch(systemPrompt, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			sources = append(sources, match[1])
		}
	}
	confidence := "high"
	answer := "Mock answer for: " + userText
	if len(sources) == 0 {
		confidence = "low"
		answer = "I do not have enough information in the provided documents."
	}
	payload, _ := json.Marshal(map[string]any{
		"answer":     answer,
		"confidence": confidence,
		"sources":    sources,
	})
	return string(payload)
}

type mockReader struct {
	ctx       context.Context
	chunks    []string
	pos       int
	err       error
	failAfter int
}

func (r *mockReader) Recv() (string, error) {
	if err := r.ctx.Err(); err != nil {
		return "", err
	}
	if r.err != nil && r.pos >= r.failAfter {
		return "", r.err
	}
	if r.pos >= len(r.chunks) {
		return "", io.EOF
	}
	chunk := r.chunks[r.pos]
	r.pos++
	return chunk, nil
}

func (r *mockReader) Close() {}
