package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securerag/internal/knowledge"
	"securerag/internal/memory"
	"securerag/internal/models"
	"securerag/internal/observability"
	"securerag/internal/service/ai"
	"securerag/internal/service/guard"
	"securerag/internal/service/rag"
	"securerag/internal/worker"
)

type testServer struct {
	router    *gin.Engine
	dir       string
	generator *ai.MockGenerator
	handle    *rag.RetrieverHandle
}

func newTestServer(t *testing.T, withMemory bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guide.txt"),
		[]byte("SecureRAG validates every answer before returning it."), 0o644))

	loader, err := knowledge.NewFileLoader(context.Background())
	require.NoError(t, err)
	library, err := knowledge.NewLibrary(knowledge.LibraryOptions{Dir: dir, Loader: loader})
	require.NoError(t, err)
	idx, err := library.Build(context.Background())
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	handle := rag.NewRetrieverHandle(idx)
	generator := ai.NewMockGenerator()
	deps := rag.EngineDeps{
		Handle:    handle,
		Generator: generator,
		Validator: guard.NewValidator(guard.Options{Rules: guard.AllRules()}),
		Recorder:  metrics,
	}
	backend := ""
	if withMemory {
		deps.Memory = memory.NewEphemeralStore(nil)
		backend = memory.BackendEphemeral
	}
	engine, err := rag.NewEngine(deps, rag.Options{})
	require.NoError(t, err)

	rebuilder := worker.NewRebuilder(library, handle, metrics, nil)
	t.Cleanup(rebuilder.Stop)

	router := gin.New()
	NewHandler(engine, library, rebuilder, metrics.Handler(), nil, Options{
		Version:       "test",
		Provider:      "mock",
		Model:         "mock",
		MemoryBackend: backend,
		DocsPath:      dir,
	}).RegisterRoutes(router)

	return &testServer{router: router, dir: dir, generator: generator, handle: handle}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.name != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		}
	}
	return events
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, true)
	rec := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "SecureRAG", body["service"])
	assert.Equal(t, true, body["memory_enabled"])
	assert.Equal(t, "ephemeral", body["memory_backend"])
	assert.Equal(t, float64(1), body["index_version"])
	assert.Equal(t, true, body["documents_path"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
}

func TestCORSPreflightAndHeaders(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Content-Type")

	rec = s.do(t, http.MethodGet, "/api/documents", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, requestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestQueryReturnsValidatedResult(t *testing.T) {
	s := newTestServer(t, true)
	rec := s.do(t, http.MethodPost, "/api/query", map[string]any{
		"query":      "What does SecureRAG validate?",
		"session_id": "s1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Mock answer for: What does SecureRAG validate?", result.Answer)
	assert.Equal(t, models.ConfidenceHigh, result.Confidence)
	assert.Equal(t, []string{"guide.txt"}, result.Sources)
}

func TestQueryTooShortIsAnsweredNotRejected(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodPost, "/api/query", map[string]any{"query": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, rag.QueryTooShortAnswer, result.Answer)
	assert.Equal(t, models.ConfidenceLow, result.Confidence)
	assert.Equal(t, 0, s.generator.Calls())
}

func TestQueryValidation(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/api/query", map[string]any{"query": strings.Repeat("a", 501)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, s.generator.Calls())
}

func TestQueryStreamEmitsFragmentsThenDone(t *testing.T) {
	s := newTestServer(t, true)
	rec := s.do(t, http.MethodPost, "/api/query/stream", map[string]any{
		"query":      "What does SecureRAG validate?",
		"session_id": "s1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, "done", last.name)

	var assembled strings.Builder
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, "stream", ev.name)
		var payload struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.Unmarshal([]byte(ev.data), &payload))
		assembled.WriteString(payload.Content)
	}
	assert.Contains(t, assembled.String(), "Mock answer for: What does SecureRAG validate?")

	var result models.QueryResult
	require.NoError(t, json.Unmarshal([]byte(last.data), &result))
	assert.Equal(t, models.ConfidenceHigh, result.Confidence)
}

func TestQueryWithStreamFlagDelegates(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodPost, "/api/query", map[string]any{
		"query":  "What does SecureRAG validate?",
		"stream": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestQueryStreamErrorFragment(t *testing.T) {
	s := newTestServer(t, false)
	s.generator.Err = errors.New("provider down")

	rec := s.do(t, http.MethodPost, "/api/query/stream", map[string]any{"query": "What does SecureRAG validate?"})
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[0].name)
	assert.Contains(t, events[0].data, "System Error: ")
	assert.Contains(t, events[0].data, "provider down")
	assert.Equal(t, "done", events[1].name)
}

func TestQueryStreamTooShort(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodPost, "/api/query/stream", map[string]any{"query": "hi"})
	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "error", events[0].name)
	assert.Contains(t, events[0].data, rag.StreamTooShort)
}

func TestClearMemory(t *testing.T) {
	s := newTestServer(t, true)
	rec := s.do(t, http.MethodDelete, "/api/memory/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "s1")

	s = newTestServer(t, false)
	rec = s.do(t, http.MethodDelete, "/api/memory/s1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestDocumentLifecycleRebuildsIndex(t *testing.T) {
	s := newTestServer(t, false)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, uploadRequest(t, "refunds.md", "Refunds are processed within fourteen days."))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, uint64(2), s.handle.Version())
	assert.FileExists(t, filepath.Join(s.dir, "refunds.md"))

	rec = s.do(t, http.MethodGet, "/api/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Documents []models.Document `json:"documents"`
		Count     int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 2, listing.Count)

	rec = s.do(t, http.MethodPost, "/api/query", map[string]any{"query": "How long do refunds take?"})
	var result models.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, []string{"refunds.md"}, result.Sources)

	rec = s.do(t, http.MethodDelete, "/api/documents/refunds.md", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(3), s.handle.Version())

	rec = s.do(t, http.MethodDelete, "/api/documents/refunds.md", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	s := newTestServer(t, false)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, uploadRequest(t, "report.docx", "PK"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, uint64(1), s.handle.Version())

	rec = s.do(t, http.MethodPost, "/api/documents", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, false)
	s.do(t, http.MethodPost, "/api/query", map[string]any{"query": "What does SecureRAG validate?"})

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `securerag_queries_total{mode="sync",outcome="ok"} 1`)
}
