package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"securerag/internal/config"
)

func TestMetricsCountersAndHandler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.CountQuery("sync", "ok")
	m.CountQuery("sync", "ok")
	m.CountRebuild("ok", 42)
	m.SetMemoryBackend("ephemeral")
	m.ObserveGeneration(150 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `securerag_queries_total{mode="sync",outcome="ok"} 2`)
	assert.Contains(t, body, "securerag_indexed_chunks 42")
	assert.Contains(t, body, `securerag_memory_backend{backend="ephemeral"} 1`)
	assert.Contains(t, body, "securerag_generation_seconds_count 1")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CountQuery("stream", "error")
	m.CountRebuild("failed", 0)
	m.SetMemoryBackend("durable")
	m.CountValidator("pii")
	m.ObserveGeneration(time.Second)
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.NotNil(t, FromContext(ctx, zap.NewNop()))
	assert.NotNil(t, FromContext(context.Background(), nil))
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(config.LogConfig{Level: "loud"})
	require.Error(t, err)

	logger, err := NewLogger(config.LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
