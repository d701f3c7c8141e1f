package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"securerag/internal/knowledge"
	"securerag/internal/models"
	"securerag/internal/observability"
	"securerag/internal/service/rag"
	"securerag/internal/worker"
)

const (
	serviceName          = "SecureRAG"
	defaultMaxQuery      = 500
	defaultStreamTimeout = 2 * time.Minute
)

// DocumentLibrary is the document folder behind the index.
type DocumentLibrary interface {
	List() ([]models.Document, error)
	Save(name string, r io.Reader) (models.Document, error)
	Delete(name string) error
}

// IndexRebuilder rebuilds the index and returns the published version.
type IndexRebuilder interface {
	Rebuild(ctx context.Context) (uint64, error)
}

// Options carries the values the handlers report or enforce.
type Options struct {
	Version        string
	Provider       string
	Model          string
	MemoryBackend  string
	DocsPath       string
	MaxQueryLength int
	StreamTimeout  time.Duration
}

// Handler wires HTTP routes to the query engine and the document library.
type Handler struct {
	engine    *rag.Engine
	library   DocumentLibrary
	rebuilder IndexRebuilder
	metrics   http.Handler
	logger    *zap.Logger
	opts      Options
}

// NewHandler constructs a Handler instance. metrics may be nil.
func NewHandler(engine *rag.Engine, library DocumentLibrary, rebuilder IndexRebuilder, metrics http.Handler, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxQueryLength <= 0 {
		opts.MaxQueryLength = defaultMaxQuery
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = defaultStreamTimeout
	}
	return &Handler{
		engine:    engine,
		library:   library,
		rebuilder: rebuilder,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(RequestLogger(h.logger), CORS())
	router.GET("/health", h.health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := router.Group("/api")
	api.POST("/query", h.query)
	api.POST("/query/stream", h.queryStream)
	api.GET("/documents", h.listDocuments)
	api.POST("/documents", h.uploadDocument)
	api.DELETE("/documents/:filename", h.deleteDocument)
	api.DELETE("/memory/:session_id", h.clearMemory)
}

func (h *Handler) health(c *gin.Context) {
	_, err := os.Stat(h.opts.DocsPath)
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"service":        serviceName,
		"version":        h.opts.Version,
		"provider":       h.opts.Provider,
		"model":          h.opts.Model,
		"documents_path": err == nil,
		"index_version":  h.engine.Handle().Version(),
		"memory_enabled": h.engine.MemoryEnabled(),
		"memory_backend": h.opts.MemoryBackend,
	})
}

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
	Stream    bool   `json:"stream"`
}

// bindQuery reads the request body and enforces the length ceiling. Short
// queries pass through; the engine answers them itself.
func (h *Handler) bindQuery(c *gin.Context) (queryRequest, bool) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return req, false
	}
	if utf8.RuneCountInString(req.Query) > h.opts.MaxQueryLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("query must be at most %d characters", h.opts.MaxQueryLength)})
		return req, false
	}
	return req, true
}

func (h *Handler) query(c *gin.Context) {
	req, ok := h.bindQuery(c)
	if !ok {
		return
	}
	if req.Stream {
		h.stream(c, req)
		return
	}
	result := h.engine.Query(c.Request.Context(), req.Query, req.SessionID)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) queryStream(c *gin.Context) {
	req, ok := h.bindQuery(c)
	if !ok {
		return
	}
	h.stream(c, req)
}

// stream relays answer fragments as server-sent events: "stream" for each
// fragment, "error" for an error fragment and a final "done" carrying the
// validated result.
func (h *Handler) stream(c *gin.Context, req queryRequest) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	streamCtx, cancel := context.WithTimeout(c.Request.Context(), h.opts.StreamTimeout)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	stream := h.engine.QueryStream(streamCtx, req.Query, req.SessionID)
	defer stream.Close()
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = sendEvent("error", gin.H{"message": err.Error()})
			return
		}
		event, payload := "stream", gin.H{"content": frag}
		if stream.Failed() {
			event, payload = "error", gin.H{"message": frag}
		}
		if err := sendEvent(event, payload); err != nil {
			observability.FromContext(c.Request.Context(), h.logger).Warn("stream client went away", zap.Error(err))
			return
		}
	}
	if result, ok := stream.Result(); ok {
		_ = sendEvent("done", result)
	}
}

func (h *Handler) listDocuments(c *gin.Context) {
	docs, err := h.library.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"count":     len(docs),
	})
}

func (h *Handler) uploadDocument(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read upload"})
		return
	}
	defer file.Close()

	doc, err := h.library.Save(header.Filename, file)
	if err != nil {
		if errors.Is(err, knowledge.ErrUnsupportedType) || errors.Is(err, knowledge.ErrInvalidName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	version, ok := h.rebuild(c)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"filename":      doc.Filename,
		"status":        "success",
		"message":       "Document uploaded and indexed successfully",
		"document":      doc,
		"index_version": version,
	})
}

func (h *Handler) deleteDocument(c *gin.Context) {
	name := c.Param("filename")
	if err := h.library.Delete(name); err != nil {
		switch {
		case errors.Is(err, knowledge.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		case errors.Is(err, knowledge.ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	version, ok := h.rebuild(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"message":       fmt.Sprintf("Document %s deleted and index rebuilt", name),
		"index_version": version,
	})
}

func (h *Handler) rebuild(c *gin.Context) (uint64, bool) {
	version, err := h.rebuilder.Rebuild(c.Request.Context())
	if err != nil {
		observability.FromContext(c.Request.Context(), h.logger).Error("reindex after document change failed", zap.Error(err))
		if errors.Is(err, worker.ErrQueueFull) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return 0, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reindex failed: " + err.Error()})
		return 0, false
	}
	return version, true
}

func (h *Handler) clearMemory(c *gin.Context) {
	if !h.engine.MemoryEnabled() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "memory not enabled"})
		return
	}
	sessionID := c.Param("session_id")
	if err := h.engine.ClearMemory(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	observability.FromContext(c.Request.Context(), h.logger).Info("memory cleared", zap.String("session_id", sessionID))
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("Conversation history cleared for session %s", sessionID),
	})
}
