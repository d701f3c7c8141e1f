package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"securerag/internal/memory"
	"securerag/internal/models"
	"securerag/internal/observability"
	"securerag/internal/service/ai"
	"securerag/internal/service/guard"
)

const (
	MinQueryLength = 3

	DefaultTopK         = 3
	DefaultHistoryLimit = 10

	QueryTooShortAnswer = "Query too short."
	StreamTooShort      = "Error: Query too short."
	SystemErrorPrefix   = "System Error: "
	PolicyWithheld      = "The generated answer was withheld by the content policy."
)

// Validator is the structured validation step.
type Validator interface {
	Validate(ctx context.Context, c guard.Candidate) (models.QueryResult, error)
}

// Recorder collects pipeline metrics; observability.Metrics satisfies it.
type Recorder interface {
	CountQuery(mode, outcome string)
	ObserveGeneration(d time.Duration)
}

type Options struct {
	TopK         int
	HistoryLimit int
	Refusal      string
}

// Engine runs the retrieval-grounded query pipeline. Memory may be nil when
// conversation history is disabled.
type Engine struct {
	handle    *RetrieverHandle
	generator ai.Generator
	validator Validator
	memory    memory.Store
	recorder  Recorder
	logger    *zap.Logger
	opts      Options
}

type EngineDeps struct {
	Handle    *RetrieverHandle
	Generator ai.Generator
	Validator Validator
	Memory    memory.Store
	Recorder  Recorder
	Logger    *zap.Logger
}

func NewEngine(deps EngineDeps, opts Options) (*Engine, error) {
	if deps.Handle == nil {
		return nil, errors.New("retriever handle required")
	}
	if deps.Generator == nil {
		return nil, errors.New("generator required")
	}
	if deps.Validator == nil {
		return nil, errors.New("validator required")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Refusal == "" {
		opts.Refusal = guard.DefaultRefusal
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		handle:    deps.Handle,
		generator: deps.Generator,
		validator: deps.Validator,
		memory:    deps.Memory,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		opts:      opts,
	}, nil
}

// Handle exposes the retriever handle so rebuilds can install new indexes.
func (e *Engine) Handle() *RetrieverHandle { return e.handle }

// MemoryEnabled reports whether conversation history is kept.
func (e *Engine) MemoryEnabled() bool { return e.memory != nil }

// ClearMemory drops the history of one session.
func (e *Engine) ClearMemory(ctx context.Context, sessionID string) error {
	if e.memory == nil {
		return errors.New("conversation memory is disabled")
	}
	return e.memory.Clear(ctx, sessionID)
}

type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeInputTooShort
	OutcomeRejected
	OutcomeSystemError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeInputTooShort:
		return "input_too_short"
	case OutcomeRejected:
		return "rejected"
	case OutcomeSystemError:
		return "system_error"
	}
	return "unknown"
}

// Outcome is the tagged result of one pipeline run. Result is only
// meaningful for OutcomeOK; Reason explains the other kinds.
type Outcome struct {
	Kind   OutcomeKind
	Result models.QueryResult
	Reason string
}

// QueryResult folds the outcome into the caller-facing shape.
func (o Outcome) QueryResult() models.QueryResult {
	switch o.Kind {
	case OutcomeOK:
		return o.Result
	case OutcomeInputTooShort:
		return models.LowConfidence(QueryTooShortAnswer)
	case OutcomeRejected:
		return models.LowConfidence(SystemErrorPrefix + PolicyWithheld)
	default:
		return models.LowConfidence(SystemErrorPrefix + o.Reason)
	}
}

// Query answers userQuery. It never fails; problems come back as a
// low-confidence result whose answer starts with "System Error: ".
func (e *Engine) Query(ctx context.Context, userQuery, sessionID string) models.QueryResult {
	return e.Evaluate(ctx, userQuery, sessionID).QueryResult()
}

// Evaluate runs the pipeline and reports how it ended. The exchange is
// written to memory only for OutcomeOK.
func (e *Engine) Evaluate(ctx context.Context, userQuery, sessionID string) (out Outcome) {
	query := strings.TrimSpace(userQuery)
	logger := observability.FromContext(ctx, e.logger).With(
		zap.String("query_preview", preview(query)),
		zap.String("session_id", sessionID),
	)
	defer func() {
		e.count("sync", out.Kind)
	}()

	if utf8.RuneCountInString(query) < MinQueryLength {
		return Outcome{Kind: OutcomeInputTooShort, Reason: QueryTooShortAnswer}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("query pipeline panicked", zap.Any("panic", r))
			out = Outcome{Kind: OutcomeSystemError, Reason: fmt.Sprint(r)}
		}
	}()

	e.logHistory(ctx, logger, sessionID)

	systemPrompt, version, err := e.prepare(ctx, query)
	if err != nil {
		logger.Error("retrieval failed", zap.Error(err))
		return Outcome{Kind: OutcomeSystemError, Reason: err.Error()}
	}

	start := time.Now()
	raw, err := e.generator.Complete(ctx, systemPrompt, query)
	e.observe(time.Since(start))
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrGeneration, err)
		logger.Error("generation failed", zap.Error(err))
		return Outcome{Kind: OutcomeSystemError, Reason: err.Error()}
	}

	result, err := e.validator.Validate(ctx, guard.Extract(raw))
	if err != nil {
		var rejection *guard.RejectionError
		if errors.As(err, &rejection) {
			logger.Warn("answer withheld by content policy", zap.String("reason", rejection.Reason), zap.Float64("score", rejection.Score))
			return Outcome{Kind: OutcomeRejected, Reason: rejection.Reason}
		}
		return Outcome{Kind: OutcomeSystemError, Reason: err.Error()}
	}

	e.persist(ctx, logger, sessionID, query, result.Answer)
	logger.Info("query answered", zap.Uint64("version", version), zap.String("confidence", string(result.Confidence)))
	return Outcome{Kind: OutcomeOK, Result: result}
}

// prepare snapshots the retriever, retrieves and renders the system prompt.
func (e *Engine) prepare(ctx context.Context, query string) (string, uint64, error) {
	snap := e.handle.Load()
	if snap == nil || snap.Retriever == nil {
		return "", 0, fmt.Errorf("%w: %w", ErrRetrieval, ErrIndexUnavailable)
	}
	passages, err := snap.Retriever.Retrieve(ctx, query, e.opts.TopK)
	if err != nil {
		return "", snap.Version, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	return SystemPrompt(BuildContext(passages), e.opts.Refusal), snap.Version, nil
}

// logHistory reads recent turns for observability only.
func (e *Engine) logHistory(ctx context.Context, logger *zap.Logger, sessionID string) {
	if e.memory == nil || sessionID == "" {
		return
	}
	history := e.memory.History(ctx, sessionID, e.opts.HistoryLimit)
	logger.Debug("session history loaded", zap.Int("messages", len(history)), zap.String("backend", e.memory.Backend()))
}

func (e *Engine) persist(ctx context.Context, logger *zap.Logger, sessionID, query, answer string) {
	if e.memory == nil || sessionID == "" {
		return
	}
	if err := e.memory.Append(ctx, sessionID, models.RoleUser, query); err != nil {
		logger.Error("persist user turn", zap.Error(err))
		return
	}
	if err := e.memory.Append(ctx, sessionID, models.RoleAssistant, answer); err != nil {
		logger.Error("persist assistant turn", zap.Error(err))
	}
}

func (e *Engine) count(mode string, kind OutcomeKind) {
	if e.recorder != nil {
		e.recorder.CountQuery(mode, kind.String())
	}
}

func (e *Engine) observe(d time.Duration) {
	if e.recorder != nil {
		e.recorder.ObserveGeneration(d)
	}
}

func preview(q string) string {
	const limit = 50
	r := []rune(q)
	if len(r) <= limit {
		return q
	}
	return string(r[:limit]) + "..."
}
