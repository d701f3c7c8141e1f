package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"securerag/internal/models"
	"securerag/internal/observability"
	"securerag/internal/service/ai"
	"securerag/internal/service/guard"
)

// Stream is a single, non-restartable sequence of answer fragments. Recv
// returns io.EOF after the last fragment. Not safe for concurrent use.
type Stream struct {
	engine    *Engine
	ctx       context.Context
	logger    *zap.Logger
	query     string
	sessionID string
	reader    ai.FragmentReader
	started   time.Time

	pending string
	done    bool
	failed  bool
	drained bool
	text    strings.Builder
	outcome Outcome
}

// QueryStream retrieves and builds the prompt eagerly, then hands back a
// stream over the generated fragments. Failures before generation starts
// surface as a single error fragment.
func (e *Engine) QueryStream(ctx context.Context, userQuery, sessionID string) (s *Stream) {
	query := strings.TrimSpace(userQuery)
	s = &Stream{
		engine:    e,
		ctx:       ctx,
		query:     query,
		sessionID: sessionID,
		logger: observability.FromContext(ctx, e.logger).With(
			zap.String("query_preview", preview(query)),
			zap.String("session_id", sessionID),
			zap.Bool("stream", true),
		),
	}

	if utf8.RuneCountInString(query) < MinQueryLength {
		s.fail(OutcomeInputTooShort, StreamTooShort, QueryTooShortAnswer)
		return s
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stream setup panicked", zap.Any("panic", r))
			s.fail(OutcomeSystemError, SystemErrorPrefix+fmt.Sprint(r), fmt.Sprint(r))
		}
	}()

	e.logHistory(ctx, s.logger, sessionID)

	systemPrompt, _, err := e.prepare(ctx, query)
	if err != nil {
		s.logger.Error("retrieval failed", zap.Error(err))
		s.fail(OutcomeSystemError, SystemErrorPrefix+err.Error(), err.Error())
		return s
	}

	s.started = time.Now()
	reader, err := e.generator.Stream(ctx, systemPrompt, query)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrGeneration, err)
		s.logger.Error("generation failed", zap.Error(err))
		s.fail(OutcomeSystemError, SystemErrorPrefix+err.Error(), err.Error())
		return s
	}
	s.reader = reader
	return s
}

// fail queues fragment as the final one.
func (s *Stream) fail(kind OutcomeKind, fragment, reason string) {
	s.pending = fragment
	s.failed = true
	s.outcome = Outcome{Kind: kind, Reason: reason}
	s.engine.count("stream", kind)
	s.closeReader()
}

// Recv returns the next fragment, or io.EOF when the stream is finished.
func (s *Stream) Recv() (frag string, err error) {
	if s.pending != "" {
		frag, s.pending = s.pending, ""
		s.done = true
		return frag, nil
	}
	if s.done || s.reader == nil {
		return "", io.EOF
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stream panicked", zap.Any("panic", r))
			msg := fmt.Sprint(r)
			s.fail(OutcomeSystemError, "", msg)
			s.done = true
			frag, err = SystemErrorPrefix+msg, nil
		}
	}()

	frag, err = s.reader.Recv()
	switch {
	case err == nil:
		s.text.WriteString(frag)
		return frag, nil
	case errors.Is(err, io.EOF):
		s.finish()
		return "", io.EOF
	default:
		err = fmt.Errorf("%w: %w", ErrGeneration, err)
		s.logger.Error("generation failed mid-stream", zap.Error(err), zap.Int("received_bytes", s.text.Len()))
		s.engine.observe(time.Since(s.started))
		s.fail(OutcomeSystemError, "", err.Error())
		s.done = true
		return SystemErrorPrefix + err.Error(), nil
	}
}

// finish validates the assembled text and persists the validated answer once
// the generator has finished cleanly.
func (s *Stream) finish() {
	s.done = true
	s.drained = true
	s.engine.observe(time.Since(s.started))
	s.closeReader()

	full := s.text.String()
	result, err := s.engine.validator.Validate(s.ctx, guard.Extract(full))
	if err != nil {
		var rejection *guard.RejectionError
		reason := err.Error()
		kind := OutcomeSystemError
		if errors.As(err, &rejection) {
			kind = OutcomeRejected
			reason = rejection.Reason
		}
		s.logger.Warn("streamed answer failed validation", zap.String("reason", reason))
		s.outcome = Outcome{Kind: kind, Reason: reason}
		s.engine.count("stream", kind)
		return
	}
	s.outcome = Outcome{Kind: OutcomeOK, Result: result}
	s.engine.count("stream", OutcomeOK)
	s.engine.persist(s.ctx, s.logger, s.sessionID, s.query, result.Answer)
}

// Failed reports whether the last fragment was an error fragment.
func (s *Stream) Failed() bool { return s.failed }

// Result returns the validated result of the assembled answer, or the
// error-shaped result of a failed stream. ok is false while the stream is
// still running or after it was closed early.
func (s *Stream) Result() (models.QueryResult, bool) {
	if !s.drained && !s.failed {
		return models.QueryResult{}, false
	}
	return s.outcome.QueryResult(), true
}

// Outcome reports how the stream ended; meaningful once Recv returned io.EOF.
func (s *Stream) Outcome() Outcome { return s.outcome }

// Close releases the generator stream. Safe to call more than once.
func (s *Stream) Close() {
	s.done = true
	s.pending = ""
	s.closeReader()
}

func (s *Stream) closeReader() {
	if s.reader != nil {
		s.reader.Close()
		s.reader = nil
	}
}
