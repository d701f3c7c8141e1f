package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"securerag/internal/models"
)

// EphemeralStore holds history in process memory until cleared or restart.
type EphemeralStore struct {
	mu       sync.RWMutex
	sessions map[string][]models.Message
	logger   *zap.Logger
}

func NewEphemeralStore(logger *zap.Logger) *EphemeralStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EphemeralStore{
		sessions: make(map[string][]models.Message),
		logger:   logger,
	}
}

func (s *EphemeralStore) Append(_ context.Context, sessionID string, role models.Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], models.Message{Role: role, Content: content})
	return nil
}

func (s *EphemeralStore) History(_ context.Context, sessionID string, limit int) []models.Message {
	limit = normalizeLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.sessions[sessionID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

func (s *EphemeralStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *EphemeralStore) Backend() string { return BackendEphemeral }
