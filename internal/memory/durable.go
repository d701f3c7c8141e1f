package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"securerag/internal/models"
)

// DurableStore keeps each session as a JSON-encoded list in the KV store.
// Every append refreshes the key ttl, so idle sessions expire on their own.
type DurableStore struct {
	kv   KV
	opts Options
}

func NewDurableStore(kv KV, opts Options) *DurableStore {
	opts.normalize()
	return &DurableStore{kv: kv, opts: opts}
}

func (s *DurableStore) key(sessionID string) string {
	return s.opts.KeyPrefix + sessionID
}

func (s *DurableStore) Append(ctx context.Context, sessionID string, role models.Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	payload, err := json.Marshal(models.Message{Role: role, Content: content})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := s.kv.Append(ctx, s.key(sessionID), s.opts.TTL, string(payload)); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *DurableStore) History(ctx context.Context, sessionID string, limit int) []models.Message {
	limit = normalizeLimit(limit)
	raw, err := s.kv.Range(ctx, s.key(sessionID), int64(-limit), -1)
	if err != nil {
		s.opts.Logger.Error("read session history", zap.String("session_id", sessionID), zap.Error(err))
		return []models.Message{}
	}
	history := make([]models.Message, 0, len(raw))
	for _, item := range raw {
		var msg models.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.opts.Logger.Warn("skip undecodable history entry", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		history = append(history, msg)
	}
	return history
}

func (s *DurableStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.kv.Delete(ctx, s.key(sessionID)); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *DurableStore) Backend() string { return BackendDurable }
