package memory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"securerag/internal/models"
)

const (
	BackendDurable   = "durable"
	BackendEphemeral = "ephemeral"

	DefaultHistoryLimit = 10
	DefaultTTL          = time.Hour
	DefaultKeyPrefix    = "securerag:memory:"
)

// Store is the per-session conversation history. History never fails: an
// unknown, expired or unreadable session yields an empty slice.
type Store interface {
	Append(ctx context.Context, sessionID string, role models.Role, content string) error
	History(ctx context.Context, sessionID string, limit int) []models.Message
	Clear(ctx context.Context, sessionID string) error
	Backend() string
}

// KV is the list-shaped key-value store behind the durable backend.
type KV interface {
	// Append pushes values and resets the key ttl atomically.
	Append(ctx context.Context, key string, ttl time.Duration, values ...string) error
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// Options tunes backend selection and the durable key layout.
type Options struct {
	TTL         time.Duration
	KeyPrefix   string
	PingTimeout time.Duration
	Logger      *zap.Logger
}

func (o *Options) normalize() {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 3 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// NewStore picks the durable backend when kv answers a ping, otherwise the
// ephemeral one. The choice holds for the lifetime of the returned store.
func NewStore(ctx context.Context, kv KV, opts Options) Store {
	opts.normalize()
	if kv == nil {
		opts.Logger.Warn("durable memory backend not configured, running in degraded mode",
			zap.String("backend", BackendEphemeral))
		return NewEphemeralStore(opts.Logger)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := kv.Ping(pingCtx); err != nil {
		opts.Logger.Warn("durable memory backend unreachable, running in degraded mode",
			zap.String("backend", BackendEphemeral), zap.Error(err))
		return NewEphemeralStore(opts.Logger)
	}
	opts.Logger.Info("conversation memory ready", zap.String("backend", BackendDurable))
	return NewDurableStore(kv, opts)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
