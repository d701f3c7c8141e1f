package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securerag/internal/models"
)

// fakeKV mimics the list commands of the redis client, including negative
// range indexes.
type fakeKV struct {
	mu       sync.Mutex
	lists    map[string][]string
	ttls     map[string]time.Duration
	pingErr  error
	readErr  error
	writeErr error
}

func newFakeKV() *fakeKV {
	return &fakeKV{lists: map[string][]string{}, ttls: map[string]time.Duration{}}
}

// Append applies the push and the ttl together or not at all, like the
// MULTI/EXEC the redis client sends.
func (f *fakeKV) Append(_ context.Context, key string, ttl time.Duration, values ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.lists[key] = append(f.lists[key], values...)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	list := f.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (f *fakeKV) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.lists, k)
		delete(f.ttls, k)
	}
	return nil
}

func (f *fakeKV) Ping(context.Context) error { return f.pingErr }

func backends() map[string]func() Store {
	return map[string]func() Store{
		BackendDurable:   func() Store { return NewDurableStore(newFakeKV(), Options{}) },
		BackendEphemeral: func() Store { return NewEphemeralStore(nil) },
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()
			require.NoError(t, store.Append(ctx, "s1", models.RoleUser, "a"))
			require.NoError(t, store.Append(ctx, "s1", models.RoleAssistant, "b"))

			assert.Equal(t, []models.Message{
				{Role: models.RoleUser, Content: "a"},
				{Role: models.RoleAssistant, Content: "b"},
			}, store.History(ctx, "s1", 10))
			assert.Equal(t, name, store.Backend())
		})
	}
}

func TestStoreBoundedHistory(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()
			for i := 0; i < 15; i++ {
				require.NoError(t, store.Append(ctx, "s", models.RoleUser, fmt.Sprintf("m%d", i)))
			}
			got := store.History(ctx, "s", 5)
			require.Len(t, got, 5)
			for i, msg := range got {
				assert.Equal(t, fmt.Sprintf("m%d", 10+i), msg.Content)
			}
			assert.Len(t, store.History(ctx, "s", 0), DefaultHistoryLimit)
		})
	}
}

func TestStoreClearAndUnknownSession(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()
			require.NoError(t, store.Append(ctx, "s", models.RoleUser, "hello"))
			require.NoError(t, store.Append(ctx, "other", models.RoleUser, "kept"))
			require.NoError(t, store.Clear(ctx, "s"))

			assert.Empty(t, store.History(ctx, "s", 10))
			assert.NotNil(t, store.History(ctx, "missing", 10))
			assert.Len(t, store.History(ctx, "other", 10), 1)
		})
	}
}

func TestStoreRejectsUnknownRole(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			err := newStore().Append(context.Background(), "s", models.Role("system"), "x")
			require.Error(t, err)
		})
	}
}

func TestDurableStoreRefreshesTTLUnderPrefixedKey(t *testing.T) {
	kv := newFakeKV()
	store := NewDurableStore(kv, Options{TTL: 42 * time.Second, KeyPrefix: "p:"})
	require.NoError(t, store.Append(context.Background(), "abc", models.RoleUser, "hi"))

	assert.Equal(t, 42*time.Second, kv.ttls["p:abc"])
	assert.Equal(t, []string{`{"role":"user","content":"hi"}`}, kv.lists["p:abc"])
}

func TestDurableAppendFailureLeavesNoPartialWrite(t *testing.T) {
	kv := newFakeKV()
	kv.writeErr = errors.New("EXECABORT")
	store := NewDurableStore(kv, Options{TTL: time.Minute})

	err := store.Append(context.Background(), "s", models.RoleUser, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, kv.writeErr)
	assert.NotContains(t, kv.lists, DefaultKeyPrefix+"s")
	assert.NotContains(t, kv.ttls, DefaultKeyPrefix+"s")
}

func TestDurableHistoryNeverFails(t *testing.T) {
	kv := newFakeKV()
	kv.readErr = errors.New("connection reset")
	store := NewDurableStore(kv, Options{})

	got := store.History(context.Background(), "s", 10)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	kv.readErr = nil
	kv.lists[DefaultKeyPrefix+"s"] = []string{"not json", `{"role":"assistant","content":"ok"}`}
	assert.Equal(t, []models.Message{{Role: models.RoleAssistant, Content: "ok"}}, store.History(context.Background(), "s", 10))
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, BackendDurable, NewStore(ctx, newFakeKV(), Options{}).Backend())
	assert.Equal(t, BackendEphemeral, NewStore(ctx, nil, Options{}).Backend())

	down := newFakeKV()
	down.pingErr = errors.New("dial tcp: connection refused")
	assert.Equal(t, BackendEphemeral, NewStore(ctx, down, Options{}).Backend())
}

func TestEphemeralStoreConcurrentAppends(t *testing.T) {
	store := NewEphemeralStore(nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Append(ctx, "shared", models.RoleUser, fmt.Sprintf("%d", i))
		}(i)
	}
	wg.Wait()
	assert.Len(t, store.History(ctx, "shared", 100), 20)
}
