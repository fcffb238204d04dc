package redis

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestStore connects to the Redis named by CDNPULSE_TEST_REDIS_ADDR and
// skips otherwise.
func newTestStore(t *testing.T) (*RedisHistoryStore, string) {
	t.Helper()
	addr := os.Getenv("CDNPULSE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CDNPULSE_TEST_REDIS_ADDR not set")
	}

	client, err := NewClient(context.Background(), ClientOptions{Address: addr, PoolSize: 4}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	key := "cdnpulse:test:" + uuid.NewString()
	t.Cleanup(func() {
		_ = client.Del(context.Background(), key).Err()
		_ = client.Close()
	})
	return NewRedisHistoryStore(client).(*RedisHistoryStore), key
}

func TestRedisHistoryStore_PushTrimRange(t *testing.T) {
	store, key := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Push(ctx, key, []byte(fmt.Sprintf("%d", i))))
		require.NoError(t, store.TrimTo(ctx, key, 0, 9))
	}

	out, err := store.Range(ctx, key, 0, -1)
	require.NoError(t, err)
	require.Len(t, out, 10)
	assert.Equal(t, "19", string(out[0]))
	assert.Equal(t, "10", string(out[9]))

	require.NoError(t, store.Delete(ctx, key))
	out, err = store.Range(ctx, key, 0, -1)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRedisHistoryStore_Ping(t *testing.T) {
	store, _ := newTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(ctx, ClientOptions{Address: "127.0.0.1:1", PoolSize: 1}, nil)
	assert.Error(t, err)
}
