package analytics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisURL returns the test server address or skips the test.
func redisURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("ADAPTLY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ADAPTLY_TEST_REDIS_URL not set")
	}
	return url
}

func TestRedisSink_AppendsToStream(t *testing.T) {
	url := redisURL(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream := "adaptly:test:" + time.Now().Format("150405.000000")
	sink, err := NewRedisSink(ctx, url, stream)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Emit(ctx, Event{Type: EventGateUnlocked, UserID: "u1", At: time.Now()}))

	conn, err := redis.DialURLContext(ctx, url)
	require.NoError(t, err)
	defer conn.Close()
	defer func() { _, _ = conn.Do("DEL", stream) }()

	n, err := redis.Int(conn.Do("XLEN", stream))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRedisSink_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisSink(ctx, "redis://127.0.0.1:1/0", "")
	assert.Error(t, err)
}
