package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
)

// Redis stream defaults.
const (
	DefaultStream       = "adaptly:analytics"
	defaultStreamMaxLen = 100000
	redisDialTimeout    = 5 * time.Second
	redisIdleTimeout    = 4 * time.Minute
	redisMaxIdle        = 4
)

// RedisSink appends events to a Redis stream with XADD.
type RedisSink struct {
	pool   *redis.Pool
	stream string
	maxLen int
}

// NewRedisSink creates a sink writing to stream on the server at url
// (redis://[:password@]host:port/db). The connection is verified with PING.
func NewRedisSink(ctx context.Context, url, stream string) (*RedisSink, error) {
	if stream == "" {
		stream = DefaultStream
	}
	pool := &redis.Pool{
		MaxIdle:     redisMaxIdle,
		IdleTimeout: redisIdleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, url,
				redis.DialConnectTimeout(redisDialTimeout),
				redis.DialReadTimeout(redisDialTimeout),
				redis.DialWriteTimeout(redisDialTimeout),
			)
		},
	}

	s := &RedisSink{pool: pool, stream: stream, maxLen: defaultStreamMaxLen}
	if err := s.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return s, nil
}

// Ping checks the server is reachable.
func (s *RedisSink) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = redis.DoContext(conn, ctx, "PING")
	return err
}

// Emit appends e to the stream, trimming it to roughly maxLen entries.
func (s *RedisSink) Emit(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal analytics event: %w", err)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis conn: %w", err)
	}
	defer conn.Close()

	_, err = redis.DoContext(conn, ctx, "XADD", s.stream, "MAXLEN", "~", s.maxLen, "*",
		"type", e.Type,
		"user", e.UserID,
		"payload", raw,
	)
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisSink) Close() error {
	return s.pool.Close()
}
