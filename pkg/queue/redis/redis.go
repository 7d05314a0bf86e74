// Package redis implements queue.Queue on a Redis list so the pending queue survives
// restarts and can be shared by several engine processes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/weave/pkg/queue"
	redis "github.com/redis/go-redis/v9"
)

const defaultKey = "weave:pending"

var _ queue.Queue = (*Queue)(nil)

// Option configures the Queue.
type Option func(*Queue)

// WithKey sets the list key holding the queue.
func WithKey(key string) Option {
	return func(q *Queue) { q.key = key }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// Queue is a FIFO backed by RPUSH/LPOP on a single list key.
type Queue struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

// New wraps an existing client. Closing the queue closes the client.
func New(client redis.UniversalClient, opts ...Option) *Queue {
	q := &Queue{client: client, key: defaultKey, logger: slog.Default()}
	for _, o := range opts {
		o(q)
	}

	return q
}

// Connect parses a redis:// URL, connects and pings the server.
func Connect(ctx context.Context, url string, opts ...Option) (*Queue, error) {
	if !strings.HasPrefix(url, "redis://") && !strings.HasPrefix(url, "rediss://") {
		return nil, fmt.Errorf("unsupported redis url: %s", url)
	}

	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q := New(client, opts...)
	q.logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB, "key", q.key)

	return q, nil
}

func (q *Queue) Push(ctx context.Context, executionID string) error {
	err := q.client.RPush(ctx, q.key, executionID).Err()
	if err != nil {
		return fmt.Errorf("failed to push execution %s: %w", executionID, err)
	}

	return nil
}

func (q *Queue) PopN(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	ids, err := q.client.LPopCount(ctx, q.key, n).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	return ids, nil
}

func (q *Queue) Remove(ctx context.Context, executionID string) error {
	err := q.client.LRem(ctx, q.key, 0, executionID).Err()
	if err != nil {
		return fmt.Errorf("failed to remove execution %s: %w", executionID, err)
	}

	return nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}

	return int(n), nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
