package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/weave/pkg/queue"
	"github.com/dukex/weave/pkg/queue/redis"
)

// NewQueue opens the pending-execution queue named by queueURL: memory:// or redis://...
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL string) (queue.Queue, error) {
	switch {
	case queueURL == "" || strings.HasPrefix(queueURL, "memory://"):
		return queue.NewMemoryQueue(), nil
	case strings.HasPrefix(queueURL, "redis://"), strings.HasPrefix(queueURL, "rediss://"):
		q, err := redis.Connect(ctx, queueURL, redis.WithLogger(logger))
		if err != nil {
			return nil, err
		}

		return q, nil
	default:
		return nil, fmt.Errorf("unsupported queue url: %s", queueURL)
	}
}
