package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chattyhq/chat-engine/pipeline"
)

// Redis is a response store backed by a shared Redis instance, for
// deployments running more than one engine replica. Entries are JSON
// documents under a common key prefix; recency-based eviction is delegated
// to Redis (allkeys-lru) with a TTL as a backstop.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis wraps an existing client. A nil logger disables error reporting.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = "chat-engine:responses"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// Get fetches and decodes a stored response. Backend errors degrade to a
// cache miss: the pipeline must keep answering when Redis is down.
func (c *Redis) Get(ctx context.Context, key string) (pipeline.ChatResponse, bool) {
	data, err := c.client.Get(ctx, c.prefix+":"+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis cache get failed", zap.Error(err))
		}
		return pipeline.ChatResponse{}, false
	}

	var resp pipeline.ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("redis cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, c.prefix+":"+key).Err()
		return pipeline.ChatResponse{}, false
	}
	return resp, true
}

// Set stores the response best-effort. Failures are logged, never surfaced.
func (c *Redis) Set(ctx context.Context, key string, value pipeline.ChatResponse) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("redis cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.prefix+":"+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Clear removes every entry under the store's prefix.
func (c *Redis) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	keys := make([]string, 0, 64)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("redis cache scan failed", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("redis cache clear failed", zap.Error(err))
	}
}

var _ pipeline.ResponseCache = (*Redis)(nil)
