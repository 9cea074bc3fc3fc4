package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// AnswerCache keeps rendered query answers for a short TTL so repeated
// questions skip retrieval and generation entirely. Values are opaque JSON;
// the pipeline owns the encoding.
type AnswerCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewAnswerCache(client *redisv9.Client, ttl time.Duration) *AnswerCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AnswerCache{client: client, ttl: ttl}
}

// Key derives the cache key from everything that influences an answer.
func Key(queryText, sectionFilter string, topKStage1, topKStage2 int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", queryText, sectionFilter, topKStage1, topKStage2)))
	return "answer:" + hex.EncodeToString(sum[:])
}

func (c *AnswerCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get answer failed: %w", err)
	}
	return raw, true, nil
}

func (c *AnswerCache) Set(ctx context.Context, key string, payload []byte) error {
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set answer failed: %w", err)
	}
	return nil
}
