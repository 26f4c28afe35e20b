package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lyceum-app/lyceum/internal/core"
)

const redisKeyPrefix = "lyceum:doc:"

// Redis is the shared-deployment implementation backed by a Redis server.
// TTL expiry is delegated to Redis; capacity bounding is the server's own
// eviction policy.
type Redis struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// NewRedis wraps the client.
func NewRedis(client *redis.Client, defaultTTL time.Duration) *Redis {
	return &Redis{client: client, defaultTTL: defaultTTL}
}

type redisDocument struct {
	Path      string         `json:"path"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Get implements Cache.
func (c *Redis) Get(ctx context.Context, path core.Path) (*core.Document, bool, error) {
	payload, err := c.client.Get(ctx, redisKeyPrefix+path.String()).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}
	var stored redisDocument
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, false, fmt.Errorf("cache: decode entry: %w", err)
	}
	parsed, err := core.ParsePath(stored.Path)
	if err != nil {
		return nil, false, fmt.Errorf("cache: decode entry path: %w", err)
	}
	doc := core.NewDocument(parsed, stored.Fields)
	doc.UpdatedAt = stored.UpdatedAt
	return doc, true, nil
}

// Put implements Cache.
func (c *Redis) Put(ctx context.Context, path core.Path, doc *core.Document, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	payload, err := json.Marshal(redisDocument{
		Path:      path.String(),
		Fields:    doc.Fields,
		UpdatedAt: doc.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+path.String(), payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Invalidate implements Cache.
func (c *Redis) Invalidate(ctx context.Context, path core.Path) error {
	if err := c.client.Del(ctx, redisKeyPrefix+path.String()).Err(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}
