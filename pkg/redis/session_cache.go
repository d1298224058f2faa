package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aura-vibe/queue-sync/pkg/models"
)

const sessionKeyPrefix = "session:"

// SessionCache keeps resolved sessions in Redis so code lookups on every
// websocket join and queue request skip the database.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionCache creates a cache with the given Redis client. A zero ttl
// defaults to 24h.
func NewSessionCache(client *redis.Client, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionCache{client: client, ttl: ttl}
}

func sessionKey(code string) string {
	return fmt.Sprintf("%s%s", sessionKeyPrefix, code)
}

// Get returns (nil, nil) on a cache miss.
func (c *SessionCache) Get(ctx context.Context, code string) (*models.Session, error) {
	data, err := c.client.Get(ctx, sessionKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (c *SessionCache) Set(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := c.client.Set(ctx, sessionKey(session.Code), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache session: %w", err)
	}
	return nil
}

func (c *SessionCache) Delete(ctx context.Context, code string) error {
	return c.client.Del(ctx, sessionKey(code)).Err()
}

// Ping verifies the connection at startup.
func (c *SessionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *SessionCache) Close() error {
	return c.client.Close()
}
