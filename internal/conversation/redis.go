package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client   *redis.Client
	platform string
	ttl      time.Duration
}

// NewRedisStore constructs a Store backed by Redis, namespaced per platform
// so VK and Telegram user ids cannot collide. The TTL doubles as the
// eviction policy for abandoned conversations.
func NewRedisStore(client *redis.Client, platform string, ttl time.Duration) Store {
	return &redisStore{client: client, platform: platform, ttl: ttl}
}

func (r *redisStore) stateKey(userID int64) string {
	return fmt.Sprintf("conversation:%s:%d", r.platform, userID)
}

func (r *redisStore) Get(ctx context.Context, userID int64) (State, bool, error) {
	raw, err := r.client.Get(ctx, r.stateKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("conversation state get: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, fmt.Errorf("conversation state decode: %w", err)
	}
	return st, true, nil
}

func (r *redisStore) Set(ctx context.Context, userID int64, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("conversation state encode: %w", err)
	}
	if err := r.client.Set(ctx, r.stateKey(userID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("conversation state set: %w", err)
	}
	return nil
}

func (r *redisStore) Delete(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.stateKey(userID)).Err(); err != nil {
		return fmt.Errorf("conversation state delete: %w", err)
	}
	return nil
}
