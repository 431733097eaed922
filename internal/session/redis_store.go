package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"roster-lookup/internal/auth"
)

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed session store. Expiry is delegated
// to Redis key TTLs; there is no sweeper.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "session:",
		ttl:    TTL,
		now:    time.Now,
	}
}

func (r *RedisStore) key(token string) string {
	return r.prefix + token
}

func (r *RedisStore) Create(ctx context.Context, identity auth.Identity) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}

	now := r.now()
	s := Session{
		Token:     token,
		Identity:  identity,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}

	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("session: failed to marshal: %w", err)
	}

	// SETNX guards against ever overwriting another identity's token.
	ok, err := r.client.SetNX(ctx, r.key(token), data, r.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("session: failed to store: %w", err)
	}
	if !ok {
		return "", errors.New("session: token collision")
	}

	return token, nil
}

func (r *RedisStore) Get(ctx context.Context, token string) (*Session, error) {
	if !validToken(token) {
		return nil, nil
	}

	val, err := r.client.Get(ctx, r.key(token)).Bytes()
	if err == redis.Nil {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}

	if !s.ExpiresAt.IsZero() && r.now().After(s.ExpiresAt) {
		_ = r.client.Del(ctx, r.key(token)).Err()
		return nil, nil
	}

	return &s, nil
}

func (r *RedisStore) Delete(ctx context.Context, token string) error {
	if !validToken(token) {
		return nil
	}
	return r.client.Del(ctx, r.key(token)).Err()
}
