package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acgov/go-mesh/mesh"
)

const redisKeyPrefix = "mesh:session:"

// RedisConfig configures the Redis-backed session store.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RedisStore persists sessions as JSON values with a TTL so abandoned
// sessions eventually vanish even if the expiry sweep never runs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis session store: %w", err)
	}
	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

// Put writes the session JSON, refreshing the TTL.
func (s *RedisStore) Put(ctx context.Context, sess *GovernanceSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.SessionID, err)
	}
	return s.client.Set(ctx, redisKeyPrefix+sess.SessionID, data, s.ttl).Err()
}

// Get loads and decodes one session.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*GovernanceSession, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, mesh.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess GovernanceSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Delete removes one session key.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, redisKeyPrefix+sessionID).Err()
}

// List scans all session keys. This is a sweep-only path; request routing
// never calls it.
func (s *RedisStore) List(ctx context.Context) ([]*GovernanceSession, error) {
	var out []*GovernanceSession
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, err
		}
		var sess GovernanceSession
		if err := json.Unmarshal(data, &sess); err != nil {
			continue // skip undecodable leftovers
		}
		out = append(out, &sess)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
