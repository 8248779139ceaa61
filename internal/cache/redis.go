// Package cache caches wallet digests in Redis so the frequent no-op
// sync path never touches Postgres. Entries are invalidated whenever a
// push accepts an event, so a cached digest is never newer than the log.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/debitum/config"
	"example.com/debitum/internal/event"
	"example.com/debitum/internal/eventstore"
)

const digestTTL = 5 * time.Minute

// RedisClient is the subset of Redis operations the cache needs.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type redisClient struct {
	client *redis.Client
}

// NewRedisClient creates a Redis client and verifies connectivity.
func NewRedisClient(cfg config.RedisConfig) (RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}
	return &redisClient{client: client}, nil
}

func (r *redisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *redisClient) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *redisClient) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisClient) Close() error {
	return r.client.Close()
}

// DigestStore wraps an event store, serving Hash from Redis when
// possible. Cache failures degrade to the underlying store: the cache
// is an optimization, never a source of truth.
type DigestStore struct {
	eventstore.Store
	cache RedisClient
}

// NewDigestStore wraps store with a digest cache.
func NewDigestStore(store eventstore.Store, cache RedisClient) *DigestStore {
	return &DigestStore{Store: store, cache: cache}
}

func digestKey(walletID uuid.UUID) string {
	return "debitum:digest:" + walletID.String()
}

// Hash serves the wallet digest from cache, falling through to the
// store on a miss.
func (s *DigestStore) Hash(ctx context.Context, walletID uuid.UUID) (eventstore.Digest, error) {
	key := digestKey(walletID)
	if raw, err := s.cache.Get(ctx, key); err == nil {
		var d eventstore.Digest
		if err := json.Unmarshal([]byte(raw), &d); err == nil {
			return d, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Msg("Digest cache read failed")
	}

	d, err := s.Store.Hash(ctx, walletID)
	if err != nil {
		return eventstore.Digest{}, err
	}
	if raw, err := json.Marshal(d); err == nil {
		if err := s.cache.Set(ctx, key, string(raw), digestTTL); err != nil {
			log.Warn().Err(err).Msg("Digest cache write failed")
		}
	}
	return d, nil
}

// Push invalidates the wallet's cached digest after any accepted event.
func (s *DigestStore) Push(ctx context.Context, userID, walletID uuid.UUID, events []event.Event) ([]eventstore.Result, error) {
	results, err := s.Store.Push(ctx, userID, walletID, events)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if res.Status == eventstore.StatusAccepted {
			if err := s.cache.Delete(ctx, digestKey(walletID)); err != nil {
				log.Warn().Err(err).Msg("Digest cache invalidation failed")
			}
			break
		}
	}
	return results, nil
}
