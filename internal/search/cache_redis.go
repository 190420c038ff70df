package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"melostream/searchservice/internal/domain"
)

const redisCachePrefix = "msearch:cache:"

// redisCachePayload is the wire form of cachedResults. The in-memory struct
// keeps unexported fields, so the Redis layer carries its own shape.
type redisCachePayload struct {
	Tracks     []domain.Track        `json:"tracks"`
	Statuses   []domain.SourceStatus `json:"statuses"`
	InsertedAt time.Time             `json:"insertedAt"`
}

// RedisCacheBackend stores merged result sets in Redis with JSON
// serialization, so warm entries survive restarts and are shared across
// replicas.
type RedisCacheBackend struct {
	client *redis.Client
}

func NewRedisCacheBackend(client *redis.Client) *RedisCacheBackend {
	return &RedisCacheBackend{client: client}
}

func (r *RedisCacheBackend) Get(ctx context.Context, key string) (cachedResults, bool, error) {
	data, err := r.client.Get(ctx, redisCachePrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return cachedResults{}, false, nil
		}
		return cachedResults{}, false, err
	}
	var payload redisCachePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return cachedResults{}, false, err
	}
	return cachedResults{
		tracks:     payload.Tracks,
		statuses:   payload.Statuses,
		insertedAt: payload.InsertedAt,
	}, true, nil
}

func (r *RedisCacheBackend) Set(ctx context.Context, key string, entry cachedResults, ttl time.Duration) error {
	data, err := json.Marshal(redisCachePayload{
		Tracks:     entry.tracks,
		Statuses:   entry.statuses,
		InsertedAt: entry.insertedAt,
	})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisCachePrefix+key, data, ttl).Err()
}

func (r *RedisCacheBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisCachePrefix+key).Err()
}

// Clear removes every cached result set owned by this service.
func (r *RedisCacheBackend) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, redisCachePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r *RedisCacheBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
