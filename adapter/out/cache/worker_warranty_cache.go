package cache

import (
	"context"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const warrantyKeyPrefix = "warranty:record:"

// JSONStore is the subset of a key-value cache the warranty cache needs.
type JSONStore interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// RedisJSONStore stores JSON values in Redis.
type RedisJSONStore struct {
	client *redis.Client
}

func NewRedisJSONStore(client *redis.Client) *RedisJSONStore {
	return &RedisJSONStore{client: client}
}

// GetJSON reports false for a missing key.
func (s *RedisJSONStore) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisJSONStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// WarrantyCache decorates a WarrantyChecker. Only records with a known
// status are cached; lookup errors are never cached. A failing store is
// logged and bypassed. Concurrent misses for one serial share a lookup.
type WarrantyCache struct {
	next   out.WarrantyChecker
	store  JSONStore
	ttl    time.Duration
	flight singleflight.Group
	log    zerolog.Logger
}

func NewWarrantyCache(next out.WarrantyChecker, store JSONStore, ttl time.Duration, log zerolog.Logger) *WarrantyCache {
	return &WarrantyCache{
		next:  next,
		store: store,
		ttl:   ttl,
		log:   log.With().Str("component", "warranty_cache").Logger(),
	}
}

func (c *WarrantyCache) Check(ctx context.Context, serialNumber string) (*domain.WarrantyRecord, error) {
	key := warrantyKeyPrefix + serialNumber

	var cached domain.WarrantyRecord
	hit, err := c.store.GetJSON(ctx, key, &cached)
	switch {
	case err != nil:
		c.log.Warn().Err(err).Str("serial_number", serialNumber).Msg("warranty cache read failed")
	case hit:
		return &cached, nil
	}

	v, err, _ := c.flight.Do(serialNumber, func() (interface{}, error) {
		rec, err := c.next.Check(ctx, serialNumber)
		if err != nil || rec == nil || !rec.Status.IsKnown() {
			return rec, err
		}
		if err := c.store.SetJSON(ctx, key, rec, c.ttl); err != nil {
			c.log.Warn().Err(err).Str("serial_number", serialNumber).Msg("warranty cache write failed")
		}
		return rec, nil
	})
	rec, _ := v.(*domain.WarrantyRecord)
	if err != nil || rec == nil {
		return nil, err
	}
	// callers sharing a flight must not see each other's changes
	shared := *rec
	return &shared, nil
}

var _ out.WarrantyChecker = (*WarrantyCache)(nil)
