// Package cache holds the in-flight claim filter that keeps two workers off
// the same message, and the warranty lookup cache.
package cache

import (
	"context"
	"sync"
	"time"

	"warranty_worker/core/port/out"

	"github.com/redis/go-redis/v9"
)

const claimKeyPrefix = "warranty:claim:"

// RedisClaimFilter implements out.ClaimFilter with SET NX.
type RedisClaimFilter struct {
	client *redis.Client
	owner  string
}

// NewRedisClaimFilter stores owner as the claim value so only the owner
// releases it.
func NewRedisClaimFilter(client *redis.Client, owner string) *RedisClaimFilter {
	return &RedisClaimFilter{client: client, owner: owner}
}

func (f *RedisClaimFilter) Claim(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	return f.client.SetNX(ctx, claimKeyPrefix+messageID, f.owner, ttl).Result()
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (f *RedisClaimFilter) Release(ctx context.Context, messageID string) error {
	err := releaseScript.Run(ctx, f.client, []string{claimKeyPrefix + messageID}, f.owner).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// MemoryClaimFilter is the single-process fallback used when Redis is not
// configured.
type MemoryClaimFilter struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryClaimFilter() *MemoryClaimFilter {
	return &MemoryClaimFilter{claims: make(map[string]time.Time), now: time.Now}
}

func (f *MemoryClaimFilter) Claim(_ context.Context, messageID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if exp, ok := f.claims[messageID]; ok && now.Before(exp) {
		return false, nil
	}
	f.claims[messageID] = now.Add(ttl)
	f.evictExpired(now)
	return true, nil
}

func (f *MemoryClaimFilter) Release(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claims, messageID)
	return nil
}

// Len reports live claims.
func (f *MemoryClaimFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evictExpired(f.now())
	return len(f.claims)
}

func (f *MemoryClaimFilter) evictExpired(now time.Time) {
	for id, exp := range f.claims {
		if !now.Before(exp) {
			delete(f.claims, id)
		}
	}
}

var (
	_ out.ClaimFilter = (*RedisClaimFilter)(nil)
	_ out.ClaimFilter = (*MemoryClaimFilter)(nil)
)
