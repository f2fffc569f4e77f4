package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClaimFilter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewMemoryClaimFilter()
	f.now = func() time.Time { return now }

	ok, err := f.Claim(ctx, "m1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = f.Claim(ctx, "m1", time.Minute)
	assert.False(t, ok, "second claim within ttl must fail")

	now = now.Add(2 * time.Minute)
	ok, _ = f.Claim(ctx, "m1", time.Minute)
	assert.True(t, ok, "claim expires after ttl")

	require.NoError(t, f.Release(ctx, "m1"))
	ok, _ = f.Claim(ctx, "m1", time.Minute)
	assert.True(t, ok, "released claim can be taken again")
	assert.Equal(t, 1, f.Len())
}

func TestMemoryClaimFilterConcurrent(t *testing.T) {
	f := NewMemoryClaimFilter()
	var won int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := f.Claim(context.Background(), "same", time.Minute); ok {
				atomic.AddInt32(&won, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won)
}
