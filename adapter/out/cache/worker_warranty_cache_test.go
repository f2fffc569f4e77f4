package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"warranty_worker/core/domain"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryJSONStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	failGet error
	failSet error
}

func newMemoryJSONStore() *memoryJSONStore {
	return &memoryJSONStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *memoryJSONStore) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return false, s.failGet
	}
	data, ok := s.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (s *memoryJSONStore) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet != nil {
		return s.failSet
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.data[key] = data
	s.ttls[key] = ttl
	return nil
}

type countingChecker struct {
	record *domain.WarrantyRecord
	err    error
	calls  int
}

func (c *countingChecker) Check(_ context.Context, serial string) (*domain.WarrantyRecord, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	rec := *c.record
	rec.SerialNumber = serial
	return &rec, nil
}

func TestWarrantyCacheHit(t *testing.T) {
	store := newMemoryJSONStore()
	next := &countingChecker{record: &domain.WarrantyRecord{Status: domain.WarrantyValid, ExpirationDate: "2027-01-01"}}
	c := NewWarrantyCache(next, store, time.Hour, zerolog.Nop())

	first, err := c.Check(context.Background(), "SN12345")
	require.NoError(t, err)
	second, err := c.Check(context.Background(), "SN12345")
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first, second)
	assert.Equal(t, time.Hour, store.ttls[warrantyKeyPrefix+"SN12345"])
}

func TestWarrantyCacheSkipsErrorsAndUnknownStatus(t *testing.T) {
	store := newMemoryJSONStore()

	failing := &countingChecker{err: errors.New("unavailable")}
	c := NewWarrantyCache(failing, store, time.Hour, zerolog.Nop())
	_, err := c.Check(context.Background(), "SN1")
	require.Error(t, err)

	unknown := &countingChecker{record: &domain.WarrantyRecord{Status: "suspended"}}
	c = NewWarrantyCache(unknown, store, time.Hour, zerolog.Nop())
	rec, err := c.Check(context.Background(), "SN2")
	require.NoError(t, err)
	assert.Equal(t, domain.WarrantyStatus("suspended"), rec.Status)

	assert.Empty(t, store.data)
}

func TestWarrantyCacheBypassesBrokenStore(t *testing.T) {
	store := newMemoryJSONStore()
	store.failGet = errors.New("redis down")
	store.failSet = errors.New("redis down")
	next := &countingChecker{record: &domain.WarrantyRecord{Status: domain.WarrantyExpired}}
	c := NewWarrantyCache(next, store, time.Hour, zerolog.Nop())

	for i := 0; i < 2; i++ {
		rec, err := c.Check(context.Background(), "SN3")
		require.NoError(t, err)
		assert.Equal(t, domain.WarrantyExpired, rec.Status)
	}
	assert.Equal(t, 2, next.calls)
}

type gatedChecker struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (c *gatedChecker) Check(_ context.Context, serial string) (*domain.WarrantyRecord, error) {
	if c.calls.Add(1) == 1 {
		close(c.started)
	}
	<-c.release
	return &domain.WarrantyRecord{SerialNumber: serial, Status: domain.WarrantyValid}, nil
}

func TestWarrantyCacheSharesConcurrentMisses(t *testing.T) {
	next := &gatedChecker{started: make(chan struct{}), release: make(chan struct{})}
	c := NewWarrantyCache(next, newMemoryJSONStore(), time.Hour, zerolog.Nop())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*domain.WarrantyRecord, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := c.Check(context.Background(), "SN4")
			assert.NoError(t, err)
			results[i] = rec
		}(i)
	}

	<-next.started
	time.Sleep(50 * time.Millisecond)
	close(next.release)
	wg.Wait()

	assert.Equal(t, int32(1), next.calls.Load())
	results[0].Status = "changed"
	for _, rec := range results[1:] {
		require.NotNil(t, rec)
		assert.Equal(t, domain.WarrantyValid, rec.Status)
	}
}
