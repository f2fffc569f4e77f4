package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"warranty_worker/core/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen map[string]int
	fail map[string]bool
}

func (h *recordingHandler) HandleEmail(_ context.Context, email domain.RawEmail) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen == nil {
		h.seen = map[string]int{}
	}
	h.seen[email.MessageID]++
	if h.fail[email.MessageID] {
		return errors.New("handler failed")
	}
	return nil
}

func TestPoolProcessesEveryEmail(t *testing.T) {
	h := &recordingHandler{fail: map[string]bool{"m3": true}}
	p := NewPool(h, &PoolConfig{Workers: 3, WorkerChanSize: 4, JobTimeout: time.Second}, nil, zerolog.Nop())
	require.NoError(t, p.Start(context.Background()))

	for i := 0; i < 20; i++ {
		require.NoError(t, p.Publish(context.Background(), email(fmt.Sprintf("m%d", i))))
	}
	require.NoError(t, p.Stop(context.Background()))

	assert.Len(t, h.seen, 20)
	for id, n := range h.seen {
		assert.Equal(t, 1, n, id)
	}

	stats := p.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, int64(19), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestPoolRejectsWhenStopped(t *testing.T) {
	p := NewPool(&recordingHandler{}, nil, nil, zerolog.Nop())

	err := p.Publish(context.Background(), email("m1"))
	assert.ErrorIs(t, err, ErrPoolStopped)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
	assert.ErrorIs(t, p.Publish(context.Background(), email("m2")), ErrPoolStopped)
}
