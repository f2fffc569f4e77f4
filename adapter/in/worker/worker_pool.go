package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"
	"warranty_worker/pkg/metrics"

	"github.com/go-pkgz/pool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrPoolStopped is returned by Publish when the pool is not running.
var ErrPoolStopped = errors.New("worker pool is not running")

// Handler processes one inbound email.
type Handler interface {
	HandleEmail(ctx context.Context, email domain.RawEmail) error
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers        int           // concurrent pipeline runs
	WorkerChanSize int           // per-worker buffer
	JobTimeout     time.Duration // upper bound for one email
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        4,
		WorkerChanSize: 16,
		JobTimeout:     2 * time.Minute,
	}
}

// Pool runs each email on its own pool worker. It implements out.EmailQueue
// so the poller can hand work to it the same way it hands work to a stream.
type Pool struct {
	handler Handler
	config  *PoolConfig
	metrics *metrics.WorkerMetrics
	log     zerolog.Logger

	group   *pool.WorkerGroup[job]
	started bool
	mu      sync.Mutex

	processed atomic.Int64
	failed    atomic.Int64
}

type job struct {
	id       string
	email    domain.RawEmail
	enqueued time.Time
}

// jobWorker implements pool.Worker.
type jobWorker struct {
	pool *Pool
}

// Do never fails the group; handler errors are logged and counted in process.
func (w *jobWorker) Do(ctx context.Context, j job) error {
	w.pool.process(ctx, j)
	return nil
}

// NewPool creates a pool. m may be nil.
func NewPool(handler Handler, config *PoolConfig, m *metrics.WorkerMetrics, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Pool{
		handler: handler,
		config:  config,
		metrics: m,
		log:     log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	group := pool.New[job](p.config.Workers, &jobWorker{pool: p}).
		WithContinueOnError()
	if p.config.WorkerChanSize > 0 {
		group = group.WithWorkerChanSize(p.config.WorkerChanSize)
	}
	if err := group.Go(ctx); err != nil {
		return err
	}

	p.group = group
	p.started = true

	p.log.Info().
		Int("workers", p.config.Workers).
		Dur("job_timeout", p.config.JobTimeout).
		Msg("worker pool started")
	return nil
}

// Publish submits an email. It blocks while all worker buffers are full.
func (p *Pool) Publish(ctx context.Context, email domain.RawEmail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrPoolStopped
	}

	p.group.Submit(job{id: uuid.NewString(), email: email, enqueued: time.Now()})
	return nil
}

// Stop closes the input and waits for in-flight emails.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	group := p.group
	p.mu.Unlock()

	err := group.Close(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn().Err(err).Msg("error closing worker pool")
	}

	p.log.Info().
		Int64("processed", p.processed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("worker pool stopped")
	return err
}

func (p *Pool) process(ctx context.Context, j job) {
	if p.metrics != nil {
		p.metrics.InFlight.Inc()
		defer p.metrics.InFlight.Dec()
	}

	jobCtx := ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	err := p.handler.HandleEmail(jobCtx, j.email)
	if err != nil {
		p.failed.Add(1)
		p.log.Error().
			Err(err).
			Str("job_id", j.id).
			Str("email_id", j.email.MessageID).
			Dur("queued", time.Since(j.enqueued)).
			Msg("job processing failed")
		return
	}

	p.processed.Add(1)
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Workers   int   `json:"workers"`
	Running   bool  `json:"running"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	running := p.started
	p.mu.Unlock()

	return PoolStats{
		Workers:   p.config.Workers,
		Running:   running,
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

var _ out.EmailQueue = (*Pool)(nil)
