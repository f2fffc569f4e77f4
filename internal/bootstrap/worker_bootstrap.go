package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warranty_worker/adapter/in/worker"
	"warranty_worker/adapter/out/messaging"
	"warranty_worker/config"
	"warranty_worker/core/port/out"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	consumerGroup = "warranty-workers"
	streamMaxLen  = 10000
	drainTimeout  = 30 * time.Second
)

// Worker polls the inbox and processes claimed emails, either on an
// in-process pool or through a Redis stream consumer group.
type Worker struct {
	cfg       *config.Config
	deps      *Dependencies
	processor *worker.Processor
	log       zerolog.Logger
}

// NewWorker checks the worker can run with deps.
func NewWorker(cfg *config.Config, deps *Dependencies, log zerolog.Logger) (*Worker, error) {
	if deps.Gmail == nil {
		return nil, errors.New("worker needs a Gmail mailbox")
	}
	if cfg.QueueMode == config.QueueStream && deps.Redis == nil {
		return nil, errors.New("stream queue mode needs Redis")
	}

	return &Worker{
		cfg:       cfg,
		deps:      deps,
		processor: worker.NewProcessor(deps.Pipeline, deps.Gmail, deps.Claims, deps.Results, log),
		log:       log.With().Str("component", "worker").Logger(),
	}, nil
}

// Run blocks until ctx is cancelled or a component fails. In-flight emails
// are drained before it returns.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	var (
		queue out.EmailQueue
		pool  *worker.Pool
	)

	switch w.cfg.QueueMode {
	case config.QueueStream:
		queue = messaging.NewRedisProducer(w.deps.Redis, messaging.StreamInboundEmail, streamMaxLen)
		for i := 0; i < w.cfg.WorkerPoolSize; i++ {
			consumer := messaging.NewConsumer(w.deps.Redis, &messaging.ConsumerConfig{
				Group:                consumerGroup,
				Consumer:             fmt.Sprintf("%s-%d", w.cfg.WorkerID, i),
				Handler:              w.processor,
				Logger:               w.log,
				BatchSize:            int64(w.cfg.ConsumerBatchSize),
				Block:                time.Duration(w.cfg.ConsumerBlockMS) * time.Millisecond,
				PendingCheckInterval: config.Seconds(w.cfg.ConsumerPendingCheckSec),
				MaxRetries:           w.cfg.ConsumerMaxRetries,
			})
			g.Go(func() error { return consumer.Run(gctx) })
		}

	default:
		pool = worker.NewPool(w.processor, &worker.PoolConfig{
			Workers:        w.cfg.WorkerPoolSize,
			WorkerChanSize: w.cfg.PollBatchSize,
			JobTimeout:     2 * config.Seconds(w.cfg.ProcessingTargetSec),
		}, w.deps.WorkerMetrics, w.log)
		// the pool outlives ctx so in-flight emails can finish
		if err := pool.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		queue = pool
	}

	poller := worker.NewPoller(w.deps.Gmail, w.deps.Claims, queue, &worker.PollerConfig{
		Interval:  config.Seconds(w.cfg.PollIntervalSec),
		BatchSize: w.cfg.PollBatchSize,
		ClaimTTL:  time.Duration(w.cfg.ClaimTTLMin) * time.Minute,
	}, w.deps.WorkerMetrics, w.log)
	g.Go(func() error { return poller.Run(gctx) })

	w.log.Info().
		Str("worker_id", w.cfg.WorkerID).
		Str("queue_mode", w.cfg.QueueMode).
		Int("workers", w.cfg.WorkerPoolSize).
		Msg("worker started")

	err := g.Wait()

	if pool != nil {
		dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if perr := pool.Stop(dctx); perr != nil {
			w.log.Warn().Err(perr).Msg("worker pool did not drain cleanly")
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
