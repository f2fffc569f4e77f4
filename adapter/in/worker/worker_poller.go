package worker

import (
	"context"
	"time"

	"warranty_worker/core/port/out"
	"warranty_worker/pkg/metrics"

	"github.com/rs/zerolog"
)

// PollerConfig holds inbox polling configuration.
type PollerConfig struct {
	Interval  time.Duration
	BatchSize int
	ClaimTTL  time.Duration
}

func DefaultPollerConfig() *PollerConfig {
	return &PollerConfig{
		Interval:  30 * time.Second,
		BatchSize: 10,
		ClaimTTL:  10 * time.Minute,
	}
}

// Poller reads unprocessed mail, claims each message and hands it to the queue.
type Poller struct {
	receiver out.MailReceiver
	claims   out.ClaimFilter
	queue    out.EmailQueue
	config   *PollerConfig
	metrics  *metrics.WorkerMetrics
	log      zerolog.Logger
}

// NewPoller creates a poller. m may be nil.
func NewPoller(receiver out.MailReceiver, claims out.ClaimFilter, queue out.EmailQueue, config *PollerConfig, m *metrics.WorkerMetrics, log zerolog.Logger) *Poller {
	if config == nil {
		config = DefaultPollerConfig()
	}
	return &Poller{
		receiver: receiver,
		claims:   claims,
		queue:    queue,
		config:   config,
		metrics:  m,
		log:      log.With().Str("component", "inbox_poller").Logger(),
	}
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().
		Dur("interval", p.config.Interval).
		Int("batch_size", p.config.BatchSize).
		Msg("inbox poller started")

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Error().Err(err).Msg("inbox poll failed")
		}

		select {
		case <-ctx.Done():
			p.log.Info().Msg("inbox poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce runs a single poll and returns how many emails were queued.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	emails, err := p.receiver.FetchUnprocessed(ctx, p.config.BatchSize)
	if err != nil {
		p.countPoll("error")
		return 0, err
	}
	p.countPoll("ok")

	queued := 0
	for _, email := range emails {
		if ctx.Err() != nil {
			break
		}

		logger := p.log.With().Str("email_id", email.MessageID).Logger()

		ok, err := p.claims.Claim(ctx, email.MessageID, p.config.ClaimTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("claim failed, skipping")
			continue
		}
		if !ok {
			if p.metrics != nil {
				p.metrics.MessagesSkipped.Inc()
			}
			logger.Debug().Msg("already claimed")
			continue
		}
		if p.metrics != nil {
			p.metrics.MessagesClaimed.Inc()
		}

		if err := p.queue.Publish(ctx, email); err != nil {
			logger.Error().Err(err).Msg("failed to queue email")
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
			if rerr := p.claims.Release(rctx, email.MessageID); rerr != nil {
				logger.Warn().Err(rerr).Msg("failed to release claim")
			}
			cancel()
			continue
		}
		queued++
	}

	if len(emails) > 0 {
		p.log.Info().Int("fetched", len(emails)).Int("queued", queued).Msg("inbox polled")
	}
	return queued, nil
}

func (p *Poller) countPoll(status string) {
	if p.metrics != nil {
		p.metrics.PollsTotal.WithLabelValues(status).Inc()
	}
}
