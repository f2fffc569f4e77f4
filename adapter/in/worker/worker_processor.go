package worker

import (
	"context"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/in"
	"warranty_worker/core/port/out"

	"github.com/rs/zerolog"
)

const settleTimeout = 10 * time.Second

// Processor runs one claimed email through the pipeline and settles the
// mailbox state. A successful email is marked processed; a failed one stays
// unread and its claim is released so a later poll retries it.
type Processor struct {
	pipeline in.EmailProcessor
	receiver out.MailReceiver
	claims   out.ClaimFilter
	results  out.ProcessingResultRepository
	now      func() time.Time
	log      zerolog.Logger
}

// NewProcessor wires the processor. results may be nil when no database is configured.
func NewProcessor(
	pipeline in.EmailProcessor,
	receiver out.MailReceiver,
	claims out.ClaimFilter,
	results out.ProcessingResultRepository,
	log zerolog.Logger,
) *Processor {
	return &Processor{
		pipeline: pipeline,
		receiver: receiver,
		claims:   claims,
		results:  results,
		now:      time.Now,
		log:      log.With().Str("component", "email_processor").Logger(),
	}
}

// HandleEmail implements Handler and messaging.EmailHandler. It returns an
// error only when processing was cut short by ctx, so a stream consumer
// leaves the entry pending.
func (p *Processor) HandleEmail(ctx context.Context, email domain.RawEmail) error {
	result := p.pipeline.ProcessEmail(ctx, email)

	// settle with a fresh context: the run may have used up ctx
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	p.save(sctx, result)

	if result.Failed() {
		p.release(sctx, email.MessageID)
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	}

	if email.MessageID == "" {
		return nil
	}
	if err := p.receiver.MarkProcessed(sctx, email.MessageID); err != nil {
		// the claim is kept until it expires so the email is not answered twice
		p.log.Error().Err(err).Str("email_id", email.MessageID).Msg("failed to mark email processed")
	}
	return nil
}

func (p *Processor) save(ctx context.Context, result domain.ProcessingResult) {
	if p.results == nil {
		return
	}
	if err := p.results.Save(ctx, result, p.now()); err != nil {
		p.log.Warn().Err(err).Str("email_id", result.EmailID).Msg("failed to store processing result")
	}
}

func (p *Processor) release(ctx context.Context, messageID string) {
	if p.claims == nil || messageID == "" {
		return
	}
	if err := p.claims.Release(ctx, messageID); err != nil {
		p.log.Warn().Err(err).Str("email_id", messageID).Msg("failed to release claim")
	}
}
