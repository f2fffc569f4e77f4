package provider

import (
	"context"
	"sync"

	"warranty_worker/core/port/out"

	"github.com/rs/zerolog"
)

// LogMailer logs replies instead of sending them. It keeps the last sent
// messages for the dev API and the eval harness.
type LogMailer struct {
	log  zerolog.Logger
	keep int

	mu   sync.Mutex
	sent []out.OutgoingMail
}

func NewLogMailer(log zerolog.Logger, keep int) *LogMailer {
	if keep <= 0 {
		keep = 100
	}
	return &LogMailer{log: log.With().Str("component", "log_mailer").Logger(), keep: keep}
}

func (m *LogMailer) Send(ctx context.Context, mail out.OutgoingMail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.log.Info().
		Str("to", mail.To).
		Str("subject", mail.Subject).
		Str("thread_id", mail.ThreadID).
		Str("in_reply_to", mail.InReplyTo).
		Int("body_len", len(mail.Body)).
		Msg("reply not sent (log mailer)")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
	if len(m.sent) > m.keep {
		m.sent = m.sent[len(m.sent)-m.keep:]
	}
	return nil
}

// Sent returns a copy of the retained messages.
func (m *LogMailer) Sent() []out.OutgoingMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]out.OutgoingMail(nil), m.sent...)
}

var _ out.MailSender = (*LogMailer)(nil)
