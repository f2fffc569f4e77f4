package provider

import (
	"context"
	"time"

	"warranty_worker/core/port/out"

	"github.com/rs/zerolog"
)

// ArchivingSender sends through next and then archives the reply. Archive
// failures are logged and never fail the send.
type ArchivingSender struct {
	next    out.MailSender
	archive out.ReplyArchive
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

func NewArchivingSender(next out.MailSender, archive out.ReplyArchive, log zerolog.Logger) *ArchivingSender {
	return &ArchivingSender{
		next:    next,
		archive: archive,
		timeout: 5 * time.Second,
		now:     time.Now,
		log:     log.With().Str("component", "reply_archive").Logger(),
	}
}

func (s *ArchivingSender) Send(ctx context.Context, mail out.OutgoingMail) error {
	if err := s.next.Send(ctx, mail); err != nil {
		return err
	}

	// the reply is already out; archive even if the caller's context ends
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err := s.archive.Archive(actx, out.ArchivedReply{
		To:        mail.To,
		Subject:   mail.Subject,
		Body:      mail.Body,
		ThreadID:  mail.ThreadID,
		InReplyTo: mail.InReplyTo,
		SentAt:    s.now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("email_id", mail.InReplyTo).Msg("failed to archive reply")
	}
	return nil
}

var _ out.MailSender = (*ArchivingSender)(nil)
