package out

import (
	"context"

	"warranty_worker/core/domain"
)

// MailReceiver yields inbound emails that have not been handled yet.
type MailReceiver interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]domain.RawEmail, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// MailSender delivers one outgoing message. It may return a transport error.
type MailSender interface {
	Send(ctx context.Context, mail OutgoingMail) error
}

// OutgoingMail is a reply ready to be delivered.
type OutgoingMail struct {
	To        string
	Subject   string
	Body      string
	ThreadID  string
	InReplyTo string // original message id
}
