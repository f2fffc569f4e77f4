// Package provider implements the mailbox adapters: Gmail for production and
// a log-only sender for development.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"
	"warranty_worker/pkg/apperr"
	"warranty_worker/pkg/resilience"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	gmailService = "gmail"
	gmailUser    = "me"

	// DefaultInboxQuery selects unread customer mail in the inbox.
	DefaultInboxQuery = "is:unread in:inbox -from:me"

	labelUnread = "UNREAD"
)

// GmailConfig holds Gmail configuration. The worker acts as one mailbox, so
// a long-lived refresh token is enough.
type GmailConfig struct {
	ClientID       string
	ClientSecret   string
	RefreshToken   string
	Query          string
	ProcessedLabel string // label id added on MarkProcessed, optional
}

// GmailAdapter implements out.MailReceiver and out.MailSender for Gmail.
type GmailAdapter struct {
	svc            *gmail.Service
	query          string
	processedLabel string
	breaker        *resilience.Breaker
	log            zerolog.Logger
}

// NewGmailAdapter builds the Gmail client. Extra options are appended after
// the token source, so tests can point it at a fake endpoint.
func NewGmailAdapter(ctx context.Context, cfg GmailConfig, log zerolog.Logger, opts ...option.ClientOption) (*GmailAdapter, error) {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailSendScope,
			gmail.GmailModifyScope,
		},
		Endpoint: google.Endpoint,
	}

	var clientOpts []option.ClientOption
	if cfg.RefreshToken != "" {
		token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
		clientOpts = append(clientOpts, option.WithTokenSource(config.TokenSource(context.Background(), token)))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	query := cfg.Query
	if query == "" {
		query = DefaultInboxQuery
	}

	return &GmailAdapter{
		svc:            svc,
		query:          query,
		processedLabel: cfg.ProcessedLabel,
		breaker:        resilience.NewBreaker(resilience.DefaultBreakerConfig("gmail-api")),
		log:            log.With().Str("component", "gmail").Logger(),
	}, nil
}

// FetchUnprocessed lists up to limit unread messages, oldest first.
func (a *GmailAdapter) FetchUnprocessed(ctx context.Context, limit int) ([]domain.RawEmail, error) {
	if limit <= 0 {
		limit = 10
	}

	var list *gmail.ListMessagesResponse
	err := a.execute(func() error {
		var apiErr error
		list, apiErr = a.svc.Users.Messages.List(gmailUser).Q(a.query).MaxResults(int64(limit)).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(ctx, err, "list messages")
	}

	emails := make([]domain.RawEmail, 0, len(list.Messages))
	for i := len(list.Messages) - 1; i >= 0; i-- {
		ref := list.Messages[i]

		var msg *gmail.Message
		err := a.execute(func() error {
			var apiErr error
			msg, apiErr = a.svc.Users.Messages.Get(gmailUser, ref.Id).Format("full").Context(ctx).Do()
			return apiErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return emails, a.wrapError(ctx, err, "get message")
			}
			// one broken message must not block the rest of the inbox
			a.log.Warn().Err(err).Str("email_id", ref.Id).Msg("failed to fetch message")
			continue
		}
		emails = append(emails, a.convertMessage(msg))
	}
	return emails, nil
}

// MarkProcessed removes UNREAD and adds the processed label when configured.
func (a *GmailAdapter) MarkProcessed(ctx context.Context, messageID string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelUnread}}
	if a.processedLabel != "" {
		req.AddLabelIds = []string{a.processedLabel}
	}

	err := a.execute(func() error {
		_, apiErr := a.svc.Users.Messages.Modify(gmailUser, messageID, req).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return a.wrapError(ctx, err, "modify labels")
	}
	return nil
}

// Send delivers a reply in the original thread. mail.InReplyTo is the Gmail
// message id; its RFC Message-ID header is looked up for In-Reply-To.
func (a *GmailAdapter) Send(ctx context.Context, mail out.OutgoingMail) error {
	if mail.To == "" {
		return apperr.MissingField("to")
	}

	rfcID := ""
	if mail.InReplyTo != "" {
		var original *gmail.Message
		err := a.execute(func() error {
			var apiErr error
			original, apiErr = a.svc.Users.Messages.Get(gmailUser, mail.InReplyTo).
				Format("metadata").MetadataHeaders("Message-ID").Context(ctx).Do()
			return apiErr
		})
		if err != nil {
			a.log.Warn().Err(err).Str("email_id", mail.InReplyTo).Msg("original message lookup failed, replying without In-Reply-To")
		} else if original.Payload != nil {
			rfcID = getHeader(original.Payload.Headers, "Message-ID")
		}
	}

	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(buildRawMessage(mail, rfcID))),
		ThreadId: mail.ThreadID,
	}

	var sent *gmail.Message
	err := a.execute(func() error {
		var apiErr error
		sent, apiErr = a.svc.Users.Messages.Send(gmailUser, msg).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return a.wrapError(ctx, err, "send message")
	}

	a.log.Info().Str("to", mail.To).Str("gmail_id", sent.Id).Str("thread_id", sent.ThreadId).Msg("reply sent")
	return nil
}

// CircuitState reports the Gmail breaker state for readiness checks.
func (a *GmailAdapter) CircuitState() string {
	return a.breaker.State()
}

// execute runs fn under the breaker. Client errors do not trip it.
func (a *GmailAdapter) execute(fn func() error) error {
	return a.breaker.Execute(func() error {
		err := fn()
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			case 400, 401, 403, 404:
				return resilience.Passthrough(err)
			}
		}
		return err
	})
}

func (a *GmailAdapter) wrapError(ctx context.Context, err error, op string) error {
	status := 0
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		status = apiErr.Code
		if status == 403 && strings.Contains(apiErr.Message, "Rate Limit") {
			status = 429
		}
	}
	return resilience.Classify(ctx, gmailService, status, fmt.Errorf("%s: %w", op, err))
}

func (a *GmailAdapter) convertMessage(msg *gmail.Message) domain.RawEmail {
	email := domain.RawEmail{
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
	}
	if msg.InternalDate > 0 {
		email.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		email.Body = msg.Snippet
		return email
	}

	email.Sender = getHeader(msg.Payload.Headers, "From")
	email.Subject = decodeHeader(getHeader(msg.Payload.Headers, "Subject"))

	var text, html string
	extractBody(msg.Payload, &text, &html, 0)
	switch {
	case text != "":
		email.Body = text
	case html != "":
		email.Body = stripTags(html)
	default:
		email.Body = msg.Snippet
	}
	return email
}

// extractBody walks the MIME tree and keeps the first text/plain and
// text/html parts.
func extractBody(part *gmail.MessagePart, text, html *string, depth int) {
	if part == nil || depth > 10 {
		return
	}
	if part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			if *text == "" {
				*text = decodeData(part.Body.Data)
			}
		case "text/html":
			if *html == "" {
				*html = decodeData(part.Body.Data)
			}
		}
	}
	for _, p := range part.Parts {
		extractBody(p, text, html, depth+1)
	}
}

func decodeData(s string) string {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return string(data)
	}
	if data, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return string(data)
	}
	return ""
}

func decodeHeader(s string) string {
	dec := new(mime.WordDecoder)
	if decoded, err := dec.DecodeHeader(s); err == nil {
		return decoded
	}
	return s
}

func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func buildRawMessage(mail out.OutgoingMail, inReplyTo string) string {
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("To: %s\r\n", mail.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", mail.Subject)))
	if inReplyTo != "" {
		buf.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", inReplyTo))
		buf.WriteString(fmt.Sprintf("References: %s\r\n", inReplyTo))
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	body := strings.ReplaceAll(mail.Body, "\r\n", "\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	return buf.String()
}

var (
	_ out.MailReceiver = (*GmailAdapter)(nil)
	_ out.MailSender   = (*GmailAdapter)(nil)
)
