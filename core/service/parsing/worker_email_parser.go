// Package parsing validates raw inbound records and turns them into EmailMessage.
package parsing

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"warranty_worker/core/domain"

	"github.com/google/uuid"
)

var (
	ErrEmptyEmail    = errors.New("email has neither subject nor body")
	ErrInvalidSender = errors.New("invalid sender address")
)

var (
	multiBlankLines = regexp.MustCompile(`\n{3,}`)
	// "On Mon, 1 Jan 2024 ... wrote:" / "W dniu ... pisze:" start of a quoted reply
	quotedHeader = regexp.MustCompile(`(?m)^(On .+ wrote:|W dniu .+ (pisze|napisał\(a\)):|-----Original Message-----)\s*$`)
)

// Parser is the default out.EmailParser.
type Parser struct {
	now          func() time.Time
	stripQuoted  bool
	maxBodyBytes int
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock overrides the time source used for missing timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// WithMaxBodyBytes caps the stored body size.
func WithMaxBodyBytes(n int) Option {
	return func(p *Parser) { p.maxBodyBytes = n }
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{
		now:          time.Now,
		stripQuoted:  true,
		maxBodyBytes: 64 * 1024,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse implements out.EmailParser.
func (p *Parser) Parse(raw domain.RawEmail) (*domain.EmailMessage, error) {
	sender, err := parseSender(raw.Sender)
	if err != nil {
		return nil, err
	}

	subject := strings.TrimSpace(strings.ReplaceAll(raw.Subject, "\r\n", " "))
	body := p.normalizeBody(raw.Body)
	if subject == "" && body == "" {
		return nil, ErrEmptyEmail
	}

	id := strings.TrimSpace(raw.MessageID)
	if id == "" {
		id = contentID(sender, subject, body, raw.ThreadID)
	}
	received := raw.ReceivedAt
	if received.IsZero() {
		received = p.now()
	}

	return &domain.EmailMessage{
		ID:         id,
		Subject:    subject,
		Body:       body,
		Sender:     sender,
		ThreadID:   strings.TrimSpace(raw.ThreadID),
		ReceivedAt: received.UTC(),
	}, nil
}

func (p *Parser) normalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	if p.stripQuoted {
		if loc := quotedHeader.FindStringIndex(body); loc != nil {
			body = body[:loc[0]]
		}
		body = dropQuotedLines(body)
	}
	body = multiBlankLines.ReplaceAllString(body, "\n\n")
	body = strings.TrimSpace(body)
	if p.maxBodyBytes > 0 && len(body) > p.maxBodyBytes {
		cut := p.maxBodyBytes
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	return body
}

// contentID derives a stable id for records that arrive without one, so the
// same record always maps to the same email id.
func contentID(sender, subject, body, threadID string) string {
	key := strings.Join([]string{sender, subject, body, strings.TrimSpace(threadID)}, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func dropQuotedLines(body string) string {
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), ">") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

func parseSender(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSender)
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSender, s)
	}
	return strings.ToLower(addr.Address), nil
}
