package domain

import (
	"strings"
	"time"
)

// RawEmail is an inbound record as handed over by the mail receiver.
// Nothing in it has been validated yet.
type RawEmail struct {
	MessageID  string    `json:"message_id" yaml:"message_id"`
	Subject    string    `json:"subject" yaml:"subject"`
	Body       string    `json:"body" yaml:"body"`
	Sender     string    `json:"sender" yaml:"sender"`
	ThreadID   string    `json:"thread_id,omitempty" yaml:"thread_id"`
	ReceivedAt time.Time `json:"received_at" yaml:"received_at"`
}

// EmailMessage is the parsed, read-only view of one inbound email.
// Every pipeline stage receives it by value.
type EmailMessage struct {
	ID         string
	Subject    string
	Body       string
	Sender     string
	ThreadID   string // empty when the provider reported no thread
	ReceivedAt time.Time
}

// HasThread reports whether the email belongs to a provider thread.
func (e EmailMessage) HasThread() bool {
	return e.ThreadID != ""
}

// Text returns subject and body in reading order.
func (e EmailMessage) Text() string {
	if e.Subject == "" {
		return e.Body
	}
	return e.Subject + "\n" + e.Body
}

// ReplySubject prefixes the subject with a reply marker unless it already has one.
func (e EmailMessage) ReplySubject() string {
	subject := strings.TrimSpace(e.Subject)
	lower := strings.ToLower(subject)
	if strings.HasPrefix(lower, "re:") || strings.HasPrefix(lower, "odp:") {
		return subject
	}
	if subject == "" {
		return "Re: (no subject)"
	}
	return "Re: " + subject
}
