package parsing

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"warranty_worker/core/domain"
)

func TestParse(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := NewParser(WithClock(func() time.Time { return fixed }))

	tests := []struct {
		name        string
		raw         domain.RawEmail
		wantErr     error
		wantSender  string
		wantBody    string
		wantThread  string
		wantIDEmpty bool
	}{
		{
			name:       "display name sender",
			raw:        domain.RawEmail{MessageID: "m1", Subject: "Warranty", Body: "SN12345 broke", Sender: "Jan Kowalski <Jan@Example.com>", ThreadID: "t1"},
			wantSender: "jan@example.com",
			wantBody:   "SN12345 broke",
			wantThread: "t1",
		},
		{
			name:       "crlf and quoted reply stripped",
			raw:        domain.RawEmail{MessageID: "m2", Subject: "Re: Warranty", Body: "Here is SN12345\r\n\r\n\r\n\r\nOn Mon, 1 Jan 2026 at 10:00, Support wrote:\r\n> please send serial", Sender: "a@b.pl"},
			wantSender: "a@b.pl",
			wantBody:   "Here is SN12345",
		},
		{
			name:       "quoted lines dropped",
			raw:        domain.RawEmail{MessageID: "m3", Subject: "x", Body: "> old text\nnew text", Sender: "a@b.pl"},
			wantSender: "a@b.pl",
			wantBody:   "new text",
		},
		{
			name:    "empty",
			raw:     domain.RawEmail{MessageID: "m4", Sender: "a@b.pl", Body: "   "},
			wantErr: ErrEmptyEmail,
		},
		{
			name:    "bad sender",
			raw:     domain.RawEmail{MessageID: "m5", Subject: "x", Body: "y", Sender: "not an address"},
			wantErr: ErrInvalidSender,
		},
		{
			name:    "missing sender",
			raw:     domain.RawEmail{MessageID: "m6", Subject: "x", Body: "y"},
			wantErr: ErrInvalidSender,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Sender != tt.wantSender {
				t.Errorf("sender: expected %q, got %q", tt.wantSender, got.Sender)
			}
			if got.Body != tt.wantBody {
				t.Errorf("body: expected %q, got %q", tt.wantBody, got.Body)
			}
			if got.ThreadID != tt.wantThread {
				t.Errorf("thread: expected %q, got %q", tt.wantThread, got.ThreadID)
			}
			if !got.ReceivedAt.Equal(fixed) {
				t.Errorf("expected received time from clock, got %v", got.ReceivedAt)
			}
		})
	}
}

func TestParseAssignsIDWhenMissing(t *testing.T) {
	got, err := NewParser().Parse(domain.RawEmail{Subject: "x", Body: "y", Sender: "a@b.pl"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID == "" {
		t.Fatal("expected generated id")
	}

	again, err := NewParser().Parse(domain.RawEmail{Subject: "x", Body: "y", Sender: "A@b.pl"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.ID != got.ID {
		t.Errorf("same record should get the same id, got %q and %q", got.ID, again.ID)
	}

	other, err := NewParser().Parse(domain.RawEmail{Subject: "x", Body: "z", Sender: "a@b.pl"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other.ID == got.ID {
		t.Error("different records should get different ids")
	}
}

func TestParseTruncatesOnRuneBoundary(t *testing.T) {
	tests := []struct {
		max  int
		body string
		want string
	}{
		{5, "abcdęfg", "abcd"},
		{6, "abcdęfg", "abcdę"},
		{3, "żółw", "ż"},
		{100, "krótko", "krótko"},
	}

	for _, tt := range tests {
		got, err := NewParser(WithMaxBodyBytes(tt.max)).Parse(domain.RawEmail{Subject: "s", Body: tt.body, Sender: "a@b.pl"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !utf8.ValidString(got.Body) {
			t.Errorf("max %d: invalid utf-8 %q", tt.max, got.Body)
		}
		if got.Body != tt.want {
			t.Errorf("max %d: expected %q, got %q", tt.max, tt.want, got.Body)
		}
		if !strings.HasPrefix(tt.body, got.Body) {
			t.Errorf("max %d: %q is not a prefix of the body", tt.max, got.Body)
		}
	}
}

func TestReplySubject(t *testing.T) {
	tests := []struct {
		subject  string
		expected string
	}{
		{"Warranty question", "Re: Warranty question"},
		{"Re: Warranty question", "Re: Warranty question"},
		{"RE: upper", "RE: upper"},
		{"Odp: pytanie", "Odp: pytanie"},
		{"", "Re: (no subject)"},
	}

	for _, tt := range tests {
		got := domain.EmailMessage{Subject: tt.subject}.ReplySubject()
		if got != tt.expected {
			t.Errorf("ReplySubject(%q): expected %q, got %q", tt.subject, tt.expected, got)
		}
	}
}
