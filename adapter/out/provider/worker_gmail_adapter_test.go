package provider

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"warranty_worker/core/port/out"
	"warranty_worker/pkg/resilience"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const messagesPath = "/gmail/v1/users/me/messages"

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

type fakeGmail struct {
	mu       sync.Mutex
	messages map[string]*gmail.Message
	listed   []string
	modify   *gmail.ModifyMessageRequest
	sent     *gmail.Message
	listErr  int
}

func (f *fakeGmail) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+messagesPath, func(w http.ResponseWriter, r *http.Request) {
		if f.listErr != 0 {
			w.WriteHeader(f.listErr)
			_, _ = io.WriteString(w, `{"error":{"code":403,"message":"User Rate Limit Exceeded"}}`)
			return
		}
		assert.Equal(t, DefaultInboxQuery, r.URL.Query().Get("q"))
		resp := gmail.ListMessagesResponse{}
		for _, id := range f.listed {
			resp.Messages = append(resp.Messages, &gmail.Message{Id: id})
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("GET "+messagesPath+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		msg, ok := f.messages[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Not Found"}}`)
			return
		}
		writeJSON(w, msg)
	})

	mux.HandleFunc("POST "+messagesPath+"/{id}/modify", func(w http.ResponseWriter, r *http.Request) {
		var req gmail.ModifyMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.modify = &req
		f.mu.Unlock()
		writeJSON(w, gmail.Message{Id: r.PathValue("id")})
	})

	mux.HandleFunc("POST "+messagesPath+"/send", func(w http.ResponseWriter, r *http.Request) {
		var msg gmail.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		f.mu.Lock()
		f.sent = &msg
		f.mu.Unlock()
		writeJSON(w, gmail.Message{Id: "sent-1", ThreadId: msg.ThreadId})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestAdapter(t *testing.T, f *fakeGmail, cfg GmailConfig) *GmailAdapter {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	a, err := NewGmailAdapter(context.Background(), cfg, zerolog.Nop(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return a
}

func TestFetchUnprocessedOldestFirst(t *testing.T) {
	received := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := &fakeGmail{
		listed: []string{"m3", "m2", "m1"},
		messages: map[string]*gmail.Message{
			"m1": {
				Id: "m1", ThreadId: "t1", InternalDate: received.UnixMilli(),
				Payload: &gmail.MessagePart{
					MimeType: "multipart/alternative",
					Headers: []*gmail.MessagePartHeader{
						{Name: "From", Value: "Jan <jan@example.com>"},
						{Name: "Subject", Value: "=?UTF-8?Q?Gwarancja_=C5=BCelazko?="},
					},
					Parts: []*gmail.MessagePart{
						{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>html</p>")}},
						{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("SN: AB1234")}},
					},
				},
			},
			"m2": {
				Id: "m2", ThreadId: "t2",
				Payload: &gmail.MessagePart{
					MimeType: "text/html",
					Headers:  []*gmail.MessagePartHeader{{Name: "from", Value: "ola@example.com"}},
					Body:     &gmail.MessagePartBody{Data: b64("<div>Serial <b>XY9876</b></div>")},
				},
			},
			// m3 is missing: the fetch logs and skips it
		},
	}
	a := newTestAdapter(t, f, GmailConfig{})

	emails, err := a.FetchUnprocessed(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, emails, 2)

	assert.Equal(t, "m1", emails[0].MessageID)
	assert.Equal(t, "t1", emails[0].ThreadID)
	assert.Equal(t, "Jan <jan@example.com>", emails[0].Sender)
	assert.Equal(t, "Gwarancja żelazko", emails[0].Subject)
	assert.Equal(t, "SN: AB1234", emails[0].Body)
	assert.Equal(t, received, emails[0].ReceivedAt)

	assert.Equal(t, "m2", emails[1].MessageID)
	assert.Equal(t, "ola@example.com", emails[1].Sender)
	assert.Equal(t, "Serial XY9876", emails[1].Body)
}

func TestFetchUnprocessedRateLimitIsTransient(t *testing.T) {
	a := newTestAdapter(t, &fakeGmail{listErr: http.StatusForbidden}, GmailConfig{})

	_, err := a.FetchUnprocessed(context.Background(), 5)

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestMarkProcessed(t *testing.T) {
	f := &fakeGmail{}
	a := newTestAdapter(t, f, GmailConfig{ProcessedLabel: "Label_42"})

	require.NoError(t, a.MarkProcessed(context.Background(), "m1"))

	require.NotNil(t, f.modify)
	assert.Equal(t, []string{"UNREAD"}, f.modify.RemoveLabelIds)
	assert.Equal(t, []string{"Label_42"}, f.modify.AddLabelIds)
}

func TestSendRepliesInThread(t *testing.T) {
	f := &fakeGmail{
		messages: map[string]*gmail.Message{
			"m1": {Id: "m1", Payload: &gmail.MessagePart{Headers: []*gmail.MessagePartHeader{
				{Name: "Message-Id", Value: "<abc@mail.example.com>"},
			}}},
		},
	}
	a := newTestAdapter(t, f, GmailConfig{})

	err := a.Send(context.Background(), out.OutgoingMail{
		To: "jan@example.com", Subject: "Re: Gwarancja", Body: "Dzień dobry,\nprosimy o numer.",
		ThreadID: "t1", InReplyTo: "m1",
	})
	require.NoError(t, err)

	require.NotNil(t, f.sent)
	assert.Equal(t, "t1", f.sent.ThreadId)
	raw, err := base64.URLEncoding.DecodeString(f.sent.Raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "In-Reply-To: <abc@mail.example.com>\r\n")
	assert.Contains(t, string(raw), "To: jan@example.com\r\n")
	assert.True(t, strings.HasSuffix(string(raw), "Dzień dobry,\r\nprosimy o numer."))
}

func TestSendRequiresRecipient(t *testing.T) {
	a := newTestAdapter(t, &fakeGmail{}, GmailConfig{})
	assert.Error(t, a.Send(context.Background(), out.OutgoingMail{Subject: "x"}))
}

func TestBuildRawMessage(t *testing.T) {
	raw := buildRawMessage(out.OutgoingMail{To: "a@example.com", Subject: "Re: Naprawa", Body: "a\r\nb\nc"}, "")

	assert.NotContains(t, raw, "In-Reply-To")
	assert.Contains(t, raw, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\na\r\nb\r\nc"))
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "Hello world", stripTags("<p>Hello</p>\n<br/>world"))
	assert.Equal(t, "", stripTags("<img src=x>"))
}
