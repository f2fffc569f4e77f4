package ticket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/pkg/resilience"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL: url + "/",
		APIKey:  "tk",
		Timeout: 2 * time.Second,
		Retry:   resilience.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}, zerolog.Nop())
}

var fields = domain.TicketFields{
	SerialNumber:   "SN12345",
	WarrantyStatus: domain.WarrantyValid,
	CustomerEmail:  "jan@example.com",
	Priority:       domain.TicketPriorityNormal,
	Category:       domain.TicketCategoryWarrantyClaim,
	Subject:        "Warranty claim SN12345",
	ExpirationDate: "2027-03-01",
	ThreadID:       "t1",
}

func TestCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tickets", r.URL.Path)
		assert.Equal(t, "Bearer tk", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		var got domain.TicketFields
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, fields, got)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ticket_id":"T-100"}`))
	}))
	defer srv.Close()

	ticket, err := newTestClient(srv.URL).Create(context.Background(), fields)
	require.NoError(t, err)
	assert.Equal(t, "T-100", ticket.ID)
}

func TestCreateRetryKeepsIdempotencyKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		n := len(keys)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ticket_id":"T-101"}`))
	}))
	defer srv.Close()

	ticket, err := newTestClient(srv.URL).Create(context.Background(), fields)
	require.NoError(t, err)
	assert.Equal(t, "T-101", ticket.ID)
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
}

func TestCreateFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"bad request", http.StatusBadRequest, `{"error":"invalid category"}`},
		{"server error", http.StatusInternalServerError, ""},
		{"missing id", http.StatusOK, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ticket, err := newTestClient(srv.URL).Create(context.Background(), fields)
			assert.Error(t, err)
			assert.Nil(t, ticket)
		})
	}
}
