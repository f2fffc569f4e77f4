// Package ticket is the HTTP client for the ticketing system.
package ticket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"
	"warranty_worker/pkg/httputil"
	"warranty_worker/pkg/resilience"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const serviceName = "ticket_api"

// Config holds client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   resilience.RetryPolicy
}

// Client implements out.TicketCreator.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *resilience.Breaker
	retry   resilience.RetryPolicy
	newKey  func() string
	log     zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = resilience.DefaultRetryPolicy()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httputil.NewClient(httputil.LookupClientConfig(cfg.Timeout)),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerConfig(serviceName)),
		retry:   cfg.Retry,
		newKey:  uuid.NewString,
		log:     log.With().Str("component", "ticket_client").Logger(),
	}
}

// Create opens a ticket. Every retry of one call carries the same
// Idempotency-Key so the ticketing system can drop duplicates.
func (c *Client) Create(ctx context.Context, fields domain.TicketFields) (*domain.Ticket, error) {
	header := http.Header{}
	header.Set("Idempotency-Key", c.newKey())
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	var ticket domain.Ticket
	err := resilience.Retry(ctx, c.retry, resilience.IsTransient, func(ctx context.Context) error {
		var status int
		err := c.breaker.Execute(func() error {
			var err error
			status, err = httputil.DoJSON(ctx, c.http, http.MethodPost, c.baseURL+"/tickets", header, fields, &ticket)
			if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
				return resilience.Passthrough(err)
			}
			return err
		})
		return resilience.Classify(ctx, serviceName, status, err)
	})
	if err != nil {
		c.log.Error().Err(err).Str("serial", fields.SerialNumber).Msg("ticket creation failed")
		return nil, err
	}
	if ticket.ID == "" {
		return nil, errors.New("ticketing system returned no ticket id")
	}

	c.log.Info().
		Str("ticket_id", ticket.ID).
		Str("serial", fields.SerialNumber).
		Str("priority", string(fields.Priority)).
		Msg("ticket created")
	return &ticket, nil
}

var _ out.TicketCreator = (*Client)(nil)

// CircuitState reports the breaker state for readiness checks.
func (c *Client) CircuitState() string {
	return c.breaker.State()
}
