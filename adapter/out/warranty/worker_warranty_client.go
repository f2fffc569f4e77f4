// Package warranty is the HTTP client for the warranty-status service.
package warranty

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"
	"warranty_worker/pkg/apperr"
	"warranty_worker/pkg/httputil"
	"warranty_worker/pkg/resilience"

	"github.com/rs/zerolog"
)

const serviceName = "warranty_api"

// Config holds client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   resilience.RetryPolicy
}

// Client implements out.WarrantyChecker.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *resilience.Breaker
	retry   resilience.RetryPolicy
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
		log:     log.With().Str("component", "warranty_client").Logger(),
	}
}

type warrantyResponse struct {
	SerialNumber   string         `json:"serial_number"`
	Status         string         `json:"status"`
	ExpirationDate string         `json:"expiration_date"`
	CustomerName   string         `json:"customer_name"`
	CustomerEmail  string         `json:"customer_email"`
	ProductName    string         `json:"product_name"`
	Metadata       map[string]any `json:"metadata"`
}

func (r *warrantyResponse) toDomain(serial string) *domain.WarrantyRecord {
	if r.SerialNumber == "" {
		r.SerialNumber = serial
	}
	return &domain.WarrantyRecord{
		SerialNumber:   r.SerialNumber,
		Status:         domain.WarrantyStatus(strings.ToLower(strings.TrimSpace(r.Status))),
		ExpirationDate: r.ExpirationDate,
		CustomerName:   r.CustomerName,
		CustomerEmail:  r.CustomerEmail,
		ProductName:    r.ProductName,
		Metadata:       r.Metadata,
	}
}

// Check looks the serial up. A 404 is an answer (not_found), not an error.
// The status is passed through unvalidated; callers decide what an unknown
// status means.
func (c *Client) Check(ctx context.Context, serial string) (*domain.WarrantyRecord, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, apperr.MissingField("serial_number")
	}

	var rec *domain.WarrantyRecord
	err := resilience.Retry(ctx, c.retry, resilience.IsTransient, func(ctx context.Context) error {
		var err error
		rec, err = c.lookup(ctx, serial)
		return err
	})
	if err != nil {
		c.log.Warn().Err(err).Str("serial", serial).Msg("warranty lookup failed")
		return nil, err
	}

	c.log.Debug().Str("serial", serial).Str("status", string(rec.Status)).Msg("warranty lookup")
	return rec, nil
}

func (c *Client) lookup(ctx context.Context, serial string) (*domain.WarrantyRecord, error) {
	var (
		resp   warrantyResponse
		status int
	)
	err := c.breaker.Execute(func() error {
		var err error
		status, err = httputil.DoJSON(ctx, c.http, http.MethodGet,
			c.baseURL+"/warranty/"+url.PathEscape(serial), c.header(), nil, &resp)
		switch {
		case status == http.StatusNotFound:
			return nil
		case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
			return resilience.Passthrough(err)
		}
		return err
	})
	if err != nil {
		return nil, resilience.Classify(ctx, serviceName, status, err)
	}
	if status == http.StatusNotFound {
		return &domain.WarrantyRecord{SerialNumber: serial, Status: domain.WarrantyNotFound}, nil
	}
	return resp.toDomain(serial), nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set("X-API-Key", c.apiKey)
	}
	return h
}

var _ out.WarrantyChecker = (*Client)(nil)

// CircuitState reports the breaker state for readiness checks.
func (c *Client) CircuitState() string {
	return c.breaker.State()
}
