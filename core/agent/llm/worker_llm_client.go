package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"warranty_worker/core/port/out"
	"warranty_worker/pkg/apperr"
	"warranty_worker/pkg/resilience"

	openai "github.com/sashabaranov/go-openai"
)

// Client is an OpenAI chat-completions text generator. It also serves any
// OpenAI-compatible endpoint through BaseURL.
type Client struct {
	client       *openai.Client
	model        string
	maxTokens    int
	temperature  float32
	timeout      time.Duration
	mergePrompts bool
	breaker      *resilience.Breaker
}

type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration

	// MergePrompts sends system and user prompt as a single user message,
	// for providers that ignore or reject the system role.
	MergePrompts bool

	HTTPClient *http.Client
}

const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 1024
	DefaultTimeout   = 30 * time.Second
)

func NewClient(apiKey string) *Client {
	return NewClientWithConfig(ClientConfig{APIKey: apiKey})
}

func NewClientWithConfig(cfg ClientConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		client:       openai.NewClientWithConfig(oc),
		model:        model,
		maxTokens:    maxTokens,
		temperature:  cfg.Temperature,
		timeout:      timeout,
		mergePrompts: cfg.MergePrompts,
		breaker:      resilience.NewBreaker(resilience.DefaultBreakerConfig("llm-" + model)),
	}
}

// Generate implements out.TextGenerator.
func (c *Client) Generate(ctx context.Context, req out.GenerateRequest) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	temperature := req.Temperature
	if temperature < 0 {
		temperature = c.temperature
	}
	// go-openai drops a zero temperature via omitempty, which means provider default.
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	var content string
	err := c.breaker.Execute(func() error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    c.buildMessages(req.SystemPrompt, req.UserPrompt),
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
		if err != nil {
			if isClientError(err) {
				return resilience.Passthrough(err)
			}
			return err
		}
		if len(resp.Choices) == 0 {
			return resilience.Passthrough(errors.New("no choices in completion"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		if ctxErr := apperr.FromContext(ctx, "llm "+req.Purpose); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, resilience.ErrOpen) {
			return "", apperr.CircuitOpen("llm", err)
		}
		return "", apperr.ExternalError("llm", statusOf(err), fmt.Errorf("%s: %w", req.Purpose, err))
	}
	return content, nil
}

func (c *Client) buildMessages(systemPrompt, userPrompt string) []openai.ChatCompletionMessage {
	if c.mergePrompts || systemPrompt == "" {
		merged := userPrompt
		if systemPrompt != "" {
			merged = systemPrompt + "\n\n" + userPrompt
		}
		return []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: merged},
		}
	}
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userPrompt},
	}
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// 4xx other than 429 will not get better by retrying or tripping the breaker.
func isClientError(err error) bool {
	status := statusOf(err)
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}
