package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"warranty_worker/core/port/out"
	"warranty_worker/pkg/httputil"
)

// Provider names accepted in configuration.
const (
	ProviderOpenAI     = "openai"
	ProviderCompatible = "openai-compatible"
	ProviderNone       = "none"
)

// ProviderConfig selects and configures a text generator.
type ProviderConfig struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	Temperature  float32
	Timeout      time.Duration
	MergePrompts bool
}

// NewTextGenerator builds the generator named by cfg.Provider.
// ProviderNone returns a nil generator; callers run without the LLM tier.
func NewTextGenerator(cfg ProviderConfig) (out.TextGenerator, error) {
	clientCfg := ClientConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
		HTTPClient:  httputil.NewClient(httputil.LLMClientConfig(cfg.Timeout)),
	}

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm provider %q requires an API key", ProviderOpenAI)
		}
		clientCfg.MergePrompts = cfg.MergePrompts
		return NewClientWithConfig(clientCfg), nil
	case ProviderCompatible:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm provider %q requires a base URL", ProviderCompatible)
		}
		clientCfg.MergePrompts = true
		return NewClientWithConfig(clientCfg), nil
	case ProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// CallObserver receives one record per generation.
type CallObserver interface {
	OnLLMCall(purpose string, d time.Duration, err error)
}

type instrumented struct {
	next out.TextGenerator
	obs  CallObserver
}

// Instrument wraps gen so every call is reported to obs.
func Instrument(gen out.TextGenerator, obs CallObserver) out.TextGenerator {
	if gen == nil || obs == nil {
		return gen
	}
	return &instrumented{next: gen, obs: obs}
}

func (g *instrumented) Generate(ctx context.Context, req out.GenerateRequest) (string, error) {
	start := time.Now()
	resp, err := g.next.Generate(ctx, req)
	g.obs.OnLLMCall(req.Purpose, time.Since(start), err)
	return resp, err
}
