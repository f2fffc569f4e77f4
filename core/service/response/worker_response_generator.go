// Package response drafts reply bodies with the LLM.
package response

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"warranty_worker/core/agent/llm"
	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"

	"github.com/rs/zerolog"
)

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("generated response is empty")

// Config holds generator tunables.
type Config struct {
	MaxTokens    int
	Temperature  float32
	Timeout      time.Duration
	MaxBodyChars int
}

func DefaultConfig() Config {
	return Config{
		MaxTokens:    600,
		Temperature:  0.3,
		Timeout:      30 * time.Second,
		MaxBodyChars: 3000,
	}
}

// Request is everything the reply depends on.
type Request struct {
	Email    domain.EmailMessage
	Scenario domain.Scenario
	Serial   string
	Warranty *domain.WarrantyRecord
}

// Generator drafts replies. Safe for concurrent use.
type Generator struct {
	gen       out.TextGenerator
	templates *TemplateSet
	cfg       Config
	log       zerolog.Logger
}

func NewGenerator(gen out.TextGenerator, templates *TemplateSet, cfg Config, log zerolog.Logger) *Generator {
	if templates == nil {
		templates = DefaultTemplateSet()
	}
	return &Generator{
		gen:       gen,
		templates: templates,
		cfg:       cfg,
		log:       log.With().Str("component", "response_generator").Logger(),
	}
}

// Generate returns the reply body for the given scenario.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	if g.gen == nil {
		return "", errors.New("no text generator configured")
	}
	instruction, ok := g.templates.Instructions[req.Scenario]
	if !ok {
		return "", fmt.Errorf("no template for scenario %q", req.Scenario)
	}

	resp, err := g.gen.Generate(ctx, out.GenerateRequest{
		SystemPrompt: g.templates.System,
		UserPrompt:   g.userPrompt(req, instruction),
		MaxTokens:    g.cfg.MaxTokens,
		Temperature:  g.cfg.Temperature,
		Timeout:      g.cfg.Timeout,
		Purpose:      out.PurposeResponseGeneration,
	})
	if err != nil {
		return "", err
	}

	body := strings.TrimSpace(resp)
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyResponse
	}
	if g.templates.Signature != "" && !strings.Contains(body, g.templates.Signature) {
		body += "\n\n" + g.templates.Signature
	}
	return body, nil
}

func (g *Generator) userPrompt(req Request, instruction string) string {
	var b strings.Builder
	b.WriteString("Instruction:\n")
	b.WriteString(instruction)
	b.WriteString("\n\nFacts:\n")
	for _, line := range facts(req) {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nCustomer email (subject: %s):\n%s", req.Email.Subject, llm.TruncateBody(req.Email.Body, g.cfg.MaxBodyChars))
	return b.String()
}

// facts lists what the model may state for each scenario.
func facts(req Request) []string {
	var lines []string
	switch req.Scenario {
	case domain.ScenarioValidWarranty:
		lines = append(lines, "warranty status: valid")
		lines = appendWarranty(lines, req)
	case domain.ScenarioInvalidWarranty:
		if req.Warranty != nil && req.Warranty.Status == domain.WarrantyNotFound {
			lines = append(lines, "warranty status: serial number not found")
		} else {
			lines = append(lines, "warranty status: expired")
		}
		lines = appendWarranty(lines, req)
	case domain.ScenarioMissingInfo:
		lines = append(lines, "no serial number could be found in the email")
	case domain.ScenarioOutOfScope:
		lines = append(lines, "the email is not a warranty request")
	case domain.ScenarioGracefulDegradation:
		lines = append(lines, "automatic processing was not possible")
		if req.Serial != "" {
			lines = append(lines, "serial number mentioned: "+req.Serial)
		}
	default:
		lines = append(lines, "automatic processing was not possible")
	}
	return lines
}

func appendWarranty(lines []string, req Request) []string {
	if req.Serial != "" {
		lines = append(lines, "serial number: "+req.Serial)
	}
	if req.Warranty == nil {
		return lines
	}
	if req.Warranty.ExpirationDate != "" {
		lines = append(lines, "warranty end date: "+req.Warranty.ExpirationDate)
	}
	if req.Warranty.ProductName != "" {
		lines = append(lines, "product: "+req.Warranty.ProductName)
	}
	if req.Warranty.CustomerName != "" {
		lines = append(lines, "customer name: "+req.Warranty.CustomerName)
	}
	return lines
}
