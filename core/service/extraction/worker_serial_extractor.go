// Package extraction pulls product serial numbers out of inbound email.
//
// Pattern rules run first; the LLM is consulted only when the rules find no
// strong match or more than one.
package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"warranty_worker/core/agent/llm"
	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"

	"github.com/rs/zerolog"
)

// Config holds extractor tunables.
type Config struct {
	PatternConfidence      float64
	LLMConfidence          float64 // LLM answer matched a pattern candidate
	LLMUnmatchedConfidence float64
	NoLLMConfidence        float64 // best guess when no LLM is configured
	MaxTokens              int
	Timeout                time.Duration
	MaxBodyChars           int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PatternConfidence:      0.95,
		LLMConfidence:          0.8,
		LLMUnmatchedConfidence: 0.7,
		NoLLMConfidence:        0.5,
		MaxTokens:              50,
		Timeout:                10 * time.Second,
		MaxBodyChars:           4000,
	}
}

const extractSystemPrompt = `You extract product serial numbers from customer warranty emails.
Reply with the primary serial number only, exactly as written in the email, with no other text.
If the email mentions several serial numbers, reply with the one the customer is asking about.
If there is no serial number, reply with NONE.`

// Extractor implements serial number extraction. Safe for concurrent use.
type Extractor struct {
	cfg Config
	gen out.TextGenerator
	log zerolog.Logger
}

// NewExtractor creates an extractor. gen may be nil.
func NewExtractor(gen out.TextGenerator, cfg Config, log zerolog.Logger) *Extractor {
	return &Extractor{
		cfg: cfg,
		gen: gen,
		log: log.With().Str("component", "serial_extractor").Logger(),
	}
}

// Extract never fails; problems are reported through Method and DegradedReason.
func (e *Extractor) Extract(ctx context.Context, email domain.EmailMessage) (result domain.SerialExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("email_id", email.ID).Interface("panic", r).Msg("serial extraction panicked")
			result = domain.FailedExtractionResult(fmt.Sprintf("panic: %v", r), nil)
		}
	}()

	cands := findCandidates(email.Text())
	all := values(cands)
	strong := strongOnly(cands)

	if len(strong) == 1 {
		return domain.SerialExtractionResult{
			SerialNumber:       strong[0].value,
			Confidence:         e.cfg.PatternConfidence,
			MultipleFound:      len(cands) > 1,
			AllDetectedSerials: all,
			Method:             domain.ExtractionPattern,
			Ambiguous:          false,
		}
	}

	if e.gen == nil {
		return e.bestGuess(cands, strong)
	}

	answer, err := e.askLLM(ctx, email)
	if err != nil {
		e.log.Warn().Err(err).Str("email_id", email.ID).Int("candidates", len(cands)).Msg("llm serial extraction failed")
		return domain.FailedExtractionResult(err.Error(), all)
	}
	if answer == "" {
		return domain.NoSerialResult(all)
	}

	confidence := e.cfg.LLMUnmatchedConfidence
	matched := false
	for _, c := range cands {
		if normalize(c.value) == normalize(answer) {
			answer = c.value
			confidence = e.cfg.LLMConfidence
			matched = true
			break
		}
	}
	if !matched {
		all = append(all, answer)
	}

	return domain.SerialExtractionResult{
		SerialNumber:       answer,
		Confidence:         confidence,
		MultipleFound:      len(all) > 1,
		AllDetectedSerials: all,
		Method:             domain.ExtractionLLM,
		Ambiguous:          !matched || len(strong) > 1,
	}
}

// bestGuess is used when no LLM is configured: the first strong candidate,
// otherwise a lone weak one.
func (e *Extractor) bestGuess(cands, strong []candidate) domain.SerialExtractionResult {
	all := values(cands)
	var pick string
	switch {
	case len(strong) > 0:
		pick = strong[0].value
	case len(cands) == 1:
		pick = cands[0].value
	default:
		return domain.NoSerialResult(all)
	}
	return domain.SerialExtractionResult{
		SerialNumber:       pick,
		Confidence:         e.cfg.NoLLMConfidence,
		MultipleFound:      len(cands) > 1,
		AllDetectedSerials: all,
		Method:             domain.ExtractionPattern,
		Ambiguous:          true,
	}
}

func (e *Extractor) askLLM(ctx context.Context, email domain.EmailMessage) (string, error) {
	userPrompt := fmt.Sprintf("Subject: %s\n\nBody:\n%s", email.Subject, llm.TruncateBody(email.Body, e.cfg.MaxBodyChars))

	resp, err := e.gen.Generate(ctx, out.GenerateRequest{
		SystemPrompt: extractSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    e.cfg.MaxTokens,
		Temperature:  0,
		Timeout:      e.cfg.Timeout,
		Purpose:      out.PurposeSerialExtraction,
	})
	if err != nil {
		return "", err
	}

	answer := llm.CleanOutput(resp)
	answer = llm.StripLabel(answer, "serial number", "serial", "s/n", "sn:")
	answer = strings.ToUpper(strings.TrimSpace(answer))

	if isNoSerial(answer) {
		return "", nil
	}
	if !validSerial.MatchString(answer) {
		e.log.Debug().Str("email_id", email.ID).Str("answer", answer).Msg("discarding malformed llm serial")
		return "", nil
	}
	return answer, nil
}
