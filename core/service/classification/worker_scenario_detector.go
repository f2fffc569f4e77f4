// Package classification routes an email to a reply scenario.
//
// Two tiers:
//
//	Tier 1: heuristic rules   → evaluated in fixed order, highest score wins,
//	                            early exit at the fast-path threshold
//	Tier 2: LLM classifier    → only when the best heuristic score is below it
//
// Anything that goes wrong collapses to graceful-degradation.
package classification

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

// Config holds detector tunables.
type Config struct {
	FastPathThreshold  float64
	AmbiguityThreshold float64
	LLMConfidence      float64
	MinBodyLength      int
	MaxTokens          int
	Timeout            time.Duration
	MaxBodyChars       int
	SpamMarkers        []string
	WarrantyKeywords   []string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FastPathThreshold:  0.8,
		AmbiguityThreshold: 0.6,
		LLMConfidence:      0.8,
		MinBodyLength:      20,
		MaxTokens:          20,
		Timeout:            10 * time.Second,
		MaxBodyChars:       3000,
		SpamMarkers:        DefaultSpamMarkers,
		WarrantyKeywords:   DefaultWarrantyKeywords,
	}
}

// LLM labels and the scenarios they map to.
const (
	labelValidWarranty = "valid_warranty_inquiry"
	labelMissingInfo   = "missing_information"
	labelOutOfScope    = "out_of_scope"
)

var labelScenarios = map[string]domain.Scenario{
	labelValidWarranty: domain.ScenarioValidWarranty,
	labelMissingInfo:   domain.ScenarioMissingInfo,
	labelOutOfScope:    domain.ScenarioOutOfScope,
}

const classifySystemPrompt = `You classify customer emails sent to a product warranty support inbox.
Answer with exactly one label and nothing else:
- valid_warranty_inquiry: the customer asks about warranty, repair or a defect of a product
- missing_information: the customer writes about a product but the request cannot be handled without more details
- out_of_scope: spam, advertising, or anything unrelated to product warranty`

// Detector classifies emails into scenarios. Safe for concurrent use.
type Detector struct {
	cfg   Config
	rules []scenarioRule
	gen   out.TextGenerator
	log   zerolog.Logger
}

// NewDetector creates a detector. gen may be nil, in which case the
// heuristic result is returned as-is and flagged ambiguous when not terminal.
func NewDetector(gen out.TextGenerator, cfg Config, log zerolog.Logger) *Detector {
	return &Detector{
		cfg: cfg,
		rules: []scenarioRule{
			missingSerialRule{keywords: cfg.WarrantyKeywords},
			spamRule{markers: cfg.SpamMarkers},
			shortBodyRule{minLength: cfg.MinBodyLength},
			warrantyKeywordRule{keywords: cfg.WarrantyKeywords},
			unclearRule{},
		},
		gen: gen,
		log: log.With().Str("component", "scenario_detector").Logger(),
	}
}

// Detect never fails. The returned scenario is always defined.
func (d *Detector) Detect(ctx context.Context, email domain.EmailMessage, serial domain.SerialExtractionResult) (result domain.ScenarioDetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("email_id", email.ID).Interface("panic", r).Msg("scenario detection panicked")
			result = domain.DegradedDetection(fmt.Sprintf("panic: %v", r))
		}
	}()

	best := d.heuristic(newDetectorInput(email, serial))
	if best.Confidence >= d.cfg.FastPathThreshold {
		return d.finish(best)
	}

	if d.gen == nil {
		best.Ambiguous = true
		return best
	}

	return d.classifyWithLLM(ctx, email, serial)
}

// heuristic runs the decision table in order.
func (d *Detector) heuristic(in *DetectorInput) domain.ScenarioDetectionResult {
	var best *domain.ScenarioDetectionResult
	for _, rule := range d.rules {
		res := rule.Evaluate(in)
		if res == nil {
			continue
		}
		if best == nil || res.Confidence > best.Confidence {
			best = res
		}
		if res.Confidence >= d.cfg.FastPathThreshold {
			d.log.Debug().Str("email_id", in.Email.ID).Str("rule", rule.Name()).Msg("heuristic fast path")
			break
		}
	}
	if best == nil {
		return domain.DegradedDetection("no rule matched")
	}
	return *best
}

func (d *Detector) classifyWithLLM(ctx context.Context, email domain.EmailMessage, serial domain.SerialExtractionResult) domain.ScenarioDetectionResult {
	userPrompt := fmt.Sprintf("Serial number found: %s\nSubject: %s\n\nBody:\n%s",
		serialLabel(serial), email.Subject, llm.TruncateBody(email.Body, d.cfg.MaxBodyChars))

	resp, err := d.gen.Generate(ctx, out.GenerateRequest{
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    d.cfg.MaxTokens,
		Temperature:  0,
		Timeout:      d.cfg.Timeout,
		Purpose:      out.PurposeScenarioDetection,
	})
	if err != nil {
		d.log.Warn().Err(err).Str("email_id", email.ID).Msg("llm scenario detection failed")
		return domain.DegradedDetection(err.Error())
	}

	label := normalizeLabel(llm.CleanOutput(resp))
	scenario, ok := labelScenarios[label]
	if !ok {
		d.log.Warn().Str("email_id", email.ID).Str("label", label).Msg("unrecognized llm scenario label")
		return domain.ScenarioDetectionResult{
			Scenario:       domain.ScenarioGracefulDegradation,
			Confidence:     0.5,
			DetectedIntent: domain.IntentUnclear,
			Method:         domain.DetectionFallback,
			Ambiguous:      true,
			DegradedReason: fmt.Sprintf("unrecognized label %q", label),
		}
	}

	return d.finish(domain.ScenarioDetectionResult{
		Scenario:          scenario,
		Confidence:        d.cfg.LLMConfidence,
		IsWarrantyInquiry: scenario == domain.ScenarioValidWarranty,
		DetectedIntent:    domain.IntentLLMClassified,
		Method:            domain.DetectionLLM,
	})
}

func (d *Detector) finish(r domain.ScenarioDetectionResult) domain.ScenarioDetectionResult {
	if r.Confidence < d.cfg.AmbiguityThreshold || r.Scenario == domain.ScenarioGracefulDegradation {
		r.Ambiguous = true
	}
	return r
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return s
}

func serialLabel(serial domain.SerialExtractionResult) string {
	if !serial.HasSerial() {
		return "none"
	}
	return serial.SerialNumber
}
