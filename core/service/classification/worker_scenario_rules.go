package classification

import (
	"strings"
	"unicode/utf8"

	"warranty_worker/core/domain"
)

// DetectorInput is what every rule sees.
type DetectorInput struct {
	Email  domain.EmailMessage
	Serial domain.SerialExtractionResult

	text string // lowercased subject + body
}

func newDetectorInput(email domain.EmailMessage, serial domain.SerialExtractionResult) *DetectorInput {
	return &DetectorInput{
		Email:  email,
		Serial: serial,
		text:   strings.ToLower(email.Text()),
	}
}

func (in *DetectorInput) containsAny(words []string) (string, bool) {
	for _, w := range words {
		if w != "" && strings.Contains(in.text, w) {
			return w, true
		}
	}
	return "", false
}

// scenarioRule is one row of the heuristic decision table.
// Evaluate returns nil when the rule has no opinion.
type scenarioRule interface {
	Name() string
	Evaluate(in *DetectorInput) *domain.ScenarioDetectionResult
}

type missingSerialRule struct {
	keywords []string
}

func (r missingSerialRule) Name() string { return "missing_serial" }

func (r missingSerialRule) Evaluate(in *DetectorInput) *domain.ScenarioDetectionResult {
	if in.Serial.HasSerial() {
		return nil
	}
	_, inquiry := in.containsAny(r.keywords)
	return &domain.ScenarioDetectionResult{
		Scenario:          domain.ScenarioMissingInfo,
		Confidence:        0.9,
		IsWarrantyInquiry: inquiry,
		DetectedIntent:    domain.IntentMissingSerial,
		Method:            domain.DetectionHeuristic,
	}
}

type spamRule struct {
	markers []string
}

func (r spamRule) Name() string { return "spam_markers" }

func (r spamRule) Evaluate(in *DetectorInput) *domain.ScenarioDetectionResult {
	if _, ok := in.containsAny(r.markers); !ok {
		return nil
	}
	return &domain.ScenarioDetectionResult{
		Scenario:       domain.ScenarioOutOfScope,
		Confidence:     0.85,
		DetectedIntent: domain.IntentSpam,
		Method:         domain.DetectionHeuristic,
	}
}

type shortBodyRule struct {
	minLength int
}

func (r shortBodyRule) Name() string { return "short_body" }

func (r shortBodyRule) Evaluate(in *DetectorInput) *domain.ScenarioDetectionResult {
	if utf8.RuneCountInString(strings.TrimSpace(in.Email.Body)) >= r.minLength {
		return nil
	}
	return &domain.ScenarioDetectionResult{
		Scenario:       domain.ScenarioOutOfScope,
		Confidence:     0.6,
		DetectedIntent: domain.IntentShortMessage,
		Method:         domain.DetectionHeuristic,
	}
}

// warrantyKeywordRule labels the email valid-warranty before the lookup has
// run. The pipeline replaces the label with the lookup outcome.
type warrantyKeywordRule struct {
	keywords []string
}

func (r warrantyKeywordRule) Name() string { return "warranty_keyword" }

func (r warrantyKeywordRule) Evaluate(in *DetectorInput) *domain.ScenarioDetectionResult {
	if !in.Serial.HasSerial() {
		return nil
	}
	if _, ok := in.containsAny(r.keywords); !ok {
		return nil
	}
	return &domain.ScenarioDetectionResult{
		Scenario:          domain.ScenarioValidWarranty,
		Confidence:        0.85,
		IsWarrantyInquiry: true,
		DetectedIntent:    domain.IntentWarrantyCheck,
		Method:            domain.DetectionHeuristic,
	}
}

type unclearRule struct{}

func (unclearRule) Name() string { return "unclear" }

func (unclearRule) Evaluate(in *DetectorInput) *domain.ScenarioDetectionResult {
	return &domain.ScenarioDetectionResult{
		Scenario:       domain.ScenarioGracefulDegradation,
		Confidence:     0.5,
		DetectedIntent: domain.IntentUnclear,
		Method:         domain.DetectionHeuristic,
	}
}

// DefaultSpamMarkers are lowercase substrings that mark junk mail.
var DefaultSpamMarkers = []string{
	"unsubscribe",
	"you have won",
	"lottery",
	"casino",
	"viagra",
	"bitcoin",
	"crypto investment",
	"seo services",
	"click here to claim",
	"wygrałeś",
	"wypisz się",
}

// DefaultWarrantyKeywords are lowercase stems that mark a warranty inquiry.
var DefaultWarrantyKeywords = []string{
	"warranty",
	"guarantee",
	"gwarancj",
	"reklamacj",
}
