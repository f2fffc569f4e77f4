package domain

import "fmt"

// Scenario is the closed set of response branches an email can be routed to.
type Scenario string

const (
	ScenarioValidWarranty       Scenario = "valid-warranty"
	ScenarioInvalidWarranty     Scenario = "invalid-warranty"
	ScenarioMissingInfo         Scenario = "missing-info"
	ScenarioOutOfScope          Scenario = "out-of-scope"
	ScenarioGracefulDegradation Scenario = "graceful-degradation"
)

// AllScenarios lists every scenario in a stable order.
var AllScenarios = []Scenario{
	ScenarioValidWarranty,
	ScenarioInvalidWarranty,
	ScenarioMissingInfo,
	ScenarioOutOfScope,
	ScenarioGracefulDegradation,
}

// IsValid reports whether s is one of the known scenarios.
func (s Scenario) IsValid() bool {
	switch s {
	case ScenarioValidWarranty, ScenarioInvalidWarranty, ScenarioMissingInfo,
		ScenarioOutOfScope, ScenarioGracefulDegradation:
		return true
	}
	return false
}

func (s Scenario) String() string {
	return string(s)
}

// ParseScenario converts a stored or configured name into a Scenario.
func ParseScenario(name string) (Scenario, error) {
	s := Scenario(name)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown scenario %q", name)
	}
	return s, nil
}

// DetectionMethod tells which tier produced a scenario.
type DetectionMethod string

const (
	DetectionHeuristic DetectionMethod = "heuristic"
	DetectionLLM       DetectionMethod = "llm"
	DetectionFallback  DetectionMethod = "fallback"
)

// Intent tags attached to detection results.
const (
	IntentWarrantyCheck = "warranty_check"
	IntentMissingSerial = "missing_serial"
	IntentSpam          = "spam"
	IntentShortMessage  = "short_message"
	IntentUnclear       = "unclear"
	IntentLLMClassified = "llm_classified"
	IntentDetectorError = "detector_error"
)

// ScenarioDetectionResult is the outcome of scenario classification.
// Scenario is always one of AllScenarios; unresolved cases use graceful degradation.
type ScenarioDetectionResult struct {
	Scenario          Scenario        `json:"scenario"`
	Confidence        float64         `json:"confidence"`
	IsWarrantyInquiry bool            `json:"is_warranty_inquiry"`
	DetectedIntent    string          `json:"detected_intent"`
	Method            DetectionMethod `json:"detection_method"`
	Ambiguous         bool            `json:"ambiguous"`

	// DegradedReason is set when the detector fell back instead of classifying.
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// DegradedDetection is the catch-all result used whenever classification fails.
func DegradedDetection(reason string) ScenarioDetectionResult {
	return ScenarioDetectionResult{
		Scenario:       ScenarioGracefulDegradation,
		Confidence:     0.5,
		DetectedIntent: IntentDetectorError,
		Method:         DetectionFallback,
		Ambiguous:      true,
		DegradedReason: reason,
	}
}
