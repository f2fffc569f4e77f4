package out

import (
	"context"
	"time"
)

// TextGenerator is the provider-agnostic LLM capability. Implementations
// must be safe for concurrent use.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GenerateRequest describes one generation call.
type GenerateRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float32
	Timeout      time.Duration

	// Purpose tags the call for metrics and test doubles.
	Purpose string
}

// Generation purposes.
const (
	PurposeSerialExtraction   = "serial_extraction"
	PurposeScenarioDetection  = "scenario_detection"
	PurposeResponseGeneration = "response_generation"
)
