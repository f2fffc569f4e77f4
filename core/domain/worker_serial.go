package domain

// ExtractionMethod tells how a serial number was obtained.
type ExtractionMethod string

const (
	ExtractionPattern ExtractionMethod = "pattern"
	ExtractionLLM     ExtractionMethod = "llm"
	ExtractionNone    ExtractionMethod = "none"
	ExtractionError   ExtractionMethod = "error"
)

// SerialExtractionResult is the outcome of serial number extraction.
// If SerialNumber is set, Confidence > 0 and Method is never ExtractionNone.
type SerialExtractionResult struct {
	SerialNumber       string           `json:"serial_number,omitempty"`
	Confidence         float64          `json:"confidence"`
	MultipleFound      bool             `json:"multiple_serials_found"`
	AllDetectedSerials []string         `json:"all_detected_serials,omitempty"`
	Method             ExtractionMethod `json:"extraction_method"`
	Ambiguous          bool             `json:"ambiguous"`

	// DegradedReason is set when the result is a fallback rather than a real answer.
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// HasSerial reports whether a serial number was found.
func (r SerialExtractionResult) HasSerial() bool {
	return r.SerialNumber != ""
}

// NoSerialResult is returned when nothing serial-like was found.
func NoSerialResult(candidates []string) SerialExtractionResult {
	return SerialExtractionResult{
		Method:             ExtractionNone,
		AllDetectedSerials: candidates,
		MultipleFound:      len(candidates) > 1,
		Ambiguous:          len(candidates) > 0,
	}
}

// FailedExtractionResult is the degraded result used when extraction itself broke.
func FailedExtractionResult(reason string, candidates []string) SerialExtractionResult {
	return SerialExtractionResult{
		Method:             ExtractionError,
		AllDetectedSerials: candidates,
		MultipleFound:      len(candidates) > 1,
		Ambiguous:          true,
		DegradedReason:     reason,
	}
}
