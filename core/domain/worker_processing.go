package domain

import "fmt"

// ProcessingStep names a pipeline stage.
type ProcessingStep string

const (
	StepParse            ProcessingStep = "parse"
	StepExtractSerial    ProcessingStep = "extract_serial"
	StepDetectScenario   ProcessingStep = "detect_scenario"
	StepValidateWarranty ProcessingStep = "validate_warranty"
	StepGenerateResponse ProcessingStep = "generate_response"
	StepSendEmail        ProcessingStep = "send_email"
	StepCreateTicket     ProcessingStep = "create_ticket"
)

// IsFatal reports whether a failure in this step aborts the email.
func (s ProcessingStep) IsFatal() bool {
	switch s {
	case StepParse, StepGenerateResponse, StepSendEmail, StepCreateTicket:
		return true
	}
	return false
}

// StepError ties a collaborator failure to the step it broke.
type StepError struct {
	Step ProcessingStep
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ProcessingResult is the terminal record of one pipeline run.
// Success is false exactly when FailedStep and ErrorMessage are set.
// It is returned by value and never modified after ProcessEmail returns.
type ProcessingResult struct {
	Success          bool             `json:"success"`
	EmailID          string           `json:"email_id"`
	Scenario         Scenario         `json:"scenario_used,omitempty"`
	SerialNumber     string           `json:"serial_number,omitempty"`
	WarrantyStatus   WarrantyStatus   `json:"warranty_status,omitempty"`
	ResponseSent     bool             `json:"response_sent"`
	TicketCreated    bool             `json:"ticket_created"`
	TicketID         string           `json:"ticket_id,omitempty"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	FailedStep       ProcessingStep   `json:"failed_step,omitempty"`
	DegradedSteps    []ProcessingStep `json:"degraded_steps,omitempty"`
}

// Failed reports whether the run aborted on a fatal step.
func (r ProcessingResult) Failed() bool {
	return r.FailedStep != ""
}
