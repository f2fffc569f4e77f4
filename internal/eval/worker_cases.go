// Package eval replays synthetic emails through the pipeline with scripted
// collaborators and scores the outcome against expectations.
package eval

import (
	"fmt"
	"os"
	"strings"

	"warranty_worker/core/domain"

	"gopkg.in/yaml.v3"
)

// Suite is the top level of a cases file.
type Suite struct {
	TargetAccuracy float64 `yaml:"target_accuracy"`
	Cases          []Case  `yaml:"cases"`
}

// Case is one synthetic email plus the scripted answers of every
// collaborator it will touch.
type Case struct {
	Name  string          `yaml:"name"`
	Email domain.RawEmail `yaml:"email"`

	// LLM maps a generation purpose to the scripted answer. A purpose that
	// is missing, or listed in LLMFail, returns an error.
	LLM     map[string]string `yaml:"llm"`
	LLMFail []string          `yaml:"llm_fail"`

	Warranty   *WarrantyStub `yaml:"warranty"`
	FailSend   bool          `yaml:"fail_send"`
	FailTicket bool          `yaml:"fail_ticket"`

	Expect Expectation `yaml:"expect"`
}

// WarrantyStub scripts the warranty lookup. Error wins over Status.
type WarrantyStub struct {
	Status         domain.WarrantyStatus `yaml:"status"`
	ExpirationDate string                `yaml:"expiration_date"`
	Error          string                `yaml:"error"`
}

// Expectation lists what a case asserts. Unset pointers are not checked.
type Expectation struct {
	Scenario      domain.Scenario       `yaml:"scenario"`
	Serial        *string               `yaml:"serial"`
	Success       *bool                 `yaml:"success"`
	ResponseSent  *bool                 `yaml:"response_sent"`
	TicketCreated *bool                 `yaml:"ticket_created"`
	FailedStep    domain.ProcessingStep `yaml:"failed_step"`
}

// LoadSuite reads and validates a cases file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cases: %w", err)
	}
	return ParseSuite(data)
}

// ParseSuite decodes YAML cases. Case names must be unique; a missing
// message id defaults to the case name.
func ParseSuite(data []byte) (*Suite, error) {
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("decode cases: %w", err)
	}
	if len(suite.Cases) == 0 {
		return nil, fmt.Errorf("no cases defined")
	}
	if suite.TargetAccuracy < 0 || suite.TargetAccuracy > 1 {
		return nil, fmt.Errorf("target_accuracy %.2f outside [0,1]", suite.TargetAccuracy)
	}

	seen := make(map[string]bool, len(suite.Cases))
	for i := range suite.Cases {
		c := &suite.Cases[i]
		if c.Name == "" {
			return nil, fmt.Errorf("case %d has no name", i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate case %q", c.Name)
		}
		seen[c.Name] = true

		if !c.Expect.Scenario.IsValid() {
			return nil, fmt.Errorf("case %q: unknown expected scenario %q", c.Name, c.Expect.Scenario)
		}
		if c.Warranty != nil && c.Warranty.Error == "" && !c.Warranty.Status.IsKnown() {
			return nil, fmt.Errorf("case %q: unknown warranty status %q", c.Name, c.Warranty.Status)
		}
		if c.Email.MessageID == "" {
			c.Email.MessageID = strings.ReplaceAll(c.Name, " ", "-")
		}
	}
	return &suite, nil
}
