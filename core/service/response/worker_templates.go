package response

import (
	"fmt"
	"os"

	"warranty_worker/core/domain"

	"gopkg.in/yaml.v3"
)

// TemplateSet holds the system persona and one instruction per scenario.
// Build it once at startup and share it; it is never modified afterwards.
type TemplateSet struct {
	System       string                     `yaml:"system"`
	Instructions map[domain.Scenario]string `yaml:"instructions"`
	Signature    string                     `yaml:"signature"`
}

// Validate checks that every scenario has an instruction.
func (t *TemplateSet) Validate() error {
	if t.System == "" {
		return fmt.Errorf("template set: system prompt is empty")
	}
	for _, s := range domain.AllScenarios {
		if t.Instructions[s] == "" {
			return fmt.Errorf("template set: no instruction for scenario %s", s)
		}
	}
	for s := range t.Instructions {
		if !s.IsValid() {
			return fmt.Errorf("template set: unknown scenario %q", s)
		}
	}
	return nil
}

// LoadTemplateSet reads a YAML template file. Missing scenarios fall back to
// the defaults.
func LoadTemplateSet(path string) (*TemplateSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	var loaded TemplateSet
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	set := DefaultTemplateSet()
	if loaded.System != "" {
		set.System = loaded.System
	}
	if loaded.Signature != "" {
		set.Signature = loaded.Signature
	}
	for s, text := range loaded.Instructions {
		set.Instructions[s] = text
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// DefaultTemplateSet returns the built-in templates.
func DefaultTemplateSet() *TemplateSet {
	return &TemplateSet{
		System: `You are a customer support assistant for a consumer electronics manufacturer.
You write short, polite email replies about product warranty.
Reply in the language the customer used; if unsure, reply in Polish.
Never promise anything the instructions do not allow. Do not invent dates, serial numbers or ticket numbers.
Output only the email body, without a subject line.`,
		Instructions: map[domain.Scenario]string{
			domain.ScenarioValidWarranty: `The product is under warranty. Confirm this, mention the warranty end date if given,
and tell the customer that a service ticket has been opened and a technician will contact them within two business days.`,
			domain.ScenarioInvalidWarranty: `The product is not covered: the warranty has expired or the serial number is not in our records.
Explain this kindly, mention the expiration date if given, and offer paid repair or ask the customer to double-check the serial number.`,
			domain.ScenarioMissingInfo: `We cannot identify the product. Ask the customer for the serial number (printed on the label on the back or bottom of the device)
and, if possible, the purchase date and a short description of the problem.`,
			domain.ScenarioOutOfScope: `The message is not a warranty request. Politely say that this inbox only handles warranty claims
and point the customer to the general contact form for other matters.`,
			domain.ScenarioGracefulDegradation: `We could not process the request automatically. Thank the customer, confirm we received the message,
and say that a member of the support team will review it and reply personally.`,
		},
		Signature: "Dział Obsługi Gwarancyjnej",
	}
}
