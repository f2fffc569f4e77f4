package domain

// WarrantyStatus is the status reported by the warranty lookup service.
type WarrantyStatus string

const (
	WarrantyValid    WarrantyStatus = "valid"
	WarrantyExpired  WarrantyStatus = "expired"
	WarrantyNotFound WarrantyStatus = "not_found"
)

// IsKnown reports whether the status is one the pipeline can route on.
func (s WarrantyStatus) IsKnown() bool {
	switch s {
	case WarrantyValid, WarrantyExpired, WarrantyNotFound:
		return true
	}
	return false
}

// Scenario maps a confirmed warranty status onto the reply scenario.
func (s WarrantyStatus) Scenario() Scenario {
	switch s {
	case WarrantyValid:
		return ScenarioValidWarranty
	case WarrantyExpired, WarrantyNotFound:
		return ScenarioInvalidWarranty
	default:
		return ScenarioGracefulDegradation
	}
}

// WarrantyRecord is what the lookup service returns. Only Status and
// ExpirationDate are interpreted; everything else is carried along for prompts.
type WarrantyRecord struct {
	SerialNumber   string         `json:"serial_number"`
	Status         WarrantyStatus `json:"status"`
	ExpirationDate string         `json:"expiration_date,omitempty"` // YYYY-MM-DD
	CustomerName   string         `json:"customer_name,omitempty"`
	CustomerEmail  string         `json:"customer_email,omitempty"`
	ProductName    string         `json:"product_name,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
