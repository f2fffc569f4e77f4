package domain

// TicketPriority mirrors the priorities accepted by the ticketing system.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityNormal TicketPriority = "normal"
	TicketPriorityHigh   TicketPriority = "high"
)

// TicketCategoryWarrantyClaim is the category used for confirmed claims.
const TicketCategoryWarrantyClaim = "warranty_claim"

// TicketFields is the structured claim data sent to the ticketing system.
type TicketFields struct {
	SerialNumber   string         `json:"serial_number"`
	WarrantyStatus WarrantyStatus `json:"warranty_status"`
	CustomerEmail  string         `json:"customer_email"`
	Priority       TicketPriority `json:"priority"`
	Category       string         `json:"category"`
	Subject        string         `json:"subject"`
	ExpirationDate string         `json:"expiration_date,omitempty"`
	ThreadID       string         `json:"thread_id,omitempty"`
}

// Ticket is the ticketing system's acknowledgement.
type Ticket struct {
	ID string `json:"ticket_id"`
}
