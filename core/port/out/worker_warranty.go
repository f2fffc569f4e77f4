package out

import (
	"context"

	"warranty_worker/core/domain"
)

// WarrantyChecker looks up warranty status for a serial number.
// An unknown serial is reported as a record with status not_found, not as an error.
type WarrantyChecker interface {
	Check(ctx context.Context, serialNumber string) (*domain.WarrantyRecord, error)
}

// TicketCreator opens a support ticket for a confirmed claim.
type TicketCreator interface {
	Create(ctx context.Context, fields domain.TicketFields) (*domain.Ticket, error)
}

// EmailParser turns a raw inbound record into a validated message.
type EmailParser interface {
	Parse(raw domain.RawEmail) (*domain.EmailMessage, error)
}
