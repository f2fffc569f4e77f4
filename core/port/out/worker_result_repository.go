package out

import (
	"context"
	"time"

	"warranty_worker/core/domain"
)

// ProcessingResultRepository stores the audit trail of processed emails.
type ProcessingResultRepository interface {
	Save(ctx context.Context, result domain.ProcessingResult, processedAt time.Time) error
	List(ctx context.Context, filter ResultFilter) ([]StoredResult, error)
	CountByScenario(ctx context.Context, since time.Time) (map[domain.Scenario]int, error)
}

// ResultFilter narrows List.
type ResultFilter struct {
	Scenario  domain.Scenario
	OnlyFails bool
	Since     time.Time
	Limit     int
}

// StoredResult is a persisted result with its storage metadata.
type StoredResult struct {
	domain.ProcessingResult
	ProcessedAt time.Time `json:"processed_at"`
}

// ReplyArchive keeps inbound and outbound bodies for later review.
type ReplyArchive interface {
	Archive(ctx context.Context, entry ArchivedReply) error
}

// ArchivedReply is one sent reply.
type ArchivedReply struct {
	To        string    `bson:"to"`
	Subject   string    `bson:"subject"`
	Body      string    `bson:"body"`
	ThreadID  string    `bson:"thread_id,omitempty"`
	InReplyTo string    `bson:"in_reply_to,omitempty"`
	SentAt    time.Time `bson:"sent_at"`
}
