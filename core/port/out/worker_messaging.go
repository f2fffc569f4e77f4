package out

import (
	"context"
	"time"

	"warranty_worker/core/domain"
)

// EmailQueue hands inbound emails from the poller to workers.
type EmailQueue interface {
	Publish(ctx context.Context, email domain.RawEmail) error
}

// ClaimFilter prevents two workers from processing the same message at once.
type ClaimFilter interface {
	// Claim returns true if the caller now owns the message for ttl.
	Claim(ctx context.Context, messageID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, messageID string) error
}
