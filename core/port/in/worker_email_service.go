package in

import (
	"context"

	"warranty_worker/core/domain"
)

// EmailProcessor is the single entry point of the pipeline. It never
// returns an error; failures are reported inside the result.
type EmailProcessor interface {
	ProcessEmail(ctx context.Context, raw domain.RawEmail) domain.ProcessingResult
}
