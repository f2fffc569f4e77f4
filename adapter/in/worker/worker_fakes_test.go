package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"
)

type pipelineFunc func(ctx context.Context, email domain.RawEmail) domain.ProcessingResult

func (f pipelineFunc) ProcessEmail(ctx context.Context, email domain.RawEmail) domain.ProcessingResult {
	return f(ctx, email)
}

func succeed(_ context.Context, email domain.RawEmail) domain.ProcessingResult {
	return domain.ProcessingResult{Success: true, EmailID: email.MessageID, Scenario: domain.ScenarioMissingInfo, ResponseSent: true}
}

func failAt(step domain.ProcessingStep) pipelineFunc {
	return func(_ context.Context, email domain.RawEmail) domain.ProcessingResult {
		return domain.ProcessingResult{EmailID: email.MessageID, FailedStep: step, ErrorMessage: "boom"}
	}
}

type fakeMailbox struct {
	mu        sync.Mutex
	inbox     []domain.RawEmail
	fetchErr  error
	markErr   error
	processed []string
}

func (m *fakeMailbox) FetchUnprocessed(_ context.Context, limit int) ([]domain.RawEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if limit < len(m.inbox) {
		return append([]domain.RawEmail(nil), m.inbox[:limit]...), nil
	}
	return append([]domain.RawEmail(nil), m.inbox...), nil
}

func (m *fakeMailbox) MarkProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.processed = append(m.processed, id)
	return nil
}

func (m *fakeMailbox) Processed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.processed...)
}

type fakeClaims struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
	claimErr error
}

func newFakeClaims(held ...string) *fakeClaims {
	c := &fakeClaims{held: map[string]bool{}}
	for _, id := range held {
		c.held[id] = true
	}
	return c
}

func (c *fakeClaims) Claim(_ context.Context, id string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimErr != nil {
		return false, c.claimErr
	}
	if c.held[id] {
		return false, nil
	}
	c.held[id] = true
	return true, nil
}

func (c *fakeClaims) Release(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, id)
	c.released = append(c.released, id)
	return nil
}

type fakeQueue struct {
	mu        sync.Mutex
	published []domain.RawEmail
	err       error
}

func (q *fakeQueue) Publish(_ context.Context, email domain.RawEmail) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, email)
	return nil
}

type fakeResults struct {
	mu    sync.Mutex
	saved []domain.ProcessingResult
	err   error
}

func (r *fakeResults) Save(_ context.Context, result domain.ProcessingResult, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, result)
	return nil
}

func (r *fakeResults) List(context.Context, out.ResultFilter) ([]out.StoredResult, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeResults) CountByScenario(context.Context, time.Time) (map[domain.Scenario]int, error) {
	return nil, errors.New("not implemented")
}

func email(id string) domain.RawEmail {
	return domain.RawEmail{MessageID: id, Subject: "Gwarancja", Body: "SN12345", Sender: "a@example.com"}
}
