package eval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"
)

const defaultReply = "Dziękujemy za wiadomość. Odpowiemy wkrótce."

// Collaborators are the scripted doubles for one case.
type Collaborators struct {
	Generator out.TextGenerator
	Warranty  out.WarrantyChecker
	Mailer    out.MailSender
	Tickets   out.TicketCreator
}

// scriptedGenerator answers by purpose.
type scriptedGenerator struct {
	answers map[string]string
	fail    []string

	mu    sync.Mutex
	calls map[string]int
}

func (g *scriptedGenerator) Generate(ctx context.Context, req out.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.calls[req.Purpose]++
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if slices.Contains(g.fail, req.Purpose) {
		return "", fmt.Errorf("scripted %s failure", req.Purpose)
	}
	answer, ok := g.answers[req.Purpose]
	if !ok {
		return "", fmt.Errorf("no scripted answer for %s", req.Purpose)
	}
	return answer, nil
}

func (g *scriptedGenerator) Calls() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	calls := make(map[string]int, len(g.calls))
	for k, v := range g.calls {
		calls[k] = v
	}
	return calls
}

type scriptedWarranty struct {
	stub *WarrantyStub
}

func (w scriptedWarranty) Check(_ context.Context, serial string) (*domain.WarrantyRecord, error) {
	switch {
	case w.stub == nil:
		return &domain.WarrantyRecord{SerialNumber: serial, Status: domain.WarrantyNotFound}, nil
	case w.stub.Error != "":
		return nil, errors.New(w.stub.Error)
	}
	return &domain.WarrantyRecord{
		SerialNumber:   serial,
		Status:         w.stub.Status,
		ExpirationDate: w.stub.ExpirationDate,
	}, nil
}

type scriptedMailer struct {
	fail bool
}

func (m scriptedMailer) Send(context.Context, out.OutgoingMail) error {
	if m.fail {
		return errors.New("scripted send failure")
	}
	return nil
}

type scriptedTickets struct {
	fail bool
}

func (t scriptedTickets) Create(_ context.Context, fields domain.TicketFields) (*domain.Ticket, error) {
	if t.fail {
		return nil, errors.New("scripted ticket failure")
	}
	return &domain.Ticket{ID: "EVAL-" + fields.SerialNumber}, nil
}

// newCollaborators builds fresh doubles for c. Response generation gets a
// canned reply unless the case scripts or fails it.
func newCollaborators(c Case) (Collaborators, *scriptedGenerator) {
	answers := make(map[string]string, len(c.LLM)+1)
	for k, v := range c.LLM {
		answers[k] = v
	}
	if _, ok := answers[out.PurposeResponseGeneration]; !ok {
		answers[out.PurposeResponseGeneration] = defaultReply
	}

	gen := &scriptedGenerator{answers: answers, fail: c.LLMFail, calls: make(map[string]int)}
	return Collaborators{
		Generator: gen,
		Warranty:  scriptedWarranty{stub: c.Warranty},
		Mailer:    scriptedMailer{fail: c.FailSend},
		Tickets:   scriptedTickets{fail: c.FailTicket},
	}, gen
}
