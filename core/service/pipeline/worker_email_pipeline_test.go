package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"
	"warranty_worker/core/service/classification"
	"warranty_worker/core/service/extraction"
	"warranty_worker/core/service/parsing"
	"warranty_worker/core/service/response"

	"github.com/rs/zerolog"
)

// scriptedLLM answers by purpose and counts calls.
type scriptedLLM struct {
	mu      sync.Mutex
	answers map[string]string
	calls   map[string]int
}

func newScriptedLLM(answers map[string]string) *scriptedLLM {
	return &scriptedLLM{answers: answers, calls: make(map[string]int)}
}

func (s *scriptedLLM) Generate(ctx context.Context, req out.GenerateRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.Purpose]++
	answer, ok := s.answers[req.Purpose]
	if !ok {
		return "", fmt.Errorf("unexpected %s call", req.Purpose)
	}
	return answer, nil
}

func (s *scriptedLLM) count(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[p]
}

type stubWarranty struct {
	mu     sync.Mutex
	record *domain.WarrantyRecord
	err    error
	calls  int
}

func (s *stubWarranty) Check(ctx context.Context, serial string) (*domain.WarrantyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	rec := *s.record
	rec.SerialNumber = serial
	return &rec, nil
}

func (s *stubWarranty) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubResponder struct {
	body string
	err  error
}

func (s stubResponder) Generate(ctx context.Context, req response.Request) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.body + " [" + req.Scenario.String() + "]", nil
}

type stubMailer struct {
	mu   sync.Mutex
	sent []out.OutgoingMail
	err  error
}

func (s *stubMailer) Send(ctx context.Context, mail out.OutgoingMail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, mail)
	return nil
}

type stubTickets struct {
	mu     sync.Mutex
	fields []domain.TicketFields
	err    error
}

func (s *stubTickets) Create(ctx context.Context, f domain.TicketFields) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.fields = append(s.fields, f)
	return &domain.Ticket{ID: "T-" + f.SerialNumber}, nil
}

type recordingObserver struct {
	mu          sync.Mutex
	extractions []domain.SerialExtractionResult
	detections  []domain.ScenarioDetectionResult
	degraded    []domain.ProcessingStep
}

func (o *recordingObserver) OnExtraction(r domain.SerialExtractionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.extractions = append(o.extractions, r)
}

func (o *recordingObserver) OnDetection(r domain.ScenarioDetectionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.detections = append(o.detections, r)
}

func (o *recordingObserver) OnDegraded(s domain.ProcessingStep) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.degraded = append(o.degraded, s)
}

func (o *recordingObserver) OnResult(domain.ProcessingResult) {}

type panickingExtractor struct{}

func (panickingExtractor) Extract(context.Context, domain.EmailMessage) domain.SerialExtractionResult {
	panic("regex engine exploded")
}

type noSerialExtractor struct{}

func (noSerialExtractor) Extract(context.Context, domain.EmailMessage) domain.SerialExtractionResult {
	return domain.NoSerialResult(nil)
}

type fixture struct {
	llm      *scriptedLLM
	warranty *stubWarranty
	mailer   *stubMailer
	tickets  *stubTickets
	observer *recordingObserver
	deps     Deps
}

func newFixture(status domain.WarrantyStatus) *fixture {
	f := &fixture{
		llm: newScriptedLLM(nil),
		warranty: &stubWarranty{record: &domain.WarrantyRecord{
			Status:         status,
			ExpirationDate: "2027-03-01",
		}},
		mailer:   &stubMailer{},
		tickets:  &stubTickets{},
		observer: &recordingObserver{},
	}
	f.deps = Deps{
		Parser:    parsing.NewParser(),
		Extractor: extraction.NewExtractor(f.llm, extraction.DefaultConfig(), zerolog.Nop()),
		Detector:  classification.NewDetector(f.llm, classification.DefaultConfig(), zerolog.Nop()),
		Warranty:  f.warranty,
		Responder: stubResponder{body: "Dzień dobry"},
		Mailer:    f.mailer,
		Tickets:   f.tickets,
		Observer:  f.observer,
	}
	return f
}

func (f *fixture) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(f.deps, DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func rawEmail(id, subject, body string) domain.RawEmail {
	return domain.RawEmail{
		MessageID: id,
		Subject:   subject,
		Body:      body,
		Sender:    "Jan Kowalski <jan@example.com>",
		ThreadID:  "thread-" + id,
	}
}

func assertInvariant(t *testing.T, r domain.ProcessingResult) {
	t.Helper()
	if r.Success == r.Failed() {
		t.Errorf("success=%v but failed_step=%q", r.Success, r.FailedStep)
	}
	if r.Success != (r.ErrorMessage == "") {
		t.Errorf("success=%v but error_message=%q", r.Success, r.ErrorMessage)
	}
}

func TestPatternSerialWithWarrantyKeywordSkipsLLM(t *testing.T) {
	f := newFixture(domain.WarrantyValid)
	p := f.pipeline(t)

	result := p.ProcessEmail(context.Background(), rawEmail("m1", "", "Hi, warranty status for SN12345?"))
	assertInvariant(t, result)

	ext := f.observer.extractions[0]
	if ext.SerialNumber != "SN12345" || ext.Method != domain.ExtractionPattern {
		t.Errorf("expected SN12345 via pattern, got %q via %s", ext.SerialNumber, ext.Method)
	}
	det := f.observer.detections[0]
	if det.Scenario != domain.ScenarioValidWarranty || det.Method != domain.DetectionHeuristic || det.Confidence < 0.85 {
		t.Errorf("unexpected detection %+v", det)
	}
	if n := f.llm.count(out.PurposeSerialExtraction) + f.llm.count(out.PurposeScenarioDetection); n != 0 {
		t.Errorf("expected no LLM calls, got %d", n)
	}
	if !result.Success || result.Scenario != domain.ScenarioValidWarranty {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestMissingSerialSkipsWarrantyLookup(t *testing.T) {
	f := newFixture(domain.WarrantyValid)
	p := f.pipeline(t)

	result := p.ProcessEmail(context.Background(), rawEmail("m2", "Question", "Hello, my kettle stopped heating water, what should I do now?"))
	assertInvariant(t, result)

	if result.Scenario != domain.ScenarioMissingInfo {
		t.Errorf("expected missing-info, got %s", result.Scenario)
	}
	if f.warranty.count() != 0 {
		t.Error("warranty lookup must not run without a serial")
	}
	if result.TicketCreated || len(f.tickets.fields) != 0 {
		t.Error("no ticket expected")
	}
	if !result.ResponseSent {
		t.Error("reply expected")
	}
}

func TestSerialLabelWithoutSerialIsMissingInfo(t *testing.T) {
	bodies := []string{
		"Warranty question. Serial: unknown, the sticker is gone.",
		"Reklamacja, numer seryjny: brak. Prosze o pomoc z gwarancja.",
		"Is my dryer under warranty? S/N: none",
	}
	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			f := newFixture(domain.WarrantyValid)
			f.llm.answers = map[string]string{out.PurposeSerialExtraction: "NONE"}
			p := f.pipeline(t)

			result := p.ProcessEmail(context.Background(), rawEmail("u1", "Warranty", body))
			assertInvariant(t, result)

			if result.SerialNumber != "" {
				t.Errorf("expected no serial, got %q", result.SerialNumber)
			}
			if result.Scenario != domain.ScenarioMissingInfo {
				t.Errorf("expected missing-info, got %s", result.Scenario)
			}
			if f.warranty.count() != 0 || result.TicketCreated {
				t.Errorf("expected no lookup and no ticket, got %d lookups, ticket=%v", f.warranty.count(), result.TicketCreated)
			}
		})
	}
}

func TestExpiredWarrantyRepliesWithoutTicket(t *testing.T) {
	f := newFixture(domain.WarrantyExpired)
	f.warranty.record.ExpirationDate = "2023-01-15"
	p := f.pipeline(t)

	result := p.ProcessEmail(context.Background(), rawEmail("m3", "Warranty", "Is my warranty still active? Serial SN12345"))
	assertInvariant(t, result)

	if result.Scenario != domain.ScenarioInvalidWarranty {
		t.Errorf("expected invalid-warranty, got %s", result.Scenario)
	}
	if result.WarrantyStatus != domain.WarrantyExpired {
		t.Errorf("expected expired, got %s", result.WarrantyStatus)
	}
	if !result.ResponseSent || result.TicketCreated {
		t.Errorf("expected reply without ticket, got %+v", result)
	}
}

func TestValidWarrantyCreatesTicket(t *testing.T) {
	f := newFixture(domain.WarrantyValid)
	p := f.pipeline(t)

	result := p.ProcessEmail(context.Background(), rawEmail("m4", "Warranty claim", "The screen broke, warranty please. SN12345"))
	assertInvariant(t, result)

	if !result.Success || result.Scenario != domain.ScenarioValidWarranty {
		t.Fatalf("unexpected result %+v", result)
	}
	if !result.ResponseSent || !result.TicketCreated || result.TicketID != "T-SN12345" {
		t.Errorf("expected reply and ticket, got %+v", result)
	}
	if len(f.tickets.fields) != 1 {
		t.Fatalf("expected one ticket, got %d", len(f.tickets.fields))
	}
	fields := f.tickets.fields[0]
	if fields.WarrantyStatus != domain.WarrantyValid ||
		fields.Category != domain.TicketCategoryWarrantyClaim ||
		fields.Priority != domain.TicketPriorityNormal ||
		fields.CustomerEmail != "jan@example.com" ||
		fields.ThreadID != "thread-m4" ||
		fields.ExpirationDate != "2027-03-01" {
		t.Errorf("unexpected ticket fields %+v", fields)
	}

	mail := f.mailer.sent[0]
	if mail.To != "jan@example.com" || mail.Subject != "Re: Warranty claim" || mail.ThreadID != "thread-m4" || mail.InReplyTo != "m4" {
		t.Errorf("unexpected reply envelope %+v", mail)
	}
}

func TestTicketFailureIsFatal(t *testing.T) {
	f := newFixture(domain.WarrantyValid)
	f.tickets.err = errors.New("ticketing unavailable")
	p := f.pipeline(t)

	result := p.ProcessEmail(context.Background(), rawEmail("m5", "Warranty", "warranty claim for SN12345"))
	assertInvariant(t, result)

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.FailedStep != domain.StepCreateTicket {
		t.Errorf("expected create_ticket, got %q", result.FailedStep)
	}
	if !result.ResponseSent {
		t.Error("reply should have been sent before the ticket step")
	}
	if !strings.Contains(result.ErrorMessage, "ticketing unavailable") {
		t.Errorf("unexpected error message %q", result.ErrorMessage)
	}
}

func TestUnrecognizedLLMLabelDegrades(t *testing.T) {
	f := newFixture(domain.WarrantyValid)
	f.llm.answers = map[string]string{out.PurposeScenarioDetection: "refund_request"}
	p := f.pipeline(t)

	result := p.ProcessEmail(context.Background(), rawEmail("m6", "Device", "My device SN12345 makes a strange noise since yesterday evening."))
	assertInvariant(t, result)

	if f.llm.count(out.PurposeScenarioDetection) != 1 {
		t.Fatalf("expected one detection call, got %d", f.llm.count(out.PurposeScenarioDetection))
	}
	det := f.observer.detections[0]
	if det.Scenario != domain.ScenarioGracefulDegradation || !det.Ambiguous {
		t.Errorf("expected ambiguous graceful-degradation, got %+v", det)
	}
	if result.Scenario != domain.ScenarioGracefulDegradation {
		t.Errorf("expected graceful-degradation, got %s", result.Scenario)
	}
	if f.warranty.count() != 0 {
		t.Error("warranty lookup should not run for a non-inquiry")
	}
}

func TestFatalSteps(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(f *fixture)
		raw          domain.RawEmail
		wantStep     domain.ProcessingStep
		wantResponse bool
	}{
		{
			name:     "parse",
			raw:      domain.RawEmail{MessageID: "p1", Subject: "x", Body: "y", Sender: "nobody"},
			wantStep: domain.StepParse,
		},
		{
			name:     "generate",
			mutate:   func(f *fixture) { f.deps.Responder = stubResponder{err: errors.New("llm down")} },
			raw:      rawEmail("g1", "Warranty", "warranty for SN12345"),
			wantStep: domain.StepGenerateResponse,
		},
		{
			name:     "empty generation",
			mutate:   func(f *fixture) { f.deps.Responder = emptyResponder{} },
			raw:      rawEmail("g2", "Warranty", "warranty for SN12345"),
			wantStep: domain.StepGenerateResponse,
		},
		{
			name:     "send",
			mutate:   func(f *fixture) { f.mailer.err = errors.New("smtp refused") },
			raw:      rawEmail("s1", "Warranty", "warranty for SN12345"),
			wantStep: domain.StepSendEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(domain.WarrantyValid)
			if tt.mutate != nil {
				tt.mutate(f)
			}
			result := f.pipeline(t).ProcessEmail(context.Background(), tt.raw)
			assertInvariant(t, result)

			if result.FailedStep != tt.wantStep {
				t.Errorf("expected %s, got %q", tt.wantStep, result.FailedStep)
			}
			if result.ResponseSent != tt.wantResponse {
				t.Errorf("response_sent: expected %v", tt.wantResponse)
			}
			if result.TicketCreated {
				t.Error("ticket must not be created after a fatal step")
			}
		})
	}
}

type emptyResponder struct{}

func (emptyResponder) Generate(context.Context, response.Request) (string, error) { return "", nil }

func TestWarrantyLookupFailureDegrades(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(w *stubWarranty)
	}{
		{"error", func(w *stubWarranty) { w.err = errors.New("connection reset") }},
		{"unknown status", func(w *stubWarranty) { w.record.Status = "suspended" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(domain.WarrantyValid)
			tt.mutate(f.warranty)

			result := f.pipeline(t).ProcessEmail(context.Background(), rawEmail("w1", "Warranty", "warranty for SN12345"))
			assertInvariant(t, result)

			if !result.Success {
				t.Fatalf("degraded lookup must not fail the email: %+v", result)
			}
			if result.Scenario != domain.ScenarioGracefulDegradation {
				t.Errorf("expected graceful-degradation, got %s", result.Scenario)
			}
			if result.TicketCreated {
				t.Error("no ticket without a confirmed valid warranty")
			}
			if !reflect.DeepEqual(result.DegradedSteps, []domain.ProcessingStep{domain.StepValidateWarranty}) {
				t.Errorf("unexpected degraded steps %v", result.DegradedSteps)
			}
		})
	}
}

func TestNotFoundIsInvalidWarranty(t *testing.T) {
	f := newFixture(domain.WarrantyNotFound)

	result := f.pipeline(t).ProcessEmail(context.Background(), rawEmail("n1", "Warranty", "warranty for SN99999"))
	assertInvariant(t, result)

	if result.Scenario != domain.ScenarioInvalidWarranty || result.TicketCreated {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestRunTwiceIsDeterministic(t *testing.T) {
	f := newFixture(domain.WarrantyValid)
	p := f.pipeline(t)
	raw := rawEmail("d1", "Warranty", "warranty question about SN12345")

	first := p.ProcessEmail(context.Background(), raw)
	second := p.ProcessEmail(context.Background(), raw)
	first.ProcessingTimeMs, second.ProcessingTimeMs = 0, 0

	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ:\n%+v\n%+v", first, second)
	}
}

func TestRunTwiceWithoutMessageIDKeepsEmailID(t *testing.T) {
	f := newFixture(domain.WarrantyValid)
	p := f.pipeline(t)
	raw := rawEmail("", "Warranty", "warranty question about SN12345")

	first := p.ProcessEmail(context.Background(), raw)
	second := p.ProcessEmail(context.Background(), raw)

	if first.EmailID == "" || first.EmailID != second.EmailID {
		t.Errorf("expected a stable email id, got %q and %q", first.EmailID, second.EmailID)
	}
}

func TestExtractorPanicMatchesNoSerial(t *testing.T) {
	raw := rawEmail("x1", "Question", "Hello, please tell me about my device, it is not working.")

	panicking := newFixture(domain.WarrantyValid)
	panicking.deps.Extractor = panickingExtractor{}
	got := panicking.pipeline(t).ProcessEmail(context.Background(), raw)

	plain := newFixture(domain.WarrantyValid)
	plain.deps.Extractor = noSerialExtractor{}
	want := plain.pipeline(t).ProcessEmail(context.Background(), raw)

	if got.Scenario != want.Scenario || got.Success != want.Success ||
		got.ResponseSent != want.ResponseSent || got.TicketCreated != want.TicketCreated ||
		got.SerialNumber != want.SerialNumber {
		t.Errorf("outcomes differ:\npanic:    %+v\nno serial: %+v", got, want)
	}
	if got.Scenario != domain.ScenarioMissingInfo {
		t.Errorf("expected missing-info, got %s", got.Scenario)
	}
	if !reflect.DeepEqual(got.DegradedSteps, []domain.ProcessingStep{domain.StepExtractSerial}) {
		t.Errorf("expected extract_serial degraded, got %v", got.DegradedSteps)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	f := newFixture(domain.WarrantyValid)
	f.deps.Mailer = nil
	if _, err := New(f.deps, DefaultConfig(), zerolog.Nop()); err == nil {
		t.Error("expected error for missing mailer")
	}
}

func TestProcessingTimeUsesClock(t *testing.T) {
	f := newFixture(domain.WarrantyValid)
	var ticks int64
	f.deps.Clock = func() time.Time {
		ticks++
		return time.Unix(0, 0).Add(time.Duration(ticks) * 90 * time.Second)
	}

	result := f.pipeline(t).ProcessEmail(context.Background(), rawEmail("c1", "Warranty", "warranty for SN12345"))
	if result.ProcessingTimeMs != 90_000 {
		t.Errorf("expected 90000ms, got %d", result.ProcessingTimeMs)
	}
	if !result.Success {
		t.Error("exceeding the soft budget must not fail the email")
	}
}

func TestConcurrentEmailsAreIsolated(t *testing.T) {
	f := newFixture(domain.WarrantyValid)
	p := f.pipeline(t)

	const n = 32
	results := make([]domain.ProcessingResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			serial := fmt.Sprintf("SN%05d", 10000+i)
			results[i] = p.ProcessEmail(context.Background(), rawEmail(fmt.Sprintf("c%d", i), "Warranty", "warranty for "+serial))
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		assertInvariant(t, r)
		if r.EmailID != fmt.Sprintf("c%d", i) {
			t.Errorf("result %d has email id %s", i, r.EmailID)
		}
		if r.SerialNumber != fmt.Sprintf("SN%05d", 10000+i) {
			t.Errorf("result %d has serial %s", i, r.SerialNumber)
		}
		if r.TicketID != "T-"+r.SerialNumber {
			t.Errorf("result %d has ticket %s", i, r.TicketID)
		}
	}
	if len(f.mailer.sent) != n {
		t.Errorf("expected %d replies, got %d", n, len(f.mailer.sent))
	}
}
