// Package pipeline turns one inbound email into a reply, an optional ticket
// and a ProcessingResult.
//
//	parse → extract_serial → detect_scenario → validate_warranty? →
//	generate_response → send_email → create_ticket?
//
// parse, generate_response, send_email and create_ticket are fatal.
// extract_serial, detect_scenario and validate_warranty degrade to a
// conservative value and processing continues.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/in"
	"warranty_worker/core/port/out"
	"warranty_worker/core/service/response"

	"github.com/rs/zerolog"
)

// SerialExtractor is implemented by extraction.Extractor.
type SerialExtractor interface {
	Extract(ctx context.Context, email domain.EmailMessage) domain.SerialExtractionResult
}

// ScenarioDetector is implemented by classification.Detector.
type ScenarioDetector interface {
	Detect(ctx context.Context, email domain.EmailMessage, serial domain.SerialExtractionResult) domain.ScenarioDetectionResult
}

// ResponseGenerator is implemented by response.Generator.
type ResponseGenerator interface {
	Generate(ctx context.Context, req response.Request) (string, error)
}

// Observer receives per-email events. Implementations must be safe for concurrent use.
type Observer interface {
	OnExtraction(domain.SerialExtractionResult)
	OnDetection(domain.ScenarioDetectionResult)
	OnDegraded(domain.ProcessingStep)
	OnResult(domain.ProcessingResult)
}

type nopObserver struct{}

func (nopObserver) OnExtraction(domain.SerialExtractionResult)  {}
func (nopObserver) OnDetection(domain.ScenarioDetectionResult) {}
func (nopObserver) OnDegraded(domain.ProcessingStep)           {}
func (nopObserver) OnResult(domain.ProcessingResult)           {}

// Config holds per-step timeouts and the soft processing budget.
type Config struct {
	ProcessingTarget time.Duration
	ExtractTimeout   time.Duration
	DetectTimeout    time.Duration
	WarrantyTimeout  time.Duration
	GenerateTimeout  time.Duration
	SendTimeout      time.Duration
	TicketTimeout    time.Duration
	TicketPriority   domain.TicketPriority
}

func DefaultConfig() Config {
	return Config{
		ProcessingTarget: 60 * time.Second,
		ExtractTimeout:   15 * time.Second,
		DetectTimeout:    15 * time.Second,
		WarrantyTimeout:  10 * time.Second,
		GenerateTimeout:  40 * time.Second,
		SendTimeout:      15 * time.Second,
		TicketTimeout:    10 * time.Second,
		TicketPriority:   domain.TicketPriorityNormal,
	}
}

// Deps are the collaborators of the pipeline. All of them are long-lived and
// shared across concurrent runs.
type Deps struct {
	Parser    out.EmailParser
	Extractor SerialExtractor
	Detector  ScenarioDetector
	Warranty  out.WarrantyChecker
	Responder ResponseGenerator
	Mailer    out.MailSender
	Tickets   out.TicketCreator
	Observer  Observer
	Clock     func() time.Time
}

// Pipeline implements in.EmailProcessor.
type Pipeline struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
}

var _ in.EmailProcessor = (*Pipeline)(nil)

// New validates deps and builds a pipeline.
func New(deps Deps, cfg Config, log zerolog.Logger) (*Pipeline, error) {
	switch {
	case deps.Parser == nil:
		return nil, errors.New("pipeline: parser is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: serial extractor is required")
	case deps.Detector == nil:
		return nil, errors.New("pipeline: scenario detector is required")
	case deps.Warranty == nil:
		return nil, errors.New("pipeline: warranty checker is required")
	case deps.Responder == nil:
		return nil, errors.New("pipeline: response generator is required")
	case deps.Mailer == nil:
		return nil, errors.New("pipeline: mail sender is required")
	case deps.Tickets == nil:
		return nil, errors.New("pipeline: ticket creator is required")
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if cfg.TicketPriority == "" {
		cfg.TicketPriority = domain.TicketPriorityNormal
	}
	return &Pipeline{
		deps: deps,
		cfg:  cfg,
		log:  log.With().Str("component", "email_pipeline").Logger(),
	}, nil
}

// run is the mutable state of one ProcessEmail call. It never escapes it.
type run struct {
	raw      domain.RawEmail
	result   domain.ProcessingResult
	email    domain.EmailMessage
	serial   domain.SerialExtractionResult
	scenario domain.Scenario
	inquiry  bool
	warranty *domain.WarrantyRecord
	body     string
	log      zerolog.Logger
}

// ProcessEmail runs every step in order. It always returns a result and
// never panics.
func (p *Pipeline) ProcessEmail(ctx context.Context, raw domain.RawEmail) domain.ProcessingResult {
	start := p.deps.Clock()
	r := &run{
		raw:    raw,
		result: domain.ProcessingResult{EmailID: raw.MessageID},
		log:    p.log.With().Str("email_id", raw.MessageID).Logger(),
	}

	if p.execute(ctx, r) {
		r.result.Success = true
	}

	elapsed := p.deps.Clock().Sub(start)
	r.result.ProcessingTimeMs = elapsed.Milliseconds()
	if p.cfg.ProcessingTarget > 0 && elapsed > p.cfg.ProcessingTarget {
		r.log.Warn().
			Dur("elapsed", elapsed).
			Dur("target", p.cfg.ProcessingTarget).
			Msg("email processing exceeded target time")
	}

	result := r.result
	p.deps.Observer.OnResult(result)

	ev := r.log.Info()
	if !result.Success {
		ev = r.log.Error()
	}
	ev.Bool("success", result.Success).
		Str("scenario", result.Scenario.String()).
		Str("serial", result.SerialNumber).
		Str("warranty_status", string(result.WarrantyStatus)).
		Bool("response_sent", result.ResponseSent).
		Bool("ticket_created", result.TicketCreated).
		Int64("processing_time_ms", result.ProcessingTimeMs).
		Msg("email processed")

	return result
}

// execute returns false when a fatal step failed.
func (p *Pipeline) execute(ctx context.Context, r *run) bool {
	return p.parse(ctx, r) &&
		p.extractSerial(ctx, r) &&
		p.detectScenario(ctx, r) &&
		p.validateWarranty(ctx, r) &&
		p.generateResponse(ctx, r) &&
		p.sendEmail(ctx, r) &&
		p.createTicket(ctx, r)
}

func (p *Pipeline) fail(r *run, step domain.ProcessingStep, err error) bool {
	stepErr := &domain.StepError{Step: step, Err: err}
	r.result.Success = false
	r.result.FailedStep = step
	r.result.ErrorMessage = stepErr.Error()
	r.log.Error().Err(err).Str("step", string(step)).Msg("fatal step failed")
	return false
}

func (p *Pipeline) degrade(r *run, step domain.ProcessingStep, reason string) {
	r.result.DegradedSteps = append(r.result.DegradedSteps, step)
	p.deps.Observer.OnDegraded(step)
	r.log.Warn().Str("step", string(step)).Str("reason", reason).Msg("step degraded")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return fn()
}
