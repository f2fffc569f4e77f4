package pipeline

import (
	"context"
	"errors"
	"fmt"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"
	"warranty_worker/core/service/response"
)

func (p *Pipeline) parse(_ context.Context, r *run) bool {
	var email *domain.EmailMessage
	err := guard(func() error {
		var err error
		email, err = p.deps.Parser.Parse(r.raw)
		return err
	})
	if err == nil && email == nil {
		err = errors.New("parser returned no email")
	}
	if err != nil {
		return p.fail(r, domain.StepParse, err)
	}

	r.email = *email
	if r.email.ID != r.result.EmailID {
		r.result.EmailID = r.email.ID
		r.log = p.log.With().Str("email_id", r.email.ID).Logger()
	}
	return true
}

func (p *Pipeline) extractSerial(ctx context.Context, r *run) bool {
	ctx, cancel := withTimeout(ctx, p.cfg.ExtractTimeout)
	defer cancel()

	err := guard(func() error {
		r.serial = p.deps.Extractor.Extract(ctx, r.email)
		return nil
	})
	if err != nil {
		r.serial = domain.FailedExtractionResult(err.Error(), nil)
	}
	if r.serial.Method == domain.ExtractionError {
		p.degrade(r, domain.StepExtractSerial, r.serial.DegradedReason)
	}

	r.result.SerialNumber = r.serial.SerialNumber
	p.deps.Observer.OnExtraction(r.serial)
	return true
}

func (p *Pipeline) detectScenario(ctx context.Context, r *run) bool {
	ctx, cancel := withTimeout(ctx, p.cfg.DetectTimeout)
	defer cancel()

	var det domain.ScenarioDetectionResult
	err := guard(func() error {
		det = p.deps.Detector.Detect(ctx, r.email, r.serial)
		return nil
	})
	switch {
	case err != nil:
		det = domain.DegradedDetection(err.Error())
	case !det.Scenario.IsValid():
		det = domain.DegradedDetection(fmt.Sprintf("detector returned unknown scenario %q", det.Scenario))
	}
	if det.DegradedReason != "" {
		p.degrade(r, domain.StepDetectScenario, det.DegradedReason)
	}

	r.scenario = det.Scenario
	r.result.Scenario = det.Scenario
	p.deps.Observer.OnDetection(det)

	r.log.Debug().
		Str("scenario", det.Scenario.String()).
		Float64("confidence", det.Confidence).
		Str("method", string(det.Method)).
		Bool("warranty_inquiry", det.IsWarrantyInquiry).
		Msg("scenario detected")

	r.inquiry = det.IsWarrantyInquiry
	return true
}

// validateWarranty runs only for a warranty inquiry that carries a serial.
// The detected scenario is provisional until this step remaps it.
func (p *Pipeline) validateWarranty(ctx context.Context, r *run) bool {
	if !r.serial.HasSerial() || !r.inquiry {
		return true
	}
	r.scenario = p.lookupWarranty(ctx, r)
	r.result.Scenario = r.scenario
	return true
}

// lookupWarranty returns the scenario implied by the warranty status. Any
// failure, or a status outside the known set, yields graceful-degradation.
func (p *Pipeline) lookupWarranty(parent context.Context, r *run) domain.Scenario {
	ctx, cancel := withTimeout(parent, p.cfg.WarrantyTimeout)
	defer cancel()

	var rec *domain.WarrantyRecord
	err := guard(func() error {
		var err error
		rec, err = p.deps.Warranty.Check(ctx, r.serial.SerialNumber)
		return err
	})
	switch {
	case err != nil:
		p.degrade(r, domain.StepValidateWarranty, err.Error())
		return domain.ScenarioGracefulDegradation
	case rec == nil:
		p.degrade(r, domain.StepValidateWarranty, "warranty lookup returned no record")
		return domain.ScenarioGracefulDegradation
	case !rec.Status.IsKnown():
		p.degrade(r, domain.StepValidateWarranty, fmt.Sprintf("unknown warranty status %q", rec.Status))
		return domain.ScenarioGracefulDegradation
	}

	r.warranty = rec
	r.result.WarrantyStatus = rec.Status
	return rec.Status.Scenario()
}

func (p *Pipeline) generateResponse(ctx context.Context, r *run) bool {
	ctx, cancel := withTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()

	err := guard(func() error {
		var err error
		r.body, err = p.deps.Responder.Generate(ctx, response.Request{
			Email:    r.email,
			Scenario: r.scenario,
			Serial:   r.serial.SerialNumber,
			Warranty: r.warranty,
		})
		return err
	})
	if err == nil && r.body == "" {
		err = response.ErrEmptyResponse
	}
	if err != nil {
		return p.fail(r, domain.StepGenerateResponse, err)
	}
	return true
}

func (p *Pipeline) sendEmail(ctx context.Context, r *run) bool {
	ctx, cancel := withTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	err := guard(func() error {
		return p.deps.Mailer.Send(ctx, out.OutgoingMail{
			To:        r.email.Sender,
			Subject:   r.email.ReplySubject(),
			Body:      r.body,
			ThreadID:  r.email.ThreadID,
			InReplyTo: r.email.ID,
		})
	})
	if err != nil {
		return p.fail(r, domain.StepSendEmail, err)
	}
	r.result.ResponseSent = true
	return true
}

// createTicket runs only for a confirmed valid warranty.
func (p *Pipeline) createTicket(ctx context.Context, r *run) bool {
	if r.warranty == nil || r.warranty.Status != domain.WarrantyValid {
		return true
	}

	ctx, cancel := withTimeout(ctx, p.cfg.TicketTimeout)
	defer cancel()

	fields := domain.TicketFields{
		SerialNumber:   r.serial.SerialNumber,
		WarrantyStatus: r.warranty.Status,
		CustomerEmail:  r.email.Sender,
		Priority:       p.cfg.TicketPriority,
		Category:       domain.TicketCategoryWarrantyClaim,
		Subject:        ticketSubject(r),
		ExpirationDate: r.warranty.ExpirationDate,
		ThreadID:       r.email.ThreadID,
	}

	var ticket *domain.Ticket
	err := guard(func() error {
		var err error
		ticket, err = p.deps.Tickets.Create(ctx, fields)
		return err
	})
	if err == nil && (ticket == nil || ticket.ID == "") {
		err = errors.New("ticketing system returned no ticket id")
	}
	if err != nil {
		return p.fail(r, domain.StepCreateTicket, err)
	}

	r.result.TicketCreated = true
	r.result.TicketID = ticket.ID
	return true
}

func ticketSubject(r *run) string {
	if r.email.Subject == "" {
		return "Warranty claim " + r.serial.SerialNumber
	}
	return fmt.Sprintf("Warranty claim %s: %s", r.serial.SerialNumber, r.email.Subject)
}
