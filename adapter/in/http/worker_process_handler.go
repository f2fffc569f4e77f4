package http

import (
	"strings"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/in"
	"warranty_worker/core/port/out"
	"warranty_worker/pkg/apperr"
	"warranty_worker/pkg/metrics"
	"warranty_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const statsWindow = 24 * time.Hour

// LatencySource reports latency percentiles keyed by scenario and LLM purpose.
type LatencySource interface {
	Latency() map[string]metrics.LatencyStats
}

// ProcessHandler serves the processing endpoints.
type ProcessHandler struct {
	processor in.EmailProcessor
	results   out.ProcessingResultRepository
	latency   LatencySource
	now       func() time.Time
}

// NewProcessHandler wires the handler. results and latency may be nil.
func NewProcessHandler(processor in.EmailProcessor, results out.ProcessingResultRepository, latency LatencySource) *ProcessHandler {
	return &ProcessHandler{
		processor: processor,
		results:   results,
		latency:   latency,
		now:       time.Now,
	}
}

func (h *ProcessHandler) Register(router fiber.Router) {
	router.Post("/process", h.Process)
	router.Get("/results", h.ListResults)
	router.Get("/stats", h.Stats)
}

// processRequest is the body of POST /process.
type processRequest struct {
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Sender    string `json:"sender"`
	ThreadID  string `json:"thread_id"`
}

// Process runs one email through the pipeline synchronously. A failed run
// is still a 200: the failure is part of the result.
func (h *ProcessHandler) Process(c *fiber.Ctx) error {
	var req processRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Sender) == "" {
		return apperr.MissingField("sender")
	}

	result := h.processor.ProcessEmail(c.UserContext(), domain.RawEmail{
		MessageID:  req.MessageID,
		Subject:    req.Subject,
		Body:       req.Body,
		Sender:     req.Sender,
		ThreadID:   req.ThreadID,
		ReceivedAt: h.now().UTC(),
	})
	return response.OK(c, result)
}

// ListResults returns stored results, newest first.
func (h *ProcessHandler) ListResults(c *fiber.Ctx) error {
	if h.results == nil {
		return errNoResultStore()
	}

	filter := out.ResultFilter{
		OnlyFails: c.QueryBool("failed", false),
		Limit:     c.QueryInt("limit", 0),
	}
	if name := c.Query("scenario"); name != "" {
		scenario, err := domain.ParseScenario(name)
		if err != nil {
			return apperr.ValidationFailed(err.Error()).WithDetail("field", "scenario")
		}
		filter.Scenario = scenario
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return apperr.ValidationFailed("since must be RFC3339").WithDetail("field", "since")
		}
		filter.Since = t
	}

	results, err := h.results.List(c.UserContext(), filter)
	if err != nil {
		return apperr.DatabaseError("list results", err)
	}
	if results == nil {
		results = []out.StoredResult{}
	}
	return response.OKWithMeta(c, results, &response.Meta{Total: len(results), Limit: filter.Limit})
}

// Stats reports latency percentiles and, when results are stored, the
// scenario distribution of the last day.
func (h *ProcessHandler) Stats(c *fiber.Ctx) error {
	latency := map[string]any{}
	if h.latency != nil {
		for key, s := range h.latency.Latency() {
			latency[key] = s.ToMap()
		}
	}

	stats := fiber.Map{"latency": latency}

	if h.results != nil {
		counts, err := h.results.CountByScenario(c.UserContext(), h.now().Add(-statsWindow))
		if err != nil {
			return apperr.DatabaseError("count results", err)
		}
		scenarios := make(map[string]int, len(domain.AllScenarios))
		for _, s := range domain.AllScenarios {
			scenarios[s.String()] = counts[s]
		}
		stats["scenarios"] = scenarios
		stats["window_hours"] = int(statsWindow.Hours())
	}

	return response.OK(c, stats)
}

func errNoResultStore() *apperr.AppError {
	return apperr.New("NOT_CONFIGURED", "result store is not configured", fiber.StatusServiceUnavailable)
}
