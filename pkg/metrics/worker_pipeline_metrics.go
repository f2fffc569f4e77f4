package metrics

import (
	"strconv"
	"time"

	"warranty_worker/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds all Prometheus metrics for email processing.
type PipelineMetrics struct {
	EmailsProcessedTotal *prometheus.CounterVec
	ProcessingSeconds    *prometheus.HistogramVec
	StepFailuresTotal    *prometheus.CounterVec
	StepDegradedTotal    *prometheus.CounterVec
	ExtractionsTotal     *prometheus.CounterVec
	DetectionsTotal      *prometheus.CounterVec
	DetectionConfidence  *prometheus.HistogramVec
	LLMCallsTotal        *prometheus.CounterVec
	LLMLatencySeconds    *prometheus.HistogramVec

	latency *LatencyRegistry
}

// NewPipelineMetrics registers the pipeline metrics on reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		EmailsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warranty_emails_processed_total",
				Help: "Emails processed by final scenario and outcome",
			},
			[]string{"scenario", "success"},
		),
		ProcessingSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warranty_processing_seconds",
				Help:    "End-to-end processing time per email",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"scenario"},
		),
		StepFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warranty_step_failures_total",
				Help: "Fatal step failures",
			},
			[]string{"step"},
		),
		StepDegradedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warranty_step_degraded_total",
				Help: "Steps that fell back to a conservative value",
			},
			[]string{"step"},
		),
		ExtractionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warranty_serial_extractions_total",
				Help: "Serial extractions by method",
			},
			[]string{"method", "found"},
		),
		DetectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warranty_scenario_detections_total",
				Help: "Scenario detections by method and scenario",
			},
			[]string{"method", "scenario"},
		),
		DetectionConfidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warranty_detection_confidence",
				Help:    "Scenario detection confidence",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1.0},
			},
			[]string{"method"},
		),
		LLMCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warranty_llm_calls_total",
				Help: "LLM generations by purpose and status",
			},
			[]string{"purpose", "status"},
		),
		LLMLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warranty_llm_latency_seconds",
				Help:    "LLM generation latency by purpose",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"purpose"},
		),
		latency: NewLatencyRegistry(1000),
	}
}

// OnExtraction records a serial extraction outcome.
func (m *PipelineMetrics) OnExtraction(r domain.SerialExtractionResult) {
	m.ExtractionsTotal.WithLabelValues(string(r.Method), strconv.FormatBool(r.HasSerial())).Inc()
}

// OnDetection records a scenario detection outcome.
func (m *PipelineMetrics) OnDetection(r domain.ScenarioDetectionResult) {
	m.DetectionsTotal.WithLabelValues(string(r.Method), r.Scenario.String()).Inc()
	m.DetectionConfidence.WithLabelValues(string(r.Method)).Observe(r.Confidence)
}

// OnDegraded records a step absorbed by fallback.
func (m *PipelineMetrics) OnDegraded(step domain.ProcessingStep) {
	m.StepDegradedTotal.WithLabelValues(string(step)).Inc()
}

// OnResult records the terminal result of one email.
func (m *PipelineMetrics) OnResult(r domain.ProcessingResult) {
	scenario := r.Scenario.String()
	if scenario == "" {
		scenario = "none"
	}
	d := time.Duration(r.ProcessingTimeMs) * time.Millisecond

	m.EmailsProcessedTotal.WithLabelValues(scenario, strconv.FormatBool(r.Success)).Inc()
	m.ProcessingSeconds.WithLabelValues(scenario).Observe(d.Seconds())
	if r.Failed() {
		m.StepFailuresTotal.WithLabelValues(string(r.FailedStep)).Inc()
	}
	m.latency.Record("all", d)
	m.latency.Record(scenario, d)
}

// OnLLMCall records one LLM generation.
func (m *PipelineMetrics) OnLLMCall(purpose string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.LLMCallsTotal.WithLabelValues(purpose, status).Inc()
	m.LLMLatencySeconds.WithLabelValues(purpose).Observe(d.Seconds())
	m.latency.Record("llm:"+purpose, d)
}

// Latency returns p50/p95/p99 statistics keyed by scenario and LLM purpose.
func (m *PipelineMetrics) Latency() map[string]LatencyStats {
	return m.latency.AllStats()
}
