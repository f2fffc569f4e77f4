package eval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/in"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// PipelineFactory builds a pipeline wired to one case's doubles.
type PipelineFactory func(Collaborators) (in.EmailProcessor, error)

// Runner executes cases concurrently. Each case gets its own pipeline so
// no state is shared between runs.
type Runner struct {
	factory     PipelineFactory
	concurrency int
	log         zerolog.Logger
}

// NewRunner creates a runner. concurrency <= 0 means 4.
func NewRunner(factory PipelineFactory, concurrency int, log zerolog.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Runner{
		factory:     factory,
		concurrency: concurrency,
		log:         log.With().Str("component", "eval").Logger(),
	}
}

// CaseResult is the scored outcome of one case.
type CaseResult struct {
	Name       string                  `json:"name"`
	Expected   domain.Scenario         `json:"expected"`
	Result     domain.ProcessingResult `json:"result"`
	Passed     bool                    `json:"passed"`
	Mismatches []string                `json:"mismatches,omitempty"`
	LLMCalls   map[string]int          `json:"llm_calls,omitempty"`
}

// ScenarioScore counts cases by expected scenario.
type ScenarioScore struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
}

// Report summarizes a run.
type Report struct {
	Total          int                               `json:"total"`
	Passed         int                               `json:"passed"`
	Accuracy       float64                           `json:"accuracy"`
	TargetAccuracy float64                           `json:"target_accuracy"`
	ByScenario     map[domain.Scenario]ScenarioScore `json:"by_scenario"`
	Cases          []CaseResult                      `json:"cases"`
	Duration       time.Duration                     `json:"duration"`
}

// MeetsTarget reports whether accuracy reached the target.
func (r *Report) MeetsTarget() bool {
	return r.Accuracy >= r.TargetAccuracy
}

// Failures returns the failed cases in suite order.
func (r *Report) Failures() []CaseResult {
	var failed []CaseResult
	for _, c := range r.Cases {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// Summary renders a short human-readable report.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "accuracy %.1f%% (%d/%d), target %.1f%%\n", r.Accuracy*100, r.Passed, r.Total, r.TargetAccuracy*100)

	scenarios := make([]string, 0, len(r.ByScenario))
	for s := range r.ByScenario {
		scenarios = append(scenarios, string(s))
	}
	sort.Strings(scenarios)
	for _, s := range scenarios {
		score := r.ByScenario[domain.Scenario(s)]
		fmt.Fprintf(&b, "  %-22s %d/%d\n", s, score.Passed, score.Total)
	}
	for _, c := range r.Failures() {
		fmt.Fprintf(&b, "FAIL %s: %s\n", c.Name, strings.Join(c.Mismatches, "; "))
	}
	return b.String()
}

// Run executes every case. target overrides the suite's target when the
// suite sets none.
func (r *Runner) Run(ctx context.Context, suite *Suite, target float64) (*Report, error) {
	start := time.Now()
	results := make([]CaseResult, len(suite.Cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, c := range suite.Cases {
		g.Go(func() error {
			res, err := r.runCase(gctx, c)
			if err != nil {
				return fmt.Errorf("case %q: %w", c.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if suite.TargetAccuracy > 0 {
		target = suite.TargetAccuracy
	}
	report := &Report{
		Total:          len(results),
		TargetAccuracy: target,
		ByScenario:     make(map[domain.Scenario]ScenarioScore),
		Cases:          results,
		Duration:       time.Since(start),
	}
	for _, res := range results {
		score := report.ByScenario[res.Expected]
		score.Total++
		if res.Passed {
			report.Passed++
			score.Passed++
		}
		report.ByScenario[res.Expected] = score
	}
	if report.Total > 0 {
		report.Accuracy = float64(report.Passed) / float64(report.Total)
	}

	r.log.Info().
		Int("total", report.Total).
		Int("passed", report.Passed).
		Float64("accuracy", report.Accuracy).
		Float64("target", report.TargetAccuracy).
		Dur("duration", report.Duration).
		Msg("eval finished")
	return report, nil
}

func (r *Runner) runCase(ctx context.Context, c Case) (CaseResult, error) {
	collab, gen := newCollaborators(c)
	processor, err := r.factory(collab)
	if err != nil {
		return CaseResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return CaseResult{}, err
	}

	result := processor.ProcessEmail(ctx, c.Email)
	mismatches := compare(c.Expect, result)

	if len(mismatches) > 0 {
		r.log.Debug().Str("case", c.Name).Strs("mismatches", mismatches).Msg("case failed")
	}
	return CaseResult{
		Name:       c.Name,
		Expected:   c.Expect.Scenario,
		Result:     result,
		Passed:     len(mismatches) == 0,
		Mismatches: mismatches,
		LLMCalls:   gen.Calls(),
	}, nil
}

func compare(want Expectation, got domain.ProcessingResult) []string {
	var mismatches []string
	if got.Scenario != want.Scenario {
		mismatches = append(mismatches, fmt.Sprintf("scenario %q, want %q", got.Scenario, want.Scenario))
	}
	if want.Serial != nil && got.SerialNumber != *want.Serial {
		mismatches = append(mismatches, fmt.Sprintf("serial %q, want %q", got.SerialNumber, *want.Serial))
	}
	if want.Success != nil && got.Success != *want.Success {
		mismatches = append(mismatches, fmt.Sprintf("success %v, want %v", got.Success, *want.Success))
	}
	if want.ResponseSent != nil && got.ResponseSent != *want.ResponseSent {
		mismatches = append(mismatches, fmt.Sprintf("response_sent %v, want %v", got.ResponseSent, *want.ResponseSent))
	}
	if want.TicketCreated != nil && got.TicketCreated != *want.TicketCreated {
		mismatches = append(mismatches, fmt.Sprintf("ticket_created %v, want %v", got.TicketCreated, *want.TicketCreated))
	}
	if got.FailedStep != want.FailedStep {
		mismatches = append(mismatches, fmt.Sprintf("failed_step %q, want %q", got.FailedStep, want.FailedStep))
	}
	return mismatches
}
