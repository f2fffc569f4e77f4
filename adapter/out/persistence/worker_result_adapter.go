package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const defaultListLimit = 50

// ResultAdapter implements out.ProcessingResultRepository using PostgreSQL.
type ResultAdapter struct {
	db *sqlx.DB
}

func NewResultAdapter(db *sqlx.DB) *ResultAdapter {
	return &ResultAdapter{db: db}
}

const resultSchema = `
CREATE TABLE IF NOT EXISTS processing_results (
	id                 BIGSERIAL PRIMARY KEY,
	email_id           TEXT        NOT NULL,
	success            BOOLEAN     NOT NULL,
	scenario           TEXT        NOT NULL DEFAULT '',
	serial_number      TEXT        NOT NULL DEFAULT '',
	warranty_status    TEXT        NOT NULL DEFAULT '',
	response_sent      BOOLEAN     NOT NULL,
	ticket_created     BOOLEAN     NOT NULL,
	ticket_id          TEXT        NOT NULL DEFAULT '',
	processing_time_ms BIGINT      NOT NULL,
	error_message      TEXT        NOT NULL DEFAULT '',
	failed_step        TEXT        NOT NULL DEFAULT '',
	degraded_steps     TEXT[]      NOT NULL DEFAULT '{}',
	processed_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processing_results_processed_at ON processing_results (processed_at DESC);
CREATE INDEX IF NOT EXISTS idx_processing_results_scenario ON processing_results (scenario);
`

// EnsureSchema creates the results table when missing.
func (a *ResultAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, resultSchema); err != nil {
		return fmt.Errorf("ensure processing_results schema: %w", err)
	}
	return nil
}

// resultRow represents the database row.
type resultRow struct {
	ID               int64          `db:"id"`
	EmailID          string         `db:"email_id"`
	Success          bool           `db:"success"`
	Scenario         string         `db:"scenario"`
	SerialNumber     string         `db:"serial_number"`
	WarrantyStatus   string         `db:"warranty_status"`
	ResponseSent     bool           `db:"response_sent"`
	TicketCreated    bool           `db:"ticket_created"`
	TicketID         string         `db:"ticket_id"`
	ProcessingTimeMs int64          `db:"processing_time_ms"`
	ErrorMessage     string         `db:"error_message"`
	FailedStep       string         `db:"failed_step"`
	DegradedSteps    pq.StringArray `db:"degraded_steps"`
	ProcessedAt      time.Time      `db:"processed_at"`
}

func (r *resultRow) toDomain() out.StoredResult {
	res := domain.ProcessingResult{
		Success:          r.Success,
		EmailID:          r.EmailID,
		Scenario:         domain.Scenario(r.Scenario),
		SerialNumber:     r.SerialNumber,
		WarrantyStatus:   domain.WarrantyStatus(r.WarrantyStatus),
		ResponseSent:     r.ResponseSent,
		TicketCreated:    r.TicketCreated,
		TicketID:         r.TicketID,
		ProcessingTimeMs: r.ProcessingTimeMs,
		ErrorMessage:     r.ErrorMessage,
		FailedStep:       domain.ProcessingStep(r.FailedStep),
	}
	for _, s := range r.DegradedSteps {
		res.DegradedSteps = append(res.DegradedSteps, domain.ProcessingStep(s))
	}
	return out.StoredResult{ProcessingResult: res, ProcessedAt: r.ProcessedAt}
}

func fromDomain(result domain.ProcessingResult, processedAt time.Time) *resultRow {
	steps := make(pq.StringArray, 0, len(result.DegradedSteps))
	for _, s := range result.DegradedSteps {
		steps = append(steps, string(s))
	}
	return &resultRow{
		EmailID:          result.EmailID,
		Success:          result.Success,
		Scenario:         string(result.Scenario),
		SerialNumber:     result.SerialNumber,
		WarrantyStatus:   string(result.WarrantyStatus),
		ResponseSent:     result.ResponseSent,
		TicketCreated:    result.TicketCreated,
		TicketID:         result.TicketID,
		ProcessingTimeMs: result.ProcessingTimeMs,
		ErrorMessage:     result.ErrorMessage,
		FailedStep:       string(result.FailedStep),
		DegradedSteps:    steps,
		ProcessedAt:      processedAt.UTC(),
	}
}

// Save appends one result.
func (a *ResultAdapter) Save(ctx context.Context, result domain.ProcessingResult, processedAt time.Time) error {
	query := `
		INSERT INTO processing_results (
			email_id, success, scenario, serial_number, warranty_status,
			response_sent, ticket_created, ticket_id, processing_time_ms,
			error_message, failed_step, degraded_steps, processed_at
		) VALUES (
			:email_id, :success, :scenario, :serial_number, :warranty_status,
			:response_sent, :ticket_created, :ticket_id, :processing_time_ms,
			:error_message, :failed_step, :degraded_steps, :processed_at
		)
	`
	if _, err := a.db.NamedExecContext(ctx, query, fromDomain(result, processedAt)); err != nil {
		return fmt.Errorf("save result %s: %w", result.EmailID, err)
	}
	return nil
}

// List returns the newest results first.
func (a *ResultAdapter) List(ctx context.Context, filter out.ResultFilter) ([]out.StoredResult, error) {
	query, args := buildListQuery(filter)

	var rows []resultRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("list results: %w", err)
	}

	results := make([]out.StoredResult, 0, len(rows))
	for i := range rows {
		results = append(results, rows[i].toDomain())
	}
	return results, nil
}

// CountByScenario groups results processed at or after since.
func (a *ResultAdapter) CountByScenario(ctx context.Context, since time.Time) (map[domain.Scenario]int, error) {
	var rows []struct {
		Scenario string `db:"scenario"`
		Count    int    `db:"count"`
	}
	query := `
		SELECT scenario, COUNT(*) AS count
		FROM processing_results
		WHERE processed_at >= $1
		GROUP BY scenario
	`
	if err := a.db.SelectContext(ctx, &rows, query, since.UTC()); err != nil {
		return nil, fmt.Errorf("count results: %w", err)
	}

	counts := make(map[domain.Scenario]int, len(rows))
	for _, r := range rows {
		counts[domain.Scenario(r.Scenario)] = r.Count
	}
	return counts, nil
}

func buildListQuery(filter out.ResultFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Scenario != "" {
		args = append(args, string(filter.Scenario))
		conds = append(conds, fmt.Sprintf("scenario = $%d", len(args)))
	}
	if filter.OnlyFails {
		conds = append(conds, "success = FALSE")
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		conds = append(conds, fmt.Sprintf("processed_at >= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString("SELECT * FROM processing_results")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY processed_at DESC LIMIT $%d", len(args))
	return b.String(), args
}

var _ out.ProcessingResultRepository = (*ResultAdapter)(nil)
