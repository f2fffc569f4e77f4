// Package bootstrap wires configuration into the running API and worker.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"warranty_worker/adapter/out/cache"
	"warranty_worker/adapter/out/mongodb"
	"warranty_worker/adapter/out/persistence"
	"warranty_worker/adapter/out/provider"
	"warranty_worker/adapter/out/ticket"
	"warranty_worker/adapter/out/warranty"
	"warranty_worker/config"
	"warranty_worker/core/agent/llm"
	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"
	"warranty_worker/core/service/classification"
	"warranty_worker/core/service/extraction"
	"warranty_worker/core/service/parsing"
	"warranty_worker/core/service/pipeline"
	"warranty_worker/core/service/response"
	"warranty_worker/infra/database"
	"warranty_worker/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
)

// circuitReporter is implemented by the collaborator clients.
type circuitReporter interface {
	CircuitState() string
}

// Dependencies holds everything built once per process. Optional stores are
// nil when not configured.
type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	Postgres *database.Postgres
	Redis    *redis.Client
	Mongo    *mongo.Client

	Registry        *prometheus.Registry
	PipelineMetrics *metrics.PipelineMetrics
	WorkerMetrics   *metrics.WorkerMetrics

	Generator out.TextGenerator
	Warranty  *warranty.Client
	Tickets   *ticket.Client
	Gmail     *provider.GmailAdapter // nil with MAIL_PROVIDER=log
	LogMailer *provider.LogMailer    // nil with MAIL_PROVIDER=gmail
	Mailer    out.MailSender
	Results   out.ProcessingResultRepository
	Claims    out.ClaimFilter

	Pipeline *pipeline.Pipeline
}

// NewDependencies connects the configured stores and builds the pipeline.
// The returned cleanup closes connections in reverse order.
func NewDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Log: log}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// Metrics
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.PipelineMetrics = metrics.NewPipelineMetrics(deps.Registry)
	deps.WorkerMetrics = metrics.NewWorkerMetrics(deps.Registry)

	// PostgreSQL (result audit)
	if cfg.DatabaseURL != "" {
		pg, err := database.NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		deps.Postgres = pg
		cleanups = append(cleanups, pg.Close)
		deps.Registry.MustRegister(collectors.NewDBStatsCollector(pg.DB.DB, "results"))

		results := persistence.NewResultAdapter(pg.DB)
		if err := results.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		deps.Results = results
		log.Info().Msg("postgres connected, results are stored")
	} else {
		log.Warn().Msg("DATABASE_URL not set, results are not stored")
	}

	// Redis (claims, stream queue)
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		deps.Redis = rdb
		cleanups = append(cleanups, func() { _ = rdb.Close() })
		deps.Claims = cache.NewRedisClaimFilter(rdb, cfg.WorkerID)
	} else {
		deps.Claims = cache.NewMemoryClaimFilter()
	}

	// Mail
	switch cfg.MailProvider {
	case config.MailGmail:
		gmail, err := provider.NewGmailAdapter(ctx, provider.GmailConfig{
			ClientID:       cfg.GoogleClientID,
			ClientSecret:   cfg.GoogleClientSecret,
			RefreshToken:   cfg.GmailRefreshToken,
			Query:          cfg.GmailQuery,
			ProcessedLabel: cfg.GmailProcessedLabel,
		}, log)
		if err != nil {
			return fail(err)
		}
		deps.Gmail = gmail
		deps.Mailer = gmail
	default:
		deps.LogMailer = provider.NewLogMailer(log, 100)
		deps.Mailer = deps.LogMailer
	}

	// MongoDB (reply archive)
	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			return fail(fmt.Errorf("connect mongodb: %w", err))
		}
		deps.Mongo = client
		cleanups = append(cleanups, func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		})

		archive := mongodb.NewReplyArchiveAdapter(client.Database(cfg.MongoDBName), time.Duration(cfg.ReplyRetentionDays)*24*time.Hour)
		if err := archive.EnsureIndexes(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to ensure reply archive indexes")
		}
		deps.Mailer = provider.NewArchivingSender(deps.Mailer, archive, log)
	}

	// LLM
	gen, err := llm.NewTextGenerator(llm.ProviderConfig{
		Provider:     cfg.LLMProvider,
		APIKey:       cfg.LLMAPIKey,
		BaseURL:      cfg.LLMBaseURL,
		Model:        cfg.LLMModel,
		MaxTokens:    cfg.LLMMaxTokens,
		Temperature:  float32(cfg.LLMTemperature),
		Timeout:      config.Seconds(cfg.LLMTimeoutSec),
		MergePrompts: cfg.LLMMergePrompts,
	})
	if err != nil {
		return fail(err)
	}
	if gen == nil {
		log.Warn().Msg("LLM disabled, extraction and detection use pattern tiers only")
	}
	deps.Generator = llm.Instrument(gen, deps.PipelineMetrics)

	// Collaborators
	deps.Warranty = warranty.NewClient(warranty.Config{
		BaseURL: cfg.WarrantyAPIURL,
		APIKey:  cfg.WarrantyAPIKey,
		Timeout: config.Seconds(cfg.WarrantyTimeoutSec),
	}, log)
	deps.Tickets = ticket.NewClient(ticket.Config{
		BaseURL: cfg.TicketAPIURL,
		APIKey:  cfg.TicketAPIKey,
		Timeout: config.Seconds(cfg.TicketTimeoutSec),
	}, log)

	var checker out.WarrantyChecker = deps.Warranty
	if deps.Redis != nil && cfg.WarrantyCacheTTLMin > 0 {
		ttl := time.Duration(cfg.WarrantyCacheTTLMin) * time.Minute
		checker = cache.NewWarrantyCache(deps.Warranty, cache.NewRedisJSONStore(deps.Redis), ttl, log)
	}

	p, err := NewPipeline(cfg, deps.Generator, checker, deps.Mailer, deps.Tickets, deps.PipelineMetrics, log)
	if err != nil {
		return fail(err)
	}
	deps.Pipeline = p

	return deps, cleanup, nil
}

// NewPipeline assembles the processing pipeline from configuration. The eval
// harness calls it with scripted collaborators.
func NewPipeline(
	cfg *config.Config,
	gen out.TextGenerator,
	checker out.WarrantyChecker,
	mailer out.MailSender,
	tickets out.TicketCreator,
	observer pipeline.Observer,
	log zerolog.Logger,
) (*pipeline.Pipeline, error) {
	extractCfg := extraction.DefaultConfig()
	extractCfg.PatternConfidence = cfg.PatternConfidence

	detectCfg := classification.DefaultConfig()
	detectCfg.FastPathThreshold = cfg.FastPathThreshold
	detectCfg.AmbiguityThreshold = cfg.AmbiguityThreshold
	detectCfg.MinBodyLength = cfg.MinBodyLength

	respCfg := response.DefaultConfig()
	respCfg.MaxTokens = cfg.LLMMaxTokens
	respCfg.Temperature = float32(cfg.LLMTemperature)

	pipeCfg := pipeline.DefaultConfig()
	pipeCfg.ProcessingTarget = config.Seconds(cfg.ProcessingTargetSec)
	pipeCfg.SendTimeout = config.Seconds(cfg.SendTimeoutSec)
	pipeCfg.WarrantyTimeout = config.Seconds(cfg.WarrantyTimeoutSec)
	pipeCfg.TicketTimeout = config.Seconds(cfg.TicketTimeoutSec)
	if p := domain.TicketPriority(cfg.TicketPriority); p != "" {
		pipeCfg.TicketPriority = p
	}

	return pipeline.New(pipeline.Deps{
		Parser:    parsing.NewParser(),
		Extractor: extraction.NewExtractor(gen, extractCfg, log),
		Detector:  classification.NewDetector(gen, detectCfg, log),
		Warranty:  checker,
		Responder: response.NewGenerator(gen, response.DefaultTemplateSet(), respCfg, log),
		Mailer:    mailer,
		Tickets:   tickets,
		Observer:  observer,
	}, pipeCfg, log)
}

// ReadinessChecks returns one probe per configured dependency.
func (d *Dependencies) ReadinessChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{}
	if d.Postgres != nil {
		checks["postgres"] = d.Postgres.Ping
	}
	if d.Redis != nil {
		rdb := d.Redis
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if d.Mongo != nil {
		m := d.Mongo
		checks["mongodb"] = func(ctx context.Context) error { return m.Ping(ctx, nil) }
	}

	circuits := map[string]circuitReporter{"warranty_api": d.Warranty, "ticket_api": d.Tickets}
	if d.Gmail != nil {
		circuits["gmail"] = d.Gmail
	}
	for name, c := range circuits {
		c := c
		checks[name] = func(context.Context) error {
			if state := c.CircuitState(); state == "open" {
				return fmt.Errorf("circuit %s", state)
			}
			return nil
		}
	}
	return checks
}
