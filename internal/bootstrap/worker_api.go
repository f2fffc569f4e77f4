package bootstrap

import (
	"context"
	"time"

	"warranty_worker/adapter/in/http"
	"warranty_worker/config"
	"warranty_worker/infra/middleware"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// NewAPI builds the HTTP application on top of deps.
func NewAPI(cfg *config.Config, deps *Dependencies, log zerolog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(log),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json: faster JSON serialization than encoding/json
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:    1 * 1024 * 1024,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute, // POST /process runs the whole pipeline
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover(log))
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger(log))

	// Probes and metrics (no auth required)
	health := http.NewHealthHandler()
	for name, check := range deps.ReadinessChecks() {
		health.AddCheck(name, http.HealthCheck(check))
	}
	health.Register(app)
	http.RegisterMetrics(app, deps.Registry)

	if cfg.IsDevelopment() && deps.LogMailer != nil {
		RegisterDevRoutes(app, deps)
	}

	api := app.Group("/api/v1")
	if cfg.JWTSecret != "" {
		api.Use(middleware.JWTAuth(cfg.JWTSecret))
	} else {
		log.Warn().Msg("JWT_SECRET not set, API is unauthenticated")
	}
	api.Use(middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute).Handler())

	http.NewProcessHandler(deps.Pipeline, deps.Results, deps.PipelineMetrics).Register(api)

	return app
}

// RunAPI serves until ctx is cancelled, then shuts down gracefully.
func RunAPI(ctx context.Context, app *fiber.App, addr string, shutdownTimeout time.Duration, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("starting API server")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down API server")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return err
	}
	return nil
}
