package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warranty_worker/config"
	"warranty_worker/core/port/in"
	"warranty_worker/internal/bootstrap"
	"warranty_worker/internal/eval"
	"warranty_worker/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	mode := flag.String("mode", config.ModeAPI, "Run mode: api, worker, all, eval")
	evalFile := flag.String("eval-file", "internal/eval/testdata/cases.yaml", "Eval cases (eval mode)")
	evalConcurrency := flag.Int("eval-concurrency", 4, "Concurrent eval cases (eval mode)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	log := logger.Init(logger.Config{
		Level:   cfg.LogLevel,
		Service: "warranty-worker",
		Pretty:  cfg.IsDevelopment(),
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	if err := cfg.Validate(*mode); err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *mode == config.ModeEval {
		ok, err := runEval(ctx, cfg, *evalFile, *evalConcurrency, log)
		if err != nil {
			logger.Fatal("Eval failed: %v", err)
		}
		if !ok {
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, *mode, log); err != nil {
		logger.Fatal("%s stopped: %v", *mode, err)
	}
	logger.Info("Shut down gracefully")
}

func run(ctx context.Context, cfg *config.Config, mode string, log zerolog.Logger) error {
	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer cleanup()

	g, gctx := errgroup.WithContext(ctx)

	if mode == config.ModeAPI || mode == config.ModeAll {
		app := bootstrap.NewAPI(cfg, deps, log)
		g.Go(func() error {
			return bootstrap.RunAPI(gctx, app, ":"+cfg.Port, shutdownTimeout, log)
		})
	}

	if mode == config.ModeWorker || mode == config.ModeAll {
		worker, err := bootstrap.NewWorker(cfg, deps, log)
		if err != nil {
			return fmt.Errorf("initialize worker: %w", err)
		}
		g.Go(func() error { return worker.Run(gctx) })
	}

	return g.Wait()
}

func runEval(ctx context.Context, cfg *config.Config, path string, concurrency int, log zerolog.Logger) (bool, error) {
	suite, err := eval.LoadSuite(path)
	if err != nil {
		return false, err
	}

	factory := func(c eval.Collaborators) (in.EmailProcessor, error) {
		return bootstrap.NewPipeline(cfg, c.Generator, c.Warranty, c.Mailer, c.Tickets, nil, zerolog.Nop())
	}

	report, err := eval.NewRunner(factory, concurrency, log).Run(ctx, suite, cfg.EvalTargetAccuracy)
	if err != nil {
		return false, err
	}

	fmt.Print(report.Summary())
	return report.MeetsTarget(), nil
}
