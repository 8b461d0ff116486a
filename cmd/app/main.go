// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"sms-agent/internal/config"
	"sms-agent/internal/domain/ports/adapter"
	aiAdapters "sms-agent/internal/infra/adapters/ai"
	pg "sms-agent/internal/infra/db/postgres"
	"sms-agent/internal/infra/logging"
	"sms-agent/internal/infra/metrics"
	red "sms-agent/internal/infra/redis"
	"sms-agent/internal/infra/retry"
	"sms-agent/internal/infra/scheduler"
	"sms-agent/internal/infra/web"
	"sms-agent/internal/infra/worker"
	"sms-agent/internal/prompts"
	"sms-agent/internal/usecase"
)

// set by -ldflags at build time
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted numbers)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}

	// ---- Prompts ----
	promptVersion, err := prompts.ParseVersion(cfg.Inference.PromptVersion)
	if err != nil {
		logger.Fatal().Err(err).Msg("prompt version")
	}
	resolver := prompts.NewResolver(promptVersion)
	metrics.MustRegister(nil)
	metrics.SetBuildInfo(version, commit, string(promptVersion))

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	tm := pg.NewTxManager(pool)
	inferenceRepo := pg.NewInferenceRepo(pool)
	contextRepo := pg.NewUserContextRepo(pool)
	jobRepo := pg.NewJobQueueRepo(pool, tm)

	// ---- Redis (optional) ----
	var (
		runLocker     adapter.Locker
		contextLocker adapter.Locker
		limiter       web.Limiter
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		runLocker = red.NewLocker(redisClient, "conversation")
		contextLocker = red.NewLocker(redisClient, "user_context")
		limiter = red.NewRateLimiter(redisClient)
		logger.Info().Msg("redis locks enabled")
	} else {
		logger.Info().Msg("redis not configured; running without distributed locks")
	}

	// ---- AI ----
	ai, err := buildModelClient(ctx, cfg.AI, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ai adapter")
	}

	// ---- Background executor ----
	bgPool := worker.NewPool(cfg.Runner.BackgroundWorkers, logger)
	bgPool.Start(ctx)
	go bgPool.LogErrors(ctx, logger)

	// ---- Use cases ----
	contextUC := usecase.NewUserContextUseCase(contextRepo, ai, contextLocker, usecase.UserContextOptions{
		Interval: cfg.UserContext.Interval,
		Model:    cfg.UserContext.Model,
		Timeout:  cfg.UserContext.Timeout(),
		Retry:    retryOptions(cfg.UserContext.Retry),
		LockTTL:  cfg.Redis.LockTTL,
	}, logger)

	inferenceUC := usecase.NewInferenceUseCase(inferenceRepo, tm, ai, resolver, contextUC, bgPool, usecase.InferenceOptions{
		Model:           cfg.AI.DefaultModel,
		ModelTimeout:    cfg.Inference.ModelTimeout(),
		TranscriptLimit: cfg.Inference.TranscriptLimit,
		Retry:           retryOptions(cfg.Inference.Retry),
	}, logger)

	// ---- Job runner ----
	runnerPool := worker.NewPool(cfg.Runner.Workers, logger)
	if cfg.Runner.Enabled {
		runnerPool.Start(ctx)
		go runnerPool.LogErrors(ctx, logger)
		runner := worker.NewJobRunner(jobRepo, inferenceUC, runLocker, worker.RunnerOptions{
			PollInterval: cfg.Runner.PollInterval,
			BatchLimit:   cfg.Runner.BatchLimit,
			MaxAttempts:  cfg.Runner.MaxAttempts,
			LockTTL:      cfg.Redis.LockTTL,
			StaleAfter:   cfg.Runner.StaleAfter,
		}, logger)
		go runner.Start(ctx, runnerPool)

		if cfg.Runner.StaleAfter > 0 {
			sweeper := scheduler.NewScheduler("stale_jobs", cfg.Runner.StaleAfter/2, runner, logger)
			sweeper.Start(ctx)
			defer sweeper.Stop()
		}
	} else {
		logger.Warn().Msg("job runner disabled")
	}

	// ---- Admin/ops HTTP ----
	srv := web.NewServer(contextUC, pool, limiter, cfg.Admin.APIKey, logger)
	go func() {
		if err := srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Admin.Port)); err != nil {
			logger.Error().Err(err).Msg("admin server stopped")
			cancel()
		}
	}()

	logger.Info().
		Str("version", version).
		Str("prompt_version", string(promptVersion)).
		Str("ai_provider", cfg.AI.Provider).
		Str("model", cfg.AI.DefaultModel).
		Msg("sms-agent started")

	// ---- Graceful shutdown ----
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	runnerPool.Stop()
	bgPool.Stop()
}

func retryOptions(c config.RetryConfig) retry.Options {
	return retry.Options{
		Retries:   c.Retries,
		BaseDelay: c.BaseDelay(),
		MaxDelay:  c.MaxDelay(),
		Jitter:    true,
	}
}

// buildModelClient picks the provider client(s) and wraps them with metrics
// and the concurrency limit.
func buildModelClient(ctx context.Context, cfg config.AIConfig, logger *zerolog.Logger) (adapter.ModelClient, error) {
	var (
		client adapter.ModelClient
		err    error
	)
	switch cfg.Provider {
	case "openai":
		client, err = openAIClient(cfg)
	case "gemini":
		client, err = geminiClient(ctx, cfg)
	case "multi":
		byProvider := map[string]adapter.ModelClient{}
		if cfg.OpenAIKey != "" {
			c, err := openAIClient(cfg)
			if err != nil {
				return nil, err
			}
			byProvider["openai"] = c
		}
		if cfg.GeminiKey != "" {
			c, err := geminiClient(ctx, cfg)
			if err != nil {
				return nil, err
			}
			byProvider["gemini"] = c
		}
		def := "openai"
		if _, ok := byProvider[def]; !ok {
			def = "gemini"
		}
		client = aiAdapters.NewMultiModelClient(def, byProvider, nil)
	case "noop":
		logger.Warn().Msg("AI provider is noop; replies are canned")
		client = aiAdapters.NewMeteredModelClient(aiAdapters.NewNoopModelClient(logger), "noop")
	default:
		return nil, fmt.Errorf("unknown ai.provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	logger.Info().Str("provider", cfg.Provider).Str("model", cfg.DefaultModel).Msg("AI adapter ready")
	return aiAdapters.NewLimitedModelClient(client, cfg.ConcurrentLimit), nil
}

func openAIClient(cfg config.AIConfig) (adapter.ModelClient, error) {
	c, err := aiAdapters.NewOpenAIAdapter(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.DefaultModel)
	if err != nil {
		return nil, fmt.Errorf("openai adapter: %w", err)
	}
	return aiAdapters.NewMeteredModelClient(c, "openai"), nil
}

func geminiClient(ctx context.Context, cfg config.AIConfig) (adapter.ModelClient, error) {
	c, err := aiAdapters.NewGeminiAdapter(ctx, cfg.GeminiKey, cfg.GeminiURL, cfg.DefaultModel, 0)
	if err != nil {
		return nil, fmt.Errorf("gemini adapter: %w", err)
	}
	return aiAdapters.NewMeteredModelClient(c, "gemini"), nil
}
