// Package main provides the OCR worker entry point. The worker consumes
// extraction jobs from the Redis list queue and serves the validation
// callback endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/httpserver"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/imagery"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/judge"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/observability"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/ocrengine"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/statestore/redisstate"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/app"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/config"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.MetricsPort), mux); err != nil {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting OCR worker", slog.String("env", cfg.AppEnv))

	queue, err := redisq.NewFromURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = queue.Redis().Close() }()

	// Settings storage is optional; the worker runs env-only without a DB.
	if cfg.DBURL != "" {
		loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := postgres.NewPool(loadCtx, cfg.DBURL)
		if err != nil {
			slog.Warn("settings database unavailable, using env config only", slog.Any("error", err))
		} else {
			repo := postgres.NewSettingsRepo(pool)
			if values, err := repo.All(loadCtx); err != nil {
				slog.Warn("settings load failed, using env config only", slog.Any("error", err))
			} else {
				cfg = cfg.WithOverrides(values)
				slog.Info("settings overrides applied", slog.Int("count", len(values)))
			}
			pool.Close()
		}
		cancel()
	}

	store := redisstate.New(queue.Redis(), time.Duration(cfg.ValidationTTL)*time.Second)
	judgeClient := judge.New(cfg.LLMGatewayURL, cfg.JarvisAppID, cfg.JarvisAppKey, cfg.ValidationModel, cfg.JudgeTimeout)
	resolver := imagery.New(imagery.Options{
		Root:        cfg.ImageRoot,
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
	})
	engines := ocrengine.BuildEngines(cfg)

	orch := usecase.NewOrchestrator(queue, store, judgeClient, resolver, engines, usecase.Settings{
		JobQueue:        cfg.JobQueue,
		Tiers:           cfg.TierChain(),
		MinValidChars:   cfg.MinValidChars,
		MaxTextBytes:    cfg.MaxTextBytes,
		MinConfidence:   cfg.MinConfidence,
		LanguageDefault: cfg.LanguageDefault,
		MaxAttempts:     cfg.MaxAttempts,
		CallbackURL:     cfg.CallbackURL(),
	})

	srv := httpserver.NewServer(store, orch, queue, cfg.JobQueue)
	router := app.BuildRouter(cfg, srv)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("callback server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", slog.Any("error", err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	consumer := redisq.NewConsumer(queue, cfg.JobQueue, orch, cfg.Workers)
	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("consumer error", slog.Any("error", err))
		}
	}()

	slog.Info("worker started, waiting for shutdown signal",
		slog.String("queue", cfg.JobQueue),
		slog.Int("workers", cfg.Workers))
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", slog.Any("error", err))
	}
	slog.Info("worker stopped")
}
