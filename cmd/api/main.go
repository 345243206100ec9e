package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/paper-rag-service/internal/adapters/http"
	"github.com/kirillkom/paper-rag-service/internal/bootstrap"
	"github.com/kirillkom/paper-rag-service/internal/config"
	"github.com/kirillkom/paper-rag-service/internal/observability/logging"
	"github.com/kirillkom/paper-rag-service/internal/observability/metrics"
)

const serviceName = "paper-rag-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	router := httpadapter.NewRouter(app.Ask, app.Cache, app.Bus, httpMetrics, logger, httpadapter.RouterOptions{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxConcurrent:  cfg.MaxConcurrent,
	}).Handler()

	server := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: streamed answers stay open well past any
		// fixed deadline. Generation is bounded by the answer word cap.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "lexical_backend", cfg.LexicalBackend, "cache_backend", cfg.CacheBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api_server_failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
