package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talentai/llm-gateway/internal/api"
	"github.com/talentai/llm-gateway/internal/archive"
	"github.com/talentai/llm-gateway/internal/backend"
	"github.com/talentai/llm-gateway/internal/backend/bedrock"
	"github.com/talentai/llm-gateway/internal/backend/ollama"
	"github.com/talentai/llm-gateway/internal/backend/onnx"
	"github.com/talentai/llm-gateway/internal/backend/onnxgenai"
	"github.com/talentai/llm-gateway/internal/config"
	"github.com/talentai/llm-gateway/internal/httputil"
	"github.com/talentai/llm-gateway/internal/limiter"
	"github.com/talentai/llm-gateway/internal/notifications"
	"github.com/talentai/llm-gateway/internal/registry"
	"github.com/talentai/llm-gateway/internal/secrets"
	"github.com/talentai/llm-gateway/internal/telemetry"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting LLM gateway", "addr", cfg.Addr, "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	device, err := backend.ParseDevice(cfg.ONNXDevice)
	if err != nil {
		slog.Error("invalid device configuration", "error", err)
		os.Exit(1)
	}

	ollamaKey := cfg.OllamaAPIKey
	if ollamaKey == "" && cfg.SecretsPrefix != "" && cfg.AWSRegion != "" {
		store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to initialize secrets manager", "error", err)
			os.Exit(1)
		}
		key, err := store.GetSecret(ctx, cfg.SecretsPrefix+"/ollama-api-key")
		if err != nil {
			slog.Warn("no ollama API key in secrets manager, continuing without", "error", err)
		} else {
			ollamaKey = key
		}
	}

	client := httputil.GenerationClient()

	var adapters []backend.Adapter

	if cfg.OllamaURL != "" {
		opts := []ollama.Option{ollama.WithHTTPClient(client)}
		if ollamaKey != "" {
			opts = append(opts, ollama.WithAPIKey(ollamaKey))
		}
		adapters = append(adapters, ollama.New(cfg.OllamaURL, opts...))
		slog.Info("registered backend", "backend", "ollama", "url", cfg.OllamaURL)
	}

	if cfg.ONNXGenAIURL != "" {
		adapters = append(adapters, onnxgenai.New(cfg.ONNXGenAIURL, device, onnxgenai.WithHTTPClient(client)))
		slog.Info("registered backend", "backend", "onnx-genai", "url", cfg.ONNXGenAIURL, "device", string(device))
	}

	if cfg.ONNXURL != "" {
		adapters = append(adapters, onnx.New(cfg.ONNXURL, device,
			onnx.WithHTTPClient(client),
			onnx.WithChunkDelay(cfg.SimChunkDelay),
		))
		slog.Info("registered backend", "backend", "onnx", "url", cfg.ONNXURL, "device", string(device), "simulated_streaming", true)
	}

	if cfg.BedrockRegion != "" {
		bedrockAdapter, err := bedrock.New(ctx, cfg.BedrockRegion)
		if err != nil {
			slog.Error("failed to initialize bedrock backend", "error", err)
			os.Exit(1)
		}
		adapters = append(adapters, bedrockAdapter)
		slog.Info("registered backend", "backend", "bedrock", "region", cfg.BedrockRegion)
	}

	if len(adapters) == 0 {
		slog.Error("no backends configured")
		os.Exit(1)
	}

	defaultKind, err := backend.ParseKind(cfg.DefaultBackend)
	if err != nil {
		slog.Error("invalid default backend", "error", err)
		os.Exit(1)
	}

	modelBackends := make(map[string]backend.Kind, len(cfg.ModelBackends))
	for model, name := range cfg.ModelBackends {
		kind, err := backend.ParseKind(name)
		if err != nil {
			slog.Error("invalid model backend mapping", "model", model, "error", err)
			os.Exit(1)
		}
		modelBackends[model] = kind
	}

	reg, err := registry.New(adapters, modelBackends, defaultKind)
	if err != nil {
		slog.Error("failed to build backend registry", "error", err)
		os.Exit(1)
	}

	var requestLimiter limiter.Limiter
	if cfg.RedisURL != "" {
		requestLimiter, err = limiter.NewRedisLimiter(cfg.RedisURL, cfg.MaxConcurrent)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.Info("using redis concurrency limiter", "max_concurrent", cfg.MaxConcurrent)
	} else {
		requestLimiter = limiter.NewSemaphore(cfg.MaxConcurrent)
		slog.Info("using in-memory concurrency limiter", "max_concurrent", cfg.MaxConcurrent)
	}

	var archiver archive.Archiver = archive.LogArchiver{}
	switch {
	case cfg.DatabaseURL != "":
		pg, err := archive.NewPostgresArchiver(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open conversation store", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		archiver = pg
		slog.Info("archiving conversations to postgres")
	case cfg.SQSQueueURL != "" && cfg.AWSRegion != "":
		sqsArchiver, err := archive.NewSQSArchiver(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			slog.Error("failed to initialize sqs archiver", "error", err)
			os.Exit(1)
		}
		archiver = sqsArchiver
		slog.Info("archiving conversations to sqs", "queue", cfg.SQSQueueURL)
	}

	var notifier notifications.Notifier = notifications.LogNotifier{}
	if cfg.SNSTopicARN != "" && cfg.AWSRegion != "" {
		snsNotifier, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Error("failed to initialize sns notifier", "error", err)
			os.Exit(1)
		}
		notifier = snsNotifier
		slog.Info("publishing backend notifications to sns", "topic", cfg.SNSTopicARN)
	}

	health := api.NewHealthReporter(reg.Adapters(), cfg.HealthTimeout, notifier)

	handler := api.NewHandler(api.HandlerConfig{
		Registry:       reg,
		Limiter:        requestLimiter,
		Archiver:       archiver,
		Health:         health,
		RequestTimeout: cfg.RequestTimeout,
	})

	// No WriteTimeout: a fixed one would cut off long SSE streams.
	// Streaming responses are bounded by the request timeout instead.
	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
