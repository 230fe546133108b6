package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chattyhq/chat-engine/api"
	"github.com/chattyhq/chat-engine/cache"
	"github.com/chattyhq/chat-engine/config"
	"github.com/chattyhq/chat-engine/database"
	"github.com/chattyhq/chat-engine/embeddings"
	"github.com/chattyhq/chat-engine/llm"
	"github.com/chattyhq/chat-engine/metrics"
	"github.com/chattyhq/chat-engine/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "ask":
		askCmd(cfg, logger, os.Args[2:])
	case "clear-cache":
		clearCacheCmd(cfg, logger, os.Args[2:])
	default:
		logger.Error("unknown command", zap.String("command", os.Args[1]))
		printUsage()
		os.Exit(1)
	}
}

func serveCmd(cfg config.Config, logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.Server.Addr, "listen address")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse serve flags", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, cleanup, err := buildService(ctx, cfg, logger, metrics.New())
	if err != nil {
		logger.Fatal("wire pipeline", zap.Error(err))
	}
	defer cleanup()

	server := &http.Server{
		Addr:              *addr,
		Handler:           api.New(svc, logger, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", *addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}
}

func askCmd(cfg config.Config, logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("ask", flag.ExitOnError)
	user := flags.String("user", "cli", "user id for cache keying")
	question := flags.String("question", "", "question to ask")
	topK := flags.Int("top-k", 0, "number of passages to retrieve (0 uses the configured default)")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse ask flags", zap.Error(err))
	}

	if *question == "" {
		logger.Fatal("a question is required, pass -question")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, cleanup, err := buildService(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatal("wire pipeline", zap.Error(err))
	}
	defer cleanup()

	resp, err := svc.Ask(ctx, pipeline.Query{UserID: *user, Question: *question, TopK: *topK})
	if err != nil {
		logger.Fatal("ask failed", zap.Error(err))
	}

	encoded, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		logger.Fatal("encode response", zap.Error(err))
	}
	fmt.Println(string(encoded))
}

func clearCacheCmd(cfg config.Config, logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("clear-cache", flag.ExitOnError)
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse clear-cache flags", zap.Error(err))
	}

	if cfg.Cache.Backend != config.CacheBackendRedis {
		logger.Info("memory cache is process-local, nothing to clear")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := database.NewRedisClient(ctx, cfg.Cache)
	if err != nil {
		logger.Fatal("redis connection", zap.Error(err))
	}
	defer client.Close()

	store := cache.NewRedis(client, cfg.Cache.RedisPrefix, cfg.Cache.RedisTTL, logger)
	store.Clear(ctx)
	logger.Info("response cache cleared")
}

// buildService wires the collaborators into a pipeline service. The returned
// cleanup closes every connection it opened.
func buildService(ctx context.Context, cfg config.Config, logger *zap.Logger, m *metrics.Metrics) (*pipeline.Service, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres connection: %w", err)
	}
	closers = append(closers, pool.Close)

	// Schema bootstrap needs the vector dimension; deployments that manage
	// the table externally leave the dimension unset.
	if cfg.Embeddings.Dimension > 0 {
		if err := database.EnsureChunkSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("embedder setup: %w", err)
	}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("llm setup: %w", err)
	}

	var store pipeline.ResponseCache
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		client, err := database.NewRedisClient(ctx, cfg.Cache)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("redis connection: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		store = cache.NewRedis(client, cfg.Cache.RedisPrefix, cfg.Cache.RedisTTL, logger)
	default:
		store = cache.NewLRU(cfg.Cache.Capacity)
	}

	retriever := pipeline.NewPostgresRetriever(pool, embedder, cfg.Pipeline.RetrievalRetries)
	generator := llm.NewAnswerService(llmClient)

	svc := pipeline.NewService(retriever, generator, store, m, logger, pipeline.OptionsFromConfig(cfg.Pipeline))
	return svc, cleanup, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

func printUsage() {
	fmt.Println("Usage: chat-engine <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve        Start the HTTP API")
	fmt.Println("  ask          Run one question through the pipeline and print the response")
	fmt.Println("  clear-cache  Empty the shared response cache (redis backend)")
}
