// Package main provides the knowledge engine HTTP server entry point.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/1475505/Miliastra-toolbox/internal/config"
	"github.com/1475505/Miliastra-toolbox/internal/embedding"
	"github.com/1475505/Miliastra-toolbox/internal/llm"
	mcpserver "github.com/1475505/Miliastra-toolbox/internal/mcp"
	"github.com/1475505/Miliastra-toolbox/internal/quota"
	"github.com/1475505/Miliastra-toolbox/internal/retriever"
	"github.com/1475505/Miliastra-toolbox/internal/server"
	"github.com/1475505/Miliastra-toolbox/internal/session"
	"github.com/1475505/Miliastra-toolbox/internal/storage"
)

func main() {
	// Load .env if present (local development), ignore if missing.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewQdrantStore(cfg.QdrantHost, cfg.QdrantPort, cfg.Collection, cfg.VectorDim)
	if err != nil {
		logger.Error("failed to connect to Qdrant", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.EnsureCollection(ctx); err != nil {
		logger.Error("failed to ensure collection", "error", err)
		os.Exit(1)
	}

	embedder, err := embedding.NewEmbedder(cfg.APIKey, cfg.APIBaseURL, cfg.EmbeddingModel, 0)
	if err != nil {
		logger.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}

	fused := retriever.NewFused(store, embedder,
		cfg.TopK, cfg.PreferredMax, cfg.SimilarityCutoff, cfg.PreferredDirs)

	counters, err := quota.OpenSQLite(cfg.QuotaDBPath)
	if err != nil {
		logger.Error("failed to open quota database", "error", err)
		os.Exit(1)
	}
	defer counters.Close()
	ledger := quota.NewLedger(counters, cfg.LimitedChannels, cfg.DailyLimit, logger)

	counter, err := session.NewTokenCounter()
	if err != nil {
		logger.Error("failed to load tokenizer", "error", err)
		os.Exit(1)
	}

	engine := session.New(session.Params{
		Retriever: fused,
		Ledger:    ledger,
		Counter:   counter,
		Defaults: llm.Credentials{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.APIBaseURL,
			Model:   cfg.ChatModel,
		},
		RewriteModel:  cfg.RewriteModel,
		ContextWindow: cfg.ContextWindow,
		Heartbeat:     cfg.HeartbeatInterval,
		Logger:        logger,
	})

	srv := server.New(engine, ledger, store, cfg.Collection, logger)

	mcpSrv := mcpserver.NewServer(&mcpserver.Config{
		Retriever:  fused,
		Index:      store,
		Collection: cfg.Collection,
	})
	srv.Mount("/mcp", mcpSrv.NewHTTPHandler())

	// Stdio mode serves MCP over stdin/stdout for local editor clients,
	// keeping the HTTP API up in the background.
	if os.Getenv("MCP_STDIO") == "true" {
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Addr); err != nil {
				logger.Error("http server error", "error", err)
			}
		}()
		if err := mcpSrv.Run(ctx); err != nil {
			logger.Error("mcp server error", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := srv.ListenAndServe(ctx, cfg.Addr); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
