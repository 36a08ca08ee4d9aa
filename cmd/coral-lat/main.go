package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"coral-lat/internal/config"
	"coral-lat/internal/handlers"
	"coral-lat/internal/http"
	"coral-lat/internal/inference"
	"coral-lat/internal/pipeline"
	"coral-lat/internal/service"
	"coral-lat/internal/storage"
	"coral-lat/internal/vectorstore"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging configured", "level", cfg.LogLevel, "format", cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)
	runRepo := storage.NewRunRepo(db)
	if n, err := runRepo.FailInterrupted(ctx, "interrupted by server restart"); err != nil {
		slog.Warn("Failed to close interrupted runs", "error", err)
	} else if n > 0 {
		slog.Info("Closed interrupted runs", "count", n)
	}

	projectDir, err := filepath.Abs(cfg.ProjectDir)
	if err != nil {
		log.Fatalf("Failed to resolve project directory: %v", err)
	}

	builderOpts := []pipeline.Option{
		pipeline.WithRunStore(runRepo),
		pipeline.WithOutcome(func(o pipeline.Outcome) {
			if o.Err != nil {
				slog.Error("Project build failed", "run_id", o.RunID, "error", o.Err)
				return
			}
			slog.Info("Project build ended", "run_id", o.RunID, "finished", o.Finished, "project", o.ProjectPath)
		}),
	}

	var (
		finder      service.SimilarFinder
		vectorProbe handlers.VectorPinger
	)
	if cfg.QdrantURL != "" {
		vectorStore, err := vectorstore.NewQdrantStore(vectorstore.QdrantOptions{
			URL:    cfg.QdrantURL,
			APIKey: cfg.QdrantAPIKey,
		})
		if err != nil {
			log.Fatalf("Failed to create Qdrant client: %v", err)
		}
		defer func() {
			_ = vectorStore.Close()
		}()

		if err := vectorStore.EnsureCollection(ctx, cfg.QdrantCollection, cfg.QdrantVectorSize); err != nil {
			log.Fatalf("Failed to ensure Qdrant collection: %v", err)
		}
		slog.Info("Qdrant collection ready", "collection", cfg.QdrantCollection, "vector_size", cfg.QdrantVectorSize)

		index := vectorstore.NewImageIndex(vectorStore, cfg.QdrantCollection, cfg.QdrantVectorSize)
		builderOpts = append(builderOpts, pipeline.WithIndexer(index))
		finder = index
		vectorProbe = vectorStore
	} else {
		slog.Info("Image index disabled, QDRANT_URL not set")
	}

	embedder := inference.NewEmbeddingClient(cfg.ModelBaseURL, cfg.ModelAPIKey, cfg.EmbeddingModel)
	segmenter := inference.NewSegmentationClient(cfg.SegmentationBaseURL, cfg.ModelAPIKey, cfg.SegmentationModel)
	builder := pipeline.NewBuilder(embedder, segmenter, projectDir, builderOpts...)
	slog.Info("Project builder ready", "project_dir", projectDir, "model_base_url", cfg.ModelBaseURL)

	projectService := service.NewProjectService(builder, runRepo, finder)

	router := http.NewRouter(&http.Deps{
		ProjectService:    projectService,
		DefaultThresholds: cfg.DefaultThresholds,
		DB:                db,
		VectorStore:       vectorProbe,
		ProjectDir:        projectDir,
	})

	server := &nethttp.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("API server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
	}
	if builder.Cancel() {
		slog.Info("Cancelled running project build")
	}
	if err := builder.Wait(shutdownCtx); err != nil {
		slog.Warn("Project build did not stop in time", "error", err)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
