package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/facegroups/internal/api"
	"github.com/your-org/facegroups/internal/api/handlers"
	"github.com/your-org/facegroups/internal/api/ws"
	"github.com/your-org/facegroups/internal/clustering"
	"github.com/your-org/facegroups/internal/config"
	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/observability"
	"github.com/your-org/facegroups/internal/queue"
	"github.com/your-org/facegroups/internal/runlock"
	"github.com/your-org/facegroups/internal/storage"
	"github.com/your-org/facegroups/internal/thumbnail"
	"github.com/your-org/facegroups/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facegroups API service", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Run locks
	locker, err := runlock.New(cfg.Redis)
	if err != nil {
		slog.Error("connect to redis", "error", err)
		os.Exit(1)
	}

	checks := map[string]handlers.Check{
		"postgres": db.Ping,
		"minio":    minioStore.Ping,
		"nats":     func(context.Context) error { return producer.Ping() },
	}
	if rl, ok := locker.(*runlock.RedisLocker); ok {
		defer rl.Close()
		checks["redis"] = rl.Ping
	}

	// Face extraction is needed for thumbnails and batch rebuilds.
	extractor, closer, err := vision.Load(cfg.Vision)
	if err != nil {
		slog.Error("load face extractor", "backend", cfg.Vision.Backend, "error", err)
		os.Exit(1)
	}
	defer closer.Close()

	thumbs := thumbnail.NewCache(minioStore, extractor, cfg.Thumbnails)
	engine := clustering.NewEngine(db, minioStore, extractor, thumbs, cfg.Clustering)

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Forward face events to connected owners
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeEvents(ctx, "api-events", func(ctx context.Context, ev models.FaceEvent) error {
		hub.Broadcast(ev)
		return nil
	})
	if err != nil {
		slog.Warn("start event consumer", "error", err)
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		JWTSecret:      cfg.Server.JWTSecret,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		Store:          db,
		Blobs:          minioStore,
		Thumbnails:     thumbs,
		Queue:          producer,
		Events:         producer,
		Engine:         engine,
		Locker:         locker,
		Hub:            hub,
		Checks:         checks,
	})

	// Batch rebuilds run inside the request, so writes get a long deadline.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
