package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facegroups/internal/clustering"
	"github.com/your-org/facegroups/internal/config"
	"github.com/your-org/facegroups/internal/ingest"
	"github.com/your-org/facegroups/internal/observability"
	"github.com/your-org/facegroups/internal/queue"
	"github.com/your-org/facegroups/internal/runlock"
	"github.com/your-org/facegroups/internal/scheduler"
	"github.com/your-org/facegroups/internal/storage"
	"github.com/your-org/facegroups/internal/thumbnail"
	"github.com/your-org/facegroups/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsAddr := flag.String("metrics-addr", ":8082", "address for /metrics and /healthz")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facegroups worker",
		"workers", cfg.Vision.WorkerCount,
		"backend", cfg.Vision.Backend,
		"cpu_cores", runtime.NumCPU(),
	)

	// Face extractor
	extractor, closer, err := vision.Load(cfg.Vision)
	if err != nil {
		slog.Error("load face extractor", "error", err)
		os.Exit(1)
	}
	defer closer.Close()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	locker, err := runlock.New(cfg.Redis)
	if err != nil {
		slog.Error("connect to redis", "error", err)
		os.Exit(1)
	}
	if rl, ok := locker.(*runlock.RedisLocker); ok {
		defer rl.Close()
	} else if cfg.SweepWithoutSharedLocks() {
		slog.Warn("clustering sweep runs without redis; it can overlap runs started through the API",
			"sweep_cron", cfg.Clustering.SweepCron)
	} else {
		slog.Warn("redis not configured, clustering locks are process-local")
	}

	indexer := ingest.NewIndexer(db, minioStore, extractor, producer)
	slog.Info("face indexer initialized")

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming ingest tasks
	if err := consumer.ConsumeIngest(ctx, "face-indexers", indexer.Process, cfg.Vision.WorkerCount); err != nil {
		slog.Error("start ingest consumer", "error", err)
		os.Exit(1)
	}

	// Periodic incremental clustering
	var sweeper *scheduler.Sweeper
	if cfg.Clustering.SweepCron != "" {
		thumbs := thumbnail.NewCache(minioStore, extractor, cfg.Thumbnails)
		engine := clustering.NewEngine(db, minioStore, extractor, thumbs, cfg.Clustering)
		sweeper = scheduler.NewSweeper(db, engine, locker, producer)
		if err := sweeper.Start(ctx, cfg.Clustering.SweepCron); err != nil {
			slog.Error("start clustering sweep", "error", err)
			os.Exit(1)
		}
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	if sweeper != nil {
		sweeper.Stop()
	}
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
