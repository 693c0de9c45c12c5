// cmd/worker/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pageq/pageq/internal/blob"
	"github.com/pageq/pageq/internal/bus"
	"github.com/pageq/pageq/internal/config"
	"github.com/pageq/pageq/internal/pdf"
	"github.com/pageq/pageq/internal/queue"
	"github.com/pageq/pageq/internal/store"
	"github.com/pageq/pageq/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("worker starting",
		"queue", cfg.Queue.Name,
		"max_wall_time", cfg.MaxWallTime,
		"max_pages", cfg.MaxPagesPerRun,
		"lease", cfg.MessageLease,
		"poll_interval", cfg.PollInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Open(ctx, store.Config{DSN: cfg.DatabaseURL}, logger)
	if err != nil {
		fatal(logger, "open database", err)
	}
	defer pool.Close()
	if err := store.HealthCheck(ctx, pool, 5*time.Second); err != nil {
		fatal(logger, "ping database", err)
	}

	jobs := store.NewJobs(pool, logger.With("component", "jobs"))
	pages := store.NewPages(pool, logger.With("component", "pages"))

	q := queue.NewPGMQ(pool, cfg.Queue.Name, logger.With("component", "queue"))
	if err := q.Ensure(ctx); err != nil {
		fatal(logger, "ensure queue", err)
	}

	blobStore, err := blob.NewS3(ctx, blob.Config{
		Bucket:       cfg.Blob.Bucket,
		Region:       cfg.Blob.Region,
		Endpoint:     cfg.Blob.Endpoint,
		AccessKey:    cfg.Blob.AccessKey,
		SecretKey:    cfg.Blob.SecretKey,
		UsePathStyle: cfg.Blob.UsePathStyle,
	}, logger.With("component", "blob"))
	if err != nil {
		fatal(logger, "init blob store", err)
	}

	nc, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		fatal(logger, "connect to NATS", err)
	}
	defer nc.Close()
	notifier := bus.NewNotifier(nc, bus.Subjects{
		Jobs:   cfg.SubjectJobs,
		Pages:  cfg.SubjectPages,
		Worker: cfg.SubjectWorker,
	}, logger.With("component", "notifier"))

	wcfg := worker.Config{
		MaxWallTime: cfg.MaxWallTime,
		MaxPages:    cfg.MaxPagesPerRun,
		Lease:       cfg.MessageLease,
	}

	// Each tick is one bounded invocation with its own worker and its own
	// document cache; nothing survives from one invocation to the next.
	for {
		w := worker.New(jobs, pages, q, blobStore, pdf.Open, notifier, wcfg,
			logger.With("component", "worker"))
		res, err := w.Run(ctx)
		if err != nil {
			logger.Error("invocation failed", "err", err)
		}
		notifier.WorkerReport(res.PagesDone, res.PagesSkipped, res.Elapsed)

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-time.After(cfg.PollInterval):
		}
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
