// cmd/server/main.go
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/pageq/pageq/internal/blob"
	"github.com/pageq/pageq/internal/bus"
	"github.com/pageq/pageq/internal/config"
	"github.com/pageq/pageq/internal/dispatch"
	"github.com/pageq/pageq/internal/inline"
	"github.com/pageq/pageq/internal/pdf"
	"github.com/pageq/pageq/internal/queue"
	"github.com/pageq/pageq/internal/store"
	"github.com/pageq/pageq/internal/ws"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("server starting",
		"http_addr", cfg.HTTPAddr,
		"nats_url", cfg.NATSURL,
		"queue", cfg.Queue.Name,
		"inline_threshold", cfg.InlineThreshold,
		"bucket", cfg.Blob.Bucket)

	ctx := context.Background()

	pool, err := store.Open(ctx, store.Config{DSN: cfg.DatabaseURL}, logger)
	if err != nil {
		fatal(logger, "open database", err)
	}
	defer pool.Close()
	if err := store.HealthCheck(ctx, pool, 5*time.Second); err != nil {
		fatal(logger, "ping database", err)
	}
	if err := store.EnsureSchema(ctx, pool); err != nil {
		fatal(logger, "ensure schema", err)
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
	subjects := bus.Subjects{Jobs: cfg.SubjectJobs, Pages: cfg.SubjectPages, Worker: cfg.SubjectWorker}
	notifier := bus.NewNotifier(nc, subjects, logger.With("component", "notifier"))

	processor := inline.New(jobs, blobStore, pdf.Open, notifier, cfg.CheckpointEvery,
		logger.With("component", "inline"))

	// The inline trigger is fire-and-forget: the dispatcher's own state
	// writes never depend on it, and the run gets a fresh context because
	// it outlives the upload request.
	trigger := func(jobID uuid.UUID) {
		go func() {
			if err := processor.Process(context.Background(), jobID); err != nil {
				logger.Error("inline processing failed", "job_id", jobID, "err", err)
			}
		}()
	}

	dispatcher := dispatch.New(jobs, pages, q, pdf.PageCount, trigger, notifier,
		cfg.InlineThreshold, logger.With("component", "dispatch"))

	hub := ws.NewHub(logger.With("component", "ws"))
	if err := relayEvents(nc, subjects, hub, logger); err != nil {
		fatal(logger, "subscribe to events", err)
	}

	srv := &server{
		cfg:        cfg,
		jobs:       jobs,
		pages:      pages,
		blob:       blobStore,
		dispatcher: dispatcher,
		notifier:   notifier,
		hub:        hub,
		log:        logger.With("component", "http"),
	}

	r := chi.NewRouter()
	r.Post("/jobs", srv.handleUpload)
	r.Get("/jobs", srv.handleListJobs)
	r.Get("/jobs/{id}", srv.handleGetJob)
	r.Get("/jobs/{id}/pages", srv.handleListPages)
	r.Delete("/jobs/{id}", srv.handleDeleteJob)
	r.Get("/ws", srv.handleWS)
	r.Get("/healthz", srv.handleHealth(pool))

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "http server", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}
}

// relayEvents forwards bus events to connected websocket observers,
// wrapped in an envelope naming the stream they came from.
func relayEvents(nc *bus.Client, subjects bus.Subjects, hub *ws.Hub, logger *slog.Logger) error {
	for _, subject := range []string{subjects.Jobs, subjects.Pages, subjects.Worker} {
		subject := subject
		_, err := nc.SubscribeJSON(subject, func(_ context.Context, data []byte) {
			hub.Broadcast(envelope(subject, data))
		})
		if err != nil {
			return err
		}
		logger.Info("relaying events", "subject", subject)
	}
	return nil
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
