// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything both binaries need. Fields unused by one
// binary are simply ignored by it.
type Config struct {
	DatabaseURL string
	NATSURL     string
	HTTPAddr    string

	Blob  BlobConfig
	Queue QueueConfig

	// Intake and processing budgets.
	InlineThreshold int           // page count at which queued mode takes over
	CheckpointEvery int           // inline progress write cadence, in pages
	MaxUploadBytes  int64         // upload size cap
	MaxWallTime     time.Duration // per worker invocation
	MaxPagesPerRun  int           // per worker invocation
	MessageLease    time.Duration // queue visibility timeout
	PollInterval    time.Duration // pause between worker invocations

	SubjectJobs   string
	SubjectPages  string
	SubjectWorker string
}

// BlobConfig holds the S3-compatible storage settings.
type BlobConfig struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// QueueConfig holds the pgmq settings.
type QueueConfig struct {
	Name string
}

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL: getenv("DATABASE_URL", ""),
		NATSURL:     getenv("NATS_URL", "nats://127.0.0.1:4222"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		Blob: BlobConfig{
			Bucket:       getenv("BLOB_BUCKET", "pdf-uploads"),
			Region:       getenv("BLOB_REGION", "us-east-1"),
			Endpoint:     getenv("BLOB_ENDPOINT", ""),
			AccessKey:    getenv("BLOB_ACCESS_KEY", ""),
			SecretKey:    getenv("BLOB_SECRET_KEY", ""),
			UsePathStyle: getenvBool("BLOB_USE_PATH_STYLE", true),
		},
		Queue: QueueConfig{
			Name: getenv("QUEUE_NAME", "pdf_page_queue"),
		},
		SubjectJobs:   getenv("SUBJECT_JOBS", "pdf.jobs.updated"),
		SubjectPages:  getenv("SUBJECT_PAGES", "pdf.pages.updated"),
		SubjectWorker: getenv("SUBJECT_WORKER", "pdf.worker.report"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.InlineThreshold, err = getenvInt("INLINE_THRESHOLD", 125); err != nil {
		return Config{}, err
	}
	if cfg.CheckpointEvery, err = getenvInt("CHECKPOINT_EVERY", 10); err != nil {
		return Config{}, err
	}
	maxUpload, err := getenvInt("MAX_UPLOAD_MB", 50)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadBytes = int64(maxUpload) << 20
	if cfg.MaxPagesPerRun, err = getenvInt("WORKER_MAX_PAGES", 30); err != nil {
		return Config{}, err
	}
	if cfg.MaxWallTime, err = getenvDuration("WORKER_MAX_WALL_TIME", 130*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MessageLease, err = getenvDuration("QUEUE_LEASE", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = getenvDuration("WORKER_POLL_INTERVAL", 5*time.Second); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	return v == "true"
}

func getenvInt(k string, d int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", k, n)
	}
	return n, nil
}

func getenvDuration(k string, d time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %v)", k, dur)
	}
	return dur, nil
}
