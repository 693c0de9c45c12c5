package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pageq")
	t.Setenv("INLINE_THRESHOLD", "")
	t.Setenv("WORKER_MAX_PAGES", "")
	t.Setenv("WORKER_MAX_WALL_TIME", "")
	t.Setenv("QUEUE_LEASE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.NATSURL != "nats://127.0.0.1:4222" {
		t.Fatalf("unexpected NATS URL: %s", cfg.NATSURL)
	}
	if cfg.Queue.Name != "pdf_page_queue" {
		t.Fatalf("unexpected queue name: %s", cfg.Queue.Name)
	}
	if cfg.Blob.Bucket != "pdf-uploads" {
		t.Fatalf("unexpected bucket: %s", cfg.Blob.Bucket)
	}
	if cfg.InlineThreshold != 125 {
		t.Fatalf("unexpected inline threshold: %d", cfg.InlineThreshold)
	}
	if cfg.MaxPagesPerRun != 30 {
		t.Fatalf("unexpected page budget: %d", cfg.MaxPagesPerRun)
	}
	if cfg.MaxWallTime != 130*time.Second {
		t.Fatalf("unexpected wall budget: %v", cfg.MaxWallTime)
	}
	if cfg.MessageLease != 30*time.Second {
		t.Fatalf("unexpected lease: %v", cfg.MessageLease)
	}
	if cfg.MaxUploadBytes != 50<<20 {
		t.Fatalf("unexpected upload cap: %d", cfg.MaxUploadBytes)
	}
	if cfg.CheckpointEvery != 10 {
		t.Fatalf("unexpected checkpoint cadence: %d", cfg.CheckpointEvery)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pageq")
	t.Setenv("INLINE_THRESHOLD", "200")
	t.Setenv("WORKER_MAX_WALL_TIME", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.InlineThreshold != 200 {
		t.Fatalf("override not applied: %d", cfg.InlineThreshold)
	}
	if cfg.MaxWallTime != 45*time.Second {
		t.Fatalf("override not applied: %v", cfg.MaxWallTime)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pageq")
	t.Setenv("WORKER_MAX_PAGES", "-3")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-positive page budget")
	}

	t.Setenv("WORKER_MAX_PAGES", "")
	t.Setenv("QUEUE_LEASE", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable lease")
	}
}
