// Package store persists job and page rows in Postgres. Repositories are
// small interfaces over hand-written SQL; every state transition is a
// single observable row update.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// Open creates a pgx pool for the state store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database config", "err", err)
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "pageq"

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		return nil, err
	}

	logger.Info("connected to database")
	return pool, nil
}

// HealthCheck pings the store to catch DSN issues early.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return pool.Ping(ctx)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS pdf_parsing_jobs (
	id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	file_name       TEXT NOT NULL,
	file_path       TEXT NOT NULL,
	file_size       BIGINT,
	status          TEXT NOT NULL DEFAULT 'pending',
	total_pages     INTEGER,
	processed_pages INTEGER NOT NULL DEFAULT 0,
	parsed_content  JSONB,
	extracted_text  TEXT,
	error_message   TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON pdf_parsing_jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON pdf_parsing_jobs (created_at DESC);

CREATE TABLE IF NOT EXISTS pdf_pages (
	job_id         UUID NOT NULL REFERENCES pdf_parsing_jobs(id) ON DELETE CASCADE,
	page_number    INTEGER NOT NULL CHECK (page_number >= 1),
	status         TEXT NOT NULL DEFAULT 'pending',
	extracted_text TEXT,
	error_message  TEXT,
	PRIMARY KEY (job_id, page_number)
);

CREATE INDEX IF NOT EXISTS idx_pages_status ON pdf_pages (job_id, status);
`

// EnsureSchema creates the job and page tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaDDL)
	return err
}
