package store

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pageq/pageq/pkg/schema"
)

// Page is one page's extraction record. Pages only exist for queued-mode
// jobs.
type Page struct {
	JobID         uuid.UUID         `json:"job_id"`
	PageNumber    int               `json:"page_number"`
	Status        schema.PageStatus `json:"status"`
	ExtractedText *string           `json:"extracted_text,omitempty"`
	ErrorMessage  *string           `json:"error_message,omitempty"`
}

// PageCounts breaks a job's pages down by status.
type PageCounts struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// Outstanding reports how many pages have not reached a terminal state.
func (c PageCounts) Outstanding() int { return c.Pending + c.Processing }

// Pages is the page-row contract consumed by the queue producer and the
// bounded worker.
type Pages interface {
	// BulkInsert creates rows 1..totalPages as pending in one atomic
	// statement; a failure leaves no partial page set behind.
	BulkInsert(ctx context.Context, jobID uuid.UUID, totalPages int) error
	MarkProcessing(ctx context.Context, jobID uuid.UUID, pageNumber int) error
	// MarkFailed is terminal for the page. It never demotes a page that
	// already completed, which matters when an expired lease hands the
	// same message to two workers.
	MarkFailed(ctx context.Context, jobID uuid.UUID, pageNumber int, message string) error
	// CommitText atomically stores a page's text, marks it completed and
	// bumps the job's processed_pages counter, in a single transaction.
	// A page already in a terminal state is left untouched: re-committing
	// a completed page is a no-op, and a late commit from a stalled worker
	// whose lease expired cannot revive a page another worker failed. So
	// at-least-once redelivery can never produce two different completed
	// texts, a double-counted page, or a reversed terminal transition.
	CommitText(ctx context.Context, jobID uuid.UUID, pageNumber int, text string) error
	StatusCounts(ctx context.Context, jobID uuid.UUID) (PageCounts, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*Page, error)
	// CompletedTexts returns the extracted text of completed pages in
	// ascending page order.
	CompletedTexts(ctx context.Context, jobID uuid.UUID) ([]string, error)
}

type pageRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPages(pool *pgxpool.Pool, log *slog.Logger) Pages {
	return &pageRepo{pool: pool, log: log}
}

func (r *pageRepo) BulkInsert(ctx context.Context, jobID uuid.UUID, totalPages int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pdf_pages (job_id, page_number, status)
		SELECT $1, n, $3 FROM generate_series(1, $2) AS n`,
		jobID, totalPages, schema.PagePending)
	if err != nil {
		r.log.Error("page bulk insert failed", "job_id", jobID, "total_pages", totalPages, "err", err)
		return err
	}
	r.log.Info("page rows created", "job_id", jobID, "total_pages", totalPages)
	return nil
}

func (r *pageRepo) MarkProcessing(ctx context.Context, jobID uuid.UUID, pageNumber int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pdf_pages SET status = $3
		WHERE job_id = $1 AND page_number = $2 AND status NOT IN ($4, $5)`,
		jobID, pageNumber, schema.PageProcessing, schema.PageCompleted, schema.PageFailed)
	if err != nil {
		r.log.Error("page mark processing failed", "job_id", jobID, "page", pageNumber, "err", err)
	}
	return err
}

func (r *pageRepo) MarkFailed(ctx context.Context, jobID uuid.UUID, pageNumber int, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pdf_pages SET status = $3, error_message = $4
		WHERE job_id = $1 AND page_number = $2 AND status <> $5`,
		jobID, pageNumber, schema.PageFailed, message, schema.PageCompleted)
	if err != nil {
		r.log.Error("page mark failed write failed", "job_id", jobID, "page", pageNumber, "err", err)
		return err
	}
	r.log.Warn("page failed", "job_id", jobID, "page", pageNumber, "error", message)
	return nil
}

func (r *pageRepo) CommitText(ctx context.Context, jobID uuid.UUID, pageNumber int, text string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE pdf_pages SET status = $3, extracted_text = $4, error_message = NULL
		WHERE job_id = $1 AND page_number = $2 AND status NOT IN ($3, $5)`,
		jobID, pageNumber, schema.PageCompleted, text, schema.PageFailed)
	if err != nil {
		r.log.Error("page commit failed", "job_id", jobID, "page", pageNumber, "err", err)
		return err
	}

	if tag.RowsAffected() == 1 {
		if _, err := tx.Exec(ctx, `
			UPDATE pdf_parsing_jobs
			SET processed_pages = processed_pages + 1, updated_at = now()
			WHERE id = $1`, jobID); err != nil {
			r.log.Error("processed_pages bump failed", "job_id", jobID, "page", pageNumber, "err", err)
			return err
		}
	} else {
		r.log.Debug("page already terminal, skipping commit", "job_id", jobID, "page", pageNumber)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	r.log.Info("page committed", "job_id", jobID, "page", pageNumber, "text_len", len(text))
	return nil
}

func (r *pageRepo) StatusCounts(ctx context.Context, jobID uuid.UUID) (PageCounts, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM pdf_pages WHERE job_id = $1 GROUP BY status`, jobID)
	if err != nil {
		return PageCounts{}, err
	}
	defer rows.Close()

	var counts PageCounts
	for rows.Next() {
		var (
			status schema.PageStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return PageCounts{}, err
		}
		switch status {
		case schema.PagePending:
			counts.Pending = n
		case schema.PageProcessing:
			counts.Processing = n
		case schema.PageCompleted:
			counts.Completed = n
		case schema.PageFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

func (r *pageRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*Page, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT job_id, page_number, status, extracted_text, error_message
		FROM pdf_pages WHERE job_id = $1 ORDER BY page_number`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.JobID, &p.PageNumber, &p.Status, &p.ExtractedText, &p.ErrorMessage); err != nil {
			return nil, err
		}
		pages = append(pages, &p)
	}
	return pages, rows.Err()
}

func (r *pageRepo) CompletedTexts(ctx context.Context, jobID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(extracted_text, '') FROM pdf_pages
		WHERE job_id = $1 AND status = $2 ORDER BY page_number`,
		jobID, schema.PageCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		texts = append(texts, t)
	}
	return texts, rows.Err()
}
