package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pageq/pageq/pkg/schema"
)

// Job is one user-submitted document's end-to-end extraction record.
type Job struct {
	ID             uuid.UUID             `json:"id"`
	FileName       string                `json:"file_name"`
	FilePath       string                `json:"file_path"`
	FileSize       int64                 `json:"file_size"`
	Status         schema.JobStatus      `json:"status"`
	TotalPages     *int                  `json:"total_pages,omitempty"`
	ProcessedPages int                   `json:"processed_pages"`
	ParsedContent  *schema.ParsedContent `json:"parsed_content,omitempty"`
	ExtractedText  *string               `json:"extracted_text,omitempty"`
	ErrorMessage   *string               `json:"error_message,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Jobs is the job-row contract consumed by the dispatcher, the inline
// processor, and the bounded worker.
type Jobs interface {
	Create(ctx context.Context, fileName, filePath string, fileSize int64) (*Job, error)
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	List(ctx context.Context, status schema.JobStatus, limit int) ([]*Job, error)

	// UpdateIntake records the probed page count and the chosen execution
	// strategy, resetting progress.
	UpdateIntake(ctx context.Context, id uuid.UUID, totalPages int, status schema.JobStatus) error
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	// SetProgress checkpoints processed_pages; the counter never moves
	// backwards.
	SetProgress(ctx context.Context, id uuid.UUID, processed int) error
	// Complete is the authoritative terminal write. It only applies to a
	// live job and reports whether this caller performed the transition,
	// so concurrent finalizers cannot both win.
	Complete(ctx context.Context, id uuid.UUID, totalPages, processedPages int, parsed schema.ParsedContent) (bool, error)
	// SetExtractedText stores the full concatenated text. Best-effort: a
	// failure here leaves the job completed.
	SetExtractedText(ctx context.Context, id uuid.UUID, text string) error
	Fail(ctx context.Context, id uuid.UUID, message string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type jobRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewJobs(pool *pgxpool.Pool, log *slog.Logger) Jobs {
	return &jobRepo{pool: pool, log: log}
}

const jobColumns = `id, file_name, file_path, COALESCE(file_size, 0), status, total_pages,
	processed_pages, parsed_content, extracted_text, error_message, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j      Job
		parsed []byte
	)
	err := row.Scan(&j.ID, &j.FileName, &j.FilePath, &j.FileSize, &j.Status, &j.TotalPages,
		&j.ProcessedPages, &parsed, &j.ExtractedText, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(parsed) > 0 {
		var pc schema.ParsedContent
		if err := json.Unmarshal(parsed, &pc); err != nil {
			return nil, fmt.Errorf("decode parsed_content: %w", err)
		}
		j.ParsedContent = &pc
	}
	return &j, nil
}

func (r *jobRepo) Create(ctx context.Context, fileName, filePath string, fileSize int64) (*Job, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO pdf_parsing_jobs (file_name, file_path, file_size, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+jobColumns,
		fileName, filePath, fileSize, schema.JobPending)
	job, err := scanJob(row)
	if err != nil {
		r.log.Error("job create failed", "file_name", fileName, "err", err)
		return nil, err
	}
	r.log.Info("job created", "job_id", job.ID, "file_name", fileName, "file_size", fileSize)
	return job, nil
}

func (r *jobRepo) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM pdf_parsing_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (r *jobRepo) List(ctx context.Context, status schema.JobStatus, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM pdf_parsing_jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *jobRepo) UpdateIntake(ctx context.Context, id uuid.UUID, totalPages int, status schema.JobStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pdf_parsing_jobs
		SET total_pages = $2, processed_pages = 0, status = $3, updated_at = now()
		WHERE id = $1`,
		id, totalPages, status)
	if err != nil {
		r.log.Error("job intake update failed", "job_id", id, "err", err)
		return err
	}
	r.log.Info("job intake recorded", "job_id", id, "total_pages", totalPages, "status", status)
	return nil
}

func (r *jobRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pdf_parsing_jobs
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ($3, $4)`,
		id, schema.JobProcessing, schema.JobCompleted, schema.JobFailed)
	if err != nil {
		r.log.Error("job mark processing failed", "job_id", id, "err", err)
	}
	return err
}

func (r *jobRepo) SetProgress(ctx context.Context, id uuid.UUID, processed int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pdf_parsing_jobs
		SET processed_pages = GREATEST(processed_pages, $2), updated_at = now()
		WHERE id = $1`,
		id, processed)
	if err != nil {
		r.log.Error("job progress checkpoint failed", "job_id", id, "processed", processed, "err", err)
	}
	return err
}

func (r *jobRepo) Complete(ctx context.Context, id uuid.UUID, totalPages, processedPages int, parsed schema.ParsedContent) (bool, error) {
	body, err := json.Marshal(parsed)
	if err != nil {
		return false, fmt.Errorf("encode parsed_content: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE pdf_parsing_jobs
		SET status = $2, total_pages = $3,
		    processed_pages = GREATEST(processed_pages, $4),
		    parsed_content = $5, updated_at = now()
		WHERE id = $1 AND status NOT IN ($6, $7)`,
		id, schema.JobCompleted, totalPages, processedPages, body,
		schema.JobCompleted, schema.JobFailed)
	if err != nil {
		r.log.Error("job complete write failed", "job_id", id, "err", err)
		return false, err
	}
	won := tag.RowsAffected() == 1
	if won {
		r.log.Info("job completed", "job_id", id, "total_pages", totalPages, "processed_pages", processedPages)
	}
	return won, nil
}

func (r *jobRepo) SetExtractedText(ctx context.Context, id uuid.UUID, text string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pdf_parsing_jobs
		SET extracted_text = $2, updated_at = now()
		WHERE id = $1`,
		id, text)
	if err != nil {
		r.log.Error("extracted text write failed", "job_id", id, "text_len", len(text), "err", err)
	}
	return err
}

func (r *jobRepo) Fail(ctx context.Context, id uuid.UUID, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pdf_parsing_jobs
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status <> $4`,
		id, schema.JobFailed, message, schema.JobCompleted)
	if err != nil {
		r.log.Error("job fail write failed", "job_id", id, "err", err)
		return err
	}
	r.log.Warn("job failed", "job_id", id, "error", message)
	return nil
}

func (r *jobRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM pdf_parsing_jobs WHERE id = $1`, id)
	if err != nil {
		r.log.Error("job delete failed", "job_id", id, "err", err)
	}
	return err
}
