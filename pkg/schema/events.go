// pkg/schema/events.go
package schema

import "github.com/google/uuid"

// JobStatus is the lifecycle state of a parsing job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// PageStatus is the lifecycle state of a single page of a queued job.
type PageStatus string

const (
	PagePending    PageStatus = "pending"
	PageProcessing PageStatus = "processing"
	PageCompleted  PageStatus = "completed"
	PageFailed     PageStatus = "failed"
)

// PageTask is the queue message for one page of a queued-mode job.
// Delivery is at-least-once and unordered; consumers must not assume
// sequential page arrival.
type PageTask struct {
	JobID      uuid.UUID `json:"job_id"`
	FilePath   string    `json:"file_path"`
	PageNumber int       `json:"page_number"`
	TotalPages int       `json:"total_pages"`
}

// ParsedContent is the summary metadata stored on a completed job.
type ParsedContent struct {
	NumPages    int `json:"num_pages"`
	TextPerPage int `json:"text_per_page"`
	PagesFailed int `json:"pages_failed,omitempty"`
}

// JobEvent is published on every observable job row update.
type JobEvent struct {
	JobID          uuid.UUID `json:"job_id"`
	FileName       string    `json:"file_name"`
	Status         JobStatus `json:"status"`
	TotalPages     int       `json:"total_pages,omitempty"`
	ProcessedPages int       `json:"processed_pages"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	HappenedAt     int64     `json:"happened_at"`
}

// PageEvent is published on every observable page row update.
type PageEvent struct {
	JobID        uuid.UUID  `json:"job_id"`
	PageNumber   int        `json:"page_number"`
	Status       PageStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	HappenedAt   int64      `json:"happened_at"`
}

// WorkerReport summarises one bounded worker invocation.
type WorkerReport struct {
	PagesDone    int   `json:"pages_done"`
	PagesSkipped int   `json:"pages_skipped"`
	RuntimeMS    int64 `json:"runtime_ms"`
	HappenedAt   int64 `json:"happened_at"`
}
