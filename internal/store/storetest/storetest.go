// Package storetest provides in-memory implementations of the store
// repositories for tests, mirroring the SQL implementations' transition
// guards and idempotency rules.
package storetest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pageq/pageq/internal/store"
	"github.com/pageq/pageq/pkg/schema"
)

// ErrNotFound is returned for lookups of unknown rows.
var ErrNotFound = errors.New("not found")

// Jobs is an in-memory store.Jobs. Error fields, when set, are returned
// by the corresponding method before any state change.
type Jobs struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*store.Job

	ErrGet         error
	ErrIntake      error
	ErrProgress    error
	ErrComplete    error
	ErrSetText     error
	ErrFail        error
	ErrMarkRunning error

	// Checkpoints records every SetProgress value in call order.
	Checkpoints []int
}

func NewJobs() *Jobs {
	return &Jobs{rows: make(map[uuid.UUID]*store.Job)}
}

// Seed inserts a job row directly.
func (f *Jobs) Seed(job *store.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[job.ID] = job
}

// Row returns the live row for assertions.
func (f *Jobs) Row(id uuid.UUID) *store.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

func (f *Jobs) Create(ctx context.Context, fileName, filePath string, fileSize int64) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := &store.Job{
		ID:       uuid.New(),
		FileName: fileName,
		FilePath: filePath,
		FileSize: fileSize,
		Status:   schema.JobPending,
	}
	f.rows[job.ID] = job
	return job, nil
}

func (f *Jobs) Get(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	if f.ErrGet != nil {
		return nil, f.ErrGet
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

func (f *Jobs) List(ctx context.Context, status schema.JobStatus, limit int) ([]*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []*store.Job
	for _, j := range f.rows {
		if status == "" || j.Status == status {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (f *Jobs) UpdateIntake(ctx context.Context, id uuid.UUID, totalPages int, status schema.JobStatus) error {
	if f.ErrIntake != nil {
		return f.ErrIntake
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok {
		return ErrNotFound
	}
	j.TotalPages = &totalPages
	j.ProcessedPages = 0
	j.Status = status
	return nil
}

func (f *Jobs) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	if f.ErrMarkRunning != nil {
		return f.ErrMarkRunning
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok {
		return ErrNotFound
	}
	if !j.Status.Terminal() {
		j.Status = schema.JobProcessing
	}
	return nil
}

func (f *Jobs) SetProgress(ctx context.Context, id uuid.UUID, processed int) error {
	if f.ErrProgress != nil {
		return f.ErrProgress
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok {
		return ErrNotFound
	}
	if processed > j.ProcessedPages {
		j.ProcessedPages = processed
	}
	f.Checkpoints = append(f.Checkpoints, processed)
	return nil
}

func (f *Jobs) Complete(ctx context.Context, id uuid.UUID, totalPages, processedPages int, parsed schema.ParsedContent) (bool, error) {
	if f.ErrComplete != nil {
		return false, f.ErrComplete
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.Status.Terminal() {
		return false, nil
	}
	j.Status = schema.JobCompleted
	j.TotalPages = &totalPages
	if processedPages > j.ProcessedPages {
		j.ProcessedPages = processedPages
	}
	pc := parsed
	j.ParsedContent = &pc
	return true, nil
}

func (f *Jobs) SetExtractedText(ctx context.Context, id uuid.UUID, text string) error {
	if f.ErrSetText != nil {
		return f.ErrSetText
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok {
		return ErrNotFound
	}
	j.ExtractedText = &text
	return nil
}

func (f *Jobs) Fail(ctx context.Context, id uuid.UUID, message string) error {
	if f.ErrFail != nil {
		return f.ErrFail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status == schema.JobCompleted {
		return nil
	}
	j.Status = schema.JobFailed
	j.ErrorMessage = &message
	return nil
}

func (f *Jobs) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

type pageKey struct {
	jobID uuid.UUID
	page  int
}

// Pages is an in-memory store.Pages. When bound to a Jobs fake, CommitText
// bumps the job's processed_pages exactly like the SQL transaction does.
type Pages struct {
	mu   sync.Mutex
	rows map[pageKey]*store.Page
	jobs *Jobs

	ErrBulkInsert     error
	ErrMarkProcessing error
	ErrMarkFailed     error
	ErrCommit         error
	ErrCounts         error
}

func NewPages(jobs *Jobs) *Pages {
	return &Pages{rows: make(map[pageKey]*store.Page), jobs: jobs}
}

// Row returns the live page row for assertions.
func (f *Pages) Row(jobID uuid.UUID, page int) *store.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[pageKey{jobID, page}]
}

func (f *Pages) BulkInsert(ctx context.Context, jobID uuid.UUID, totalPages int) error {
	if f.ErrBulkInsert != nil {
		return f.ErrBulkInsert
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for n := 1; n <= totalPages; n++ {
		f.rows[pageKey{jobID, n}] = &store.Page{
			JobID:      jobID,
			PageNumber: n,
			Status:     schema.PagePending,
		}
	}
	return nil
}

func (f *Pages) MarkProcessing(ctx context.Context, jobID uuid.UUID, pageNumber int) error {
	if f.ErrMarkProcessing != nil {
		return f.ErrMarkProcessing
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[pageKey{jobID, pageNumber}]
	if !ok {
		return ErrNotFound
	}
	if p.Status == schema.PagePending || p.Status == schema.PageProcessing {
		p.Status = schema.PageProcessing
	}
	return nil
}

func (f *Pages) MarkFailed(ctx context.Context, jobID uuid.UUID, pageNumber int, message string) error {
	if f.ErrMarkFailed != nil {
		return f.ErrMarkFailed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[pageKey{jobID, pageNumber}]
	if !ok {
		return ErrNotFound
	}
	if p.Status != schema.PageCompleted {
		p.Status = schema.PageFailed
		p.ErrorMessage = &message
	}
	return nil
}

func (f *Pages) CommitText(ctx context.Context, jobID uuid.UUID, pageNumber int, text string) error {
	if f.ErrCommit != nil {
		return f.ErrCommit
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[pageKey{jobID, pageNumber}]
	if !ok {
		return ErrNotFound
	}
	if p.Status == schema.PageCompleted || p.Status == schema.PageFailed {
		return nil
	}
	p.Status = schema.PageCompleted
	p.ExtractedText = &text
	p.ErrorMessage = nil
	if f.jobs != nil {
		f.jobs.mu.Lock()
		if j, ok := f.jobs.rows[jobID]; ok {
			j.ProcessedPages++
		}
		f.jobs.mu.Unlock()
	}
	return nil
}

func (f *Pages) StatusCounts(ctx context.Context, jobID uuid.UUID) (store.PageCounts, error) {
	if f.ErrCounts != nil {
		return store.PageCounts{}, f.ErrCounts
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var counts store.PageCounts
	for k, p := range f.rows {
		if k.jobID != jobID {
			continue
		}
		switch p.Status {
		case schema.PagePending:
			counts.Pending++
		case schema.PageProcessing:
			counts.Processing++
		case schema.PageCompleted:
			counts.Completed++
		case schema.PageFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (f *Pages) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pages []*store.Page
	for k, p := range f.rows {
		if k.jobID == jobID {
			pages = append(pages, p)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	return pages, nil
}

func (f *Pages) CompletedTexts(ctx context.Context, jobID uuid.UUID) ([]string, error) {
	pages, err := f.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var texts []string
	for _, p := range pages {
		if p.Status == schema.PageCompleted && p.ExtractedText != nil {
			texts = append(texts, *p.ExtractedText)
		}
	}
	return texts, nil
}
