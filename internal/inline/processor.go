// Package inline processes a small document end-to-end in one continuous
// run: download once, extract every page in order, checkpoint progress,
// then finish with a two-phase write.
package inline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pageq/pageq/internal/blob"
	"github.com/pageq/pageq/internal/bus"
	"github.com/pageq/pageq/internal/faults"
	"github.com/pageq/pageq/internal/pdf"
	"github.com/pageq/pageq/internal/store"
	"github.com/pageq/pageq/pkg/schema"
)

// pageSeparator joins per-page texts into the job's extracted_text.
const pageSeparator = "\n"

type Processor struct {
	jobs            store.Jobs
	blob            blob.Downloader
	open            pdf.Opener
	notifier        *bus.Notifier
	checkpointEvery int
	log             *slog.Logger
}

func New(jobs store.Jobs, dl blob.Downloader, open pdf.Opener, notifier *bus.Notifier,
	checkpointEvery int, log *slog.Logger) *Processor {
	if checkpointEvery < 1 {
		checkpointEvery = 10
	}
	return &Processor{
		jobs:            jobs,
		blob:            dl,
		open:            open,
		notifier:        notifier,
		checkpointEvery: checkpointEvery,
		log:             log,
	}
}

// Process runs the whole document. Any error before the completed status
// write fails the job; a failure of the trailing extracted_text write is
// an accepted degraded success and leaves the job completed.
func (p *Processor) Process(ctx context.Context, jobID uuid.UUID) error {
	log := p.log.With("job_id", jobID)

	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		log.Error("job lookup failed", "err", err)
		return faults.Persistence("load job", err)
	}

	data, err := p.blob.Download(ctx, job.FilePath)
	if err != nil {
		return p.fail(ctx, jobID, fmt.Sprintf("failed to download PDF file: %v", err),
			faults.Storage("download document", err))
	}

	doc, err := p.open(data)
	if err != nil {
		return p.fail(ctx, jobID, fmt.Sprintf("failed to parse PDF: %v", err),
			faults.Metadata("parse document", err))
	}

	total := doc.PageCount()
	if err := p.jobs.UpdateIntake(ctx, jobID, total, schema.JobProcessing); err != nil {
		return p.fail(ctx, jobID, fmt.Sprintf("failed to start processing: %v", err),
			faults.Persistence("mark processing", err))
	}
	p.notifier.JobStatusChanged(jobID, schema.JobProcessing, "")
	log.Info("processing inline", "total_pages", total)

	texts := make([]string, 0, total)
	for page := 1; page <= total; page++ {
		text, err := doc.ExtractPage(page)
		if err != nil {
			return p.fail(ctx, jobID, fmt.Sprintf("failed to extract page %d: %v", page, err),
				faults.Page(fmt.Sprintf("extract page %d", page), err))
		}
		texts = append(texts, text)

		if page%p.checkpointEvery == 0 || page == total {
			// Checkpoints are observability, not correctness; a failed
			// write is logged and the run continues.
			if err := p.jobs.SetProgress(ctx, jobID, page); err != nil {
				log.Warn("progress checkpoint failed", "page", page, "err", err)
			}
			log.Debug("progress checkpoint", "processed", page, "total", total)
		}
	}

	parsed := schema.ParsedContent{NumPages: total, TextPerPage: len(texts)}
	won, err := p.jobs.Complete(ctx, jobID, total, total, parsed)
	if err != nil {
		// The completed status write is authoritative; observers key off
		// status, so failing it fails the job.
		return p.fail(ctx, jobID, fmt.Sprintf("failed to record completion: %v", err),
			faults.Persistence("complete job", err))
	}
	if !won {
		log.Warn("job already terminal, skipping completion")
		return nil
	}
	p.notifier.JobStatusChanged(jobID, schema.JobCompleted, "")

	full := strings.TrimSpace(strings.Join(texts, pageSeparator))
	if err := p.jobs.SetExtractedText(ctx, jobID, full); err != nil {
		log.Warn("extracted text write failed, job stays completed", "text_len", len(full), "err", err)
	}

	log.Info("inline job completed", "total_pages", total, "text_len", len(full))
	return nil
}

func (p *Processor) fail(ctx context.Context, jobID uuid.UUID, message string, cause error) error {
	if err := p.jobs.Fail(ctx, jobID, message); err != nil {
		p.log.Error("failed to record job failure", "job_id", jobID, "err", err)
	}
	p.notifier.JobStatusChanged(jobID, schema.JobFailed, message)
	return cause
}
