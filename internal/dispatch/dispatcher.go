// Package dispatch decides how a newly stored document is processed:
// small documents run inline in one continuous execution, large documents
// fan out into one page task per page on the work queue.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pageq/pageq/internal/bus"
	"github.com/pageq/pageq/internal/faults"
	"github.com/pageq/pageq/internal/queue"
	"github.com/pageq/pageq/internal/store"
	"github.com/pageq/pageq/pkg/schema"
)

// InlineTrigger hands a job off for inline processing out-of-band. The
// dispatcher never waits on it and its failure must not affect the
// dispatcher's own state writes.
type InlineTrigger func(jobID uuid.UUID)

// PageCounter probes a document's page count from raw bytes.
type PageCounter func(data []byte) (int, error)

type Dispatcher struct {
	jobs      store.Jobs
	pages     store.Pages
	queue     queue.Queue
	pageCount PageCounter
	inline    InlineTrigger
	notifier  *bus.Notifier
	threshold int
	log       *slog.Logger
}

func New(jobs store.Jobs, pages store.Pages, q queue.Queue, pageCount PageCounter,
	inline InlineTrigger, notifier *bus.Notifier, threshold int, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:      jobs,
		pages:     pages,
		queue:     q,
		pageCount: pageCount,
		inline:    inline,
		notifier:  notifier,
		threshold: threshold,
		log:       log,
	}
}

// Dispatch inspects the document's page count and routes the pending job
// to inline or queued processing. data holds the already-uploaded document
// bytes; only its metadata is parsed here.
func (d *Dispatcher) Dispatch(ctx context.Context, job *store.Job, data []byte) error {
	log := d.log.With("job_id", job.ID, "file_name", job.FileName)

	total, err := d.pageCount(data)
	if err != nil {
		msg := fmt.Sprintf("failed to extract PDF metadata: %v", err)
		if ferr := d.jobs.Fail(ctx, job.ID, msg); ferr != nil {
			log.Error("failed to record metadata failure", "err", ferr)
		}
		d.notifier.JobStatusChanged(job.ID, schema.JobFailed, msg)
		return faults.Metadata("probe page count", err)
	}

	if total < d.threshold {
		log.Info("dispatching inline", "total_pages", total)
		if err := d.jobs.UpdateIntake(ctx, job.ID, total, schema.JobPending); err != nil {
			return faults.Persistence("record intake", err)
		}
		d.notifier.JobStatusChanged(job.ID, schema.JobPending, "")
		// Fire and forget; a trigger failure is the trigger's to log.
		d.inline(job.ID)
		return nil
	}

	log.Info("dispatching to queue", "total_pages", total)
	if err := d.jobs.UpdateIntake(ctx, job.ID, total, schema.JobQueued); err != nil {
		return faults.Persistence("record intake", err)
	}
	if err := d.produce(ctx, job, total); err != nil {
		msg := fmt.Sprintf("failed to queue pages: %v", err)
		if ferr := d.jobs.Fail(ctx, job.ID, msg); ferr != nil {
			log.Error("failed to record produce failure", "err", ferr)
		}
		d.notifier.JobStatusChanged(job.ID, schema.JobFailed, msg)
		return err
	}
	d.notifier.JobStatusChanged(job.ID, schema.JobQueued, "")
	log.Info("job queued", "total_pages", total)
	return nil
}

// produce inserts one pending page row per page, then enqueues one task
// per page in ascending order. Page rows go in first and atomically: if
// the insert fails, no message is ever sent for the job.
func (d *Dispatcher) produce(ctx context.Context, job *store.Job, total int) error {
	if err := d.pages.BulkInsert(ctx, job.ID, total); err != nil {
		return faults.Persistence("insert page rows", err)
	}

	for page := 1; page <= total; page++ {
		task := schema.PageTask{
			JobID:      job.ID,
			FilePath:   job.FilePath,
			PageNumber: page,
			TotalPages: total,
		}
		if _, err := d.queue.Send(ctx, task); err != nil {
			return faults.Persistence(fmt.Sprintf("enqueue page %d", page), err)
		}
	}
	return nil
}
