// Package worker drives one bounded invocation of the page-extraction
// loop: drain page tasks from the work queue, extract text for one page at
// a time, commit the result, retire the message. Many invocations may run
// concurrently or sequentially; the state store and the queue are the only
// shared state.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pageq/pageq/internal/blob"
	"github.com/pageq/pageq/internal/bus"
	"github.com/pageq/pageq/internal/pdf"
	"github.com/pageq/pageq/internal/queue"
	"github.com/pageq/pageq/internal/store"
	"github.com/pageq/pageq/pkg/schema"
)

const pageSeparator = "\n"

// Config bounds a single invocation.
type Config struct {
	MaxWallTime time.Duration // hard wall-clock budget for the loop
	MaxPages    int           // max pages committed per invocation
	Lease       time.Duration // queue visibility timeout per message
}

// Result reports what one invocation did.
type Result struct {
	PagesDone    int
	PagesSkipped int
	Elapsed      time.Duration
}

type Worker struct {
	jobs     store.Jobs
	pages    store.Pages
	queue    queue.Queue
	blob     blob.Downloader
	open     pdf.Opener
	notifier *bus.Notifier
	cfg      Config
	log      *slog.Logger
}

func New(jobs store.Jobs, pages store.Pages, q queue.Queue, dl blob.Downloader,
	open pdf.Opener, notifier *bus.Notifier, cfg Config, log *slog.Logger) *Worker {
	return &Worker{
		jobs:     jobs,
		pages:    pages,
		queue:    q,
		blob:     dl,
		open:     open,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

// Run executes one bounded invocation. It never blocks waiting for new
// messages: an empty queue ends the invocation immediately. The document
// cache lives and dies with this call and is never shared across
// invocations.
func (w *Worker) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result
	docs := make(map[string]pdf.Document)

	for {
		if err := ctx.Err(); err != nil {
			break
		}
		if time.Since(start) >= w.cfg.MaxWallTime {
			w.log.Info("wall-clock budget reached", "elapsed", time.Since(start))
			break
		}
		if res.PagesDone >= w.cfg.MaxPages {
			w.log.Info("page budget reached", "pages_done", res.PagesDone)
			break
		}

		msgs, err := w.queue.Read(ctx, w.cfg.Lease, 1)
		if err != nil {
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("read queue: %w", err)
		}
		if len(msgs) == 0 {
			w.log.Debug("queue drained")
			break
		}

		msg := msgs[0]
		task := msg.Task
		log := w.log.With("job_id", task.JobID, "page", task.PageNumber, "msg_id", msg.ID)

		if err := w.processPage(ctx, task, docs, log); err != nil {
			// Page-level failure: terminal for this page, invisible to
			// every other page. The message is archived, never redelivered.
			if merr := w.pages.MarkFailed(ctx, task.JobID, task.PageNumber, err.Error()); merr != nil {
				log.Error("failed to record page failure", "err", merr)
			}
			if aerr := w.queue.Archive(ctx, msg.ID); aerr != nil {
				log.Error("failed to archive message", "err", aerr)
			}
			res.PagesSkipped++
			w.notifier.PageUpdated(task.JobID, task.PageNumber, schema.PageFailed, err.Error())
			log.Warn("page skipped", "err", err)
			w.maybeFinish(ctx, task, log)
			continue
		}

		// The result is already committed; retiring the message is what
		// stops redelivery. A crash between the two costs only a harmless
		// re-extract of an already-committed page.
		if err := w.queue.Delete(ctx, msg.ID); err != nil {
			log.Error("failed to delete message", "err", err)
		}
		res.PagesDone++
		w.notifier.PageUpdated(task.JobID, task.PageNumber, schema.PageCompleted, "")
		w.maybeFinish(ctx, task, log)
	}

	res.Elapsed = time.Since(start)
	w.log.Info("invocation finished",
		"pages_done", res.PagesDone, "pages_skipped", res.PagesSkipped, "elapsed", res.Elapsed)
	return res, nil
}

// processPage extracts and commits one page. Any returned error is a
// page-level failure.
func (w *Worker) processPage(ctx context.Context, task schema.PageTask,
	docs map[string]pdf.Document, log *slog.Logger) error {
	if err := w.pages.MarkProcessing(ctx, task.JobID, task.PageNumber); err != nil {
		return fmt.Errorf("mark page processing: %w", err)
	}
	w.notifier.PageUpdated(task.JobID, task.PageNumber, schema.PageProcessing, "")

	if task.PageNumber == 1 {
		// First-page signal only: under concurrent workers page 1 is not
		// guaranteed to arrive first, so this is a UX hint, not a
		// correctness-bearing transition.
		if err := w.jobs.MarkProcessing(ctx, task.JobID); err != nil {
			log.Warn("job processing signal failed", "err", err)
		} else {
			w.notifier.JobStatusChanged(task.JobID, schema.JobProcessing, "")
		}
	}

	doc, ok := docs[task.FilePath]
	if !ok {
		data, err := w.blob.Download(ctx, task.FilePath)
		if err != nil {
			return fmt.Errorf("download document: %w", err)
		}
		doc, err = w.open(data)
		if err != nil {
			return fmt.Errorf("parse document: %w", err)
		}
		docs[task.FilePath] = doc
		log.Debug("document cached for invocation", "file_path", task.FilePath)
	}

	text, err := doc.ExtractPage(task.PageNumber)
	if err != nil {
		return err
	}

	if err := w.pages.CommitText(ctx, task.JobID, task.PageNumber, text); err != nil {
		return fmt.Errorf("commit page text: %w", err)
	}
	return nil
}

// maybeFinish finalizes the job once every page has reached a terminal
// state. Checked after each terminal page transition, failures included;
// otherwise a job whose last outstanding page failed would never settle.
func (w *Worker) maybeFinish(ctx context.Context, task schema.PageTask, log *slog.Logger) {
	counts, err := w.pages.StatusCounts(ctx, task.JobID)
	if err != nil {
		log.Error("completion check failed", "err", err)
		return
	}
	if counts.Outstanding() > 0 {
		return
	}

	if counts.Completed == 0 {
		msg := fmt.Sprintf("all %d pages failed", counts.Failed)
		if err := w.jobs.Fail(ctx, task.JobID, msg); err != nil {
			log.Error("failed to record job failure", "err", err)
			return
		}
		w.notifier.JobStatusChanged(task.JobID, schema.JobFailed, msg)
		return
	}

	parsed := schema.ParsedContent{
		NumPages:    task.TotalPages,
		TextPerPage: counts.Completed,
		PagesFailed: counts.Failed,
	}
	won, err := w.jobs.Complete(ctx, task.JobID, task.TotalPages, counts.Completed, parsed)
	if err != nil {
		// Leave the job live; a later invocation's completion check will
		// retry the terminal write.
		log.Error("job completion write failed", "err", err)
		return
	}
	if !won {
		log.Debug("job already finalized by another worker")
		return
	}
	w.notifier.JobStatusChanged(task.JobID, schema.JobCompleted, "")
	log.Info("job completed", "pages_completed", counts.Completed, "pages_failed", counts.Failed)

	w.assembleText(ctx, task.JobID, log)
}

// assembleText writes the concatenated text of all completed pages in
// ascending page order. Best-effort: the job is already completed and a
// failure here only loses the denormalized full text.
func (w *Worker) assembleText(ctx context.Context, jobID uuid.UUID, log *slog.Logger) {
	texts, err := w.pages.CompletedTexts(ctx, jobID)
	if err != nil {
		log.Warn("text assembly read failed, job stays completed", "err", err)
		return
	}
	full := strings.TrimSpace(strings.Join(texts, pageSeparator))
	if err := w.jobs.SetExtractedText(ctx, jobID, full); err != nil {
		log.Warn("extracted text write failed, job stays completed", "text_len", len(full), "err", err)
	}
}
