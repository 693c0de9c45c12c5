package bus

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pageq/pageq/internal/store"
	"github.com/pageq/pageq/pkg/schema"
)

// Subjects names the event streams observers subscribe to.
type Subjects struct {
	Jobs   string
	Pages  string
	Worker string
}

// Notifier publishes state-change events. Every publication is
// best-effort: a bus failure is logged and never blocks or fails the
// state write it follows.
type Notifier struct {
	pub      Publisher
	subjects Subjects
	log      *slog.Logger
}

func NewNotifier(pub Publisher, subjects Subjects, log *slog.Logger) *Notifier {
	return &Notifier{pub: pub, subjects: subjects, log: log}
}

func (n *Notifier) JobUpdated(job *store.Job) {
	ev := schema.JobEvent{
		JobID:          job.ID,
		FileName:       job.FileName,
		Status:         job.Status,
		ProcessedPages: job.ProcessedPages,
		HappenedAt:     time.Now().Unix(),
	}
	if job.TotalPages != nil {
		ev.TotalPages = *job.TotalPages
	}
	if job.ErrorMessage != nil {
		ev.ErrorMessage = *job.ErrorMessage
	}
	if err := n.pub.PublishJSON(n.subjects.Jobs, ev); err != nil {
		n.log.Warn("publish job event failed", "job_id", job.ID, "status", job.Status, "err", err)
	}
}

// JobStatusChanged publishes a minimal event when only the transition is
// known, without re-reading the row.
func (n *Notifier) JobStatusChanged(jobID uuid.UUID, status schema.JobStatus, errMsg string) {
	ev := schema.JobEvent{
		JobID:        jobID,
		Status:       status,
		ErrorMessage: errMsg,
		HappenedAt:   time.Now().Unix(),
	}
	if err := n.pub.PublishJSON(n.subjects.Jobs, ev); err != nil {
		n.log.Warn("publish job event failed", "job_id", jobID, "status", status, "err", err)
	}
}

func (n *Notifier) PageUpdated(jobID uuid.UUID, pageNumber int, status schema.PageStatus, errMsg string) {
	ev := schema.PageEvent{
		JobID:        jobID,
		PageNumber:   pageNumber,
		Status:       status,
		ErrorMessage: errMsg,
		HappenedAt:   time.Now().Unix(),
	}
	if err := n.pub.PublishJSON(n.subjects.Pages, ev); err != nil {
		n.log.Warn("publish page event failed", "job_id", jobID, "page", pageNumber, "err", err)
	}
}

func (n *Notifier) WorkerReport(pagesDone, pagesSkipped int, elapsed time.Duration) {
	ev := schema.WorkerReport{
		PagesDone:    pagesDone,
		PagesSkipped: pagesSkipped,
		RuntimeMS:    elapsed.Milliseconds(),
		HappenedAt:   time.Now().Unix(),
	}
	if err := n.pub.PublishJSON(n.subjects.Worker, ev); err != nil {
		n.log.Warn("publish worker report failed", "err", err)
	}
}
