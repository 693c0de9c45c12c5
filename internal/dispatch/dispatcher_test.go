package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pageq/pageq/internal/bus"
	"github.com/pageq/pageq/internal/faults"
	"github.com/pageq/pageq/internal/queue"
	"github.com/pageq/pageq/internal/store"
	"github.com/pageq/pageq/internal/store/storetest"
	"github.com/pageq/pageq/pkg/schema"
)

type fakeQueue struct {
	mu      sync.Mutex
	sent    []schema.PageTask
	nextID  int64
	sendErr error
	// failAt, when > 0, makes the Nth Send call fail.
	failAt int
}

func (q *fakeQueue) Send(ctx context.Context, task schema.PageTask) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil && (q.failAt == 0 || len(q.sent)+1 == q.failAt) {
		return 0, q.sendErr
	}
	q.sent = append(q.sent, task)
	q.nextID++
	return q.nextID, nil
}

func (q *fakeQueue) Read(ctx context.Context, lease time.Duration, qty int) ([]queue.Message, error) {
	return nil, nil
}

func (q *fakeQueue) Delete(ctx context.Context, msgID int64) error  { return nil }
func (q *fakeQueue) Archive(ctx context.Context, msgID int64) error { return nil }

type nopPub struct{}

func (nopPub) PublishJSON(subject string, v any) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNotifier() *bus.Notifier {
	return bus.NewNotifier(nopPub{}, bus.Subjects{Jobs: "j", Pages: "p", Worker: "w"}, discardLogger())
}

func fixedPageCount(n int, err error) PageCounter {
	return func(data []byte) (int, error) { return n, err }
}

func seedJob(jobs *storetest.Jobs) *store.Job {
	job := &store.Job{
		ID:       uuid.New(),
		FileName: "report.pdf",
		FilePath: "1724800000000-report.pdf",
		FileSize: 2048,
		Status:   schema.JobPending,
	}
	jobs.Seed(job)
	return job
}

func TestDispatchSmallDocumentRunsInline(t *testing.T) {
	jobs := storetest.NewJobs()
	pages := storetest.NewPages(jobs)
	q := &fakeQueue{}
	job := seedJob(jobs)

	var triggered []uuid.UUID
	trigger := func(id uuid.UUID) { triggered = append(triggered, id) }

	d := New(jobs, pages, q, fixedPageCount(5, nil), trigger, testNotifier(), 125, discardLogger())
	if err := d.Dispatch(context.Background(), job, []byte("%PDF")); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	row := jobs.Row(job.ID)
	if row.Status != schema.JobPending {
		t.Errorf("job status = %q, want %q", row.Status, schema.JobPending)
	}
	if row.TotalPages == nil || *row.TotalPages != 5 {
		t.Errorf("total pages = %v, want 5", row.TotalPages)
	}
	if len(triggered) != 1 || triggered[0] != job.ID {
		t.Errorf("inline trigger calls = %v, want exactly [%s]", triggered, job.ID)
	}
	if len(q.sent) != 0 {
		t.Errorf("queued %d messages for an inline job, want 0", len(q.sent))
	}
	counts, _ := pages.StatusCounts(context.Background(), job.ID)
	if counts.Pending+counts.Processing+counts.Completed+counts.Failed != 0 {
		t.Errorf("page rows created for an inline job: %+v", counts)
	}
}

func TestDispatchLargeDocumentFansOut(t *testing.T) {
	jobs := storetest.NewJobs()
	pages := storetest.NewPages(jobs)
	q := &fakeQueue{}
	job := seedJob(jobs)

	trigger := func(id uuid.UUID) { t.Errorf("inline trigger fired for a queued job") }

	d := New(jobs, pages, q, fixedPageCount(200, nil), trigger, testNotifier(), 125, discardLogger())
	if err := d.Dispatch(context.Background(), job, []byte("%PDF")); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	row := jobs.Row(job.ID)
	if row.Status != schema.JobQueued {
		t.Errorf("job status = %q, want %q", row.Status, schema.JobQueued)
	}

	counts, _ := pages.StatusCounts(context.Background(), job.ID)
	if counts.Pending != 200 {
		t.Errorf("pending page rows = %d, want 200", counts.Pending)
	}

	if len(q.sent) != 200 {
		t.Fatalf("queued %d messages, want 200", len(q.sent))
	}
	seen := make(map[int]bool, 200)
	for i, task := range q.sent {
		if task.PageNumber != i+1 {
			t.Fatalf("message %d has page %d, want pages enqueued in ascending order", i, task.PageNumber)
		}
		if seen[task.PageNumber] {
			t.Fatalf("page %d enqueued twice", task.PageNumber)
		}
		seen[task.PageNumber] = true
		if task.JobID != job.ID || task.FilePath != job.FilePath || task.TotalPages != 200 {
			t.Fatalf("message %d has wrong task fields: %+v", i, task)
		}
	}
}

func TestDispatchThresholdBoundaryGoesToQueue(t *testing.T) {
	jobs := storetest.NewJobs()
	pages := storetest.NewPages(jobs)
	q := &fakeQueue{}
	job := seedJob(jobs)

	d := New(jobs, pages, q, fixedPageCount(125, nil), func(uuid.UUID) {
		t.Errorf("125-page document dispatched inline, threshold is exclusive")
	}, testNotifier(), 125, discardLogger())
	if err := d.Dispatch(context.Background(), job, nil); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if got := jobs.Row(job.ID).Status; got != schema.JobQueued {
		t.Errorf("job status = %q, want %q", got, schema.JobQueued)
	}

	// One page below the threshold stays inline.
	job2 := seedJob(jobs)
	triggered := false
	d2 := New(jobs, pages, q, fixedPageCount(124, nil), func(uuid.UUID) { triggered = true },
		testNotifier(), 125, discardLogger())
	if err := d2.Dispatch(context.Background(), job2, nil); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if !triggered {
		t.Errorf("124-page document not dispatched inline")
	}
}

func TestDispatchMetadataFailureFailsJob(t *testing.T) {
	jobs := storetest.NewJobs()
	pages := storetest.NewPages(jobs)
	q := &fakeQueue{}
	job := seedJob(jobs)

	probeErr := errors.New("bad xref table")
	d := New(jobs, pages, q, fixedPageCount(0, probeErr), func(uuid.UUID) {
		t.Errorf("inline trigger fired for an unreadable document")
	}, testNotifier(), 125, discardLogger())

	err := d.Dispatch(context.Background(), job, []byte("not a pdf"))
	if err == nil {
		t.Fatal("Dispatch succeeded on an unreadable document")
	}
	if faults.KindOf(err) != faults.KindMetadata {
		t.Errorf("fault kind = %q, want %q", faults.KindOf(err), faults.KindMetadata)
	}

	row := jobs.Row(job.ID)
	if row.Status != schema.JobFailed {
		t.Errorf("job status = %q, want %q", row.Status, schema.JobFailed)
	}
	if row.ErrorMessage == nil {
		t.Error("failed job has no error message")
	}
	if len(q.sent) != 0 {
		t.Errorf("queued %d messages for a failed job, want 0", len(q.sent))
	}
}

func TestDispatchBulkInsertFailureFailsJobBeforeEnqueue(t *testing.T) {
	jobs := storetest.NewJobs()
	pages := storetest.NewPages(jobs)
	pages.ErrBulkInsert = errors.New("relation missing")
	q := &fakeQueue{}
	job := seedJob(jobs)

	d := New(jobs, pages, q, fixedPageCount(200, nil), nil, testNotifier(), 125, discardLogger())
	if err := d.Dispatch(context.Background(), job, nil); err == nil {
		t.Fatal("Dispatch succeeded despite page row insert failure")
	}

	if got := jobs.Row(job.ID).Status; got != schema.JobFailed {
		t.Errorf("job status = %q, want %q", got, schema.JobFailed)
	}
	if len(q.sent) != 0 {
		t.Errorf("queued %d messages after failed page insert, want 0", len(q.sent))
	}
}

func TestDispatchEnqueueFailureFailsJob(t *testing.T) {
	jobs := storetest.NewJobs()
	pages := storetest.NewPages(jobs)
	q := &fakeQueue{sendErr: errors.New("queue unavailable"), failAt: 150}
	job := seedJob(jobs)

	d := New(jobs, pages, q, fixedPageCount(200, nil), nil, testNotifier(), 125, discardLogger())
	if err := d.Dispatch(context.Background(), job, nil); err == nil {
		t.Fatal("Dispatch succeeded despite enqueue failure")
	}

	// The job must end failed so the partially enqueued pages can never
	// strand it half-processed with no owner.
	if got := jobs.Row(job.ID).Status; got != schema.JobFailed {
		t.Errorf("job status = %q, want %q", got, schema.JobFailed)
	}
}
