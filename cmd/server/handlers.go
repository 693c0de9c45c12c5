// cmd/server/handlers.go
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pageq/pageq/internal/blob"
	"github.com/pageq/pageq/internal/bus"
	"github.com/pageq/pageq/internal/config"
	"github.com/pageq/pageq/internal/dispatch"
	"github.com/pageq/pageq/internal/faults"
	"github.com/pageq/pageq/internal/store"
	"github.com/pageq/pageq/internal/ws"
	"github.com/pageq/pageq/pkg/schema"
)

type server struct {
	cfg        config.Config
	jobs       store.Jobs
	pages      store.Pages
	blob       blob.Store
	dispatcher *dispatch.Dispatcher
	notifier   *bus.Notifier
	hub        *ws.Hub
	log        *slog.Logger
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	upgrader    = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
)

// handleUpload accepts a PDF, stores it, creates the job row and runs the
// intake dispatch. Inline extraction itself happens out-of-band; by the
// time this returns, the job is pending (inline), queued, or failed.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if f := validateUpload(header.Filename, header.Header.Get("Content-Type"), header.Size, s.cfg.MaxUploadBytes); f != nil {
		writeError(w, http.StatusBadRequest, f.Op)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	path := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), unsafeChars.ReplaceAllString(header.Filename, "_"))
	ctx := r.Context()

	if err := s.blob.Upload(ctx, path, data, "application/pdf"); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	job, err := s.jobs.Create(ctx, header.Filename, path, header.Size)
	if err != nil {
		// Do not leave an orphaned blob behind a failed job row.
		if rerr := s.blob.Remove(ctx, path); rerr != nil {
			s.log.Warn("orphaned blob cleanup failed", "path", path, "err", rerr)
		}
		writeError(w, http.StatusInternalServerError, "failed to create parsing job")
		return
	}

	if err := s.dispatcher.Dispatch(ctx, job, data); err != nil {
		if faults.KindOf(err) == faults.KindMetadata {
			writeError(w, http.StatusUnprocessableEntity,
				"failed to process PDF metadata, the file may be corrupted")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to dispatch job")
		return
	}

	// Re-read so the response and the first published event both reflect
	// the dispatch outcome.
	if updated, err := s.jobs.Get(ctx, job.ID); err == nil {
		job = updated
	}
	s.notifier.JobUpdated(job)
	writeJSON(w, http.StatusCreated, job)
}

// validateUpload rejects bad input before any job row exists. The fault's
// Op carries the user-facing message.
func validateUpload(name, contentType string, size, maxBytes int64) *faults.Fault {
	if contentType != "" && contentType != "application/pdf" {
		return faults.Validation("file must be a PDF", nil)
	}
	if name == "" {
		return faults.Validation("file name is required", nil)
	}
	if size > maxBytes {
		return faults.Validation(fmt.Sprintf("file size must be less than %dMB", maxBytes>>20), nil)
	}
	return nil
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := schema.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case "", schema.JobPending, schema.JobQueued, schema.JobProcessing, schema.JobCompleted, schema.JobFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid status parameter")
		return
	}

	jobs, err := s.jobs.List(r.Context(), status, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch jobs")
		return
	}
	if jobs == nil {
		jobs = []*store.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) handleListPages(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	pages, err := s.pages.ListByJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch pages")
		return
	}
	if pages == nil {
		pages = []*store.Page{}
	}
	writeJSON(w, http.StatusOK, pages)
}

// handleDeleteJob removes a job and its stored document. Deletion is an
// external lifecycle operation; the processing core never deletes jobs.
func (s *server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}

	if err := s.blob.Remove(ctx, job.FilePath); err != nil {
		s.log.Warn("blob removal failed during job delete", "job_id", id, "err", err)
	}
	if err := s.jobs.Delete(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	s.hub.Add(conn)
}

func (s *server) handleHealth(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.HealthCheck(r.Context(), pool, 2*time.Second); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"observers": s.hub.ClientCount(),
		})
	}
}

func (s *server) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

// envelope wraps a relayed bus event with the subject it arrived on.
func envelope(subject string, event []byte) []byte {
	b, err := json.Marshal(map[string]json.RawMessage{
		"subject": json.RawMessage(fmt.Sprintf("%q", subject)),
		"event":   json.RawMessage(event),
	})
	if err != nil {
		return event
	}
	return b
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
