package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/fcsentinel/internal/pipeline"
	"github.com/kalambet/fcsentinel/internal/storage"
	"github.com/kalambet/fcsentinel/internal/worker"
)

type cycleJobView struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func handleEnqueueCycle(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := deps.Queue.EnqueueCycle(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue cycle: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": storage.JobPending})
	}
}

func handleGetCycle(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := deps.Store.GetJob(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && job.Type != worker.JobEvaluateCycle) {
			httpError(w, http.StatusNotFound, "not_found", "cycle job %q not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, cycleJobView{
			JobID:       job.ID,
			Status:      job.Status,
			Attempts:    job.Attempts,
			MaxAttempts: job.MaxAttempts,
			LastError:   job.LastError,
			CreatedAt:   job.CreatedAt,
			UpdatedAt:   job.UpdatedAt,
		})
	}
}

// handleRunCycle runs a cycle inline and streams one NDJSON row per FC as
// it completes. A client disconnect cancels the FCs not yet started.
func handleRunCycle(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		started := false
		enc := json.NewEncoder(w)
		emit := func(row pipeline.Row) {
			if !started {
				w.Header().Set("Content-Type", "application/x-ndjson")
				w.Header().Set("Cache-Control", "no-cache")
				w.WriteHeader(http.StatusOK)
				started = true
			}
			if err := enc.Encode(row); err != nil {
				slog.Debug("row stream write failed", "fc_id", row.FCID, "error", err)
				return
			}
			flusher.Flush()
		}

		res, err := deps.Cycles.Run(r.Context(), emit)
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			slog.Info("streamed cycle cancelled by client", "cycle_id", res.CycleID, "skipped", res.Skipped)
		case err != nil && !started:
			httpError(w, http.StatusInternalServerError, "api_error", "cycle failed: %v", err)
		case err != nil:
			slog.Error("streamed cycle failed", "cycle_id", res.CycleID, "error", err)
		case !started:
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
		}
	}
}
