package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/processing"
	"github.com/clipflow/clipflow/internal/session"
)

const maxHistoryLimit = 500

func NewRouter(cfg ServerConfig) *chi.Mux {
	return newRouter(cfg, newFeedHub())
}

func newRouter(cfg ServerConfig, hub *feedHub) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackGuard())
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Token, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/clips", listClipsHandler(cfg))
		r.Post("/clips/refresh", refreshClipsHandler(cfg))
		r.Delete("/clips/{id}", deleteClipHandler(cfg))
		r.Post("/uploads", uploadHandler(cfg))
		r.Post("/jobs", startJobHandler(cfg))
		r.Post("/jobs/reset", resetJobHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Get("/batches", listBatchesHandler(cfg))
		r.Get("/outputs", listOutputsHandler(cfg))
		r.Get("/ws", viewFeedHandler(cfg, hub))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.View())
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clips := cfg.Session.Clips()
		WriteJSON(w, http.StatusOK, ClipsResponse{Clips: clips, Count: len(clips)})
	}
}

func refreshClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.Refresh(r.Context()); err != nil {
			writeSessionError(w, err)
			return
		}
		clips := cfg.Session.Clips()
		WriteJSON(w, http.StatusOK, ClipsResponse{Clips: clips, Count: len(clips)})
	}
}

func deleteClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "clip id required", "BAD_REQUEST")
			return
		}

		if err := cfg.Session.Remove(r.Context(), id); err != nil {
			writeSessionError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if len(req.Paths) == 0 {
			WriteError(w, http.StatusBadRequest, "paths must not be empty", "BAD_REQUEST")
			return
		}

		batch, err := cfg.Session.Upload(r.Context(), req.Paths)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, BatchToResponse(batch))
	}
}

func startJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartJobRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}

		job, err := cfg.Session.Concatenate(r.Context(), session.ConcatOptions{
			ClipIDs:        req.ClipIDs,
			OutputFilename: req.OutputFilename,
		})
		if err != nil {
			writeSessionError(w, err)
			return
		}

		status := http.StatusAccepted
		if job.Status.Terminal() {
			status = http.StatusOK
		}
		WriteJSON(w, status, job)
	}
}

func resetJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.Reset(); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.View().Job)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.History == nil {
			WriteError(w, http.StatusServiceUnavailable, "history is not enabled", "UNAVAILABLE")
			return
		}
		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}

		jobs, err := cfg.History.ListJobs(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if current := cfg.Session.View().Job; current.ID != "" && current.ID == id {
			WriteJSON(w, http.StatusOK, current)
			return
		}
		if cfg.History == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		job, err := cfg.History.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, job)
	}
}

func listBatchesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.History == nil {
			WriteError(w, http.StatusServiceUnavailable, "history is not enabled", "UNAVAILABLE")
			return
		}
		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}

		batches, err := cfg.History.ListBatches(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list batches", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, BatchesResponse{Batches: batches})
	}
}

func listOutputsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outputs, err := cfg.Session.Backend().ListOutputs(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, OutputsResponse{Outputs: outputs, Count: len(outputs)})
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > maxHistoryLimit {
		WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500", "BAD_REQUEST")
		return 0, false
	}
	return limit, true
}

// writeSessionError maps the session's error taxonomy onto HTTP statuses.
// Backend failures surface as 502 with the backend's own detail.
func writeSessionError(w http.ResponseWriter, err error) {
	msg := backend.Reason(err)
	switch {
	case errors.Is(err, processing.ErrInsufficientClips):
		WriteError(w, http.StatusBadRequest, err.Error(), "INSUFFICIENT_CLIPS")
	case errors.Is(err, processing.ErrJobAlreadyActive), errors.Is(err, processing.ErrJobActive):
		WriteError(w, http.StatusConflict, err.Error(), "JOB_ACTIVE")
	case errors.Is(err, processing.ErrResetRequired):
		WriteError(w, http.StatusConflict, err.Error(), "RESET_REQUIRED")
	case errors.Is(err, session.ErrClosed), errors.Is(err, processing.ErrClosed):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "UNAVAILABLE")
	case errors.Is(err, backend.ErrNotFound):
		WriteError(w, http.StatusNotFound, msg, "NOT_FOUND")
	case errors.Is(err, processing.ErrNotAccepted), backend.IsRejected(err):
		WriteError(w, http.StatusBadGateway, msg, "BACKEND_REJECTED")
	case backend.IsTransport(err):
		WriteError(w, http.StatusBadGateway, msg, "BACKEND_UNREACHABLE")
	default:
		WriteError(w, http.StatusInternalServerError, msg, "INTERNAL_ERROR")
	}
}
