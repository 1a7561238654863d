// Package api serves the daemon's introspection and manual-trigger HTTP
// endpoints. It is an operator surface: everything it can do, the
// scheduler already does on its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
	"github.com/FreeBandoLano/echobot-sub000/internal/postgres"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Triggers is the manual-trigger surface the pipeline service exposes to
// the API.
type Triggers interface {
	CaptureByCode(ctx context.Context, showDate time.Time, code string) error
	ProcessBlock(ctx context.Context, showDate time.Time, code string) error
	DigestCutoff(ctx context.Context, showDate time.Time) error
	HasWindow(code string) bool
}

// REST handles the daemon's HTTP endpoints.
type REST struct {
	tasks   postgres.TaskRepository
	blocks  postgres.BlockRepository
	digests postgres.DigestRepository
	pipe    Triggers
	db      Pinger
	logger  *slog.Logger
}

func NewREST(
	tasks postgres.TaskRepository,
	blocks postgres.BlockRepository,
	digests postgres.DigestRepository,
	pipe Triggers,
	db Pinger,
	logger *slog.Logger,
) *REST {
	return &REST{tasks: tasks, blocks: blocks, digests: digests, pipe: pipe, db: db, logger: logger}
}

// Router builds the chi router with all endpoints mounted.
func (h *REST) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(h.logger))
	r.Use(MaxBodySize(1 << 20)) // 1MB limit

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Get("/blocks", h.ListBlocks)
		r.Get("/digests/{date}", h.GetDigest)
		r.Post("/trigger/capture", h.TriggerCapture)
		r.Post("/trigger/process", h.TriggerProcess)
		r.Post("/trigger/digest", h.TriggerDigest)
	})
	return r
}

// TasksResponse is the GET /api/v1/tasks body: the open backlog plus
// aggregate counts.
type TasksResponse struct {
	Open   []*domain.Task       `json:"open"`
	Counts []postgres.TaskCount `json:"counts"`
}

// ListTasks handles GET /api/v1/tasks.
func (h *REST) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = n
	}

	open, err := h.tasks.ListOpen(ctx, limit)
	if err != nil {
		h.logger.Error("list open tasks", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	counts, err := h.tasks.CountByTypeStatus(ctx)
	if err != nil {
		h.logger.Error("count tasks", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to count tasks")
		return
	}
	writeJSON(w, http.StatusOK, TasksResponse{Open: open, Counts: counts})
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "task id must be an integer")
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("get task", slog.Int64("task_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListBlocks handles GET /api/v1/blocks?date=YYYY-MM-DD.
func (h *REST) ListBlocks(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r.URL.Query().Get("date"))
	if !ok {
		return
	}
	blocks, err := h.blocks.ListByShowDate(r.Context(), date)
	if err != nil {
		h.logger.Error("list blocks", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list blocks")
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

// GetDigest handles GET /api/v1/digests/{date}.
func (h *REST) GetDigest(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, chi.URLParam(r, "date"))
	if !ok {
		return
	}
	digest, err := h.digests.GetDigest(r.Context(), date)
	if err != nil {
		var notFound *domain.DigestNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "no digest for date")
			return
		}
		h.logger.Error("get digest", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve digest")
		return
	}
	writeJSON(w, http.StatusOK, digest)
}

// TriggerRequest is the body for the manual trigger endpoints. Code is
// required for capture and process, ignored for digest.
type TriggerRequest struct {
	Date string `json:"date"`
	Code string `json:"code,omitempty"`
}

// TriggerCapture handles POST /api/v1/trigger/capture. The capture itself
// runs in the background: it blocks for the full window length.
func (h *REST) TriggerCapture(w http.ResponseWriter, r *http.Request) {
	req, date, ok := h.decodeTrigger(w, r)
	if !ok {
		return
	}
	if !h.pipe.HasWindow(req.Code) {
		writeError(w, http.StatusBadRequest, "unknown block code")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if err := h.pipe.CaptureByCode(ctx, date, req.Code); err != nil {
			h.logger.Error("manual capture failed",
				slog.String("code", req.Code), slog.String("error", err.Error()))
		}
	}()

	h.logger.Info("manual capture triggered",
		slog.String("code", req.Code), slog.String("date", domain.ShowDateKey(date)))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "capture started"})
}

// TriggerProcess handles POST /api/v1/trigger/process.
func (h *REST) TriggerProcess(w http.ResponseWriter, r *http.Request) {
	req, date, ok := h.decodeTrigger(w, r)
	if !ok {
		return
	}
	if err := h.pipe.ProcessBlock(r.Context(), date, req.Code); err != nil {
		var notFound *domain.BlockNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "block not found")
			return
		}
		h.logger.Error("manual process failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to queue processing")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing queued"})
}

// TriggerDigest handles POST /api/v1/trigger/digest.
func (h *REST) TriggerDigest(w http.ResponseWriter, r *http.Request) {
	_, date, ok := h.decodeTrigger(w, r)
	if !ok {
		return
	}
	if err := h.pipe.DigestCutoff(r.Context(), date); err != nil {
		h.logger.Error("manual digest failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to queue digest")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "digest queued"})
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz: checks database connectivity.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *REST) decodeTrigger(w http.ResponseWriter, r *http.Request) (TriggerRequest, time.Time, bool) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, time.Time{}, false
	}
	date, ok := parseDateParam(w, req.Date)
	return req, date, ok
}

func parseDateParam(w http.ResponseWriter, s string) (time.Time, bool) {
	if s == "" {
		writeError(w, http.StatusBadRequest, "date is required (YYYY-MM-DD)")
		return time.Time{}, false
	}
	date, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad date, want YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
